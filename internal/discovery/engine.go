// File: internal/discovery/engine.go
// Description: The field discovery engine. One snapshot in, one FormContext
// out: native elements classified, widget candidates verified and classified,
// duplicates suppressed, the primary container scored, and fields grouped into
// sections. Repeated passes over an unchanged page are equal under
// (tag, id, name).
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
)

// defaultVocabulary scores candidate containers by job-application keyword
// overlap. Overridable via discovery.vocabulary.
var defaultVocabulary = []string{
	"apply", "application", "resume", "cv", "cover", "experience",
	"education", "skills", "job", "position", "candidate", "employment",
	"salary", "linkedin", "portfolio", "work",
}

const defaultMaxElements = 500

// Engine discovers and labels the interactive elements of a page.
type Engine struct {
	scanner     schemas.PageScanner
	maxElements int
	vocabulary  []string
	log         *zap.Logger
}

var _ schemas.DiscoveryEngine = (*Engine)(nil)

// NewEngine builds an engine over a host page scanner.
func NewEngine(scanner schemas.PageScanner, cfg config.DiscoveryConfig, logger *zap.Logger) (*Engine, error) {
	if scanner == nil {
		return nil, fmt.Errorf("discovery engine requires a page scanner")
	}
	maxElements := cfg.MaxElements
	if maxElements <= 0 {
		maxElements = defaultMaxElements
	}
	vocabulary := cfg.Vocabulary
	if len(vocabulary) == 0 {
		vocabulary = defaultVocabulary
	}
	return &Engine{
		scanner:     scanner,
		maxElements: maxElements,
		vocabulary:  vocabulary,
		log:         logger.Named("discovery"),
	}, nil
}

// Discover runs one full discovery pass. It is side-effect-free on the page;
// the only page interaction is the scanner's snapshot read.
func (e *Engine) Discover(ctx context.Context) (*schemas.FormContext, error) {
	snapshot, err := e.scanner.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}

	bounds := snapshot.Bounds()
	fields, buttons := e.classifyAll(snapshot.Elements, bounds)

	form := &schemas.FormContext{
		URL:       snapshot.URL,
		Title:     snapshot.Title,
		Container: e.selectContainer(snapshot.Containers),
		Fields:    fields,
		Buttons:   buttons,
		ScannedAt: snapshot.CapturedAt,
	}
	form.Sections = e.groupSections(snapshot.Elements, form.Fields)

	e.log.Debug("Discovery pass complete.",
		zap.String("url", form.URL),
		zap.Int("fields", len(form.Fields)),
		zap.Int("buttons", len(form.Buttons)),
		zap.Int("sections", len(form.Sections)))
	return form, nil
}

// classifyAll runs the native pass first, then the widget pass with duplicate
// suppression, keeping stable document order throughout.
func (e *Engine) classifyAll(elements []schemas.ElementSnapshot, bounds schemas.Rect) (fields, buttons []schemas.FieldDescriptor) {
	sorted := make([]schemas.ElementSnapshot, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DocumentOrder < sorted[j].DocumentOrder
	})

	seenKeys := make(map[string]struct{}, len(sorted))
	seenIdentities := make(map[schemas.FieldIdentity]struct{}, len(sorted))
	total := 0

	keep := func(el schemas.ElementSnapshot) {
		d := Classify(el, bounds)
		if d.Kind == schemas.FieldButton {
			// Buttons are recognition targets, not fill targets; visibility
			// alone qualifies them.
			if d.Visible {
				buttons = append(buttons, d)
			}
			return
		}
		if d.Visible && d.Interactive {
			fields = append(fields, d)
		}
	}

	for _, el := range sorted {
		if total >= e.maxElements {
			e.log.Warn("Element cap reached; truncating discovery pass.",
				zap.Int("max_elements", e.maxElements))
			break
		}
		if el.CaptureError != "" {
			e.log.Debug("Skipping element with capture error.",
				zap.String("key", el.Key), zap.String("error", el.CaptureError))
			continue
		}
		if _, dup := seenKeys[el.Key]; dup {
			continue
		}

		if el.Origin == schemas.OriginWidget {
			if !plausiblyInteractiveWidget(el) {
				continue
			}
			// A widget candidate that resolves to an element already captured
			// natively is a duplicate, not a new field.
			id := schemas.FieldIdentity{Tag: el.Tag, ID: el.ID, Name: el.Name}
			if _, dup := seenIdentities[id]; dup && (el.ID != "" || el.Name != "") {
				continue
			}
		}

		seenKeys[el.Key] = struct{}{}
		seenIdentities[schemas.FieldIdentity{Tag: el.Tag, ID: el.ID, Name: el.Name}] = struct{}{}
		keep(el)
		total++
	}
	return fields, buttons
}

// plausiblyInteractiveWidget filters widget candidates down to elements that
// show some evidence of being a real control.
func plausiblyInteractiveWidget(el schemas.ElementSnapshot) bool {
	return el.HasClickHandler || el.HasTabIndex || el.ContentEditable || namedAsField(el)
}

// selectContainer picks the primary form container. A single candidate wins
// outright; several are scored by vocabulary overlap weighted by input count
// and visibility; none means fieldless-container mode.
func (e *Engine) selectContainer(containers []schemas.ContainerSnapshot) *schemas.ContainerSnapshot {
	switch len(containers) {
	case 0:
		return nil
	case 1:
		c := containers[0]
		return &c
	}

	best := -1
	bestScore := -1.0
	for i, c := range containers {
		score := e.scoreContainer(c)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	c := containers[best]
	e.log.Debug("Selected primary container.",
		zap.String("key", c.Key), zap.Float64("score", bestScore))
	return &c
}

func (e *Engine) scoreContainer(c schemas.ContainerSnapshot) float64 {
	haystack := strings.ToLower(c.Text + " " + c.ID + " " + c.ClassName)
	hits := 0
	for _, word := range e.vocabulary {
		if strings.Contains(haystack, word) {
			hits++
		}
	}
	score := float64(hits)*10 + float64(c.InputCount)*2
	if !c.Visible {
		score *= 0.25
	}
	return score
}

// sectionAncestorOf returns the nearest section-like ancestor of an element,
// or nil.
func sectionAncestorOf(el schemas.ElementSnapshot) *schemas.AncestorSnapshot {
	for i := range el.Ancestors {
		a := &el.Ancestors[i]
		if isSectionAncestor(*a) {
			return a
		}
	}
	return nil
}

func isSectionAncestor(a schemas.AncestorSnapshot) bool {
	switch a.Tag {
	case "fieldset", "section":
		return true
	}
	if a.Role == "group" {
		return true
	}
	class := strings.ToLower(a.ClassName)
	return strings.Contains(class, "form-section") ||
		strings.Contains(class, "form-group") ||
		strings.Contains(class, "field-group")
}

// sectionName derives a human name for a section ancestor.
func sectionName(a schemas.AncestorSnapshot) string {
	if name := strings.TrimSpace(a.HeadingText); name != "" {
		return name
	}
	if name := strings.TrimSpace(a.LabelText); name != "" {
		return name
	}
	if a.ID != "" {
		return a.Tag + "#" + a.ID
	}
	return a.Tag
}

// groupSections buckets fields by their nearest section-like ancestor,
// preserving the order sections first appear in the document. Ungrouped
// fields land in a trailing "General" section.
func (e *Engine) groupSections(elements []schemas.ElementSnapshot, fields []schemas.FieldDescriptor) []schemas.FormSection {
	// Map element identity back to its snapshot so classified fields can find
	// their ancestor chain.
	byIdentity := make(map[schemas.FieldIdentity]schemas.ElementSnapshot, len(elements))
	byOrder := make(map[int]schemas.ElementSnapshot, len(elements))
	for _, el := range elements {
		byIdentity[schemas.FieldIdentity{Tag: el.Tag, ID: el.ID, Name: el.Name}] = el
		byOrder[el.DocumentOrder] = el
	}

	var ordered []string
	grouped := make(map[string]*schemas.FormSection)
	var general []schemas.FieldDescriptor

	for i := range fields {
		f := &fields[i]
		el, ok := byOrder[f.DocumentOrder]
		if !ok {
			el, ok = byIdentity[f.Identity()]
		}
		var ancestor *schemas.AncestorSnapshot
		if ok {
			ancestor = sectionAncestorOf(el)
		}
		if ancestor == nil {
			general = append(general, *f)
			continue
		}

		f.SectionKey = ancestor.Key
		section, exists := grouped[ancestor.Key]
		if !exists {
			section = &schemas.FormSection{
				Name: sectionName(*ancestor),
				Key:  ancestor.Key,
			}
			grouped[ancestor.Key] = section
			ordered = append(ordered, ancestor.Key)
		}
		section.Fields = append(section.Fields, *f)
	}

	out := make([]schemas.FormSection, 0, len(ordered)+1)
	for _, key := range ordered {
		out = append(out, *grouped[key])
	}
	if len(general) > 0 {
		out = append(out, schemas.FormSection{Name: schemas.SectionGeneral, Fields: general})
	}
	return out
}
