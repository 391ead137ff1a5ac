// File: api/schemas/fields.go
// Description: Classified field descriptors and the discovery result for one
// page. Descriptors are immutable; a re-scan discards and rebuilds them.
package schemas

import "time"

// FieldKind is the coarse role of a discovered element.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldTextArea FieldKind = "textarea"
	FieldSelect   FieldKind = "select"
	FieldCheckbox FieldKind = "checkbox"
	FieldRadio    FieldKind = "radio"
	FieldFile     FieldKind = "file"
	FieldButton   FieldKind = "button"
	FieldCustom   FieldKind = "custom"
)

// LabelSource identifies the precedence tier a label candidate came from.
// The order of the constants is the ranking order.
type LabelSource string

const (
	LabelAria           LabelSource = "aria"
	LabelBoundLabel     LabelSource = "label-for"
	LabelPlaceholder    LabelSource = "placeholder"
	LabelDescribedBy    LabelSource = "described-by"
	LabelSiblingText    LabelSource = "sibling-text"
	LabelEnclosingLabel LabelSource = "enclosing-label"
	LabelSectionHeading LabelSource = "section-heading"
)

// LabelCandidate is one human-readable name for a field at a known tier.
type LabelCandidate struct {
	Source LabelSource `json:"source"`
	Text   string      `json:"text"`
}

// FieldIdentity is the stable identity of a field across discovery passes.
type FieldIdentity struct {
	Tag  string `json:"tag"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FieldDescriptor is one classified element. Created fresh on every discovery
// pass; never mutated; discarded and rebuilt on re-scan.
type FieldDescriptor struct {
	Kind      FieldKind `json:"kind"`
	Tag       string    `json:"tag"`
	InputType string    `json:"inputType,omitempty"`
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`

	// Labels is the ranked candidate list; all tiers are kept so downstream
	// consumers can fall back when the top candidate proves useless.
	Labels []LabelCandidate `json:"labels,omitempty"`

	Rect  Rect          `json:"rect"`
	Style StyleSnapshot `json:"style"`

	Visible     bool `json:"visible"`
	Interactive bool `json:"interactive"`
	Disabled    bool `json:"disabled"`
	Required    bool `json:"required"`

	DocumentOrder int    `json:"documentOrder"`
	SectionKey    string `json:"sectionKey,omitempty"`
}

// Identity returns the identity triple used for idempotence comparisons.
func (f FieldDescriptor) Identity() FieldIdentity {
	return FieldIdentity{Tag: f.Tag, ID: f.ID, Name: f.Name}
}

// Label returns the highest-ranked non-empty label candidate, or "".
func (f FieldDescriptor) Label() string {
	if len(f.Labels) == 0 {
		return ""
	}
	return f.Labels[0].Text
}

// Selector builds a best-effort CSS selector for the field.
func (f FieldDescriptor) Selector() string {
	switch {
	case f.ID != "":
		return "#" + f.ID
	case f.Name != "":
		return f.Tag + `[name="` + f.Name + `"]`
	default:
		return f.Tag
	}
}

// FormSection groups fields sharing a section-like ancestor.
type FormSection struct {
	Name   string            `json:"name"`
	Key    string            `json:"key,omitempty"`
	Fields []FieldDescriptor `json:"fields"`
}

// SectionGeneral names the trailing catch-all section for ungrouped fields.
const SectionGeneral = "General"

// FormContext is the discovery result for one page.
type FormContext struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`

	// Container is the chosen primary form container, nil when the page has
	// no recognizable container (fieldless-container mode).
	Container *ContainerSnapshot `json:"container,omitempty"`

	// Fields holds fillable elements (visible and interactive). Buttons are
	// kept separately and only require visibility.
	Fields   []FieldDescriptor `json:"fields"`
	Buttons  []FieldDescriptor `json:"buttons"`
	Sections []FormSection     `json:"sections"`

	ScannedAt time.Time `json:"scannedAt"`
}

// FillReport summarizes one filler pass over a FormContext.
type FillReport struct {
	Filled  int      `json:"filled"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}
