// File: internal/discovery/classifier.go
// Description: Pure-snapshot element classification. The classifier decides
// visibility, interactivity, field kind, and the ranked label candidate list
// from an ElementSnapshot alone; it never touches a live page.
package discovery

import (
	"strings"

	"github.com/applypilot/applypilot-cli/api/schemas"
)

// Classify turns a raw element snapshot into a field descriptor. bounds is the
// page's scrollable document rect, used for off-screen detection.
func Classify(el schemas.ElementSnapshot, bounds schemas.Rect) schemas.FieldDescriptor {
	visible := isVisible(el, bounds)
	return schemas.FieldDescriptor{
		Kind:          kindOf(el),
		Tag:           el.Tag,
		InputType:     el.InputType,
		ID:            el.ID,
		Name:          el.Name,
		Labels:        labelCandidates(el),
		Rect:          el.Rect,
		Style:         el.Style,
		Visible:       visible,
		Interactive:   visible && isInteractive(el),
		Disabled:      el.Disabled || el.AncestorDisabled,
		Required:      el.Required,
		DocumentOrder: el.DocumentOrder,
	}
}

// isVisible applies the rendered-visibility rules. An element with a capture
// error is never visible; the engine drops it before it reaches any output
// set.
func isVisible(el schemas.ElementSnapshot, bounds schemas.Rect) bool {
	if el.CaptureError != "" {
		return false
	}
	if el.Style.Display == "none" || el.Style.Visibility == "hidden" {
		return false
	}
	if el.Style.Opacity <= 0 {
		return false
	}
	if el.Rect.Empty() {
		return false
	}
	if offScreen(el.Rect, bounds) {
		return false
	}
	// Detached nodes have no layout parent. Pinned elements are exempt since
	// position:fixed detaches them from normal flow legitimately.
	if !el.HasLayoutParent && el.Style.Position != "fixed" {
		return false
	}
	return true
}

// offScreen reports whether the rect lies entirely outside the document on
// either axis.
func offScreen(r, bounds schemas.Rect) bool {
	if bounds.Empty() {
		return false
	}
	if r.X+r.Width <= 0 || r.X >= bounds.Width {
		return true
	}
	if r.Y+r.Height <= 0 || r.Y >= bounds.Height {
		return true
	}
	return false
}

// isInteractive applies the rules layered on top of visibility.
func isInteractive(el schemas.ElementSnapshot) bool {
	if el.Style.PointerEvents == "none" {
		return false
	}
	if el.Disabled || el.AncestorDisabled {
		return false
	}
	if el.ReadOnly {
		return false
	}
	return true
}

// kindOf maps the snapshot onto the coarse field taxonomy.
func kindOf(el schemas.ElementSnapshot) schemas.FieldKind {
	switch el.Tag {
	case "select":
		return schemas.FieldSelect
	case "textarea":
		return schemas.FieldTextArea
	case "button":
		return schemas.FieldButton
	case "input":
		switch el.InputType {
		case "checkbox":
			return schemas.FieldCheckbox
		case "radio":
			return schemas.FieldRadio
		case "file":
			return schemas.FieldFile
		case "button", "reset":
			return schemas.FieldButton
		default:
			return schemas.FieldText
		}
	}
	if el.Origin == schemas.OriginWidget {
		return schemas.FieldCustom
	}
	return schemas.FieldText
}

// labelCandidates builds the ranked candidate list. The first non-empty value
// at each tier is kept; empty tiers are skipped entirely so Labels[0] is
// always the best available name.
func labelCandidates(el schemas.ElementSnapshot) []schemas.LabelCandidate {
	tiers := []struct {
		source schemas.LabelSource
		text   string
	}{
		{schemas.LabelAria, firstNonEmpty(el.AriaLabel, el.AriaLabelledByText)},
		{schemas.LabelBoundLabel, el.LabelText},
		{schemas.LabelPlaceholder, el.Placeholder},
		{schemas.LabelDescribedBy, el.AriaDescribedByText},
		{schemas.LabelSiblingText, el.PrecedingText},
		{schemas.LabelEnclosingLabel, el.EnclosingLabelText},
		{schemas.LabelSectionHeading, el.HeadingText},
	}

	var out []schemas.LabelCandidate
	for _, tier := range tiers {
		text := strings.TrimSpace(tier.text)
		if text == "" {
			continue
		}
		out = append(out, schemas.LabelCandidate{Source: tier.source, Text: text})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
