// File: api/schemas/elements.go
// Description: Raw, host-captured views of page elements. These snapshots are
// produced in a single page evaluation by the host adapter and consumed by the
// classifier and discovery engine, which never touch the live page themselves.
package schemas

import "time"

// ElementOrigin distinguishes how an element was enumerated by the host page.
type ElementOrigin string

const (
	// OriginNative marks elements found via the native interactive query
	// (input/select/textarea/button).
	OriginNative ElementOrigin = "native"
	// OriginWidget marks candidates found via the custom-widget signature
	// catalogue (role attributes, contenteditable, library conventions).
	OriginWidget ElementOrigin = "widget"
)

// Rect is an element's rendered geometry in document coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rect has no rendered area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// StyleSnapshot is the subset of computed style needed for visibility and
// interactivity decisions. Nothing else from the cascade is captured.
type StyleSnapshot struct {
	Display       string  `json:"display"`
	Visibility    string  `json:"visibility"`
	Opacity       float64 `json:"opacity"`
	PointerEvents string  `json:"pointerEvents"`
	Position      string  `json:"position"`
	Cursor        string  `json:"cursor"`
}

// AncestorSnapshot describes one ancestor in an element's containment chain,
// nearest first. Key is a host-generated identifier that is stable for the
// lifetime of one snapshot, letting fields that share an ancestor be grouped
// without holding a live element reference.
type AncestorSnapshot struct {
	Key         string `json:"key"`
	Tag         string `json:"tag"`
	Role        string `json:"role"`
	ID          string `json:"id"`
	ClassName   string `json:"className"`
	HeadingText string `json:"headingText"`
	LabelText   string `json:"labelText"`
}

// ElementSnapshot is the raw view of a single page element. It is created
// fresh on every discovery pass and never mutated.
type ElementSnapshot struct {
	Key        string            `json:"key"`
	Tag        string            `json:"tag"`
	InputType  string            `json:"inputType"`
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes"`

	// Label material, captured at each precedence tier.
	AriaLabel           string `json:"ariaLabel"`
	AriaLabelledByText  string `json:"ariaLabelledByText"`
	LabelText           string `json:"labelText"` // bound external <label for>
	Placeholder         string `json:"placeholder"`
	AriaDescribedByText string `json:"ariaDescribedByText"`
	PrecedingText       string `json:"precedingText"` // nearest preceding label-like sibling
	EnclosingLabelText  string `json:"enclosingLabelText"`
	HeadingText         string `json:"headingText"` // nearest preceding ancestor heading

	Rect  Rect          `json:"rect"`
	Style StyleSnapshot `json:"style"`

	Disabled         bool `json:"disabled"`
	AncestorDisabled bool `json:"ancestorDisabled"`
	ReadOnly         bool `json:"readOnly"`
	Required         bool `json:"required"`

	HasTabIndex     bool `json:"hasTabIndex"`
	HasClickHandler bool `json:"hasClickHandler"`
	ContentEditable bool `json:"contentEditable"`
	HasLayoutParent bool `json:"hasLayoutParent"`

	DocumentOrder int                `json:"documentOrder"`
	Origin        ElementOrigin      `json:"origin"`
	Ancestors     []AncestorSnapshot `json:"ancestors"`

	// CaptureError is non-empty when the host failed mid-read (detached node,
	// style access throwing). Such elements are skipped, never fatal.
	CaptureError string `json:"captureError"`
}

// ContainerSnapshot describes one candidate form container on the page.
type ContainerSnapshot struct {
	Key        string `json:"key"`
	Tag        string `json:"tag"`
	ID         string `json:"id"`
	ClassName  string `json:"className"`
	Text       string `json:"text"` // flattened text used for keyword scoring
	InputCount int    `json:"inputCount"`
	Visible    bool   `json:"visible"`
}

// PageSnapshot is everything the discovery engine needs from one page, in one
// read. Rebuilding it is the only way to observe page changes.
type PageSnapshot struct {
	URL            string              `json:"url"`
	Title          string              `json:"title"`
	DocumentWidth  float64             `json:"documentWidth"`
	DocumentHeight float64             `json:"documentHeight"`
	ViewportWidth  float64             `json:"viewportWidth"`
	ViewportHeight float64             `json:"viewportHeight"`
	Elements       []ElementSnapshot   `json:"elements"`
	Containers     []ContainerSnapshot `json:"containers"`
	CapturedAt     time.Time           `json:"capturedAt"`
}

// Bounds returns the scrollable document bounds, falling back to the viewport
// when the host reported no document metrics.
func (p *PageSnapshot) Bounds() Rect {
	w, h := p.DocumentWidth, p.DocumentHeight
	if w < p.ViewportWidth {
		w = p.ViewportWidth
	}
	if h < p.ViewportHeight {
		h = p.ViewportHeight
	}
	return Rect{Width: w, Height: h}
}

// WidgetSignature is one externally configurable structural signature for a
// third-party UI component family. The catalogue is data, not code, so new
// families can be added without touching the discovery control flow.
type WidgetSignature struct {
	Library       string   `json:"library" mapstructure:"library"`
	Roles         []string `json:"roles" mapstructure:"roles"`
	DataAttrs     []string `json:"data_attrs" mapstructure:"data_attrs"`
	ClassContains []string `json:"class_contains" mapstructure:"class_contains"`
}
