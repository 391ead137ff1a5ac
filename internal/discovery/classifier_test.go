// File: internal/discovery/classifier_test.go
package discovery

import (
	"testing"

	fuzzheaders "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applypilot/applypilot-cli/api/schemas"
)

var testBounds = schemas.Rect{Width: 1280, Height: 4000}

// visibleInput returns a snapshot that passes every visibility and
// interactivity gate; tests knock out individual properties from here.
func visibleInput() schemas.ElementSnapshot {
	return schemas.ElementSnapshot{
		Key:       "el-1",
		Tag:       "input",
		InputType: "text",
		Name:      "first_name",
		Rect:      schemas.Rect{X: 100, Y: 200, Width: 300, Height: 40},
		Style: schemas.StyleSnapshot{
			Display:       "block",
			Visibility:    "visible",
			Opacity:       1,
			PointerEvents: "auto",
			Position:      "static",
		},
		HasLayoutParent: true,
		Origin:          schemas.OriginNative,
	}
}

func TestClassifyVisibility(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*schemas.ElementSnapshot)
		visible bool
	}{
		{"Fully Rendered", func(el *schemas.ElementSnapshot) {}, true},
		{"Display None", func(el *schemas.ElementSnapshot) { el.Style.Display = "none" }, false},
		{"Visibility Hidden", func(el *schemas.ElementSnapshot) { el.Style.Visibility = "hidden" }, false},
		{"Zero Opacity", func(el *schemas.ElementSnapshot) { el.Style.Opacity = 0 }, false},
		{"Zero Size", func(el *schemas.ElementSnapshot) { el.Rect.Width = 0 }, false},
		{"Off Screen Left", func(el *schemas.ElementSnapshot) { el.Rect.X = -500; el.Rect.Width = 100 }, false},
		{"Off Screen Below", func(el *schemas.ElementSnapshot) { el.Rect.Y = 9000 }, false},
		{"No Layout Parent", func(el *schemas.ElementSnapshot) { el.HasLayoutParent = false }, false},
		{"Pinned Without Layout Parent", func(el *schemas.ElementSnapshot) {
			el.HasLayoutParent = false
			el.Style.Position = "fixed"
		}, true},
		{"Capture Error", func(el *schemas.ElementSnapshot) { el.CaptureError = "node detached" }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			el := visibleInput()
			tc.mutate(&el)
			d := Classify(el, testBounds)
			assert.Equal(t, tc.visible, d.Visible)
			if !tc.visible {
				assert.False(t, d.Interactive, "hidden element must never be interactive")
			}
		})
	}
}

func TestClassifyInteractivity(t *testing.T) {
	cases := []struct {
		name        string
		mutate      func(*schemas.ElementSnapshot)
		interactive bool
	}{
		{"Enabled Input", func(el *schemas.ElementSnapshot) {}, true},
		{"Pointer Events None", func(el *schemas.ElementSnapshot) { el.Style.PointerEvents = "none" }, false},
		{"Disabled", func(el *schemas.ElementSnapshot) { el.Disabled = true }, false},
		{"Ancestor Disabled", func(el *schemas.ElementSnapshot) { el.AncestorDisabled = true }, false},
		{"Read Only", func(el *schemas.ElementSnapshot) { el.ReadOnly = true }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			el := visibleInput()
			tc.mutate(&el)
			d := Classify(el, testBounds)
			assert.True(t, d.Visible)
			assert.Equal(t, tc.interactive, d.Interactive)
		})
	}
}

func TestClassifyKinds(t *testing.T) {
	cases := []struct {
		tag       string
		inputType string
		origin    schemas.ElementOrigin
		want      schemas.FieldKind
	}{
		{"input", "text", schemas.OriginNative, schemas.FieldText},
		{"input", "email", schemas.OriginNative, schemas.FieldText},
		{"input", "checkbox", schemas.OriginNative, schemas.FieldCheckbox},
		{"input", "radio", schemas.OriginNative, schemas.FieldRadio},
		{"input", "file", schemas.OriginNative, schemas.FieldFile},
		{"input", "button", schemas.OriginNative, schemas.FieldButton},
		{"select", "", schemas.OriginNative, schemas.FieldSelect},
		{"textarea", "", schemas.OriginNative, schemas.FieldTextArea},
		{"button", "", schemas.OriginNative, schemas.FieldButton},
		{"div", "", schemas.OriginWidget, schemas.FieldCustom},
	}

	for _, tc := range cases {
		el := visibleInput()
		el.Tag, el.InputType, el.Origin = tc.tag, tc.inputType, tc.origin
		d := Classify(el, testBounds)
		assert.Equal(t, tc.want, d.Kind, "%s[type=%s]", tc.tag, tc.inputType)
	}
}

func TestLabelPrecedence(t *testing.T) {
	el := visibleInput()
	el.AriaLabel = "Aria Name"
	el.LabelText = "Bound Label"
	el.Placeholder = "Type here"
	el.HeadingText = "Personal Details"

	d := Classify(el, testBounds)
	require.Len(t, d.Labels, 4)
	assert.Equal(t, schemas.LabelAria, d.Labels[0].Source)
	assert.Equal(t, "Aria Name", d.Labels[0].Text)
	assert.Equal(t, schemas.LabelBoundLabel, d.Labels[1].Source)
	assert.Equal(t, schemas.LabelPlaceholder, d.Labels[2].Source)
	assert.Equal(t, schemas.LabelSectionHeading, d.Labels[3].Source)
}

// An element with only a placeholder must surface the placeholder as its top
// label candidate.
func TestLabelFallbackToPlaceholder(t *testing.T) {
	el := visibleInput()
	el.Placeholder = "you@example.com"

	d := Classify(el, testBounds)
	require.NotEmpty(t, d.Labels)
	assert.Equal(t, schemas.LabelPlaceholder, d.Labels[0].Source)
	assert.Equal(t, "you@example.com", d.Label())
}

func TestLabelledByFillsAriaTier(t *testing.T) {
	el := visibleInput()
	el.AriaLabelledByText = "Referenced Heading"

	d := Classify(el, testBounds)
	require.NotEmpty(t, d.Labels)
	assert.Equal(t, schemas.LabelAria, d.Labels[0].Source)
	assert.Equal(t, "Referenced Heading", d.Labels[0].Text)
}

// FuzzClassify asserts the classifier never panics and never reports an
// interactive-but-invisible element, whatever the snapshot contents.
func FuzzClassify(f *testing.F) {
	f.Add([]byte("seed"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzzheaders.NewConsumer(data)
		el := schemas.ElementSnapshot{}
		if err := consumer.GenerateStruct(&el); err != nil {
			return
		}
		d := Classify(el, testBounds)
		if d.Interactive && !d.Visible {
			t.Fatalf("interactive element reported invisible: %+v", d)
		}
	})
}
