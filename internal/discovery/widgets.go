// File: internal/discovery/widgets.go
// Description: The custom-widget signature catalogue. Signatures are data, not
// code; hosts turn them into one CSS selector for the widget enumeration pass
// and the engine uses the same table to recognize library conventions.
package discovery

import (
	"fmt"
	"strings"

	"github.com/applypilot/applypilot-cli/api/schemas"
)

// DefaultWidgetSignatures covers the ARIA widget roles plus the structural
// conventions of UI kits commonly seen on application forms. Extendable via
// discovery.extra_widgets in config.
func DefaultWidgetSignatures() []schemas.WidgetSignature {
	return []schemas.WidgetSignature{
		{
			Library: "aria",
			Roles:   []string{"textbox", "combobox", "listbox", "spinbutton", "slider", "switch", "searchbox"},
		},
		{
			Library:       "react-select",
			ClassContains: []string{"react-select__control", "react-select__input"},
		},
		{
			Library:       "mui",
			ClassContains: []string{"MuiInputBase", "MuiSelect", "MuiAutocomplete"},
		},
		{
			Library:       "antd",
			ClassContains: []string{"ant-input", "ant-select", "ant-picker"},
		},
		{
			Library:       "select2",
			ClassContains: []string{"select2-selection"},
		},
		{
			Library:       "chosen",
			ClassContains: []string{"chosen-container"},
		},
		{
			Library:       "quill",
			ClassContains: []string{"ql-editor"},
		},
		{
			Library:       "draft-js",
			ClassContains: []string{"DraftEditor-root", "public-DraftEditor-content"},
		},
		{
			// Workday and similar ATS platforms tag controls with automation ids.
			Library:   "workday",
			DataAttrs: []string{"data-automation-id"},
		},
		{
			Library:   "generic-field",
			DataAttrs: []string{"data-field", "data-input", "data-testid"},
		},
	}
}

// WidgetSelector flattens the signature table into a single CSS selector for
// the host's widget enumeration query. contenteditable is always included.
func WidgetSelector(sigs []schemas.WidgetSignature) string {
	parts := []string{`[contenteditable=""]`, `[contenteditable="true"]`}
	for _, sig := range sigs {
		for _, role := range sig.Roles {
			parts = append(parts, fmt.Sprintf(`[role="%s"]`, role))
		}
		for _, attr := range sig.DataAttrs {
			parts = append(parts, fmt.Sprintf(`[%s]`, attr))
		}
		for _, class := range sig.ClassContains {
			parts = append(parts, fmt.Sprintf(`[class*="%s"]`, class))
		}
	}
	return strings.Join(parts, ", ")
}

// fieldNamingDataAttrs are data attributes whose presence alone marks an
// element as a deliberate form control.
var fieldNamingDataAttrs = []string{
	"data-automation-id",
	"data-field",
	"data-input",
	"data-control",
}

// namedAsField reports whether the element carries a data attribute literally
// naming it as a field or control.
func namedAsField(el schemas.ElementSnapshot) bool {
	for _, attr := range fieldNamingDataAttrs {
		if _, ok := el.Attributes[attr]; ok {
			return true
		}
	}
	return false
}
