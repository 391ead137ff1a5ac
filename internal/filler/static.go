// File: internal/filler/static.go
// Description: The built-in keyword filler. It matches discovered field labels
// and names against a configured profile map and writes matching values via
// the page scripter, firing the input/change events frameworks listen on.
// Profile management, resume import, and generated answers stay outside this
// module.
package filler

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Static fills fields whose label or name contains a profile keyword.
type Static struct {
	profile map[string]string
	log     *zap.Logger
}

var _ schemas.Filler = (*Static)(nil)

// NewStatic builds a filler from the configured profile map. Keys are
// case-insensitive keywords; values are entered verbatim.
func NewStatic(cfg config.FillerConfig, logger *zap.Logger) *Static {
	profile := make(map[string]string, len(cfg.Profile))
	for keyword, value := range cfg.Profile {
		profile[strings.ToLower(keyword)] = value
	}
	return &Static{
		profile: profile,
		log:     logger.Named("filler"),
	}
}

// Fill enters profile values into every matchable field. Fields with no
// matching keyword, and kinds the static filler cannot sensibly set, are
// counted as skipped. Per-field failures are collected, never fatal.
func (s *Static) Fill(ctx context.Context, page schemas.PageScripter, form *schemas.FormContext) (schemas.FillReport, error) {
	var report schemas.FillReport
	if form == nil {
		return report, fmt.Errorf("no form context to fill")
	}

	for _, field := range form.Fields {
		value, ok := s.valueFor(field)
		if !ok || !fillable(field.Kind) {
			report.Skipped++
			continue
		}
		if err := s.setValue(ctx, page, field, value); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", field.Selector(), err))
			continue
		}
		report.Filled++
		s.log.Debug("Field filled.",
			zap.String("selector", field.Selector()),
			zap.String("label", field.Label()))
	}
	return report, nil
}

// valueFor finds the first profile keyword contained in the field's label
// candidates or its name/id.
func (s *Static) valueFor(field schemas.FieldDescriptor) (string, bool) {
	haystacks := make([]string, 0, len(field.Labels)+2)
	for _, candidate := range field.Labels {
		haystacks = append(haystacks, strings.ToLower(candidate.Text))
	}
	haystacks = append(haystacks, strings.ToLower(field.Name), strings.ToLower(field.ID))

	for keyword, value := range s.profile {
		for _, haystack := range haystacks {
			if haystack != "" && strings.Contains(haystack, keyword) {
				return value, true
			}
		}
	}
	return "", false
}

func fillable(kind schemas.FieldKind) bool {
	switch kind {
	case schemas.FieldText, schemas.FieldTextArea, schemas.FieldSelect, schemas.FieldCustom:
		return true
	default:
		// Checkboxes, radios, files, and buttons need richer intent than a
		// keyword map expresses.
		return false
	}
}

const setValueTemplate = `(() => {
    const el = document.querySelector(%s);
    if (!el) return false;
    const value = %s;
    if (el.tagName === 'SELECT') {
        const option = Array.from(el.options).find((o) =>
            o.value === value || o.textContent.trim() === value);
        if (!option) return false;
        el.value = option.value;
    } else if (el.isContentEditable) {
        el.textContent = value;
    } else {
        el.value = value;
    }
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));
    return true;
})()`

func (s *Static) setValue(ctx context.Context, page schemas.PageScripter, field schemas.FieldDescriptor, value string) error {
	selector, err := json.Marshal(field.Selector())
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}

	var applied bool
	expr := fmt.Sprintf(setValueTemplate, selector, encoded)
	if err := page.Evaluate(ctx, expr, &applied); err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("element not found or value not applicable")
	}
	return nil
}
