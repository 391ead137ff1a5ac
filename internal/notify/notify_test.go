// File: internal/notify/notify_test.go
package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/internal/config"
)

type fakePage struct {
	exprs []string
	err   error
}

func (f *fakePage) Evaluate(_ context.Context, expr string, _ interface{}) error {
	f.exprs = append(f.exprs, expr)
	return f.err
}

func (f *fakePage) URL(context.Context) (string, error) { return "", nil }

func TestOverlayInjection(t *testing.T) {
	page := &fakePage{}
	n := New(config.NotifyConfig{Overlay: true}, zap.NewNop())
	n.AttachPage(page)

	n.Notify(context.Background(), "Sign-in detected", "Complete the Google login to continue.")

	require.Len(t, page.exprs, 1)
	assert.Contains(t, page.exprs[0], "Sign-in detected")
	assert.Contains(t, page.exprs[0], "applypilot-overlay")
}

func TestOverlayWithoutPageIsNoop(t *testing.T) {
	n := New(config.NotifyConfig{Overlay: true}, zap.NewNop())
	// Must not panic or block with no page attached.
	n.Notify(context.Background(), "title", "body")
}

func TestNotifySwallowsPageErrors(t *testing.T) {
	page := &fakePage{err: assert.AnError}
	n := New(config.NotifyConfig{Overlay: true}, zap.NewNop())
	n.AttachPage(page)

	n.Notify(context.Background(), "title", "body")
	assert.Len(t, page.exprs, 1)
}

func TestJSStringEscaping(t *testing.T) {
	assert.Equal(t, `"a \"quoted\" title"`, jsString(`a "quoted" title`))
	assert.Equal(t, "'it''s'", powershellString("it's"))
}
