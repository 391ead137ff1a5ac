// File: internal/browser/page.go
// Description: The chromedp-backed Page implementation: navigation with a
// readiness wait, promise-aware script evaluation, and the single-read page
// snapshot for the discovery engine.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
)

// Page wraps one chromedp tab context.
type Page struct {
	ctx            context.Context
	cancel         context.CancelFunc
	net            config.NetworkConfig
	widgetSelector string
	maxElements    int
	log            *zap.Logger
}

var _ schemas.Page = (*Page)(nil)

func newPage(ctx context.Context, cancel context.CancelFunc, net config.NetworkConfig, widgetSelector string, maxElements int, logger *zap.Logger) *Page {
	if maxElements <= 0 {
		maxElements = 500
	}
	return &Page{
		ctx:            ctx,
		cancel:         cancel,
		net:            net,
		widgetSelector: widgetSelector,
		maxElements:    maxElements,
		log:            logger.Named("page"),
	}
}

// run executes chromedp actions against the tab while honoring the caller's
// deadline and cancellation.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Navigate loads a URL and waits for the document to become ready, plus the
// configured settle time for script-rendered forms.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if p.net.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, p.net.NavigationTimeout)
		defer cancel()
	}

	p.log.Info("Navigating.", zap.String("url", url))
	if err := p.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if p.net.PostLoadWait > 0 {
		select {
		case <-time.After(p.net.PostLoadWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Evaluate runs the expression in the page, awaiting promises, and unmarshals
// the result into out. Pass nil to discard the result.
func (p *Page) Evaluate(ctx context.Context, expr string, out interface{}) error {
	return p.run(ctx, chromedp.Evaluate(expr, out,
		func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
			return params.WithAwaitPromise(true)
		}))
}

// URL returns the page's current address.
func (p *Page) URL(ctx context.Context) (string, error) {
	var location string
	if err := p.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

// TargetID is the CDP target identity of this tab, the same id the tab-event
// stream reports.
func (p *Page) TargetID() string {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return ""
	}
	return string(c.Target.TargetID)
}

// Snapshot runs the collection script and returns the raw page view. The
// script is read-only on the page apart from the snapshot keys it stamps on
// visited nodes.
func (p *Page) Snapshot(ctx context.Context) (*schemas.PageSnapshot, error) {
	var snapshot schemas.PageSnapshot
	if err := p.Evaluate(ctx, collectScript(p.widgetSelector, p.maxElements), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to collect page snapshot: %w", err)
	}
	snapshot.CapturedAt = time.Now()
	return &snapshot, nil
}

// Close releases the tab.
func (p *Page) Close() {
	p.cancel()
}
