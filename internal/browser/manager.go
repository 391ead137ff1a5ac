// File: internal/browser/manager.go
// Description: Owns the Chrome process via chromedp, surfaces new pages, and
// adapts CDP target lifecycle events into the coordinator's tab-event stream.
// Also implements the best-effort TabController surface over CDP target
// operations.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
	"github.com/applypilot/applypilot-cli/internal/events"
)

const shutdownGracePeriod = 15 * time.Second

// Manager handles the browser process lifecycle, page creation, and the tab
// event feed.
type Manager struct {
	cfg config.Config
	log *zap.Logger
	bus *events.Bus[schemas.TabEvent]

	// widgetSelector is the flattened custom-widget catalogue query handed to
	// every page's collection script.
	widgetSelector string

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	initOnce sync.Once
	initErr  error
}

var _ schemas.TabController = (*Manager)(nil)

// NewManager creates a manager; the browser itself launches lazily on the
// first page request. widgetSelector is the CSS query for custom-widget
// candidates, typically built from the discovery signature catalogue.
func NewManager(cfg config.Config, widgetSelector string, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:            cfg,
		log:            logger.Named("browser"),
		bus:            events.NewBus[schemas.TabEvent](),
		widgetSelector: widgetSelector,
	}
}

// initialize launches Chrome and turns on target discovery.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		opts := m.allocatorOptions()
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

		ctxOpts := []chromedp.ContextOption{}
		if m.cfg.Browser.Debug {
			ctxOpts = append(ctxOpts, chromedp.WithDebugf(m.log.Sugar().Debugf))
		}
		m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx, ctxOpts...)

		// Materialize the browser and enable target discovery so tab
		// lifecycle events start flowing.
		launchCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := chromedp.Run(launchCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return target.SetDiscoverTargets(true).Do(ctx)
		})); err != nil {
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			m.allocCancel()
			return
		}

		chromedp.ListenBrowser(m.browserCtx, m.routeTargetEvent)
		m.log.Info("Browser launched.", zap.Bool("headless", m.cfg.Browser.Headless))
	})
	return m.initErr
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Browser.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(m.cfg.Browser.ViewportWidth, m.cfg.Browser.ViewportHeight),
	)
	if m.cfg.Browser.DisableCache {
		opts = append(opts, chromedp.Flag("disable-application-cache", true))
	}
	if m.cfg.Browser.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if m.cfg.Browser.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(m.cfg.Browser.UserDataDir))
	}
	for _, arg := range m.cfg.Browser.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// routeTargetEvent maps CDP target events onto the tab-event stream. Only
// page targets matter; workers and extensions are noise.
func (m *Manager) routeTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo.Type != "page" {
			return
		}
		m.bus.Publish(schemas.TabEvent{
			Kind: schemas.TabCreated,
			Tab:  snapshotOf(e.TargetInfo),
		})
	case *target.EventTargetInfoChanged:
		if e.TargetInfo.Type != "page" {
			return
		}
		m.bus.Publish(schemas.TabEvent{
			Kind: schemas.TabUpdated,
			Tab:  snapshotOf(e.TargetInfo),
		})
	case *target.EventTargetDestroyed:
		m.bus.Publish(schemas.TabEvent{
			Kind: schemas.TabRemoved,
			Tab:  schemas.TabSnapshot{ID: string(e.TargetID)},
		})
	}
}

func snapshotOf(info *target.Info) schemas.TabSnapshot {
	return schemas.TabSnapshot{
		ID:       string(info.TargetID),
		OpenerID: string(info.OpenerID),
		URL:      info.URL,
		Title:    info.Title,
		WindowID: string(info.BrowserContextID),
	}
}

// Subscribe registers a tab-event callback and returns its unsubscribe
// handle.
func (m *Manager) Subscribe(fn func(schemas.TabEvent)) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// NewPage opens a fresh tab and returns its page surface.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open new tab: %w", err)
	}
	return newPage(tabCtx, cancel, m.cfg.Network, m.widgetSelector, m.cfg.Discovery.MaxElements, m.log), nil
}

// Shutdown tears the browser down. Safe to call without initialization.
func (m *Manager) Shutdown() {
	if m.browserCancel == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		m.browserCancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGracePeriod):
		m.log.Warn("Browser did not shut down within the grace period.")
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.log.Info("Browser shut down.")
}

// -- TabController --

// runBrowser executes CDP commands against the browser target.
func (m *Manager) runBrowser(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.initialize(ctx); err != nil {
		return err
	}
	return chromedp.Run(m.browserCtx, chromedp.ActionFunc(fn))
}

// CloseTab best-effort closes a tab. Closing an already-gone tab reports an
// error the callers treat as neutral.
func (m *Manager) CloseTab(ctx context.Context, tabID string) error {
	return m.runBrowser(ctx, func(ctx context.Context) error {
		return target.CloseTarget(target.ID(tabID)).Do(ctx)
	})
}

// ActivateTab focuses a tab.
func (m *Manager) ActivateTab(ctx context.Context, tabID string) error {
	return m.runBrowser(ctx, func(ctx context.Context) error {
		return target.ActivateTarget(target.ID(tabID)).Do(ctx)
	})
}

// Tab snapshots one tab by id.
func (m *Manager) Tab(ctx context.Context, tabID string) (*schemas.TabSnapshot, error) {
	var snap *schemas.TabSnapshot
	err := m.runBrowser(ctx, func(ctx context.Context) error {
		infos, err := target.GetTargets().Do(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			if string(info.TargetID) == tabID {
				s := snapshotOf(info)
				snap = &s
				return nil
			}
		}
		return fmt.Errorf("no tab %s", tabID)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
