// File: internal/challenge/watcher.go
// Description: Re-runs detection on an interval while page content streams in,
// publishing each newly-seen family exactly once.
package challenge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/events"
)

// Watcher polls a detector and fans newly-seen challenges out on a bus.
type Watcher struct {
	detector schemas.Detector
	bus      *events.Bus[schemas.ChallengeInfo]
	interval time.Duration
	log      *zap.Logger

	mu   sync.Mutex
	seen map[schemas.ChallengeType]struct{}
	stop context.CancelFunc
	done chan struct{}
}

// NewWatcher builds a stopped watcher.
func NewWatcher(detector schemas.Detector, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	return &Watcher{
		detector: detector,
		bus:      events.NewBus[schemas.ChallengeInfo](),
		interval: interval,
		log:      logger.Named("watcher"),
		seen:     make(map[schemas.ChallengeType]struct{}),
	}
}

// Subscribe registers a callback for newly-seen challenges and returns its
// unsubscribe handle.
func (w *Watcher) Subscribe(fn func(schemas.ChallengeInfo)) (unsubscribe func()) {
	return w.bus.Subscribe(fn)
}

// Start launches the polling goroutine. A detection failure is logged and the
// next tick retries; the page may simply be mid-navigation.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.stop = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.scan(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.scan(runCtx)
			}
		}
	}()
}

// Stop cancels the polling goroutine and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	w.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

func (w *Watcher) scan(ctx context.Context) {
	found, err := w.detector.Detect(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Debug("Detection pass failed; will retry.", zap.Error(err))
		}
		return
	}

	for _, info := range found {
		w.mu.Lock()
		_, already := w.seen[info.Type]
		if !already {
			w.seen[info.Type] = struct{}{}
		}
		w.mu.Unlock()

		if already {
			continue
		}
		w.log.Info("New challenge appeared on page.",
			zap.String("type", string(info.Type)),
			zap.String("page_url", info.PageURL))
		w.bus.Publish(info)
	}
}
