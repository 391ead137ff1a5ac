// File: internal/notify/notify.go
// Description: Best-effort notifications. Every notification is structured-
// logged; a desktop notification goes out through the platform notifier when
// enabled; an in-page overlay is injected when a page is attached. None of
// these may block or fail the caller.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const commandTimeout = 5 * time.Second

// Notifier implements schemas.Notifier.
type Notifier struct {
	cfg config.NotifyConfig
	log *zap.Logger

	mu   sync.RWMutex
	page schemas.PageScripter
}

var _ schemas.Notifier = (*Notifier)(nil)

// New builds a notifier. A page can be attached later for overlays.
func New(cfg config.NotifyConfig, logger *zap.Logger) *Notifier {
	return &Notifier{
		cfg: cfg,
		log: logger.Named("notify"),
	}
}

// AttachPage enables in-page overlays on the given page. Pass nil to detach.
func (n *Notifier) AttachPage(page schemas.PageScripter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.page = page
}

// Notify surfaces the notification on every enabled channel. Failures are
// logged at debug and swallowed.
func (n *Notifier) Notify(ctx context.Context, title, body string) {
	n.log.Info("Notification.", zap.String("title", title), zap.String("body", body))

	if n.cfg.Desktop {
		if err := n.desktop(ctx, title, body); err != nil {
			n.log.Debug("Desktop notification failed.", zap.Error(err))
		}
	}
	if n.cfg.Overlay {
		if err := n.overlay(ctx, title, body); err != nil {
			n.log.Debug("Overlay notification failed.", zap.Error(err))
		}
	}
}

// desktop shells out to the platform notifier.
func (n *Notifier) desktop(ctx context.Context, title, body string) error {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.CommandContext(cmdCtx, "notify-send", title, body)
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleScriptString(body), appleScriptString(title))
		cmd = exec.CommandContext(cmdCtx, "osascript", "-e", script)
	case "windows":
		script := fmt.Sprintf(
			"New-BurntToastNotification -Text %s, %s",
			powershellString(title), powershellString(body))
		cmd = exec.CommandContext(cmdCtx, "powershell", "-NoProfile", "-Command", script)
	default:
		return fmt.Errorf("no desktop notifier for %s", runtime.GOOS)
	}
	return cmd.Run()
}

const overlayTemplate = `(() => {
    const id = 'applypilot-overlay';
    let box = document.getElementById(id);
    if (!box) {
        box = document.createElement('div');
        box.id = id;
        box.style.cssText = 'position:fixed;top:16px;right:16px;z-index:2147483647;' +
            'max-width:360px;padding:12px 16px;background:#1f2937;color:#f9fafb;' +
            'border-radius:8px;font:14px/1.4 sans-serif;box-shadow:0 4px 12px rgba(0,0,0,.35);';
        document.body.appendChild(box);
    }
    box.textContent = '';
    const strong = document.createElement('strong');
    strong.textContent = %s;
    box.appendChild(strong);
    box.appendChild(document.createElement('br'));
    box.appendChild(document.createTextNode(%s));
    clearTimeout(box.__applypilotTimer);
    box.__applypilotTimer = setTimeout(() => box.remove(), 8000);
    return true;
})()`

// overlay injects a transient banner into the attached page.
func (n *Notifier) overlay(ctx context.Context, title, body string) error {
	n.mu.RLock()
	page := n.page
	n.mu.RUnlock()
	if page == nil {
		return nil
	}
	expr := fmt.Sprintf(overlayTemplate, jsString(title), jsString(body))
	return page.Evaluate(ctx, expr, nil)
}

func jsString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(encoded)
}

func appleScriptString(s string) string {
	return jsString(s)
}

func powershellString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
