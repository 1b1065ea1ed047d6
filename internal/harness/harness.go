// internal/harness/harness.go
// Chromedp-backed implementation of the PageHarness boundary: a single
// isolated tab the engine injects variations into, screenshots, and probes.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/converge-cli/api/schemas"
	"github.com/xkilldash9x/converge-cli/internal/config"
)

// Harness drives one browser tab. It is not safe for concurrent use: the
// engine tests variations sequentially because they share this tab.
type Harness struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// tabCtx carries the CDP target; every chromedp action runs on a context
	// derived from it.
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	mu            sync.Mutex
	consoleErrors []string
}

var _ schemas.PageHarness = (*Harness)(nil)

// New launches the browser and opens the tab. Close must be called to release
// the browser process.
func New(parentCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Harness, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parentCtx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	h := &Harness{
		logger:      logger.Named("harness"),
		cfg:         cfg,
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	// Record console errors and uncaught exceptions as they happen; the
	// engine drains them after each apply.
	chromedp.ListenTarget(tabCtx, h.onTargetEvent)

	// Start the browser eagerly so a broken Chrome install fails here, not
	// mid-run.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return h, nil
}

// Close tears down the tab and the browser process.
func (h *Harness) Close() {
	h.cancelTab()
	h.cancelAlloc()
}

// onTargetEvent accumulates console errors and uncaught exceptions.
func (h *Harness) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		if e.Type != runtime.APITypeError {
			return
		}
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			parts = append(parts, formatRemoteObject(arg))
		}
		h.recordConsoleError(strings.Join(parts, " "))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			h.recordConsoleError(e.ExceptionDetails.Error())
		}
	}
}

func (h *Harness) recordConsoleError(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consoleErrors = append(h.consoleErrors, msg)
}

// formatRemoteObject renders a console argument as text.
func formatRemoteObject(obj *runtime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if obj.Value != nil {
		var v interface{}
		if err := json.Unmarshal(obj.Value, &v); err == nil {
			return fmt.Sprintf("%v", v)
		}
		return string(obj.Value)
	}
	if obj.Description != "" {
		return obj.Description
	}
	return string(obj.Type)
}

// Navigate loads the target page and waits for the body to be ready.
func (h *Harness) Navigate(ctx context.Context, url string) error {
	h.logger.Info("Navigating to target page", zap.String("url", url))

	timeout := h.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	opCtx, cancel := h.operationContext(ctx, timeout)
	defer cancel()

	if err := chromedp.Run(opCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	// Navigation wipes injected state; stale console errors from the previous
	// page must not bleed into the first iteration.
	h.mu.Lock()
	h.consoleErrors = nil
	h.mu.Unlock()
	return nil
}

// applyScript removes any bundle already injected under the same key, then
// appends a style and/or script node tagged with it. The script node executes
// synchronously on append.
const applyScript = `(function(key, css, js) {
	try {
		document.querySelectorAll('[data-converge-key="' + key + '"]').forEach(function(n) { n.remove(); });
		if (css) {
			var style = document.createElement('style');
			style.setAttribute('data-converge-key', key);
			style.textContent = css;
			document.head.appendChild(style);
		}
		if (js) {
			var script = document.createElement('script');
			script.setAttribute('data-converge-key', key);
			script.textContent = js;
			document.body.appendChild(script);
		}
		return { success: true };
	} catch (err) {
		return { success: false, error: String(err) };
	}
})(%s, %s, %s)`

// ApplyCode injects the bundle under the given key. A JS-level failure is
// reported in the ApplyResult, not as a Go error; a Go error means the harness
// round-trip itself broke.
func (h *Harness) ApplyCode(ctx context.Context, key string, code schemas.GeneratedCode) (*schemas.ApplyResult, error) {
	opCtx, cancel := h.operationContext(ctx, 30*time.Second)
	defer cancel()

	expr := fmt.Sprintf(applyScript, jsString(key), jsString(code.CSS), jsString(code.JS))

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := chromedp.Run(opCtx, chromedp.Evaluate(expr, &result)); err != nil {
		return nil, fmt.Errorf("apply round-trip failed for key %q: %w", key, err)
	}

	applied := &schemas.ApplyResult{
		Success: result.Success,
		Error:   result.Error,
	}
	if result.Success {
		applied.Logs = append(applied.Logs, fmt.Sprintf("injected bundle %q (css=%dB js=%dB)", key, len(code.CSS), len(code.JS)))
	}
	h.logger.Debug("Applied variation code",
		zap.String("key", key), zap.Bool("success", result.Success), zap.String("error", result.Error))
	return applied, nil
}

const resetScript = `(function(prefix) {
	var nodes = document.querySelectorAll('[data-converge-key]');
	var removed = 0;
	nodes.forEach(function(n) {
		if (n.getAttribute('data-converge-key').indexOf(prefix) === 0) {
			n.remove();
			removed++;
		}
	});
	return removed;
})(%s)`

// ResetByKeyPrefix removes every injected bundle whose key starts with prefix.
// Idempotent: resetting an already clean page removes nothing and succeeds.
func (h *Harness) ResetByKeyPrefix(ctx context.Context, prefix string) error {
	opCtx, cancel := h.operationContext(ctx, 10*time.Second)
	defer cancel()

	var removed int
	expr := fmt.Sprintf(resetScript, jsString(prefix))
	if err := chromedp.Run(opCtx, chromedp.Evaluate(expr, &removed)); err != nil {
		return fmt.Errorf("reset failed for prefix %q: %w", prefix, err)
	}
	if removed > 0 {
		h.logger.Debug("Removed injected bundles", zap.String("prefix", prefix), zap.Int("count", removed))
	}
	return nil
}

// CaptureScreenshot takes a PNG of the current viewport.
func (h *Harness) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := h.operationContext(ctx, 20*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, nil
}

// CollectConsoleErrors drains everything recorded since the last call.
func (h *Harness) CollectConsoleErrors(_ context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	drained := h.consoleErrors
	h.consoleErrors = nil
	return drained, nil
}

// SelectorExists probes the live DOM for the selector.
func (h *Harness) SelectorExists(ctx context.Context, selector string) (bool, error) {
	opCtx, cancel := h.operationContext(ctx, 10*time.Second)
	defer cancel()

	var exists bool
	expr := fmt.Sprintf(`(function(sel) {
		try { return document.querySelector(sel) !== null; }
		catch (err) { return false; }
	})(%s)`, jsString(selector))
	if err := chromedp.Run(opCtx, chromedp.Evaluate(expr, &exists)); err != nil {
		return false, fmt.Errorf("selector probe failed for %q: %w", selector, err)
	}
	return exists, nil
}

// CollectPageData grabs the page HTML and summarizes its structure.
func (h *Harness) CollectPageData(ctx context.Context) (*schemas.PageData, error) {
	opCtx, cancel := h.operationContext(ctx, 20*time.Second)
	defer cancel()

	var html, url string
	if err := chromedp.Run(opCtx,
		chromedp.Location(&url),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("page data collection failed: %w", err)
	}

	data, err := SummarizeHTML(html)
	if err != nil {
		return nil, err
	}
	data.URL = url
	return data, nil
}

// operationContext derives an action context that carries the CDP target from
// the tab context but is also canceled when the caller's context is.
func (h *Harness) operationContext(callerCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(h.tabCtx, timeout)
	stop := context.AfterFunc(callerCtx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// jsString encodes a Go string as a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
