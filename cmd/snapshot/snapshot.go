package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"
)

// Options control a single screenshot.
type Options struct {
	URL        string
	OutputPath string
	NavTimeout time.Duration
	Settle     time.Duration
	NoSandbox  bool
	ChromePath string
}

// Validate checks the positional arguments and fills defaults.
func (o *Options) Validate() error {
	u, err := url.Parse(o.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", o.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", o.URL)
	}
	if o.OutputPath == "" {
		return errors.New("output path is required")
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = 15 * time.Second
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	return nil
}

// allocatorOptions builds the headless Chrome flags.
func (o *Options) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Headless,
		chromedp.DisableGPU,
		chromedp.Flag("hide-scrollbars", true),
	)
	if o.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if o.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(o.ChromePath))
	}
	return opts
}

// Take launches Chrome, emulates an iPhone 12 Pro, loads the page, waits for
// network idle (bounded by NavTimeout), lets the page settle and writes a
// viewport screenshot to OutputPath.
func Take(ctx context.Context, o Options, logger *slog.Logger) error {
	if err := o.Validate(); err != nil {
		return err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, o.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	defer cancelBrowser()

	idle := newIdleWatcher()
	chromedp.ListenTarget(browserCtx, idle.observe)

	// start the browser and configure the tab before navigating
	if err := chromedp.Run(browserCtx,
		chromedp.Emulate(device.IPhone12Pro),
		page.SetLifecycleEventsEnabled(true),
	); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}

	navCtx, cancelNav := context.WithTimeout(browserCtx, o.NavTimeout)
	defer cancelNav()

	idle.arm()
	start := time.Now()
	if err := chromedp.Run(navCtx, chromedp.Navigate(o.URL)); err != nil {
		return fmt.Errorf("navigate to %s: %w", o.URL, err)
	}

	select {
	case <-idle.done():
		logger.Info("network idle", "url", o.URL, "elapsed", time.Since(start).Round(time.Millisecond))
	case <-navCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("network idle not reached, capturing anyway", "url", o.URL, "timeout", o.NavTimeout)
	}

	var buf []byte
	if err := chromedp.Run(browserCtx,
		chromedp.Sleep(o.Settle),
		chromedp.CaptureScreenshot(&buf),
	); err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}

	if dir := filepath.Dir(o.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(o.OutputPath, buf, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}

	logger.Info("screenshot written", "path", o.OutputPath, "bytes", len(buf))
	return nil
}

// idleWatcher waits for the networkIdle lifecycle event of the navigation
// started after arm. Events from the initial blank page are ignored by
// matching the loader that emitted "init" after arming.
type idleWatcher struct {
	armed  atomic.Bool
	mu     sync.Mutex
	loader string
	once   sync.Once
	ch     chan struct{}
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{ch: make(chan struct{})}
}

func (w *idleWatcher) arm() {
	w.armed.Store(true)
}

func (w *idleWatcher) done() <-chan struct{} {
	return w.ch
}

func (w *idleWatcher) observe(ev interface{}) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || !w.armed.Load() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch e.Name {
	case "init":
		w.loader = string(e.LoaderID)
	case "networkIdle":
		if w.loader != "" && string(e.LoaderID) == w.loader {
			w.once.Do(func() { close(w.ch) })
		}
	}
}
