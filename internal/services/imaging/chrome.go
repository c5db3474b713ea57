// Package imaging rasterizes normalized figures to PNG with plotly.js in a
// shared headless Chrome.
package imaging

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
)

const (
	DefaultPlotlyURL = "https://cdn.plot.ly/plotly-2.35.2.min.js"
	DefaultWidth     = 1200
	DefaultHeight    = 700
	DefaultTimeout   = 30 * time.Second
)

// Config configures the browser and the default image size
type Config struct {
	PlotlyURL string
	Width     int
	Height    int
	Scale     float64
	Timeout   time.Duration // per image
	Headless  bool
	NoSandbox bool
}

// ChromeRenderer owns one browser process, started on the first render and
// released by Shutdown. Each render runs in its own tab.
type ChromeRenderer struct {
	config Config
	logger arbor.ILogger
	launch func() (*browserSession, error)

	mu      sync.Mutex
	session *browserSession
}

// browserSession is a running browser. ctx is done once the browser is gone.
type browserSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var _ interfaces.ImageRenderer = (*ChromeRenderer)(nil)

// NewChromeRenderer creates a renderer. No browser is started until the
// first RenderPNG.
func NewChromeRenderer(config Config, logger arbor.ILogger) *ChromeRenderer {
	if config.PlotlyURL == "" {
		config.PlotlyURL = DefaultPlotlyURL
	}
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if config.Height <= 0 {
		config.Height = DefaultHeight
	}
	if config.Scale <= 0 {
		config.Scale = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	r := &ChromeRenderer{config: config, logger: logger}
	r.launch = r.launchChrome
	return r
}

var (
	defaultMu       sync.Mutex
	defaultRenderer *ChromeRenderer
)

// Default returns the process-wide renderer, creating a headless one on
// first use when SetDefault was never called.
func Default() *ChromeRenderer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRenderer == nil {
		defaultRenderer = NewChromeRenderer(Config{Headless: true}, arbor.NewLogger())
	}
	return defaultRenderer
}

// SetDefault replaces the process-wide renderer.
func SetDefault(r *ChromeRenderer) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRenderer = r
}

// RenderPNG draws the figure and returns the PNG bytes. A browser that died
// since the last render is replaced and the render retried once.
func (r *ChromeRenderer) RenderPNG(ctx context.Context, figure json.RawMessage, opts interfaces.RenderOptions) ([]byte, error) {
	opts = r.withDefaults(opts)
	script, err := renderScript(r.config.PlotlyURL, figure, opts)
	if err != nil {
		return nil, err
	}

	session, err := r.browser()
	if err != nil {
		return nil, err
	}
	png, err := r.renderTab(ctx, session, script)
	if err != nil && ctx.Err() == nil && session.ctx.Err() != nil {
		r.logger.Warn().Err(err).Msg("Headless chrome exited, restarting")
		r.discard(session)
		if session, err = r.browser(); err != nil {
			return nil, err
		}
		png, err = r.renderTab(ctx, session, script)
	}
	return png, err
}

// renderTab runs script in a fresh tab. Only the tab is bounded by the
// per-image timeout; cancelling it never stops the browser.
func (r *ChromeRenderer) renderTab(ctx context.Context, session *browserSession, script string) ([]byte, error) {
	tabCtx, tabCancel := chromedp.NewContext(session.ctx)
	defer tabCancel()
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, r.config.Timeout)
	defer timeoutCancel()
	// Abandon the tab when the caller gives up
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	started := time.Now()
	var dataURL string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(script, &dataURL, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to render figure: %w", err)
	}

	png, err := decodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Int("bytes", len(png)).
		Str("duration", time.Since(started).String()).
		Msg("Rendered figure to PNG")
	return png, nil
}

// browser returns the running browser, launching one when there is none or
// the cached one has exited.
func (r *ChromeRenderer) browser() (*browserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && r.session.ctx.Err() == nil {
		return r.session, nil
	}
	r.session = nil

	session, err := r.launch()
	if err != nil {
		return nil, err
	}
	r.session = session
	return session, nil
}

// discard forgets session if it is still the cached one.
func (r *ChromeRenderer) discard(session *browserSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == session {
		r.session = nil
	}
	session.cancel()
}

// launchChrome starts the browser process. The first Run must use the browser
// context itself: the process lives as long as the context passed to it, so
// the startup bound is a timer instead of a context deadline.
func (r *ChromeRenderer) launchChrome() (*browserSession, error) {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", r.config.Headless),
		chromedp.Flag("no-sandbox", r.config.NoSandbox),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	cancel := func() {
		browserCancel()
		allocatorCancel()
	}

	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx)
	}()

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()
	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start headless chrome: %w", err)
		}
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("failed to start headless chrome: no response within %s", r.config.Timeout)
	}

	r.logger.Info().
		Bool("headless", r.config.Headless).
		Str("plotly_url", r.config.PlotlyURL).
		Msg("Headless chrome started for image rendering")
	return &browserSession{ctx: browserCtx, cancel: cancel}, nil
}

// Shutdown closes the browser. The next render starts a new one.
func (r *ChromeRenderer) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return
	}
	r.session.cancel()
	r.session = nil
	r.logger.Info().Msg("Headless chrome stopped")
}

// Started reports whether a browser is running
func (r *ChromeRenderer) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil && r.session.ctx.Err() == nil
}

func (r *ChromeRenderer) withDefaults(opts interfaces.RenderOptions) interfaces.RenderOptions {
	if opts.Width <= 0 {
		opts.Width = r.config.Width
	}
	if opts.Height <= 0 {
		opts.Height = r.config.Height
	}
	if opts.Scale <= 0 {
		opts.Scale = r.config.Scale
	}
	return opts
}

const renderTemplate = `(async () => {
  if (!window.Plotly) {
    await new Promise((resolve, reject) => {
      const s = document.createElement('script');
      s.src = %s;
      s.onload = resolve;
      s.onerror = () => reject(new Error('failed to load plotly.js'));
      document.head.appendChild(s);
    });
  }
  const fig = %s;
  const div = document.createElement('div');
  document.body.appendChild(div);
  await Plotly.newPlot(div, fig.data || [], fig.layout || {}, {staticPlot: true});
  return await Plotly.toImage(div, {format: 'png', width: %d, height: %d, scale: %s});
})()`

func renderScript(plotlyURL string, figure json.RawMessage, opts interfaces.RenderOptions) (string, error) {
	if !json.Valid(figure) {
		return "", fmt.Errorf("figure is not valid JSON")
	}
	url, err := json.Marshal(plotlyURL)
	if err != nil {
		return "", err
	}
	scale, err := json.Marshal(opts.Scale)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(renderTemplate, url, figure, opts.Width, opts.Height, scale), nil
}

func decodeDataURL(dataURL string) ([]byte, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		return nil, fmt.Errorf("unexpected image data from plotly")
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}
	return png, nil
}
