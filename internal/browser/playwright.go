package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/bookbridge/bookbridge/internal/metrics"
)

const installTimeout = 5 * time.Minute

// PlaywrightDriver launches Chromium through the Playwright driver process.
// The driver process is started lazily on the first Launch and shared by all
// subsequent launches.
type PlaywrightDriver struct {
	logger          *zap.Logger
	installBrowsers bool
	navTimeout      time.Duration

	once    sync.Once
	pw      *playwright.Playwright
	initErr error
}

// NewPlaywrightDriver builds a driver. When installBrowsers is set, the first
// launch runs the Playwright chromium installation before starting.
func NewPlaywrightDriver(logger *zap.Logger, installBrowsers bool, navTimeout time.Duration) *PlaywrightDriver {
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	return &PlaywrightDriver{
		logger:          logger.Named("browser"),
		installBrowsers: installBrowsers,
		navTimeout:      navTimeout,
	}
}

func (d *PlaywrightDriver) start(ctx context.Context) error {
	d.once.Do(func() {
		if d.installBrowsers {
			if err := installChromium(ctx); err != nil {
				d.initErr = err
				return
			}
		}
		pw, err := playwright.Run()
		if err != nil {
			d.initErr = fmt.Errorf("start playwright driver: %w", err)
			return
		}
		d.pw = pw
		d.logger.Info("playwright driver started")
	})
	return d.initErr
}

// installChromium runs the blocking Playwright install in a goroutine so a
// cancelled context can abandon the wait.
func installChromium(ctx context.Context) error {
	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("install playwright browsers: %w", err)
		}
		return nil
	case <-installCtx.Done():
		return fmt.Errorf("waiting for playwright installation: %w", installCtx.Err())
	}
}

// Launch starts a Chromium process with the given options.
func (d *PlaywrightDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := d.start(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := d.pw.Chromium.Launch(buildLaunchOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	metrics.ObserveBrowserLaunch()
	d.logger.Debug("browser launched",
		zap.Bool("headless", opts.Headless),
		zap.String("proxy", proxyServerURL(opts.Proxy)),
	)
	return &pwBrowser{b: b, navTimeout: d.navTimeout}, nil
}

// Stop shuts down the shared driver process. Launched browsers should be
// closed first.
func (d *PlaywrightDriver) Stop() error {
	if d.pw == nil {
		return nil
	}
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("stop playwright driver: %w", err)
	}
	return nil
}

func buildLaunchOptions(opts LaunchOptions) playwright.BrowserTypeLaunchOptions {
	args := append([]string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
	}, opts.Args...)

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     args,
		Timeout:  playwright.Float(60000),
	}
	if opts.Proxy != nil {
		launch.Proxy = &playwright.Proxy{
			Server:   proxyServerURL(opts.Proxy),
			Username: playwright.String(opts.Proxy.Username),
			Password: playwright.String(opts.Proxy.Password),
		}
	}
	return launch
}

// proxyServerURL normalizes a bare "host:port" to the scheme-qualified form
// Chromium expects.
func proxyServerURL(p *ProxySettings) string {
	if p == nil {
		return ""
	}
	if strings.Contains(p.Server, "://") {
		return p.Server
	}
	return "http://" + p.Server
}

type pwBrowser struct {
	b          playwright.Browser
	navTimeout time.Duration
}

func (b *pwBrowser) NewContext(ctx context.Context) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := b.b.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	return &pwContext{ctx: bctx, navTimeout: b.navTimeout}, nil
}

func (b *pwBrowser) Close() error {
	return b.b.Close()
}

type pwContext struct {
	ctx        playwright.BrowserContext
	navTimeout time.Duration
}

func (c *pwContext) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := c.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &pwPage{page: page, navTimeout: c.navTimeout}, nil
}

func (c *pwContext) Close() error {
	return c.ctx.Close()
}

type pwPage struct {
	page       playwright.Page
	navTimeout time.Duration
}

func (p *pwPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(p.navTimeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *pwPage) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Fill(selector, value, playwright.PageFillOptions{
		Timeout: playwright.Float(float64(p.navTimeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Click(selector, playwright.PageClickOptions{
		Timeout: playwright.Float(float64(p.navTimeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (p *pwPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("page content: %w", err)
	}
	return content, nil
}

func (p *pwPage) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := p.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate script: %w", err)
	}
	return result, nil
}

func (p *pwPage) Close() error {
	return p.page.Close()
}
