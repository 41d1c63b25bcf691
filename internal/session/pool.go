// Package session owns the shared browser session: one browser process and
// one browsing-context/page pair at a time, reused across operations while
// fresh and torn down after sitting idle.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/bookbridge/internal/browser"
	"github.com/bookbridge/bookbridge/internal/clock"
	"github.com/bookbridge/bookbridge/internal/metrics"
	"github.com/bookbridge/bookbridge/internal/rotation"
)

// EndpointSource hands out the proxy lease for each browser launch.
type EndpointSource interface {
	Lease(ctx context.Context) (rotation.Lease, error)
}

// Config controls pool behavior.
type Config struct {
	// IdleTimeout is how long a released session may sit unused before it is
	// considered stale.
	IdleTimeout time.Duration
	// Headless is the default launch mode; a debug acquisition overrides it
	// to headed.
	Headless bool
	// LaunchArgs are extra Chromium flags for every launch.
	LaunchArgs []string
}

// Checkout is a live session handed to one operation at a time.
type Checkout struct {
	Browser       browser.Browser
	Context       browser.Context
	Page          browser.Page
	Authenticated bool
}

// Pool manages the single shared browser session. All state transitions hold
// the pool mutex, so concurrent callers serialize; the launch itself happens
// under the lock because exactly one site is driven at a time anyway.
type Pool struct {
	driver browser.Driver
	source EndpointSource
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	mu            sync.Mutex
	browser       browser.Browser
	bctx          browser.Context
	page          browser.Page
	authenticated bool
	inUse         bool
	lastUsed      time.Time
	idleTimer     *time.Timer
	leaseServer   string
}

// NewPool builds a Pool. The idle timeout defaults to five minutes.
func NewPool(driver browser.Driver, source EndpointSource, cfg Config, clk clock.Clock, logger *zap.Logger) *Pool {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Pool{
		driver: driver,
		source: source,
		cfg:    cfg,
		clock:  clk,
		logger: logger.Named("session"),
	}
}

// AcquireBrowser returns the pooled browser, launching a fresh one when none
// is live or the current one has gone stale. The caller owns the session
// until Release. With debug set the launch is headed regardless of config.
func (p *Pool) AcquireBrowser(ctx context.Context, debug bool) (browser.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireBrowserLocked(ctx, debug)
}

func (p *Pool) acquireBrowserLocked(ctx context.Context, debug bool) (browser.Browser, error) {
	if p.browser != nil {
		if !p.staleLocked() {
			p.checkoutLocked()
			return p.browser, nil
		}
		p.logger.Info("browser stale, relaunching",
			zap.Duration("idle", p.clock.Now().Sub(p.lastUsed)))
		p.closeBrowserLocked()
	}

	lease, err := p.source.Lease(ctx)
	if err != nil {
		return nil, fmt.Errorf("lease proxy endpoint: %w", err)
	}

	b, err := p.driver.Launch(ctx, browser.LaunchOptions{
		Headless: p.cfg.Headless && !debug,
		Args:     p.cfg.LaunchArgs,
		Proxy: &browser.ProxySettings{
			Server:   lease.Server,
			Username: lease.Username,
			Password: lease.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	p.browser = b
	p.leaseServer = lease.Server
	p.checkoutLocked()
	p.logger.Info("browser launched",
		zap.String("proxy", lease.Server),
		zap.String("group", lease.GroupID),
	)
	return b, nil
}

// AcquireContext returns the pooled context/page pair, creating it (and the
// browser beneath it, if needed) on first use or after staleness teardown. A
// reused pair keeps its authenticated flag so callers can skip login.
func (p *Pool) AcquireContext(ctx context.Context, debug bool) (Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bctx != nil {
		if !p.staleLocked() {
			p.checkoutLocked()
			metrics.ObserveContextCheckout("reused")
			return p.checkout(), nil
		}
		p.logger.Info("context stale, discarding session")
		p.closeBrowserLocked()
	}

	b, err := p.acquireBrowserLocked(ctx, debug)
	if err != nil {
		metrics.ObserveContextCheckout("error")
		return Checkout{}, err
	}

	bctx, err := b.NewContext(ctx)
	if err != nil {
		p.releaseLocked()
		metrics.ObserveContextCheckout("error")
		return Checkout{}, fmt.Errorf("create browsing context: %w", err)
	}

	page, err := bctx.NewPage(ctx)
	if err != nil {
		// Leave no half-built pair behind.
		if cerr := bctx.Close(); cerr != nil {
			p.logger.Warn("closing context after page failure", zap.Error(cerr))
		}
		p.releaseLocked()
		metrics.ObserveContextCheckout("error")
		return Checkout{}, fmt.Errorf("create page: %w", err)
	}

	p.bctx = bctx
	p.page = page
	p.authenticated = false
	metrics.ObserveContextCheckout("created")
	return p.checkout(), nil
}

// MarkAuthenticated records that the current context holds a logged-in
// session. No-op when no context is live.
func (p *Pool) MarkAuthenticated() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bctx == nil {
		return
	}
	p.authenticated = true
}

// Release returns the session to the pool and schedules the idle check. The
// session stays warm for the next caller until the idle timeout passes.
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
}

func (p *Pool) releaseLocked() {
	p.inUse = false
	p.lastUsed = p.clock.Now()

	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleTimer = time.AfterFunc(p.cfg.IdleTimeout, p.idleSweep)
}

// idleSweep runs when the idle timer fires. The session may have been
// re-acquired or refreshed since the timer was armed, so both are re-checked
// under the lock.
func (p *Pool) idleSweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse || p.browser == nil || !p.staleLocked() {
		return
	}
	p.logger.Info("closing idle browser session",
		zap.Duration("idle", p.clock.Now().Sub(p.lastUsed)))
	p.closeBrowserLocked()
}

// Stale reports whether the session has sat unused past the idle timeout.
func (p *Pool) Stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.browser != nil && p.staleLocked()
}

// staleLocked: a session in use is never stale, and a never-released session
// has no idle clock running against it.
func (p *Pool) staleLocked() bool {
	if p.inUse || p.lastUsed.IsZero() {
		return false
	}
	return p.clock.Now().Sub(p.lastUsed) > p.cfg.IdleTimeout
}

func (p *Pool) checkoutLocked() {
	p.inUse = true
	p.lastUsed = p.clock.Now()
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
}

func (p *Pool) checkout() Checkout {
	return Checkout{
		Browser:       p.browser,
		Context:       p.bctx,
		Page:          p.page,
		Authenticated: p.authenticated,
	}
}

// ProxyServer reports the endpoint the live browser was launched through, or
// empty when none is live.
func (p *Pool) ProxyServer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return ""
	}
	return p.leaseServer
}

// CloseContext tears down the context/page pair, keeping the browser. Safe
// to call at any time, including when nothing is live.
func (p *Pool) CloseContext() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeContextLocked()
}

// CloseBrowser tears down the whole session. Safe to call at any time.
func (p *Pool) CloseBrowser() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeBrowserLocked()
}

// closeContextLocked closes page then context, swallowing driver errors with
// a warning. The pair may already be dead (browser crash, network drop) and
// teardown must still leave clean state.
func (p *Pool) closeContextLocked() {
	if p.page != nil {
		if err := p.page.Close(); err != nil {
			p.logger.Warn("closing page", zap.Error(err))
		}
	}
	if p.bctx != nil {
		if err := p.bctx.Close(); err != nil {
			p.logger.Warn("closing context", zap.Error(err))
		}
	}
	p.page = nil
	p.bctx = nil
	p.authenticated = false
}

func (p *Pool) closeBrowserLocked() {
	p.closeContextLocked()
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			p.logger.Warn("closing browser", zap.Error(err))
		}
	}
	p.browser = nil
	p.leaseServer = ""
	p.inUse = false
	p.lastUsed = time.Time{}
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
}
