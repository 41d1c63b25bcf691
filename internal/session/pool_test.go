package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookbridge/bookbridge/internal/browser"
	"github.com/bookbridge/bookbridge/internal/rotation"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSource struct {
	mu     sync.Mutex
	lease  rotation.Lease
	err    error
	leases int
}

func (s *fakeSource) Lease(context.Context) (rotation.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases++
	if s.err != nil {
		return rotation.Lease{}, s.err
	}
	return s.lease, nil
}

type fakeDriver struct {
	mu       sync.Mutex
	launches []browser.LaunchOptions
	err      error

	contextErr error
	pageErr    error
	closeErr   error
}

func (d *fakeDriver) Launch(_ context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.launches = append(d.launches, opts)
	return &fakeBrowser{driver: d}, nil
}

func (d *fakeDriver) launchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.launches)
}

type fakeBrowser struct {
	driver *fakeDriver
	closed bool
}

func (b *fakeBrowser) NewContext(context.Context) (browser.Context, error) {
	if b.driver.contextErr != nil {
		return nil, b.driver.contextErr
	}
	return &fakeContext{driver: b.driver}, nil
}

func (b *fakeBrowser) Close() error {
	b.closed = true
	return b.driver.closeErr
}

type fakeContext struct {
	driver *fakeDriver
	closed bool
}

func (c *fakeContext) NewPage(context.Context) (browser.Page, error) {
	if c.driver.pageErr != nil {
		return nil, c.driver.pageErr
	}
	return &fakePage{driver: c.driver}, nil
}

func (c *fakeContext) Close() error {
	c.closed = true
	return c.driver.closeErr
}

type fakePage struct {
	driver *fakeDriver
	closed bool
}

func (p *fakePage) Navigate(context.Context, string) error      { return nil }
func (p *fakePage) Fill(context.Context, string, string) error  { return nil }
func (p *fakePage) Click(context.Context, string) error         { return nil }
func (p *fakePage) Content(context.Context) (string, error)     { return "", nil }
func (p *fakePage) Evaluate(context.Context, string) (any, error) { return nil, nil }

func (p *fakePage) Close() error {
	p.closed = true
	return p.driver.closeErr
}

func newTestPool(cfg Config, driver *fakeDriver, source *fakeSource, clk *fakeClock) *Pool {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return NewPool(driver, source, cfg, clk, zap.NewNop())
}

func TestStalenessBoundary(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{}
	source := &fakeSource{lease: rotation.Lease{Server: "p1.example.com:1000"}}
	pool := newTestPool(Config{IdleTimeout: 5 * time.Minute}, driver, source, clk)

	_, err := pool.AcquireBrowser(context.Background(), false)
	require.NoError(t, err)
	pool.Release()

	clk.Advance(5 * time.Minute)
	assert.False(t, pool.Stale(), "idle exactly the timeout is still fresh")

	clk.Advance(time.Nanosecond)
	assert.True(t, pool.Stale(), "idle past the timeout is stale")
}

func TestAcquireContextReusesAuthenticatedSession(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{}
	source := &fakeSource{lease: rotation.Lease{Server: "p1.example.com:1000"}}
	pool := newTestPool(Config{}, driver, source, clk)

	first, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, first.Authenticated)
	pool.MarkAuthenticated()
	pool.Release()

	clk.Advance(time.Minute)
	second, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, second.Authenticated, "fresh reuse keeps the logged-in session")
	assert.Same(t, first.Context, second.Context)
	assert.Same(t, first.Page, second.Page)
	assert.Equal(t, 1, driver.launchCount())
}

func TestAcquireContextStaleTearsDownAndRelaunches(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{}
	source := &fakeSource{lease: rotation.Lease{Server: "p1.example.com:1000"}}
	pool := newTestPool(Config{IdleTimeout: 5 * time.Minute}, driver, source, clk)

	first, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)
	pool.MarkAuthenticated()
	pool.Release()

	clk.Advance(6 * time.Minute)
	second, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)

	assert.False(t, second.Authenticated, "a fresh session starts logged out")
	assert.NotSame(t, first.Context, second.Context)
	assert.Equal(t, 2, driver.launchCount())
	assert.True(t, first.Context.(*fakeContext).closed)
	assert.True(t, first.Browser.(*fakeBrowser).closed)
}

func TestCloseBrowserSwallowsDriverErrors(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{closeErr: errors.New("target crashed")}
	source := &fakeSource{lease: rotation.Lease{Server: "p1.example.com:1000"}}
	pool := newTestPool(Config{}, driver, source, clk)

	_, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)
	pool.MarkAuthenticated()

	pool.CloseBrowser()

	assert.Empty(t, pool.ProxyServer())
	assert.False(t, pool.Stale())

	// The pool is immediately usable again.
	next, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, next.Authenticated)
	assert.Equal(t, 2, driver.launchCount())
}

func TestCloseIsIdempotent(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{}
	source := &fakeSource{lease: rotation.Lease{Server: "p1.example.com:1000"}}
	pool := newTestPool(Config{}, driver, source, clk)

	pool.CloseContext()
	pool.CloseBrowser()

	_, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)
	pool.CloseBrowser()
	pool.CloseBrowser()
	assert.Empty(t, pool.ProxyServer())
}

func TestAcquireContextPageFailureLeavesNoPartialState(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{pageErr: errors.New("page refused")}
	source := &fakeSource{lease: rotation.Lease{Server: "p1.example.com:1000"}}
	pool := newTestPool(Config{}, driver, source, clk)

	_, err := pool.AcquireContext(context.Background(), false)
	require.Error(t, err)

	// The browser survives, released back to the pool, with no context/page
	// pair recorded.
	driver.pageErr = nil
	checkout, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, checkout.Authenticated)
	assert.Equal(t, 1, driver.launchCount(), "the healthy browser is reused")
}

func TestAcquireBrowserLeaseFailurePropagates(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{}
	source := &fakeSource{err: rotation.ErrNoEndpoints}
	pool := newTestPool(Config{}, driver, source, clk)

	_, err := pool.AcquireBrowser(context.Background(), false)
	require.ErrorIs(t, err, rotation.ErrNoEndpoints)
	assert.Zero(t, driver.launchCount())
	assert.Empty(t, pool.ProxyServer())
}

func TestLaunchCarriesLeaseAndDebugOverridesHeadless(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{}
	source := &fakeSource{lease: rotation.Lease{
		Server:   "p1.example.com:1000",
		Username: "alice",
		Password: "s3cret",
	}}
	pool := newTestPool(Config{Headless: true, LaunchArgs: []string{"--lang=en-US"}}, driver, source, clk)

	_, err := pool.AcquireBrowser(context.Background(), true)
	require.NoError(t, err)

	require.Equal(t, 1, driver.launchCount())
	opts := driver.launches[0]
	assert.False(t, opts.Headless, "debug launches headed")
	assert.Equal(t, []string{"--lang=en-US"}, opts.Args)
	require.NotNil(t, opts.Proxy)
	assert.Equal(t, "p1.example.com:1000", opts.Proxy.Server)
	assert.Equal(t, "alice", opts.Proxy.Username)
	assert.Equal(t, "p1.example.com:1000", pool.ProxyServer())
}

func TestIdleSweepClosesStaleSession(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{}
	source := &fakeSource{lease: rotation.Lease{Server: "p1.example.com:1000"}}
	pool := newTestPool(Config{IdleTimeout: 20 * time.Millisecond}, driver, source, clk)

	checkout, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)
	pool.Release()

	// The timer runs on real time; move the injected clock past the timeout
	// so the sweep sees a stale session when it fires.
	clk.Advance(21 * time.Millisecond)

	require.Eventually(t, func() bool {
		return checkout.Browser.(*fakeBrowser).closed
	}, time.Second, 5*time.Millisecond, "idle sweep must close the stale browser")
	assert.Empty(t, pool.ProxyServer())
}

func TestIdleSweepSkipsReacquiredSession(t *testing.T) {
	clk := newFakeClock()
	driver := &fakeDriver{}
	source := &fakeSource{lease: rotation.Lease{Server: "p1.example.com:1000"}}
	pool := newTestPool(Config{IdleTimeout: 20 * time.Millisecond}, driver, source, clk)

	checkout, err := pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)
	pool.Release()

	// Re-acquire before the timer fires; the sweep must leave the live
	// session alone.
	_, err = pool.AcquireContext(context.Background(), false)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, checkout.Browser.(*fakeBrowser).closed)
	assert.Equal(t, 1, driver.launchCount())
}
