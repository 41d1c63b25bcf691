// Package browser abstracts the headless browser behind small interfaces so
// the session pool and the site automation can be tested without a real
// browser process.
package browser

import "context"

// ProxySettings configures an authenticated outbound proxy for a launch.
type ProxySettings struct {
	Server   string
	Username string
	Password string
}

// LaunchOptions controls a single browser launch.
type LaunchOptions struct {
	Headless bool
	Args     []string
	Proxy    *ProxySettings
}

// Driver launches browsers.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	NewContext(ctx context.Context) (Context, error)
	Close() error
}

// Context is an isolated browsing context (cookies, storage) inside a
// browser.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Content(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (any, error)
	Close() error
}
