package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/bookbridge/internal/bridge"
	"github.com/bookbridge/bookbridge/internal/browser"
	"github.com/bookbridge/bookbridge/internal/clock/system"
	"github.com/bookbridge/bookbridge/internal/config"
	"github.com/bookbridge/bookbridge/internal/logging"
	"github.com/bookbridge/bookbridge/internal/metrics"
	"github.com/bookbridge/bookbridge/internal/platform"
	"github.com/bookbridge/bookbridge/internal/rotation"
	"github.com/bookbridge/bookbridge/internal/session"
	"github.com/bookbridge/bookbridge/internal/store"
)

// app bundles the wired service graph for the commands.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	rotator *rotation.Manager
	pool    *session.Pool
	driver  *browser.PlaywrightDriver
	runs    store.Provider
	service *bridge.Service
}

// buildApp loads config and wires every component.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metrics.Init()
	clk := system.New()

	if len(cfg.Proxy.Accounts) == 0 {
		logger.Warn("no proxy accounts configured, browser launches will fail")
	}
	groups := make([]rotation.Group, 0, len(cfg.Proxy.Accounts))
	for _, acct := range cfg.Proxy.Accounts {
		groups = append(groups, rotation.Group{ID: acct.ID, SourceURL: acct.SourceURL})
	}

	rotator := rotation.NewManager(
		groups,
		rotation.NewCollyFetcher(time.Duration(cfg.Proxy.FetchTimeoutSec)*time.Second),
		rotation.ParseExclusions(cfg.Proxy.Exclusions),
		rotation.Config{
			CacheTTL:       cfg.CacheTTL(),
			UsageThreshold: cfg.Proxy.UsageThreshold,
			ThresholdStep:  cfg.Proxy.ThresholdStep,
		},
		clk,
		logger,
	)

	driver := browser.NewPlaywrightDriver(logger, cfg.Browser.InstallBrowsers,
		time.Duration(cfg.Browser.NavTimeoutSec)*time.Second)

	pool := session.NewPool(driver, rotator, session.Config{
		IdleTimeout: cfg.IdleTimeout(),
		Headless:    cfg.Browser.Headless,
		LaunchArgs:  cfg.Browser.LaunchArgs,
	}, clk, logger)

	var runs store.Provider = store.Noop{}
	if cfg.DB.DSN != "" {
		pg, err := store.Connect(ctx, cfg.DB.DSN, logger)
		if err != nil {
			return nil, err
		}
		runs = pg
	}

	siteCfg := bridge.SiteConfig{
		LoginURL:         cfg.Site.LoginURL,
		ScheduleURL:      cfg.Site.ScheduleURL,
		Username:         cfg.Site.Username,
		Password:         cfg.Site.Password,
		UserSelector:     cfg.Site.UserSelector,
		PasswordSelector: cfg.Site.PasswordSelector,
		SubmitSelector:   cfg.Site.SubmitSelector,
	}

	publisher := platform.NewClient(platform.Config{
		BaseURL:        cfg.Platform.BaseURL,
		APIKey:         cfg.Platform.APIKey,
		Timeout:        time.Duration(cfg.Platform.TimeoutSeconds) * time.Second,
		MaxRetries:     cfg.Platform.MaxRetries,
		BackoffInitial: time.Duration(cfg.Platform.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Platform.BackoffMaxMs) * time.Millisecond,
	}, logger)

	service := bridge.NewService(
		pool,
		bridge.NewFormAuthenticator(siteCfg, logger),
		bridge.NewScheduleExtractor(siteCfg, logger),
		publisher,
		runs,
		clk,
		logger,
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		rotator: rotator,
		pool:    pool,
		driver:  driver,
		runs:    runs,
		service: service,
	}, nil
}

// close tears the graph down in dependency order.
func (a *app) close() {
	a.pool.CloseBrowser()
	if err := a.driver.Stop(); err != nil {
		a.logger.Warn("stopping browser driver", zap.Error(err))
	}
	a.runs.Close()
	_ = a.logger.Sync()
}
