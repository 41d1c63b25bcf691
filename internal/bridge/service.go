package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookbridge/bookbridge/internal/clock"
	"github.com/bookbridge/bookbridge/internal/metrics"
	"github.com/bookbridge/bookbridge/internal/session"
	"github.com/bookbridge/bookbridge/internal/store"
)

// Authenticator logs the page into the booking site.
type Authenticator interface {
	Login(ctx context.Context, checkout session.Checkout) error
}

// Extractor scrapes reservations from the authenticated page.
type Extractor interface {
	Extract(ctx context.Context, checkout session.Checkout) ([]Reservation, error)
}

// Publisher delivers reservations downstream.
type Publisher interface {
	PushReservations(ctx context.Context, reservations []Reservation) error
}

// SessionPool is the slice of the session pool the service needs.
type SessionPool interface {
	AcquireContext(ctx context.Context, debug bool) (session.Checkout, error)
	MarkAuthenticated()
	Release()
	ProxyServer() string
}

// Service runs syncs end to end.
type Service struct {
	pool      SessionPool
	auth      Authenticator
	extractor Extractor
	publisher Publisher
	runs      store.Provider
	clock     clock.Clock
	logger    *zap.Logger

	mu         sync.Mutex
	lastDigest string
}

// NewService wires a Service.
func NewService(pool SessionPool, auth Authenticator, extractor Extractor, publisher Publisher, runs store.Provider, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		pool:      pool,
		auth:      auth,
		extractor: extractor,
		publisher: publisher,
		runs:      runs,
		clock:     clk,
		logger:    logger.Named("bridge"),
	}
}

// Run performs one sync: acquire the session, log in unless the reused
// session already is, extract, push, record. The session is released back to
// the pool in every outcome so the idle teardown clock starts.
func (s *Service) Run(ctx context.Context, debug bool) (store.Run, error) {
	// Runs serialize: one browser session drives one site.
	s.mu.Lock()
	defer s.mu.Unlock()

	run := store.Run{
		ID:        uuid.New(),
		StartedAt: s.clock.Now(),
	}
	logger := s.logger.With(zap.String("run_id", run.ID.String()))

	count, err := s.sync(ctx, debug, logger)
	run.FinishedAt = s.clock.Now()
	run.Reservations = count
	run.ProxyServer = s.pool.ProxyServer()

	if err != nil {
		run.Status = store.StatusFailed
		run.Error = err.Error()
		metrics.ObserveSyncRun("failed")
		logger.Error("sync failed", zap.Error(err))
	} else {
		run.Status = store.StatusSucceeded
		metrics.ObserveSyncRun("succeeded")
		logger.Info("sync finished",
			zap.Int("reservations", count),
			zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)),
		)
	}

	if saveErr := s.runs.SaveRun(ctx, run); saveErr != nil {
		logger.Warn("recording run", zap.Error(saveErr))
	}
	return run, err
}

func (s *Service) sync(ctx context.Context, debug bool, logger *zap.Logger) (int, error) {
	checkout, err := s.pool.AcquireContext(ctx, debug)
	if err != nil {
		return 0, fmt.Errorf("acquire browser session: %w", err)
	}
	defer s.pool.Release()

	if !checkout.Authenticated {
		start := s.clock.Now()
		if err := s.auth.Login(ctx, checkout); err != nil {
			return 0, fmt.Errorf("log in to booking site: %w", err)
		}
		s.pool.MarkAuthenticated()
		logger.Debug("logged in", zap.Duration("took", s.clock.Now().Sub(start)))
	} else {
		logger.Debug("reusing authenticated session")
	}

	reservations, err := s.extractor.Extract(ctx, checkout)
	if err != nil {
		return 0, fmt.Errorf("extract reservations: %w", err)
	}
	if len(reservations) == 0 {
		logger.Info("no reservations on the schedule")
		return 0, nil
	}

	digest := batchDigest(reservations)
	if digest != "" && digest == s.lastDigest {
		logger.Info("schedule unchanged since last push, skipping",
			zap.Int("reservations", len(reservations)))
		return len(reservations), nil
	}

	if err := s.publisher.PushReservations(ctx, reservations); err != nil {
		return 0, fmt.Errorf("push reservations: %w", err)
	}
	s.lastDigest = digest
	return len(reservations), nil
}

// batchDigest fingerprints a reservation batch so identical schedules are
// pushed downstream only once.
func batchDigest(reservations []Reservation) string {
	encoded, err := json.Marshal(reservations)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
