// Package rotation selects outbound proxy endpoints for browser launches.
// It balances per-endpoint usage across credential groups, honors an
// exclusion list, avoids immediate repetition, and refreshes cached endpoint
// lists on a TTL.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bookbridge/bookbridge/internal/clock"
	"github.com/bookbridge/bookbridge/internal/metrics"
)

var (
	// ErrNoEndpoints means the exclusion-filtered union of all groups'
	// endpoints is empty. Fatal to the calling operation, never retried here.
	ErrNoEndpoints = errors.New("no proxy endpoints available")

	// ErrNoCredentials means the rotated-to group's list held no well-formed
	// line to take credentials from.
	ErrNoCredentials = errors.New("no credentials for proxy group")
)

// Lease is one endpoint selection handed to a caller. Credentials belong to
// the rotated-to group; the endpoint is drawn from the global deduplicated
// pool and is not necessarily in that group's own list. That mismatch is
// long-standing observed behavior and is preserved deliberately.
type Lease struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
	GroupID  string `json:"group_id"`
}

// Config controls rotation behavior.
type Config struct {
	// CacheTTL bounds the age of cached endpoint lists.
	CacheTTL time.Duration
	// UsageThreshold is the initial per-endpoint selection cap.
	UsageThreshold int
	// ThresholdStep is added to the cap whenever no endpoint is under it.
	ThresholdStep int
}

// Manager is the process-wide endpoint rotation singleton.
type Manager struct {
	groups     []Group
	fetcher    ListFetcher
	exclusions ExclusionSet
	cfg        Config
	clock      clock.Clock
	logger     *zap.Logger

	mu        sync.Mutex
	lists     []List // parallel to groups
	cachedAt  time.Time
	usage     map[string]int // selections per "host:port" since process start
	threshold int
	lastGroup int // index into groups; -1 before the first lease
	lastUsed  string
}

// NewManager builds a Manager over the ordered credential groups discovered
// at startup.
func NewManager(groups []Group, fetcher ListFetcher, exclusions ExclusionSet, cfg Config, clk clock.Clock, logger *zap.Logger) *Manager {
	if cfg.UsageThreshold <= 0 {
		cfg.UsageThreshold = 10
	}
	if cfg.ThresholdStep <= 0 {
		cfg.ThresholdStep = 10
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Manager{
		groups:     groups,
		fetcher:    fetcher,
		exclusions: exclusions,
		cfg:        cfg,
		clock:      clk,
		logger:     logger.Named("rotation"),
		lists:      make([]List, len(groups)),
		usage:      make(map[string]int),
		threshold:  cfg.UsageThreshold,
		lastGroup:  -1,
	}
}

// Lease returns the next endpoint to launch against, paired with the
// credentials of the rotated-to group.
func (m *Manager) Lease(ctx context.Context) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureFreshLocked(ctx); err != nil {
		return Lease{}, err
	}

	eligible := m.eligibleLocked()
	if len(eligible) == 0 {
		return Lease{}, ErrNoEndpoints
	}

	groupIdx := (m.lastGroup + 1) % len(m.groups)
	list := m.lists[groupIdx]
	if !list.HasCredentials {
		return Lease{}, fmt.Errorf("%w: %s", ErrNoCredentials, m.groups[groupIdx].ID)
	}

	candidates := m.underThresholdLocked(eligible)

	// Best-effort anti-repetition; pointless when only one endpoint exists.
	if len(candidates) > 1 && m.lastUsed != "" {
		trimmed := candidates[:0]
		for _, e := range candidates {
			if e.Server() != m.lastUsed {
				trimmed = append(trimmed, e)
			}
		}
		if len(trimmed) > 0 {
			candidates = trimmed
		}
	}

	picked := candidates[rand.IntN(len(candidates))]
	server := picked.Server()

	m.usage[server]++
	m.lastUsed = server
	m.lastGroup = groupIdx

	metrics.ObserveEndpointSelection(m.groups[groupIdx].ID)
	m.logger.Debug("endpoint leased",
		zap.String("server", server),
		zap.String("group", m.groups[groupIdx].ID),
		zap.Int("use_count", m.usage[server]),
	)

	return Lease{
		Server:   server,
		Username: list.Credentials.Username,
		Password: list.Credentials.Password,
		GroupID:  m.groups[groupIdx].ID,
	}, nil
}

// ensureFreshLocked refreshes the cached lists when they are empty or older
// than the cache TTL. A failed refresh is tolerated with a warning when any
// group already has cached data; otherwise it propagates.
func (m *Manager) ensureFreshLocked(ctx context.Context) error {
	if m.hasCachedLocked() && m.clock.Now().Sub(m.cachedAt) <= m.cfg.CacheTTL {
		return nil
	}

	fresh := make([]List, len(m.groups))
	g, fetchCtx := errgroup.WithContext(ctx)
	for i, group := range m.groups {
		g.Go(func() error {
			data, err := m.fetcher.Fetch(fetchCtx, group.SourceURL)
			if err != nil {
				return fmt.Errorf("fetch endpoint list for %s: %w", group.ID, err)
			}
			fresh[i] = ParseEndpointList(data)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if m.hasCachedLocked() {
			metrics.ObserveListRefresh("stale_reused")
			m.logger.Warn("endpoint list refresh failed, reusing stale cache", zap.Error(err))
			return nil
		}
		metrics.ObserveListRefresh("failed")
		return err
	}

	m.lists = fresh
	m.cachedAt = m.clock.Now()
	metrics.ObserveListRefresh("ok")
	return nil
}

func (m *Manager) hasCachedLocked() bool {
	for _, list := range m.lists {
		if len(list.Endpoints) > 0 {
			return true
		}
	}
	return false
}

// eligibleLocked computes the deduplicated, exclusion-filtered union of all
// groups' endpoints, in discovery order.
func (m *Manager) eligibleLocked() []Endpoint {
	seen := make(map[string]struct{})
	var union []Endpoint
	for _, list := range m.lists {
		for _, e := range list.Endpoints {
			server := e.Server()
			if _, dup := seen[server]; dup {
				continue
			}
			seen[server] = struct{}{}
			if m.exclusions.Excluded(e) {
				continue
			}
			union = append(union, e)
		}
	}
	return union
}

// underThresholdLocked restricts the eligible set to endpoints used fewer
// times than the current threshold, escalating the threshold until at least
// one qualifies. The threshold never resets for the process lifetime.
func (m *Manager) underThresholdLocked(eligible []Endpoint) []Endpoint {
	for {
		var candidates []Endpoint
		for _, e := range eligible {
			if m.usage[e.Server()] < m.threshold {
				candidates = append(candidates, e)
			}
		}
		if len(candidates) > 0 {
			return candidates
		}
		m.threshold += m.cfg.ThresholdStep
		metrics.ObserveThresholdEscalation()
		m.logger.Info("usage threshold escalated", zap.Int("threshold", m.threshold))
	}
}

// UsageCount reports how many times the given "host:port" has been selected
// since process start.
func (m *Manager) UsageCount(server string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[server]
}
