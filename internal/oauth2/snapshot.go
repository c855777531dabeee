package oauth2

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"dicomweb-oauth/internal/circuitbreaker"
	"dicomweb-oauth/internal/common/errors"
)

// stats are the per-server counters behind Snapshot
type stats struct {
	mu sync.Mutex

	hits         int64
	misses       int64
	acquisitions int64
	failures     int64

	lastDuration   time.Duration
	lastAcquiredAt time.Time

	lastErrorCategory errors.ErrorType
	lastErrorCode     string
	lastErrorAt       time.Time
}

func (s *stats) hit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *stats) miss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

func (s *stats) succeeded(d time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquisitions++
	s.lastDuration = d
	s.lastAcquiredAt = at
}

func (s *stats) failed(err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastErrorCategory = errors.GetType(err)
	s.lastErrorCode = errors.CodeOf(err)
	s.lastErrorAt = at
}

// Snapshot is a point-in-time view of one server, safe to print or serialise.
// It never contains token or secret material.
type Snapshot struct {
	Server   string `json:"server"`
	Provider string `json:"provider"`

	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	Acquisitions int64 `json:"acquisitions"`
	Failures     int64 `json:"failures"`

	Circuit circuitbreaker.Stats `json:"circuit"`

	LastAcquisitionDuration time.Duration `json:"last_acquisition_duration"`
	LastAcquiredAt          time.Time     `json:"last_acquired_at,omitempty"`

	LastErrorCategory errors.ErrorType `json:"last_error_category,omitempty"`
	LastErrorCode     string           `json:"last_error_code,omitempty"`
	LastErrorAt       time.Time        `json:"last_error_at,omitempty"`

	TokenCached    bool      `json:"token_cached"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`
}

// Snapshot reports counters, breaker state and cache status for server
func (m *Manager) Snapshot(ctx context.Context, server string) (Snapshot, error) {
	st, err := m.server(server)
	if err != nil {
		return Snapshot{}, err
	}

	st.stats.mu.Lock()
	snap := Snapshot{
		Server:                  server,
		Provider:                st.provider.Name(),
		CacheHits:               st.stats.hits,
		CacheMisses:             st.stats.misses,
		Acquisitions:            st.stats.acquisitions,
		Failures:                st.stats.failures,
		LastAcquisitionDuration: st.stats.lastDuration,
		LastAcquiredAt:          st.stats.lastAcquiredAt,
		LastErrorCategory:       st.stats.lastErrorCategory,
		LastErrorCode:           st.stats.lastErrorCode,
		LastErrorAt:             st.stats.lastErrorAt,
	}
	st.stats.mu.Unlock()

	snap.Circuit = st.breaker.Stats()
	if entry, ok := m.cachedEntry(ctx, st); ok && m.now().Before(entry.ExpiresAt) {
		snap.TokenCached = true
		snap.TokenExpiresAt = entry.ExpiresAt
	}
	return snap, nil
}

// Snapshots returns a Snapshot for every server in name order
func (m *Manager) Snapshots(ctx context.Context) []Snapshot {
	out := make([]Snapshot, 0, len(m.names))
	for _, name := range m.names {
		snap, err := m.Snapshot(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// TestConnectivity forces a fresh acquisition for server and reports
// whether it succeeded and how long it took
func (m *Manager) TestConnectivity(ctx context.Context, server string) (bool, time.Duration, error) {
	start := time.Now()
	_, err := m.GetTokenDetails(ctx, server, true)
	return err == nil, time.Since(start), err
}

// ServerForURL returns the server whose configured URL is the longest
// prefix of rawURL. Scheme and host must match exactly (host ignoring
// case) and the path prefix must end on a segment boundary.
func (m *Manager) ServerForURL(rawURL string) (string, bool) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	best, bestLen := "", -1
	for _, name := range m.names {
		base, err := url.Parse(m.servers[name].cred.URL)
		if err != nil || base.Host == "" {
			continue
		}
		if !strings.EqualFold(base.Scheme, target.Scheme) || !strings.EqualFold(base.Host, target.Host) {
			continue
		}
		prefix := strings.TrimSuffix(base.Path, "/")
		if !pathHasPrefix(target.Path, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = name, len(prefix)
		}
	}
	return best, bestLen >= 0
}

func pathHasPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
