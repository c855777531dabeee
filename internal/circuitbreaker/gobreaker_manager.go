package circuitbreaker

import (
	"sort"
	"sync"

	"dicomweb-oauth/internal/common/logging"
)

// GoBreakerManager owns one breaker per server name
type GoBreakerManager struct {
	breakers  map[string]*GoBreakerAdapter
	logger    logging.Logger
	listeners []StateListener
	mu        sync.RWMutex
}

// NewGoBreakerManager creates a new manager. Listeners are attached to every
// breaker it creates.
func NewGoBreakerManager(logger logging.Logger, listeners ...StateListener) *GoBreakerManager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &GoBreakerManager{
		breakers:  make(map[string]*GoBreakerAdapter),
		logger:    logger,
		listeners: listeners,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one.
// config is ignored when the breaker already exists.
func (m *GoBreakerManager) GetOrCreate(name string, config Config) *GoBreakerAdapter {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker = NewGoBreaker(name, config, m.logger, m.listeners...)
	m.breakers[name] = breaker
	return breaker
}

// Get retrieves an existing circuit breaker by name
func (m *GoBreakerManager) Get(name string) (*GoBreakerAdapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, exists := m.breakers[name]
	return breaker, exists
}

// AllStats returns statistics for all circuit breakers sorted by name
func (m *GoBreakerManager) AllStats() []Stats {
	m.mu.RLock()
	breakers := make([]*GoBreakerAdapter, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		breakers = append(breakers, breaker)
	}
	m.mu.RUnlock()

	stats := make([]Stats, 0, len(breakers))
	for _, breaker := range breakers {
		stats = append(stats, breaker.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Reset resets all circuit breakers to closed state
func (m *GoBreakerManager) Reset() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, breaker := range m.breakers {
		breaker.Reset()
	}
}

// Remove removes a circuit breaker from the manager
func (m *GoBreakerManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, name)
}

// IsOpen checks if a specific circuit breaker is open
func (m *GoBreakerManager) IsOpen(name string) bool {
	breaker, exists := m.Get(name)
	return exists && breaker.IsOpen()
}
