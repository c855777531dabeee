package oauth2

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"dicomweb-oauth/internal/cache"
	"dicomweb-oauth/internal/circuitbreaker"
	"dicomweb-oauth/internal/common/errors"
	commonhttp "dicomweb-oauth/internal/common/http"
	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/config"
	"dicomweb-oauth/internal/crypto"
	"dicomweb-oauth/internal/locks"
	"dicomweb-oauth/internal/metrics"
	"dicomweb-oauth/internal/oauth2/providers"
	"dicomweb-oauth/internal/ratelimit"
	"dicomweb-oauth/internal/redis"
	"dicomweb-oauth/internal/retry"
)

// Manager owns the token lifecycle for a fixed set of servers. It is safe
// for concurrent use; concurrent cold requests for one server share a
// single acquisition.
type Manager struct {
	servers map[string]*serverState
	names   []string

	guard      *crypto.SecretsGuard
	cache      cache.Backend
	locker     locks.Locker
	limiter    ratelimit.Limiter
	breakers   *circuitbreaker.GoBreakerManager
	registry   *providers.Registry
	httpClient *http.Client
	redis      *redis.Client
	sink       metrics.Sink
	logger     logging.Logger
	now        func() time.Time

	flight singleflight.Group

	ownsGuard bool
	ownsCache bool
	closeOnce sync.Once
}

// serverState is everything the manager keeps per server
type serverState struct {
	cred     *ServerCredential
	provider providers.Provider
	breaker  *circuitbreaker.GoBreakerAdapter
	retry    *retry.Policy
	limiter  ratelimit.Limiter
	stats    stats
}

// NewManager validates servers and builds the per-server provider,
// breaker, retry policy and rate limiter. Configuration problems are
// reported here rather than on first use.
func NewManager(servers []config.ServerConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		servers: make(map[string]*serverState, len(servers)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.applyDefaults(); err != nil {
		return nil, err
	}

	m.breakers = circuitbreaker.NewGoBreakerManager(m.logger, func(name string, _, to circuitbreaker.State) {
		m.sink.CircuitStateChanged(name, to)
	})

	for _, sc := range servers {
		sc.ApplyDefaults()
		if err := sc.Validate(); err != nil {
			m.Close()
			return nil, err
		}
		if _, exists := m.servers[sc.Name]; exists {
			m.Close()
			return nil, errors.ConfigError(errors.CodeConfigInvalidValue,
				fmt.Sprintf("server %q is configured more than once", sc.Name))
		}

		st, err := m.buildServer(sc)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.servers[sc.Name] = st
		m.names = append(m.names, sc.Name)
		m.sink.CircuitStateChanged(sc.Name, circuitbreaker.StateClosed)
	}
	sort.Strings(m.names)

	m.logger.Info("Token manager ready",
		logging.Int("servers", len(m.names)),
		logging.Bool("shared_cache", m.cache.Shared()))
	return m, nil
}

func (m *Manager) applyDefaults() error {
	if m.logger == nil {
		m.logger = logging.GetGlobalLogger()
	}
	if m.sink == nil {
		m.sink = metrics.Nop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.registry == nil {
		m.registry = providers.NewRegistry()
	}
	if m.locker == nil {
		m.locker = locks.Nop{}
	}
	if m.guard == nil {
		guard, err := crypto.NewSecretsGuard()
		if err != nil {
			return errors.InternalError("cannot initialise secrets guard", err)
		}
		m.guard = guard
		m.ownsGuard = true
	}
	if m.cache == nil {
		m.cache = cache.NewLocalCache(cache.DefaultConfig().CleanupInterval)
		m.ownsCache = true
	}
	return nil
}

func (m *Manager) buildServer(sc config.ServerConfig) (*serverState, error) {
	cred, err := newServerCredential(sc, m.guard)
	if err != nil {
		return nil, errors.InternalError("cannot protect client secret", err).WithContext("server", sc.Name)
	}

	httpClient := m.httpClient
	if httpClient == nil {
		httpClient = commonhttp.NewHTTPClient(
			commonhttp.WithTimeout(sc.RequestTimeout),
			commonhttp.WithVerifyTLS(sc.TLSVerified()))
	}

	provider, err := providers.Create(m.registry, sc.Provider, providers.Config{
		Server:        sc.Name,
		TokenEndpoint: sc.TokenEndpoint,
		ClientID:      sc.ClientID,
		ClientSecret: func() (string, error) {
			return m.guard.DecryptString(cred.clientSecret)
		},
		Scope:      sc.Scope,
		TenantID:   sc.TenantID,
		Resource:   sc.Resource,
		JWT:        sc.JWT,
		HTTPClient: httpClient,
		Logger:     m.logger,
		Now:        m.now,
	})
	if err != nil {
		return nil, err
	}
	cred.ProviderType = provider.Name()

	policy, err := retry.New(sc.Retry)
	if err != nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalidValue, err.Error()).WithContext("server", sc.Name)
	}
	name := sc.Name
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		m.sink.RetryAttempt(name)
		m.logger.Warn("Token request failed, retrying",
			logging.String("server", name),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.String("code", errors.CodeOf(err)),
			logging.Err(err))
	}

	limiter := m.limiter
	if limiter == nil {
		limiter, err = ratelimit.New(sc.RateLimit, m.redis, m.logger)
		if err != nil {
			return nil, errors.ConfigError(errors.CodeConfigInvalidValue, err.Error()).WithContext("server", sc.Name)
		}
	}

	return &serverState{
		cred:     cred,
		provider: provider,
		breaker:  m.breakers.GetOrCreate(sc.Name, sc.CircuitBreaker),
		retry:    policy,
		limiter:  limiter,
	}, nil
}

// Servers returns the configured server names in sorted order
func (m *Manager) Servers() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Credential returns the credential of server
func (m *Manager) Credential(server string) (*ServerCredential, error) {
	st, err := m.server(server)
	if err != nil {
		return nil, err
	}
	return st.cred, nil
}

func (m *Manager) server(name string) (*serverState, error) {
	st, ok := m.servers[name]
	if !ok {
		return nil, errors.UnknownServerError(name)
	}
	return st, nil
}

// GetToken returns a valid access token for server, acquiring one if the
// cache holds none outside the refresh buffer
func (m *Manager) GetToken(ctx context.Context, server string) (string, error) {
	return m.GetTokenForce(ctx, server, false)
}

// GetTokenForce is GetToken that bypasses the cache when forceRefresh is set
func (m *Manager) GetTokenForce(ctx context.Context, server string, forceRefresh bool) (string, error) {
	tok, err := m.GetTokenDetails(ctx, server, forceRefresh)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// AuthorizationHeader returns "<type> <token>" for server
func (m *Manager) AuthorizationHeader(ctx context.Context, server string) (string, error) {
	tok, err := m.GetTokenDetails(ctx, server, false)
	if err != nil {
		return "", err
	}
	return tok.AuthorizationHeader(), nil
}

// GetTokenDetails returns the token together with its type and lifetime
func (m *Manager) GetTokenDetails(ctx context.Context, server string, forceRefresh bool) (*Token, error) {
	st, err := m.server(server)
	if err != nil {
		return nil, err
	}

	if !forceRefresh {
		if tok, ok := m.cached(ctx, st); ok {
			st.stats.hit()
			m.sink.CacheHit(server)
			return tok, nil
		}
	}
	st.stats.miss()
	m.sink.CacheMiss(server)

	key := server
	if forceRefresh {
		key += ":force"
	}
	ch := m.flight.DoChan(key, func() (interface{}, error) {
		return m.acquire(st, forceRefresh)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	case <-ctx.Done():
		return nil, errors.TokenAcquisitionError(errors.CodeTokenAcquisitionFailed,
			"stopped waiting for token", ctx.Err()).WithContext("server", server)
	}
}

// Invalidate drops the cached token of server
func (m *Manager) Invalidate(ctx context.Context, server string) error {
	if _, err := m.server(server); err != nil {
		return err
	}
	if err := m.cache.Delete(ctx, server); err != nil {
		return errors.InternalError("failed to invalidate cached token", err).WithContext("server", server)
	}
	return nil
}

// cached returns the stored token if it is outside the refresh buffer.
// Cache failures are logged and treated as a miss.
func (m *Manager) cached(ctx context.Context, st *serverState) (*Token, bool) {
	entry, ok := m.cachedEntry(ctx, st)
	if !ok || !entry.fresh(m.now(), st.cred.RefreshBuffer) {
		return nil, false
	}
	tok, err := entry.decrypt(m.guard)
	if err != nil {
		m.logger.Debug("Cached token cannot be decrypted, treating as miss",
			logging.String("server", st.cred.Name),
			logging.Err(err))
		return nil, false
	}
	return tok, true
}

func (m *Manager) cachedEntry(ctx context.Context, st *serverState) (*cachedToken, bool) {
	raw, found, err := m.cache.Get(ctx, st.cred.Name)
	if err != nil {
		m.logger.Warn("Token cache read failed, treating as miss",
			logging.String("server", st.cred.Name),
			logging.Err(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	entry, err := decodeToken(raw)
	if err != nil {
		m.logger.Warn("Discarding unreadable cache entry",
			logging.String("server", st.cred.Name),
			logging.Err(err))
		return nil, false
	}
	return entry, true
}

// acquisitionBudget bounds a whole acquisition: every attempt may use the
// full request timeout and every wait may reach the maximum delay
func acquisitionBudget(sc *ServerCredential, policy *retry.Policy) time.Duration {
	attempts := policy.MaxAttempts()
	budget := time.Duration(attempts) * sc.RequestTimeout
	for i := 0; i < attempts-1; i++ {
		budget += policy.BaseDelay(i)
	}
	return budget + sc.RequestTimeout
}

// acquire runs once per coalesced group. It uses its own context so an
// abandoned caller cannot cancel a request other callers are waiting on.
func (m *Manager) acquire(st *serverState, force bool) (*Token, error) {
	name := st.cred.Name
	ctx, cancel := context.WithTimeout(context.Background(), acquisitionBudget(st.cred, st.retry))
	defer cancel()

	ctx = logging.ContextWithServer(ctx, name)
	ctx = logging.ContextWithAttemptID(ctx, uuid.NewString())
	logger := m.logger.WithContext(ctx)

	if !force {
		if tok, ok := m.cached(ctx, st); ok {
			return tok, nil
		}
	}

	if m.cache.Shared() {
		lock, err := m.locker.Acquire(ctx, name)
		if err != nil {
			logger.Warn("Proceeding without distributed lock", logging.Err(err))
		} else {
			defer func() {
				if err := lock.Release(context.Background()); err != nil {
					logger.Warn("Failed to release distributed lock", logging.Err(err))
				}
			}()
			if !force {
				if tok, ok := m.cached(ctx, st); ok {
					logger.Debug("Token acquired by another instance")
					return tok, nil
				}
			}
		}
	}

	if err := st.limiter.Check(ctx, name); err != nil {
		m.sink.RateLimited(name)
		st.stats.failed(err, m.now())
		logger.Warn("Token acquisition rate limited", logging.Err(err))
		return nil, err
	}

	logger.Info("Acquiring token",
		logging.String("provider", st.provider.Name()),
		logging.String("endpoint", commonhttp.RedactURL(st.cred.TokenEndpoint)))

	start := time.Now()
	var result *providers.TokenResult
	err := st.breaker.Execute(ctx, func(ctx context.Context) error {
		return st.retry.Execute(ctx, func(ctx context.Context, attempt int) error {
			res, err := st.provider.AcquireToken(ctx)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	elapsed := time.Since(start)

	if err == nil {
		if ok, verr := st.provider.ValidateToken(ctx, result.AccessToken); !ok {
			if verr == nil {
				verr = errors.TokenValidationError("token rejected by validator", nil)
			}
			err = verr
		}
	}

	if err != nil {
		if errors.IsType(err, errors.ErrTypeCircuitOpen) {
			m.sink.CircuitRejected(name)
		}
		m.sink.ObserveAcquisition(name, metrics.StatusFailure, elapsed)
		st.stats.failed(err, m.now())
		logger.Error("Token acquisition failed", err,
			logging.String("category", string(errors.GetType(err))),
			logging.String("code", errors.CodeOf(err)),
			logging.Duration("duration", elapsed))
		return nil, err
	}

	issuedAt := m.now()
	tok := &Token{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(result.Lifetime()),
	}

	m.store(ctx, st, tok, logger)
	m.sink.ObserveAcquisition(name, metrics.StatusSuccess, elapsed)
	st.stats.succeeded(elapsed, issuedAt)

	logger.Info("Token acquired",
		logging.String("provider", st.provider.Name()),
		logging.Int("expires_in", result.ExpiresIn),
		logging.Duration("duration", elapsed))
	return tok, nil
}

// store writes tok with a TTL equal to its remaining lifetime. A failed
// write is logged; the caller still gets the token.
func (m *Manager) store(ctx context.Context, st *serverState, tok *Token, logger logging.Logger) {
	ttl := tok.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return
	}
	value, err := encodeToken(tok, m.guard)
	if err != nil {
		logger.Error("Cannot encrypt token for caching", err)
		return
	}
	if err := m.cache.Set(ctx, st.cred.Name, value, ttl); err != nil {
		logger.Warn("Token cache write failed", logging.Err(err))
	}
}

// Close releases resources the manager created itself. Injected caches,
// lockers and redis clients stay open for their owner to close.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		for _, st := range m.servers {
			if closer, ok := st.provider.(io.Closer); ok {
				_ = closer.Close()
			}
		}
		if m.ownsCache && m.cache != nil {
			_ = m.cache.Close()
		}
		if m.ownsGuard && m.guard != nil {
			m.guard.Destroy()
		}
	})
	return nil
}
