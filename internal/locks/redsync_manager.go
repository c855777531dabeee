package locks

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"dicomweb-oauth/internal/common/errors"
	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/redis"
)

// Defaults sized around the 30s token request timeout
const (
	DefaultExpiry     = 45 * time.Second
	DefaultTries      = 120
	DefaultRetryDelay = 250 * time.Millisecond
)

// Config tunes the redsync mutexes
type Config struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultConfig lets a waiter block for roughly one full acquisition
func DefaultConfig() Config {
	return Config{
		Expiry:     DefaultExpiry,
		Tries:      DefaultTries,
		RetryDelay: DefaultRetryDelay,
	}
}

// RedsyncManager implements Locker with the Redlock algorithm from
// go-redsync/redsync/v4. Held locks are renewed in the background until
// released.
type RedsyncManager struct {
	client     *redis.Client
	redsync    *redsync.Redsync
	config     Config
	logger     logging.Logger
	localLocks map[*RedsyncLock]struct{}
	mutex      sync.Mutex
}

// RedsyncLock wraps a redsync.Mutex
type RedsyncLock struct {
	mutex    *redsync.Mutex
	key      string
	expiry   time.Duration
	acquired time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	manager  *RedsyncManager
}

// NewRedsyncManager creates a lock manager on top of redisClient
func NewRedsyncManager(redisClient *redis.Client, config Config, logger logging.Logger) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError(errors.CodeConfigMissingKey, "redis client is required for distributed locks")
	}
	if config.Expiry <= 0 {
		config.Expiry = DefaultExpiry
	}
	if config.Tries <= 0 {
		config.Tries = DefaultTries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	pool := goredis.NewPool(redisClient.Raw())

	return &RedsyncManager{
		client:     redisClient,
		redsync:    redsync.New(pool),
		config:     config,
		logger:     logger,
		localLocks: make(map[*RedsyncLock]struct{}),
	}, nil
}

// Acquire blocks until the lock for key is held, ctx is done or the
// configured tries run out
func (rm *RedsyncManager) Acquire(ctx context.Context, key string) (Lock, error) {
	mutex := rm.redsync.NewMutex(rm.client.Key("lock", key),
		redsync.WithExpiry(rm.config.Expiry),
		redsync.WithTries(rm.config.Tries),
		redsync.WithRetryDelay(rm.config.RetryDelay))

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.InternalError("failed to acquire distributed lock", err).
			WithContext("key", key)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:    mutex,
		key:      key,
		expiry:   rm.config.Expiry,
		acquired: time.Now(),
		ctx:      lockCtx,
		cancel:   cancel,
		manager:  rm,
	}

	rm.mutex.Lock()
	rm.localLocks[lock] = struct{}{}
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

// renewLock extends the lock at a third of its expiry until it is released
func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	renewInterval := lock.expiry / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				rm.logger.Warn("Lost distributed lock",
					logging.String("key", lock.key),
					logging.Err(err))
				lock.cancel()
				rm.forget(lock)
				return
			}
		}
	}
}

func (rm *RedsyncManager) forget(lock *RedsyncLock) {
	rm.mutex.Lock()
	delete(rm.localLocks, lock)
	rm.mutex.Unlock()
}

// held returns the number of locks this manager currently holds
func (rm *RedsyncManager) held() int {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	return len(rm.localLocks)
}

// Close releases every lock still held
func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	held := make([]*RedsyncLock, 0, len(rm.localLocks))
	for lock := range rm.localLocks {
		held = append(held, lock)
	}
	rm.mutex.Unlock()

	for _, lock := range held {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = lock.Release(ctx)
		cancel()
	}
	return nil
}

// Key returns the unique identifier for this lock.
func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Release stops renewal and unlocks the mutex in redis
func (rl *RedsyncLock) Release(ctx context.Context) error {
	var err error
	rl.once.Do(func() {
		rl.cancel()
		rl.manager.forget(rl)
		if _, unlockErr := rl.mutex.UnlockContext(ctx); unlockErr != nil {
			err = errors.InternalError("failed to release distributed lock", unlockErr).
				WithContext("key", rl.key)
		}
	})
	return err
}

// IsHeld returns true if the lock is currently held by this instance.
func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}

var (
	_ Locker = (*RedsyncManager)(nil)
	_ Locker = Nop{}
)
