package session

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RegistryConfig tunes the in-memory session registry.
type RegistryConfig struct {
	// IdleTTL evicts managers not used for this long. Stored tokens survive
	// eviction and are restored on the next request.
	IdleTTL time.Duration

	// RestoreWait bounds how long Get waits for a new session's restore.
	RestoreWait time.Duration

	// RestoreTimeout bounds the restore itself, which outlives the request
	// that triggered it.
	RestoreTimeout time.Duration

	// MaxSessions caps the managers held in memory. Past the cap the least
	// recently seen manager is evicted; its stored tokens survive.
	MaxSessions int
}

// DefaultRegistryConfig returns the settings used in production.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTTL:        30 * time.Minute,
		RestoreWait:    2 * time.Second,
		RestoreTimeout: 10 * time.Second,
		MaxSessions:    10000,
	}
}

// entry tracks a manager and when it was last used.
type entry struct {
	manager  *Manager
	lastSeen time.Time
}

// Registry hands out one Manager per browser session ID. Managers are created
// lazily, restored once and evicted when idle or when the registry is full.
type Registry struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	deps    Deps
	cfg     RegistryConfig
	nowFunc func() time.Time // injectable clock for testing

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry creates a registry. Call Run to start idle eviction.
func NewRegistry(deps Deps, cfg RegistryConfig) *Registry {
	def := DefaultRegistryConfig()
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.RestoreWait < 0 {
		cfg.RestoreWait = 0
	}
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = def.RestoreTimeout
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	// Only fails on a non-positive size.
	entries, _ := lru.NewWithEvict(cfg.MaxSessions, func(string, *entry) {
		activeSessions.Dec()
	})
	return &Registry{
		entries: entries,
		deps:    deps,
		cfg:     cfg,
		nowFunc: time.Now,
		stop:    make(chan struct{}),
	}
}

// Get returns the manager of a session, creating it on first use. A new
// manager is restored in the background; Get waits up to RestoreWait for it.
// The returned manager may still be loading.
func (r *Registry) Get(ctx context.Context, id string) *Manager {
	m, created := r.getOrCreate(id)
	if created {
		go func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RestoreTimeout)
			defer cancel()
			m.Restore(rctx)
		}()
	}
	m.WaitRestored(ctx, r.cfg.RestoreWait)
	return m
}

func (r *Registry) getOrCreate(id string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries.Get(id); ok {
		e.lastSeen = r.nowFunc()
		return e.manager, false
	}

	m := NewManager(id, r.deps)
	activeSessions.Inc()
	if r.entries.Add(id, &entry{manager: m, lastSeen: r.nowFunc()}) {
		sessionsEvicted.WithLabelValues(evictCapacity).Inc()
	}
	return m, true
}

// Run evicts idle managers every IdleTTL until ctx is done or Close is called.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.IdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

// Close stops Run.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// cleanup evicts managers idle for longer than the TTL.
func (r *Registry) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	for _, id := range r.entries.Keys() {
		e, ok := r.entries.Peek(id)
		if ok && now.Sub(e.lastSeen) > r.cfg.IdleTTL {
			r.entries.Remove(id)
			sessionsEvicted.WithLabelValues(evictIdle).Inc()
		}
	}
}

// Len returns the number of managers held in memory.
func (r *Registry) Len() int {
	return r.entries.Len()
}
