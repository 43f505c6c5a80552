// Package pool implements the Warm Pool Manager: a bounded set of idle,
// pre-started containers kept per (language, isolation runtime) pair so the
// sandbox executor can skip container creation on the hot path.
//
// # Design rationale
//
// Cold-starting a container costs real wall-clock time. To amortise it for
// the default isolation runtime, the pool keeps a handful of containers
// alive between invocations. Unlike a connection pool, a checked-out
// container is never returned: after running arbitrary user code there is no
// cheap way to guarantee the container's filesystem and process state are
// clean, so reuse would risk cross-execution contamination. Instead the pool
// maintains population, not specific containers: every checkout destroys
// the container it handed out and schedules a fresh replenishment in its
// place. The hardened runtime is never pooled; its startup cost already
// dominates and pooling would complicate its isolation posture.
//
// # Pool topology
//
// One bucket is maintained per (language, runtime) pair. Buckets are created
// lazily on first demand and destroyed by the idle sweep once they empty out
// past their TTL.
//
// # Concurrency model
//
// A single mutex guards the bucket map and every bucket's idle list and
// last-accessed timestamp. The mutex is never held across a container-engine
// call: Checkout pops under lock and returns immediately; replenishment and
// teardown run in their own goroutines and only re-acquire the mutex to
// mutate the idle list.
//
// # Invariants
//
//   - len(bucket.idle) never exceeds MaxSize.
//   - A container appears in at most one bucket's idle list at a time.
//   - After IdleTTL elapses with no checkouts, the bucket is emptied by the
//     sweep and removed.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/serverlessd/internal/domain"
	"github.com/oriys/serverlessd/internal/engine"
	"github.com/oriys/serverlessd/internal/logging"
	"github.com/oriys/serverlessd/internal/metrics"
	"github.com/oriys/serverlessd/internal/registry"
)

// containerEngine is the subset of the engine adapter the pool needs. Tests
// substitute a fake.
type containerEngine interface {
	Create(ctx context.Context, image string, command []string, runtimeTag, workdir, name string) (*engine.Handle, error)
	Stop(h *engine.Handle, grace time.Duration)
}

// Container is an idle container owned by the pool.
type Container struct {
	Handle     *engine.Handle
	Language   domain.Language
	Runtime    domain.IsolationRuntime
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// bucketKey identifies one (language, runtime) pool bucket.
type bucketKey struct {
	language domain.Language
	runtime  domain.IsolationRuntime
}

// bucket is the set of idle containers for one key.
type bucket struct {
	idle         []*Container // FIFO: append at tail, pop from head
	lastAccessed time.Time
}

// Config controls pool sizing and eviction cadence.
type Config struct {
	MaxSize       int
	InitialFill   int
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the production pool sizing.
func DefaultConfig() Config {
	return Config{
		MaxSize:       5,
		InitialFill:   2,
		IdleTTL:       300 * time.Second,
		SweepInterval: 60 * time.Second,
	}
}

// Pool is the warm container pool. The zero value is not usable; construct
// with New.
type Pool struct {
	eng    containerEngine
	cfg    Config
	prefix string

	mu      sync.Mutex
	buckets map[bucketKey]*bucket

	stopSweep chan struct{}
	wg        sync.WaitGroup
}

// New creates a Pool and starts its background idle sweep. namePrefix seeds
// generated container names. Call Shutdown to stop the sweep and tear down
// every remaining idle container.
func New(eng containerEngine, namePrefix string, cfg Config) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 5
	}
	if cfg.InitialFill < 0 {
		cfg.InitialFill = 0
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 300 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	p := &Pool{
		eng:       eng,
		cfg:       cfg,
		prefix:    namePrefix,
		buckets:   make(map[bucketKey]*bucket),
		stopSweep: make(chan struct{}),
	}

	p.wg.Add(1)
	go p.sweepLoop()
	return p
}

// Checkout returns an idle container for (language, runtime), or nil if the
// bucket has none ready. A successful checkout schedules one asynchronous
// replenishment so the bucket refills towards its target population.
func (p *Pool) Checkout(language domain.Language, runtime domain.IsolationRuntime) *Container {
	key := bucketKey{language, runtime}

	p.mu.Lock()
	b, ok := p.buckets[key]
	if !ok || len(b.idle) == 0 {
		if ok {
			b.lastAccessed = time.Now()
		}
		p.mu.Unlock()
		return nil
	}
	c := b.idle[0]
	b.idle = b.idle[1:]
	b.lastAccessed = time.Now()
	idle := len(b.idle)
	p.mu.Unlock()

	metrics.SetPoolIdleGauge(string(key.language), string(key.runtime), idle)

	p.wg.Add(1)
	go p.replenishOne(key)

	return c
}

// Release destroys a checked-out container. Containers are never returned to
// the idle list after running user code; the replenishment Checkout already
// scheduled restores the bucket's population instead.
func (p *Pool) Release(c *Container) {
	if c == nil {
		return
	}
	p.eng.Stop(c.Handle, 2*time.Second)
}

// EnsureBucket creates the bucket for (language, runtime) if absent and
// launches up to InitialFill asynchronous replenishments. Only meaningful
// for the default runtime; callers never call this for hardened.
func (p *Pool) EnsureBucket(language domain.Language, runtime domain.IsolationRuntime) {
	key := bucketKey{language, runtime}

	p.mu.Lock()
	_, exists := p.buckets[key]
	if !exists {
		p.buckets[key] = &bucket{lastAccessed: time.Now()}
	}
	p.mu.Unlock()

	if exists {
		return
	}

	for i := 0; i < p.cfg.InitialFill; i++ {
		p.wg.Add(1)
		go p.replenishOne(key)
	}
}

// replenishOne creates one container and inserts it into the bucket's idle
// list if there's room, destroying it immediately otherwise. Runs without
// holding the pool mutex across the (slow) create call.
func (p *Pool) replenishOne(key bucketKey) {
	defer p.wg.Done()

	profile, err := registry.Lookup(key.language)
	if err != nil {
		logging.Op().Warn("pool: cannot replenish, unknown language", "language", key.language)
		return
	}

	runtimeTag := ""
	if key.runtime == domain.RuntimeHardened {
		runtimeTag = engine.HardenedRuntimeTag
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	name := containerName(p.prefix)
	h, err := p.eng.Create(ctx, profile.Image, engine.LongSleepCommand(), runtimeTag, "/app", name)
	if err != nil {
		logging.Op().Warn("pool: replenish create failed", "language", key.language, "runtime", key.runtime, "err", err)
		return
	}

	c := &Container{
		Handle:     h,
		Language:   key.language,
		Runtime:    key.runtime,
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
	}

	p.mu.Lock()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{lastAccessed: time.Now()}
		p.buckets[key] = b
	}
	fits := len(b.idle) < p.cfg.MaxSize
	if fits {
		b.idle = append(b.idle, c)
		b.lastAccessed = time.Now()
	}
	idle := len(b.idle)
	p.mu.Unlock()

	metrics.SetPoolIdleGauge(string(key.language), string(key.runtime), idle)

	if !fits {
		p.eng.Stop(h, 2*time.Second)
	}
}

// sweepLoop destroys idle containers whose bucket has been untouched longer
// than IdleTTL and removes emptied buckets. Runs on a cadence independent of
// any execution.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepExpired()
		case <-p.stopSweep:
			return
		}
	}
}

func (p *Pool) sweepExpired() {
	now := time.Now()

	var toDestroy []*Container
	var removed []bucketKey

	p.mu.Lock()
	for key, b := range p.buckets {
		if now.Sub(b.lastAccessed) < p.cfg.IdleTTL {
			continue
		}
		toDestroy = append(toDestroy, b.idle...)
		removed = append(removed, key)
		delete(p.buckets, key)
	}
	p.mu.Unlock()

	for _, key := range removed {
		metrics.SetPoolIdleGauge(string(key.language), string(key.runtime), 0)
	}

	for _, c := range toDestroy {
		p.eng.Stop(c.Handle, 2*time.Second)
	}
	if len(toDestroy) > 0 {
		logging.Op().Info("pool: idle sweep destroyed containers", "count", len(toDestroy))
	}
}

// Stats reports the current idle count per bucket, used by the metrics
// surface and tests.
func (p *Pool) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]int, len(p.buckets))
	for key, b := range p.buckets {
		out[string(key.language)+"/"+string(key.runtime)] = len(b.idle)
	}
	return out
}

// Shutdown stops the idle sweep and destroys every remaining idle container.
func (p *Pool) Shutdown() {
	close(p.stopSweep)
	p.wg.Wait()

	p.mu.Lock()
	var all []*Container
	for _, b := range p.buckets {
		all = append(all, b.idle...)
	}
	p.buckets = make(map[bucketKey]*bucket)
	p.mu.Unlock()

	for _, c := range all {
		p.eng.Stop(c.Handle, 2*time.Second)
	}
}
