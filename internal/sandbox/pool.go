package sandbox

import (
	"context"
	"sync"
	"time"

	"codevibe-chat/backend/pkg/logger"
)

const closeTimeout = 10 * time.Second

// PoolOptions bounds the pool
type PoolOptions struct {
	// Size is the maximum number of live instances
	Size int
	// IdleTTL closes instances that sat unused for longer
	IdleTTL time.Duration
}

type idleInstance struct {
	inst  Instance
	since time.Time
}

// Pool hands out exclusive leases on sandbox instances. It never holds more
// than Size instances; Acquire blocks while all of them are leased.
type Pool struct {
	provider Provider
	opts     PoolOptions
	log      *logger.Logger
	now      func() time.Time

	slots chan struct{}

	mu     sync.Mutex
	idle   []idleInstance
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool and starts its idle reaper
func NewPool(provider Provider, opts PoolOptions, log *logger.Logger) *Pool {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 5 * time.Minute
	}
	if log == nil {
		log = logger.NewDiscard()
	}
	p := &Pool{
		provider: provider,
		opts:     opts,
		log:      log,
		now:      time.Now,
		slots:    make(chan struct{}, opts.Size),
		stop:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.reap()
	return p
}

// Lease is exclusive use of one instance. Exactly one of Release or Discard
// must be called; later calls are no-ops.
type Lease struct {
	pool *Pool
	inst Instance
	once sync.Once
}

// Run executes source on the leased instance
func (l *Lease) Run(ctx context.Context, source string) (Execution, error) {
	return l.inst.Run(ctx, source)
}

// Release returns the instance to the pool for reuse
func (l *Lease) Release() {
	l.once.Do(func() { l.pool.put(l.inst) })
}

// Discard closes the instance instead of reusing it
func (l *Lease) Discard() {
	l.once.Do(func() {
		l.pool.closeInstance(l.inst)
		<-l.pool.slots
	})
}

// Acquire returns an idle instance or creates one
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		inst := p.idle[n-1].inst
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return &Lease{pool: p, inst: inst}, nil
	}
	p.mu.Unlock()

	inst, err := p.provider.Create(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.log.Debug("sandbox created", "sandbox_id", inst.ID())
	return &Lease{pool: p, inst: inst}, nil
}

func (p *Pool) put(inst Instance) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeInstance(inst)
		<-p.slots
		return
	}
	p.idle = append(p.idle, idleInstance{inst: inst, since: p.now()})
	p.mu.Unlock()
	<-p.slots
}

// Idle reports how many instances are waiting for reuse
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close releases every idle instance; leased ones are closed when returned
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()

	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, it := range idle {
		p.closeInstance(it.inst)
	}
}

func (p *Pool) reap() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reapExpired()
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) reapExpired() {
	cutoff := p.now().Add(-p.opts.IdleTTL)

	p.mu.Lock()
	var expired []Instance
	kept := p.idle[:0]
	for _, it := range p.idle {
		if it.since.Before(cutoff) {
			expired = append(expired, it.inst)
			continue
		}
		kept = append(kept, it)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, inst := range expired {
		p.closeInstance(inst)
	}
}

func (p *Pool) closeInstance(inst Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := inst.Close(ctx); err != nil {
		p.log.Warn("failed to close sandbox", "sandbox_id", inst.ID(), "error", err.Error())
	}
}
