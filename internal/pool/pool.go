// Package pool keeps a small set of pre-started backing processes idle so
// new sessions skip process cold-start. Disabled pools pass every Acquire
// straight to the factory.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/helmsman-cli/helmsman/internal/logger"
)

// Proc is the slice of a backing process the pool manages.
type Proc interface {
	Start() error
	Stop()
	IsRunning() bool
}

// Factory creates a fresh backing process, not yet started.
type Factory func() Proc

// SweepInterval is how often the idle sweep runs.
const SweepInterval = 30 * time.Second

// Status is a point-in-time snapshot of the pool.
type Status struct {
	IdleCount int
	Enabled   bool
	Size      int
}

// idleEntry pairs an idle process with when it was parked.
type idleEntry struct {
	proc    Proc
	idledAt time.Time
}

// Pool hands out backing processes, preferring pre-spawned idle ones.
// A single mutex owns the idle slice, so Acquire can never race the sweep
// into returning a process that is being evicted.
type Pool struct {
	factory     Factory
	maxIdleTime time.Duration

	mu      sync.Mutex
	idle    []idleEntry
	enabled bool
	size    int

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New creates a pool. The pool starts empty; Fill pre-spawns processes.
func New(factory Factory, size int, maxIdleTime time.Duration, enabled bool) *Pool {
	return &Pool{
		factory:     factory,
		maxIdleTime: maxIdleTime,
		enabled:     enabled,
		size:        size,
		stopSweep:   make(chan struct{}),
	}
}

// StartSweep launches the background idle-timeout sweep. Call once.
func (p *Pool) StartSweep() {
	go func() {
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.sweep()
			case <-p.stopSweep:
				return
			}
		}
	}()
}

// Close drains all idle processes and stops the sweep.
func (p *Pool) Close() {
	p.sweepOnce.Do(func() { close(p.stopSweep) })
	p.drain()
}

// Acquire returns a started process: an idle one when available, otherwise
// a cold-started fresh one. The caller owns the returned process.
func (p *Pool) Acquire(ctx context.Context) (Proc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	for len(p.idle) > 0 {
		entry := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if entry.proc.IsRunning() {
			p.mu.Unlock()
			logger.Debug("pool: handing out idle process")
			return entry.proc, nil
		}
		// Died while parked; discard and keep looking.
		logger.Debug("pool: discarding dead idle process")
	}
	p.mu.Unlock()

	proc := p.factory()
	if err := proc.Start(); err != nil {
		return nil, err
	}
	logger.Debug("pool: cold-started process")
	return proc, nil
}

// Release returns a process to the pool. It is re-idled when the pool is
// enabled and under size, otherwise stopped.
func (p *Pool) Release(proc Proc) {
	if proc == nil {
		return
	}

	p.mu.Lock()
	if p.enabled && len(p.idle) < p.size && proc.IsRunning() {
		p.idle = append(p.idle, idleEntry{proc: proc, idledAt: time.Now()})
		p.mu.Unlock()
		logger.Debug("pool: re-idled process")
		return
	}
	p.mu.Unlock()

	proc.Stop()
}

// Fill pre-spawns processes up to size. Spawn failures are logged and stop
// the fill; a pool that cannot fill still serves cold starts.
func (p *Pool) Fill() {
	for {
		p.mu.Lock()
		if !p.enabled || len(p.idle) >= p.size {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		proc := p.factory()
		if err := proc.Start(); err != nil {
			logger.Warn("pool: pre-spawn failed: %v", err)
			return
		}

		p.mu.Lock()
		if !p.enabled || len(p.idle) >= p.size {
			p.mu.Unlock()
			proc.Stop()
			return
		}
		p.idle = append(p.idle, idleEntry{proc: proc, idledAt: time.Now()})
		p.mu.Unlock()
	}
}

// SetEnabled toggles the pool. Disabling drains idle processes; in-flight
// processes already handed out are untouched.
func (p *Pool) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()

	if !enabled {
		p.drain()
	}
}

// SetSize updates the idle target. Shrinking stops the excess.
func (p *Pool) SetSize(size int) {
	if size < 0 {
		size = 0
	}

	var excess []Proc
	p.mu.Lock()
	p.size = size
	for len(p.idle) > size {
		entry := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		excess = append(excess, entry.proc)
	}
	p.mu.Unlock()

	for _, proc := range excess {
		proc.Stop()
	}
}

// Status returns a snapshot of the pool state.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{IdleCount: len(p.idle), Enabled: p.enabled, Size: p.size}
}

// sweep evicts processes idle beyond maxIdleTime. Eviction removes the
// entry under the lock before stopping it, so Acquire never sees it.
func (p *Pool) sweep() {
	if p.maxIdleTime <= 0 {
		return
	}

	cutoff := time.Now().Add(-p.maxIdleTime)

	var evicted []Proc
	p.mu.Lock()
	kept := p.idle[:0]
	for _, entry := range p.idle {
		if entry.idledAt.Before(cutoff) {
			evicted = append(evicted, entry.proc)
		} else {
			kept = append(kept, entry)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, proc := range evicted {
		proc.Stop()
	}
	if len(evicted) > 0 {
		logger.Debug("pool: swept %d idle process(es)", len(evicted))
	}
}

// drain stops and removes every idle process.
func (p *Pool) drain() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, entry := range idle {
		entry.proc.Stop()
	}
	if len(idle) > 0 {
		logger.Debug("pool: drained %d idle process(es)", len(idle))
	}
}
