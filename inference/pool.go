package inference

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultPoolSize is used when a non-positive size is requested.
	DefaultPoolSize = 1
	// DefaultAcquireTimeout bounds how long Acquire waits for a free engine.
	DefaultAcquireTimeout = 5 * time.Second
	maxRecordedErrors     = 10
)

var (
	// ErrPoolClosed is returned by Acquire once the pool is closed.
	ErrPoolClosed = errors.New("engine pool is closed")
	// ErrAcquireTimeout is returned when no engine became free in time.
	ErrAcquireTimeout = errors.New("timeout waiting for available engine")
)

// Factory creates the i-th engine of a pool.
type Factory func(i int) (Engine, error)

// PoolMetrics is a snapshot of pool usage.
type PoolMetrics struct {
	Size            int           `json:"size"`
	Available       int           `json:"available"`
	InUse           int           `json:"in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	Replaced        int64         `json:"replaced"`
	// Missing counts slots whose engine could not be rebuilt. Acquire retries them.
	Missing         int           `json:"missing"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// Pool hands out engines one caller at a time.
type Pool struct {
	engines        chan Engine
	size           int
	factory        Factory
	acquireTimeout time.Duration

	mu         sync.Mutex
	closed     bool
	missing    int
	metrics    PoolMetrics
	lastErrors []error
}

// NewPool creates size engines with factory. If any engine fails to build, the ones already
// built are closed and the error is returned.
func NewPool(size int, factory Factory) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	p := &Pool{
		engines:        make(chan Engine, size),
		size:           size,
		factory:        factory,
		acquireTimeout: DefaultAcquireTimeout,
	}

	for i := 0; i < size; i++ {
		e, err := factory(i)
		if err != nil {
			p.Close()
			return nil, errors.Wrapf(err, "failed to initialize engine %d", i)
		}
		p.engines <- e
	}

	return p, nil
}

// SetAcquireTimeout changes how long Acquire waits. Zero or less waits for the context only.
func (p *Pool) SetAcquireTimeout(d time.Duration) {
	p.mu.Lock()
	p.acquireTimeout = d
	p.mu.Unlock()
}

// Size returns the number of engines the pool manages.
func (p *Pool) Size() int {
	return p.size
}

// Acquire blocks until an engine is free, the acquire timeout elapses or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	timeout := p.acquireTimeout
	refill := p.missing > 0
	if refill {
		p.missing--
	}
	p.mu.Unlock()

	if refill {
		if e, err := p.rebuild(); err != nil {
			if errors.Is(err, ErrPoolClosed) {
				return nil, err
			}
		} else {
			return e, nil
		}
	}

	start := time.Now()
	defer func() {
		p.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.mu.Unlock()
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case e, ok := <-p.engines:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.mu.Unlock()
		return e, nil
	case <-expired:
		p.recordFailure(ErrAcquireTimeout)
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		p.recordFailure(ctx.Err())
		return nil, ctx.Err()
	}
}

// rebuild builds an engine for a missing slot and hands it out directly. On failure the slot
// stays missing.
func (p *Pool) rebuild() (Engine, error) {
	fresh, err := p.factory(-1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.missing++
		p.recordErrorLocked(err)
		return nil, err
	}
	if p.closed {
		_ = fresh.Close()
		return nil, ErrPoolClosed
	}
	p.metrics.Replaced++
	p.metrics.InUse++
	p.metrics.TotalAcquired++
	return fresh, nil
}

// Release returns an engine to the pool. After Close the engine is closed instead.
func (p *Pool) Release(e Engine) {
	if e == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.InUse--
	p.metrics.TotalReleased++
	if p.closed {
		_ = e.Close()
		return
	}
	p.engines <- e
}

// Replace closes a broken engine and puts a freshly built one in its place. When the factory
// fails the slot is marked missing and rebuilt by a later Acquire.
func (p *Pool) Replace(e Engine) error {
	if e != nil {
		_ = e.Close()
	}

	fresh, err := p.factory(-1)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.InUse--
	if err != nil {
		if !p.closed {
			p.missing++
		}
		p.recordErrorLocked(err)
		return errors.Wrap(err, "failed to replace engine")
	}
	if p.closed {
		return fresh.Close()
	}
	p.metrics.Replaced++
	p.engines <- fresh
	return nil
}

// Infer acquires an engine, runs it and returns it to the pool. An engine whose run failed for
// a reason other than the context ending is replaced.
func (p *Pool) Infer(ctx context.Context, input []float32) ([]float32, error) {
	e, err := p.Acquire(ctx)
	if err != nil {
		return nil, Failure(err, "acquire engine")
	}

	out, err := e.Infer(ctx, input)
	if err != nil && ctx.Err() == nil {
		if rerr := p.Replace(e); rerr != nil {
			return nil, errors.Wrapf(err, "engine not replaced: %v", rerr)
		}
		return nil, err
	}
	p.Release(e)
	return out, err
}

// Metrics returns a snapshot of pool usage.
func (p *Pool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.metrics
	m.Size = p.size
	m.Missing = p.missing
	if !p.closed {
		m.Available = len(p.engines)
	}
	return m
}

// LastErrors returns the most recent acquire and replacement errors, oldest first.
func (p *Pool) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.lastErrors...)
}

// Healthy reports whether the pool is open and every slot holds an engine.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.missing == 0
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close closes every idle engine. Engines still in use are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.engines)

	var first error
	for e := range p.engines {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Pool) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.AcquireFailures++
	p.recordErrorLocked(err)
}

func (p *Pool) recordErrorLocked(err error) {
	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > maxRecordedErrors {
		p.lastErrors = p.lastErrors[1:]
	}
}
