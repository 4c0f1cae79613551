// Package workpool runs tasks on a bounded set of goroutines fed by an
// unbounded FIFO queue. A pool with Core == Max == 1 is a serial executor:
// tasks run one at a time in submission order.
package workpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unkn0wn-root/imgcache/internal/logx"
)

var ErrClosed = errors.New("workpool: closed")

// Options configure a Pool.
type Options struct {
	// Core workers never retire. Core <= 0 => 1.
	Core int
	// Max bounds the number of live workers. Max < Core => Core.
	Max int
	// KeepAlive is how long a worker above Core waits for work before it
	// exits. 0 => 10s.
	KeepAlive time.Duration
	// PanicHandler receives the value of a panicking task. nil => the panic
	// is not recovered.
	PanicHandler func(v any)
	Logger       logx.Logger
	Name         string
}

// Pool is safe for concurrent use.
type Pool struct {
	core      int
	max       int
	keepAlive time.Duration
	onPanic   func(any)
	log       logx.Logger
	name      string

	mu      sync.Mutex
	queue   []func()
	workers int
	idle    int
	closed  bool

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(opts Options) *Pool {
	p := &Pool{
		core:      max(opts.Core, 1),
		keepAlive: opts.KeepAlive,
		onPanic:   opts.PanicHandler,
		log:       opts.Logger,
		name:      opts.Name,
		done:      make(chan struct{}),
	}
	p.max = max(opts.Max, p.core)
	if p.keepAlive <= 0 {
		p.keepAlive = 10 * time.Second
	}
	if p.log == nil {
		p.log = logx.NopLogger{}
	}
	p.signal = make(chan struct{}, p.max)
	return p
}

// Submit queues task. A new worker is started when none is idle and the
// pool is below Max; otherwise the task waits in the queue.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return errors.New("workpool: nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.idle == 0 && p.workers < p.max {
		p.workers++
		p.wg.Add(1)
		go p.worker(task)
		return nil
	}
	p.queue = append(p.queue, task)
	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}

// popLocked takes the oldest queued task, or nil.
func (p *Pool) popLocked() func() {
	if len(p.queue) == 0 {
		return nil
	}
	t := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	if len(p.queue) == 0 {
		p.queue = nil
	}
	return t
}

func (p *Pool) worker(task func()) {
	defer p.wg.Done()
	timer := time.NewTimer(p.keepAlive)
	defer timer.Stop()

	for {
		if task != nil {
			p.run(task)
			task = nil
		}

		p.mu.Lock()
		if task = p.popLocked(); task != nil {
			p.mu.Unlock()
			continue
		}
		if p.closed {
			p.workers--
			p.mu.Unlock()
			return
		}
		p.idle++
		p.mu.Unlock()

		timer.Reset(p.keepAlive)
		timedOut := false
		select {
		case <-p.signal:
		case <-p.done:
		case <-timer.C:
			timedOut = true
		}
		if !timedOut && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		p.mu.Lock()
		p.idle--
		if task = p.popLocked(); task != nil {
			p.mu.Unlock()
			continue
		}
		if p.closed || (timedOut && p.workers > p.core) {
			p.workers--
			p.mu.Unlock()
			if timedOut {
				p.log.Debug("workpool: idle worker retired", logx.Fields{"pool": p.name})
			}
			return
		}
		p.mu.Unlock()
	}
}

func (p *Pool) run(task func()) {
	if p.onPanic != nil {
		defer func() {
			if v := recover(); v != nil {
				p.onPanic(v)
			}
		}()
	}
	task()
}

// Close stops accepting tasks and waits until queued tasks have run or ctx
// is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workers returns the number of live workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
