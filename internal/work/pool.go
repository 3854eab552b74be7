// Package work provides a bounded worker pool for fire-and-forget tasks.
// Producers never block and never crash on a failed task.
package work

import (
	"log"
	"sync"
)

const (
	defaultWorkers = 4
	defaultQueue   = 64
)

// Pool runs submitted tasks on a fixed set of workers. Each task gets its
// own panic boundary so one bad task cannot take the pool down.
type Pool struct {
	tasks   chan func()
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewPool starts a pool with the given worker count and queue capacity.
// Non-positive values fall back to defaults.
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queue <= 0 {
		queue = defaultQueue
	}

	p := &Pool{tasks: make(chan func(), queue)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

// Submit schedules a task. It returns false without blocking when the queue
// is full or the pool is closed; the caller decides whether to run inline.
// The send happens under the mutex so it can never race Close's channel
// close.
func (p *Pool) Submit(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	select {
	case p.tasks <- fn:
		return true
	default:
		p.dropped++
		return false
	}
}

// Dropped returns the number of tasks rejected due to queue saturation.
func (p *Pool) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops accepting tasks and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for fn := range p.tasks {
		runTask(fn)
	}
}

func runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("work: task panic: %v", r)
		}
	}()
	fn()
}
