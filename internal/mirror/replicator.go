package mirror

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lifelinehq/lifeline/internal/models"
)

const (
	defaultWorkers  = 4
	defaultQueueCap = 256
	jobTimeout      = 5 * time.Second
)

// job is a single snapshot publication: the incident document plus the full
// ordered conversation it carries.
type job struct {
	incident models.Incident
	messages []models.Message
}

// Replicator pushes authoritative snapshots to the mirror from a bounded
// queue of background workers. Enqueue never blocks the caller: when the
// queue is saturated the snapshot is dropped and the next turn re-publishes
// a newer one.
type Replicator struct {
	store   Store
	jobs    chan job
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped int
}

// ReplicatorOpts holds parameters for creating a Replicator.
type ReplicatorOpts struct {
	Workers int // number of concurrent workers (default 4)
	Queue   int // queue capacity (default 256)
}

// NewReplicator starts the worker pool against the given mirror store.
func NewReplicator(store Store, opts ReplicatorOpts) *Replicator {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueCap := opts.Queue
	if queueCap <= 0 {
		queueCap = defaultQueueCap
	}

	r := &Replicator{
		store: store,
		jobs:  make(chan job, queueCap),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Enqueue schedules a snapshot publication. It returns immediately; a full
// queue drops the snapshot. The send happens under the mutex so it can never
// race Close's channel close.
func (r *Replicator) Enqueue(inc models.Incident, msgs []models.Message) {
	cp := make([]models.Message, len(msgs))
	copy(cp, msgs)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.jobs <- job{incident: inc, messages: cp}:
	default:
		r.dropped++
		log.Printf("mirror: replication queue full, dropped snapshot for %s", inc.ID)
	}
}

// Dropped returns the number of snapshots dropped due to queue saturation.
func (r *Replicator) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting snapshots and waits for in-flight jobs to finish.
func (r *Replicator) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	r.wg.Wait()
}

// work drains the job queue. Mirror failures are logged, never surfaced:
// the authoritative store already holds the data.
func (r *Replicator) work() {
	defer r.wg.Done()
	for j := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		if err := r.store.PutIncident(ctx, j.incident); err != nil {
			log.Printf("mirror: replicate incident %s: %v", j.incident.ID, err)
			cancel()
			continue
		}
		if err := r.store.PutConversation(ctx, j.incident.ConversationID, j.messages); err != nil {
			log.Printf("mirror: replicate conversation %s: %v", j.incident.ConversationID, err)
		}
		cancel()
	}
}
