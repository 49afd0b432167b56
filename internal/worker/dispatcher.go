package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"pulse/internal/debuglog"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrClosed    = errors.New("worker dispatcher closed")
)

const defaultQueueSize = 64

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int // jobs waiting across all users
	IdleTimeout time.Duration
}

type Stats struct {
	Workers int `json:"workers"`
	Idle    int `json:"idle"`
	Queued  int `json:"queued"`
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands queued jobs to the pool one user at a time, moving a
// user to the back of the line after each dispatched job.
type Dispatcher struct {
	pool      *jobChannelPool
	queueSize int

	mu        sync.Mutex
	queues    map[int64]*userQueue // job queue for each user
	ready     *list.List           // round-robin queue of user IDs
	positions map[int64]*list.Element
	pending   int

	wake      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(cfg Config) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		queueSize: queueSize,
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
	for i := 0; i < d.pool.min; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Submit queues run for userID. It never blocks; a full backlog is an
// error the caller reports right away.
func (d *Dispatcher) Submit(ctx context.Context, userID int64, run func(ctx context.Context)) error {
	if run == nil {
		return errors.New("worker job requires a run func")
	}
	select {
	case <-d.quit:
		return ErrClosed
	default:
	}

	d.mu.Lock()
	if d.pending >= d.queueSize {
		d.mu.Unlock()
		return ErrQueueFull
	}
	d.enqueueLocked(Job{UserID: userID, Ctx: ctx, Run: run})
	d.pending++
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// CancelUser drops every job still queued for userID.
func (d *Dispatcher) CancelUser(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[userID]; ok {
		d.pending -= len(q.jobs)
		delete(d.queues, userID)
	}
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
}

func (d *Dispatcher) Stats() Stats {
	running, idle := d.pool.stats()
	d.mu.Lock()
	queued := d.pending
	d.mu.Unlock()
	return Stats{Workers: running, Idle: idle, Queued: queued}
}

// Close stops dispatching. Queued jobs are dropped and running ones finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}

func (d *Dispatcher) run() {
	for {
		if d.dispatchOne() {
			continue
		}
		select {
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) enqueueLocked(job Job) {
	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.UserID] = d.ready.PushBack(job.UserID)
}

// dispatchOne sends the next job of the user at the front of the line
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	d.pending--
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan, workerID, ok := d.pool.acquire()
	if !ok {
		return false
	}
	debuglog.Printf("[dispatcher] assign job for user %d to worker-%d", userID, workerID)
	workerChan <- job
	return true
}
