// Package worker schedules summarizer calls on an elastic pool of
// goroutines, taking turns between users so one busy account cannot starve
// the rest.
package worker

import (
	"context"
	"log"

	"pulse/internal/debuglog"
)

// Job is one queued call for a user. Run receives Ctx; a job whose Ctx is
// already done when a worker picks it up is dropped.
type Job struct {
	UserID int64
	Ctx    context.Context
	Run    func(ctx context.Context)

	stop bool
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) start() {
	go func() {
		for {
			job := <-w.jobChannel
			if job.stop {
				w.pool.retire(w.jobChannel)
				debuglog.Printf("[worker] worker-%d stopped", w.id)
				return
			}
			w.run(job)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] worker-%d recovered panic in job for user %d: %v", w.id, job.UserID, r)
		}
	}()
	if err := job.Ctx.Err(); err != nil {
		debuglog.Printf("[worker] worker-%d dropping job for user %d: %v", w.id, job.UserID, err)
		return
	}
	job.Run(job.Ctx)
}
