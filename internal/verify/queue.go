// Package verify runs the batch re-verification jobs that keep existing
// organization links honest against the eligibility gateway.
package verify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Outcome is a job's instruction to the queue after a run.
type Outcome int

const (
	// Stop ends the chain.
	Stop Outcome = iota
	// Repeat re-enqueues the same job; used while stale records remain.
	Repeat
	// Advance enqueues the job's successor.
	Advance
)

// Job is a unit of batch work. Jobs are re-runnable: each run claims its own
// page of records and decides whether more work remains.
type Job interface {
	Name() string
	Run(ctx context.Context) (Outcome, error)
	// Next is the job to enqueue on Advance; may be nil.
	Next() Job
}

// Queue is a serial in-process work queue. One worker drains jobs in order,
// so two batch jobs never race on the same records.
type Queue struct {
	jobs chan Job
	wg   sync.WaitGroup
	once sync.Once
}

// NewQueue creates a queue with the given backlog capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{jobs: make(chan Job, capacity)}
}

// Enqueue adds a job. Returns false when the backlog is full; callers treat
// that as "already scheduled" since jobs claim work pages themselves.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		log.Warn().Str("job", job.Name()).Msg("Job queue full, dropping enqueue")
		return false
	}
}

// Start launches the worker. It drains until the context is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-q.jobs:
				q.run(ctx, job)
			}
		}
	}()
}

// Stop closes the queue and waits for the worker to exit. Call after
// cancelling the context passed to Start.
func (q *Queue) Stop() {
	q.once.Do(func() {
		q.wg.Wait()
	})
}

func (q *Queue) run(ctx context.Context, job Job) {
	outcome, err := job.Run(ctx)
	if err != nil {
		log.Error().Err(err).Str("job", job.Name()).Msg("Job run failed")
		return
	}

	switch outcome {
	case Repeat:
		q.Enqueue(job)
	case Advance:
		if next := job.Next(); next != nil {
			q.Enqueue(next)
		}
	}
}

// RunChain executes a job chain synchronously until it stops. Used by the
// admin command; the scheduled path goes through the queue instead.
func RunChain(ctx context.Context, job Job) error {
	for job != nil {
		outcome, err := job.Run(ctx)
		if err != nil {
			return err
		}
		switch outcome {
		case Repeat:
			continue
		case Advance:
			job = job.Next()
		case Stop:
			return nil
		}
	}
	return nil
}
