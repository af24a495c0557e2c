package session

import (
	"context"
	"sync"

	"parley/src/logger"
	"parley/src/model"
)

type deltaJob struct {
	sessionID int64
	input     model.DeltaInput
}

// deltaQueue runs the delta jobs of one chat session on a single worker, in submission order.
// A full queue drops new jobs. Stop cancels the job in flight and discards the rest.
type deltaQueue struct {
	sessionID int64
	jobs      chan deltaJob
	run       func(ctx context.Context, job deltaJob)

	// pending counts submitted jobs that have not settled. idle is closed when it drops to zero.
	mu      sync.Mutex
	pending int
	idle    chan struct{}

	cancel  context.CancelFunc
	done    chan struct{}
}

func newDeltaQueue(sessionID int64, size int, run func(ctx context.Context, job deltaJob)) *deltaQueue {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &deltaQueue{
		sessionID: sessionID,
		jobs:      make(chan deltaJob, size),
		run:       run,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go q.worker(ctx)
	return q
}

// Submit enqueues a job without blocking. It reports false when the job was dropped.
func (q *deltaQueue) Submit(input model.DeltaInput) bool {
	q.add()
	select {
	case q.jobs <- deltaJob{sessionID: q.sessionID, input: input}:
		return true
	default:
		q.settle()
		logger.Warn().Int64("session_id", q.sessionID).Msg("Delta queue full, dropping exchange")
		return false
	}
}

// Wait blocks until every job submitted so far has settled or ctx is done.
func (q *deltaQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *deltaQueue) add() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
}

func (q *deltaQueue) settle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// Pending returns the number of jobs waiting behind the one in flight.
func (q *deltaQueue) Pending() int {
	return len(q.jobs)
}

// Cancel makes the job in flight and every later resolution see a done context. It does not
// wait for the worker.
func (q *deltaQueue) Cancel() {
	q.cancel()
}

// Stop cancels the worker and blocks until it exited.
func (q *deltaQueue) Stop() {
	q.cancel()
	<-q.done
}

func (q *deltaQueue) worker(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case job := <-q.jobs:
			if ctx.Err() == nil {
				q.run(ctx, job)
			}
			q.settle()
		case <-ctx.Done():
			discarded := 0
			for {
				select {
				case <-q.jobs:
					discarded++
					q.settle()
				default:
					if discarded > 0 {
						logger.Debug().
							Int64("session_id", q.sessionID).
							Int("discarded", discarded).
							Msg("Delta queue stopped with jobs pending")
					}
					return
				}
			}
		}
	}
}
