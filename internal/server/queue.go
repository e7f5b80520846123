package server

import (
	"context"
	"sync"
)

// Task is one unit of dispatch work.
type Task func()

// DispatchQueue runs tasks on exactly one goroutine. A single worker is
// the point, not a limitation: protocol handlers and their store writes
// execute in global arrival order, so two messages sent back to back
// through the same room can never fan out reordered.
type DispatchQueue struct {
	tasks chan Task
	ctx   context.Context
	wg    sync.WaitGroup
}

func NewDispatchQueue(depth int) *DispatchQueue {
	return &DispatchQueue{
		tasks: make(chan Task, depth),
	}
}

func (q *DispatchQueue) Start(ctx context.Context) {
	q.ctx = ctx
	q.wg.Add(1)
	go q.worker()
}

func (q *DispatchQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case task := <-q.tasks:
			if task != nil {
				task()
			}
		case <-q.ctx.Done():
			// Drain what already arrived so disconnect cleanups run.
			for {
				select {
				case task := <-q.tasks:
					if task != nil {
						task()
					}
				default:
					return
				}
			}
		}
	}
}

// Submit enqueues a task, blocking when the queue is full. Running the
// task inline instead would break ordering, so backpressure propagates
// to the read loops.
func (q *DispatchQueue) Submit(task Task) {
	select {
	case q.tasks <- task:
	case <-q.ctx.Done():
	}
}

func (q *DispatchQueue) Stop() {
	q.wg.Wait()
}
