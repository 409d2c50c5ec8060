package jobs

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
)

// Handler processes one job and returns its result value.
type Handler func(job Job) (json.RawMessage, error)

// PoolSize is the default worker count: detected parallelism minus one, so
// the coordinator keeps a core, floor one.
func PoolSize() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// task is one entry on the task queue. stop is the per-worker shutdown
// sentinel.
type task struct {
	job  Job
	stop bool
}

// RunBatch runs jobs across a pool of workers goroutines, delivering results
// to send in completion order. cancelled is polled once per completed
// result; once it reports true no further jobs are fed, in-flight jobs run
// to completion, and their results are discarded. Exactly len(jobs) results
// are delivered when no cancellation occurs. A nil cancelled never cancels.
//
// A handler error or panic becomes an error-carrying result for that job;
// it never disturbs the queues or the other workers.
func RunBatch(jobs []Job, workers int, handler Handler, send func(Result), cancelled func() bool) {
	if len(jobs) == 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	// Buffers sized so neither feeding nor reporting ever blocks.
	taskq := make(chan task, len(jobs)+workers)
	doneq := make(chan Result, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(taskq, doneq, handler)
		}()
	}

	// Double-buffer: preload twice the pool size to keep workers
	// saturated without holding the whole batch in the queue.
	next := 0
	for next < len(jobs) && next < 2*workers {
		taskq <- task{job: jobs[next]}
		next++
	}

	delivered := 0
	inFlight := next
	stopped := false
	for inFlight > 0 {
		res := <-doneq
		inFlight--

		if !stopped {
			send(res)
			delivered++
			if cancelled() {
				stopped = true
			}
		}

		if !stopped && next < len(jobs) {
			taskq <- task{job: jobs[next]}
			next++
			inFlight++
		}
	}

	// One sentinel per worker for graceful exit.
	for i := 0; i < workers; i++ {
		taskq <- task{stop: true}
	}
	wg.Wait()
}

// worker pulls tasks until its stop sentinel arrives.
func worker(taskq <-chan task, doneq chan<- Result, handler Handler) {
	for t := range taskq {
		if t.stop {
			return
		}
		doneq <- runJob(t.job, handler)
	}
}

// runJob executes one job with panic containment.
func runJob(job Job, handler Handler) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = ErrorResult(job.Fn, job.Key, fmt.Sprintf("job panic: %v", r))
		}
	}()

	value, err := handler(job)
	if err != nil {
		return ErrorResult(job.Fn, job.Key, err.Error())
	}
	return Result{Fn: job.Fn, Key: job.Key, Value: value}
}

// PooledBatch adapts a single-job handler into a BatchFunc backed by
// RunBatch with the given pool size.
func PooledBatch(handler Handler, workers int) BatchFunc {
	return func(batch []Job, send func(Result), fn string, cancelled func() bool) {
		for i := range batch {
			batch[i].Fn = fn
		}
		RunBatch(batch, workers, handler, send, cancelled)
	}
}
