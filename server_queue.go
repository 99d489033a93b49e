package wsrpc

import "sync"

// invocationQueue runs the handler operations of one connection one at a time, in
// arrival order. submit never blocks, so the socket keeps reading while a slow
// handler runs.
type invocationQueue struct {
	mu      sync.Mutex
	jobs    []func()
	running bool
}

func (q *invocationQueue) submit(job func()) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

func (q *invocationQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		job()
	}
}
