package scheduler

import (
	"context"

	"taskline/internal/domain"
)

// Result returns the stored Result for a task id. The second return is false
// while the task is still pending or running, if the id was never submitted,
// or after ClearResults; callers that need to tell those apart must track
// the ids they submitted.
func (p *Processor) Result(id string) (domain.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[id]
	return res, ok
}

// Results returns all stored Results in the order tasks finished, which can
// differ from submission order.
func (p *Processor) Results() []domain.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Result, 0, len(p.resultOrder))
	for _, id := range p.resultOrder {
		out = append(out, p.results[id])
	}
	return out
}

// ClearResults drops all stored Results. Pending and running tasks are
// unaffected and will store fresh Results as they finish.
func (p *Processor) ClearResults() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = make(map[string]domain.Result)
	p.resultOrder = nil
}

// waiter broadcasts one task's Result to blocked Wait callers. res is
// written before done is closed and read only after it closes, so readers
// need no lock and are immune to a ClearResults racing the wakeup.
type waiter struct {
	done chan struct{}
	res  domain.Result
}

// Wait blocks until the task's Result is finalized or ctx is done. Unlike
// polling Result, it wakes exactly when the task finishes. Waiting on an id
// that was never submitted blocks until ctx is done.
func (p *Processor) Wait(ctx context.Context, id string) (domain.Result, error) {
	p.mu.Lock()
	if res, ok := p.results[id]; ok {
		p.mu.Unlock()
		return res, nil
	}
	w, ok := p.waiters[id]
	if !ok {
		w = &waiter{done: make(chan struct{})}
		p.waiters[id] = w
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	case <-w.done:
		return w.res, nil
	}
}
