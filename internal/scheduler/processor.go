package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskline/internal/domain"
	"taskline/internal/queue"
)

const (
	defaultConcurrency = 4
	defaultBaseDelay   = time.Second
)

var (
	// ErrNoKind is returned by Submit and Register when the kind is empty.
	ErrNoKind = errors.New("task kind is required")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("processor is closed")
)

// testTaskAdmitted is a testing hook, called under p.mu in admission order.
var testTaskAdmitted = func(domain.Task) {}

// Processor admits and runs submitted tasks while keeping at most the
// configured number of handlers in flight. Pending tasks are admitted
// highest priority first, FIFO within a tier. Failed tasks are retried
// with exponential backoff until their retry budget is spent.
//
// A Processor owns its pending queue, running set, and result store
// exclusively. Instances are independent; create as many as needed.
type Processor struct {
	mu          sync.Mutex
	handlers    map[string]Handler
	pending     *queue.Pending
	running     int
	results     map[string]domain.Result
	resultOrder []string
	waiters     map[string]*waiter
	closed      bool

	limit     int
	baseDelay time.Duration
	log       zerolog.Logger
	hooks     []func(domain.Result)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Processor at construction time.
type Option func(*Processor)

// WithConcurrency bounds the number of handlers with in-flight work.
// Values below 1 are clamped to 1. The default is 4.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n < 1 {
			n = 1
		}
		p.limit = n
	}
}

// WithBaseDelay sets the backoff base unit. The delay before the n-th retry
// is 2^n times this value. The default is one second.
func WithBaseDelay(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.baseDelay = d
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// WithResultHook registers fn to be called once per finalized Result, after
// it lands in the result store. Hooks run on the goroutine that finished the
// task and must not block for long.
func WithResultHook(fn func(domain.Result)) Option {
	return func(p *Processor) { p.hooks = append(p.hooks, fn) }
}

// New creates a Processor. It is ready to accept submissions immediately.
func New(opts ...Option) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		handlers:  make(map[string]Handler),
		pending:   queue.NewPending(),
		results:   make(map[string]domain.Result),
		waiters:   make(map[string]*waiter),
		limit:     defaultConcurrency,
		baseDelay: defaultBaseDelay,
		log:       zerolog.Nop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a handler to a task kind. Registering the same kind twice
// is an error.
func (p *Processor) Register(kind string, h Handler) error {
	if kind == "" {
		return ErrNoKind
	}
	if h == nil {
		return fmt.Errorf("nil handler for kind %q", kind)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.handlers[kind]; dup {
		return fmt.Errorf("handler for kind %q already registered", kind)
	}
	p.handlers[kind] = h
	return nil
}

// Status is a point-in-time snapshot of the Processor.
type Status struct {
	Pending     int `json:"pending"`
	Running     int `json:"running"`
	Completed   int `json:"completed"`
	Concurrency int `json:"concurrency"`
}

// Status reports queue depth, in-flight count, stored result count, and the
// concurrency ceiling, all observed under a single lock acquisition.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Pending:     p.pending.Len(),
		Running:     p.running,
		Completed:   len(p.results),
		Concurrency: p.limit,
	}
}

// Submit assigns the task a fresh id, appends it to the pending queue, and
// returns immediately. Execution happens asynchronously; poll Result or call
// Wait to observe the outcome. A MaxRetries of zero means unspecified and
// falls back to domain.DefaultMaxRetries.
func (p *Processor) Submit(spec domain.TaskSpec) (string, error) {
	if spec.Kind == "" {
		return "", ErrNoKind
	}
	if spec.MaxRetries < 0 {
		return "", fmt.Errorf("max retries must not be negative, got %d", spec.MaxRetries)
	}
	maxRetries := spec.MaxRetries
	if maxRetries == 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	t := domain.Task{
		ID:          "tsk_" + uuid.NewString(),
		Kind:        spec.Kind,
		Payload:     spec.Payload,
		Priority:    spec.Priority,
		MaxRetries:  maxRetries,
		SubmittedAt: time.Now(),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	p.pending.Push(t)
	p.admit()
	p.mu.Unlock()

	p.log.Debug().
		Str("task_id", t.ID).
		Str("kind", t.Kind).
		Stringer("priority", t.Priority).
		Msg("task submitted")
	return t.ID, nil
}

// Close stops admission, cancels the context passed to running handlers, and
// waits for them to return. Tasks still pending or parked in a backoff
// window are dropped without a Result.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// admit moves pending tasks into the running set until the ceiling is
// reached or the queue is empty. Callers must hold p.mu.
func (p *Processor) admit() {
	if p.closed {
		return
	}
	for p.running < p.limit {
		t, ok := p.pending.Pop()
		if !ok {
			return
		}
		p.running++
		testTaskAdmitted(t)
		p.wg.Add(1)
		go p.run(t)
	}
}

func (p *Processor) run(t domain.Task) {
	defer p.wg.Done()

	p.mu.Lock()
	h := p.handlers[t.Kind]
	p.mu.Unlock()

	if h == nil {
		// Retrying an unknown kind cannot succeed, so fail immediately.
		p.release()
		p.finalize(domain.Result{
			TaskID:     t.ID,
			Error:      fmt.Sprintf("unknown task kind %q", t.Kind),
			FinishedAt: time.Now(),
		})
		return
	}

	p.log.Debug().Str("task_id", t.ID).Str("kind", t.Kind).Msg("task started")
	data, err := p.invoke(h, t)
	p.release()
	if err != nil {
		p.retryOrFail(t, err)
		return
	}
	p.finalize(domain.Result{
		TaskID:     t.ID,
		Success:    true,
		Data:       data,
		FinishedAt: time.Now(),
	})
}

// invoke runs the handler, converting a panic into a handler failure so it
// flows through the normal retry path.
func (p *Processor) invoke(h Handler, t domain.Task) (data json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(p.ctx, t.Payload)
}

// release frees the running slot and refills free slots from the queue.
func (p *Processor) release() {
	p.mu.Lock()
	p.running--
	p.admit()
	p.mu.Unlock()
}

// retryOrFail re-queues a failed task after its backoff delay, or finalizes
// it once the retry budget is spent. A task waiting out its backoff holds no
// running slot.
func (p *Processor) retryOrFail(t domain.Task, cause error) {
	if t.RetryCount >= t.MaxRetries {
		p.log.Error().
			Str("task_id", t.ID).
			Str("kind", t.Kind).
			Int("attempts", t.RetryCount+1).
			Err(cause).
			Msg("task failed permanently")
		p.finalize(domain.Result{
			TaskID:     t.ID,
			Error:      fmt.Sprintf("retries exhausted after %d attempts: %v", t.RetryCount+1, cause),
			FinishedAt: time.Now(),
		})
		return
	}

	t.RetryCount++
	delay := p.baseDelay << t.RetryCount // 2^retryCount * base
	p.log.Warn().
		Str("task_id", t.ID).
		Str("kind", t.Kind).
		Int("retry", t.RetryCount).
		Int("max_retries", t.MaxRetries).
		Dur("delay", delay).
		Err(cause).
		Msg("task failed, retry scheduled")

	time.AfterFunc(delay, func() {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		// Re-enters the back of its priority tier, not its original slot.
		p.pending.Push(t)
		p.admit()
		p.mu.Unlock()
	})
}

// finalize stores the Result, wakes waiters, and notifies hooks. The first
// Result for a task id wins; later writes for the same id are ignored.
func (p *Processor) finalize(res domain.Result) {
	p.mu.Lock()
	if _, dup := p.results[res.TaskID]; !dup {
		p.results[res.TaskID] = res
		p.resultOrder = append(p.resultOrder, res.TaskID)
	}
	if w, ok := p.waiters[res.TaskID]; ok {
		w.res = res
		close(w.done)
		delete(p.waiters, res.TaskID)
	}
	hooks := p.hooks
	p.mu.Unlock()

	p.log.Info().
		Str("task_id", res.TaskID).
		Bool("success", res.Success).
		Msg("task finished")
	for _, fn := range hooks {
		fn(res)
	}
}
