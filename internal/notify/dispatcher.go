package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	// Workers is the number of concurrent sends.
	Workers int
	// QueueSize is how many messages may wait for a free worker.
	QueueSize int
	// Timeout bounds a single send, independent of the caller's context.
	Timeout time.Duration
}

// DefaultDispatcherConfig suits a single small instance.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:   4,
		QueueSize: 64,
		Timeout:   20 * time.Second,
	}
}

type job struct {
	ctx    context.Context
	msg    Message
	result chan error
}

// Dispatcher runs sends on a fixed set of worker goroutines. It is itself
// a Gateway: Send queues the message and waits for the worker's result.
type Dispatcher struct {
	next      Gateway
	config    DispatcherConfig
	logger    *slog.Logger
	jobs      chan job
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex // guards stopped; held for reading while enqueueing
	stopped   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

var _ Gateway = (*Dispatcher)(nil)

func NewDispatcher(next Gateway, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Dispatcher{
		next:   next,
		config: cfg,
		logger: logger,
		jobs:   make(chan job, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the workers. Calling it again is a no-op.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.logger.Info("starting mail dispatcher", slog.Int("workers", d.config.Workers))
		for i := 0; i < d.config.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Stop lets in-flight sends finish, fails anything still queued with
// ErrStopped and waits for every worker to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("shutting down mail dispatcher")
		d.mu.Lock()
		d.stopped = true
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()

		for {
			select {
			case j := <-d.jobs:
				j.result <- ErrStopped
			default:
				return
			}
		}
	})
}

// Send blocks until a worker has attempted delivery, the dispatcher is
// stopped, or ctx is done.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	j := job{ctx: ctx, msg: msg, result: make(chan error, 1)}

	if err := d.enqueue(ctx, j); err != nil {
		return err
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		// The worker still finishes the attempt; its result goes to the
		// buffered channel and is dropped.
		return ctx.Err()
	}
}

// enqueue holds the read lock so Stop cannot drain the queue between the
// stopped check and the send; every queued job is answered.
func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}
	select {
	case d.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case j := <-d.jobs:
			j.result <- d.deliver(j)
		}
	}
}

func (d *Dispatcher) deliver(j job) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}

	// Detach from the request's cancellation so a client disconnect does
	// not abort an SMTP conversation halfway, but keep its values.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), d.config.Timeout)
	defer cancel()

	start := time.Now()
	err := d.next.Send(ctx, j.msg)
	if err != nil {
		d.logger.WarnContext(ctx, "mail delivery failed",
			slog.String("to", j.msg.To),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}
	d.logger.DebugContext(ctx, "mail delivered",
		slog.String("to", j.msg.To),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
