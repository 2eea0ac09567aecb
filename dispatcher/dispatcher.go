// Package dispatcher runs compute steps on a fixed pool of
// worker goroutines so that request handling goroutines only
// wait for results and never execute numeric work themselves.
//
// The dispatcher adds no ordering of its own. Concurrent
// training steps are made safe by the exclusive writes of the
// model store, not by queuing here.
package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/omlserver/oml/algorithm"
	"github.com/omlserver/oml/model"
	"github.com/omlserver/oml/utils/log"
	"github.com/omlserver/oml/utils/uuid"
	"go.uber.org/zap"
)

// Request is a single compute step to run
type Request struct {
	Store     *model.Store
	Algorithm algorithm.Algorithm
	Input     float64
	Kind      algorithm.Kind
}

// Outcome is the result of a successful step. Value is
// only meaningful for inference.
type Outcome struct {
	RequestID string
	Kind      algorithm.Kind
	Value     float64
	Duration  time.Duration
}

// Config contains configuration
// for a dispatcher
type Config struct {
	Logger *zap.Logger
	// Workers is the number of worker goroutines.
	// If <= 0, defaults to runtime.NumCPU().
	Workers int
	// QueueSize is the number of accepted requests that
	// may wait for a worker. If <= 0, defaults to Workers.
	QueueSize int
	// Metrics is optional
	Metrics *Metrics
}

type result struct {
	outcome Outcome
	err     error
}

type job struct {
	ctx     context.Context
	logger  *zap.Logger
	id      string
	request Request
	result  chan result
}

// Dispatcher executes compute steps on worker goroutines
type Dispatcher struct {
	logger  *zap.Logger
	metrics *Metrics
	workers int
	queue   chan *job
	done    chan struct{}
	wg      sync.WaitGroup
	senders sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
}

// New creates a dispatcher. Call Start before submitting.
func New(config Config) *Dispatcher {
	dispatcher := &Dispatcher{
		logger:  config.Logger,
		metrics: config.Metrics,
		workers: config.Workers,
	}

	if dispatcher.logger == nil {
		dispatcher.logger = zap.L()
	}

	if dispatcher.workers <= 0 {
		dispatcher.workers = runtime.NumCPU()
	}

	queueSize := config.QueueSize

	if queueSize <= 0 {
		queueSize = dispatcher.workers
	}

	dispatcher.queue = make(chan *job, queueSize)
	dispatcher.done = make(chan struct{})

	return dispatcher
}

// Workers returns the size of the worker pool
func (dispatcher *Dispatcher) Workers() int {
	return dispatcher.workers
}

// Start launches the worker goroutines. Calling Start more
// than once or after Stop has no effect.
func (dispatcher *Dispatcher) Start() {
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()

	if dispatcher.running || dispatcher.stopped {
		return
	}

	dispatcher.running = true

	for i := 0; i < dispatcher.workers; i++ {
		dispatcher.wg.Add(1)

		go dispatcher.processQueue()
	}

	dispatcher.logger.Info("dispatcher started", zap.Int("workers", dispatcher.workers), zap.Int("queue_size", cap(dispatcher.queue)))
}

// Stop stops accepting requests, lets the workers finish
// every request that was already accepted, then returns.
// Submissions still waiting for space in the queue fail
// with ErrStopped.
func (dispatcher *Dispatcher) Stop() {
	dispatcher.mu.Lock()

	if dispatcher.stopped {
		dispatcher.mu.Unlock()

		return
	}

	wasRunning := dispatcher.running
	dispatcher.running = false
	dispatcher.stopped = true
	close(dispatcher.done)
	dispatcher.mu.Unlock()

	// No sender can reach the queue once they are all gone
	dispatcher.senders.Wait()
	close(dispatcher.queue)

	if wasRunning {
		dispatcher.wg.Wait()
	}

	dispatcher.logger.Info("dispatcher stopped")
}

// Submit runs request on a worker and waits for its result.
//
// Step errors are returned unchanged. A panic on the worker is
// returned as a *WorkerFailure. If ctx ends first Submit returns
// an error matching ErrTimeout; a step that already started is
// not interrupted, and one that has not started yet is skipped.
func (dispatcher *Dispatcher) Submit(ctx context.Context, request Request) (Outcome, error) {
	if err := validate(request); err != nil {
		dispatcher.metrics.observeResult(request.Kind, err)

		return Outcome{}, err
	}

	j := &job{
		id:      uuid.MustUUID(),
		request: request,
		result:  make(chan result, 1),
	}
	// Frontends attach their own logger to the context
	j.logger, ctx = log.LoggerFromContext(ctx, dispatcher.logger)
	j.ctx = log.WithFields(ctx, zap.String("request_id", j.id), zap.Stringer("kind", request.Kind))

	logger := log.WithContext(j.ctx, j.logger).With(zap.String("operation", "Submit"))
	logger.Debug("start", zap.Float64("input", request.Input))

	outcome, err := dispatcher.submit(j)

	if err != nil {
		logger.Debug("error", zap.Error(err), zap.String("class", string(Classify(err))))
	} else {
		logger.Debug("return", zap.Float64("value", outcome.Value), zap.Duration("duration", outcome.Duration))
	}

	dispatcher.metrics.observeResult(request.Kind, err)

	return outcome, err
}

func (dispatcher *Dispatcher) submit(j *job) (Outcome, error) {
	if err := dispatcher.enqueue(j); err != nil {
		return Outcome{RequestID: j.id, Kind: j.request.Kind}, err
	}

	select {
	case r := <-j.result:
		return r.outcome, r.err
	case <-j.ctx.Done():
		return Outcome{RequestID: j.id, Kind: j.request.Kind}, timeoutError(j.ctx)
	}
}

func (dispatcher *Dispatcher) enqueue(j *job) error {
	dispatcher.mu.Lock()

	if !dispatcher.running {
		dispatcher.mu.Unlock()

		return ErrStopped
	}

	dispatcher.senders.Add(1)
	dispatcher.mu.Unlock()

	defer dispatcher.senders.Done()

	select {
	case dispatcher.queue <- j:
		return nil
	case <-dispatcher.done:
		return ErrStopped
	case <-j.ctx.Done():
		return timeoutError(j.ctx)
	}
}

func (dispatcher *Dispatcher) processQueue() {
	defer dispatcher.wg.Done()

	for j := range dispatcher.queue {
		dispatcher.process(j)
	}
}

func (dispatcher *Dispatcher) process(j *job) {
	logger := log.WithContext(j.ctx, j.logger).With(zap.String("operation", "process"))

	// Nobody is waiting for this result any more and the
	// step has not touched the store yet.
	if j.ctx.Err() != nil {
		logger.Debug("skipping abandoned request")
		j.result <- result{err: timeoutError(j.ctx)}

		return
	}

	dispatcher.metrics.observeStart()
	start := time.Now()
	outcome, err := dispatcher.execute(j)
	outcome.Duration = time.Since(start)
	dispatcher.metrics.observeEnd(j.request.Kind, outcome.Duration)

	if failure, ok := err.(*WorkerFailure); ok {
		logger.Error("worker failed", zap.Any("panic", failure.Panic), zap.ByteString("stack", failure.Stack))
	}

	j.result <- result{outcome: outcome, err: err}
}

func (dispatcher *Dispatcher) execute(j *job) (outcome Outcome, err error) {
	outcome = Outcome{RequestID: j.id, Kind: j.request.Kind}

	defer func() {
		if r := recover(); r != nil {
			err = &WorkerFailure{RequestID: j.id, Panic: r, Stack: debug.Stack()}
		}
	}()

	// The step must run to completion even if the caller
	// stops waiting, so it never sees the caller's cancellation.
	ctx := context.WithoutCancel(j.ctx)

	switch j.request.Kind {
	case algorithm.Train:
		err = j.request.Algorithm.TrainingStep(ctx, j.request.Store, j.request.Input)
	case algorithm.Infer:
		outcome.Value, err = j.request.Algorithm.InferenceStep(ctx, j.request.Store, j.request.Input)
	}

	return outcome, err
}

func validate(request Request) error {
	if request.Store == nil {
		return fmt.Errorf("%w: store is required", ErrInvalidRequest)
	}

	if request.Algorithm == nil {
		return fmt.Errorf("%w: algorithm is required", ErrInvalidRequest)
	}

	if request.Kind != algorithm.Train && request.Kind != algorithm.Infer {
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidRequest, request.Kind)
	}

	return nil
}

func timeoutError(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
}
