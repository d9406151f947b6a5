package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dadanisme/shule/core"
)

// Dispatcher fans every incoming Event out to all matching bindings.
//
// Each matched handler runs as an independent, stateless task; nothing is
// serialized per path, so two events for the same document may be handled
// concurrently or out of order. Failed handlers are retried with a fixed
// backoff up to MaxAttempts, giving at-least-once execution. Correctness
// therefore rests on handlers recomputing from stored source data, not on
// delivery order.
type Dispatcher struct {
	logger      core.Logger
	maxAttempts int
	backoff     time.Duration

	mu       sync.Mutex
	bindings []Binding
	wg       sync.WaitGroup
}

func NewDispatcher(logger core.Logger, conf core.AggregatorConfig) *Dispatcher {
	maxAttempts := conf.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{
		logger:      logger,
		maxAttempts: maxAttempts,
		backoff:     conf.RetryBackoff,
	}
}

func (d *Dispatcher) Register(bindings ...Binding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings = append(d.bindings, bindings...)
}

// Run consumes src until its channel closes or ctx is done, then waits for
// in-flight handlers.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	events, err := src.Events(ctx)
	if err != nil {
		return errors.Wrap(err, "opening event source")
	}
	for evt := range events {
		d.Dispatch(ctx, evt)
	}
	d.wg.Wait()
	return nil
}

// Dispatch launches every matching binding for evt and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) {
	d.mu.Lock()
	bindings := d.bindings
	d.mu.Unlock()

	for _, b := range bindings {
		if !b.On.matches(evt.Kind) {
			continue
		}
		params, ok := b.Pattern.Match(evt.Path)
		if !ok {
			continue
		}
		d.wg.Add(1)
		go d.invoke(ctx, b, evt, params)
	}
}

// Wait blocks until all in-flight handlers have returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) invoke(ctx context.Context, b Binding, evt Event, params Params) {
	defer d.wg.Done()

	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err = b.Handle(ctx, evt, params); err == nil {
			return
		}
		d.logger.Error("handler failed",
			errors.Wrapf(err, "%s: %s %s (attempt %d/%d)", b.Name, evt.Kind, evt.Path, attempt, d.maxAttempts))

		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.backoff):
		}
	}
	// At-least-once means a lost delivery stays lost until the next write to
	// the same path re-triggers the recompute; that self-heal is by contract.
	d.logger.Warn("handler retries exhausted", b.Name, evt.Path)
}
