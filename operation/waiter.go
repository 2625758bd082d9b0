// Package operation waits on the long running operations returned by GCP APIs.
//
// Three families of operations exist: discovery API operations exposing a
// status field, extended operations refreshing their own state, and GKE
// operations polled by name. They all go through the same poll loop, only
// their completion predicate and what happens on timeout differ.
package operation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/jlevesy/chaosgcp/metrics"
)

const (
	DefaultFrequency = time.Second

	KindDiscovery = "discovery"
	KindExtended  = "extended"
	KindContainer = "container"
)

var (
	ErrTimeout           = errors.New("operation failed in the given allowed timeout")
	ErrCancelUnsupported = errors.New("operation does not support cancellation")
)

// TimeoutPolicy decides what a wait does once its timeout elapsed.
type TimeoutPolicy uint8

const (
	// forces assignation of an explicit value when using this enumeration.
	timeoutPolicyUnknown TimeoutPolicy = iota
	// NoTimeout polls until the operation completes, the timeout is ignored.
	NoTimeout
	// CancelOnTimeout asks for the operation cancellation and returns without error.
	CancelOnTimeout
	// FailOnTimeout returns ErrTimeout, the operation is left running.
	FailOnTimeout
	// CancelAndFailOnTimeout asks for the operation cancellation and returns ErrTimeout.
	CancelAndFailOnTimeout
)

func (p TimeoutPolicy) String() string {
	switch p {
	case NoTimeout:
		return "none"
	case CancelOnTimeout:
		return "cancel"
	case FailOnTimeout:
		return "fail"
	case CancelAndFailOnTimeout:
		return "cancel_and_fail"
	default:
		return "unknown"
	}
}

// Options tune a single wait.
type Options struct {
	// Frequency is the pause between two polls.
	Frequency time.Duration
	// Timeout bounds the wait. Zero means unbounded.
	Timeout time.Duration
	// OnTimeout is applied when Timeout elapsed.
	OnTimeout TimeoutPolicy
}

type Option func(*Options)

func WithFrequency(d time.Duration) Option {
	return func(o *Options) {
		o.Frequency = d
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(o *Options) {
		o.OnTimeout = p
	}
}

func buildOptions(defaults Options, opts []Option) Options {
	o := defaults

	for _, opt := range opts {
		opt(&o)
	}

	if o.Frequency <= 0 {
		o.Frequency = DefaultFrequency
	}

	if o.OnTimeout == timeoutPolicyUnknown {
		o.OnTimeout = defaults.OnTimeout
	}

	return o
}

// Handle describes an operation to wait on.
type Handle[T any] struct {
	// Kind labels the operation family in logs and metrics.
	Kind string
	Name string
	// Poll fetches a fresh snapshot of the operation.
	Poll func(ctx context.Context) (T, error)
	// IsDone tells if a snapshot is terminal.
	IsDone func(T) bool
	// Cancel requests the operation cancellation. It can be nil.
	Cancel func(ctx context.Context) error
}

// Waiter runs poll loops.
type Waiter struct {
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type WaiterOption func(w *Waiter)

func WithClock(c clock.Clock) WaiterOption {
	return func(w *Waiter) {
		w.clock = c
	}
}

func WithMetrics(m *metrics.Metrics) WaiterOption {
	return func(w *Waiter) {
		w.metrics = m
	}
}

func NewWaiter(logger *zap.Logger, opts ...WaiterOption) *Waiter {
	w := Waiter{
		clock:  clock.RealClock{},
		logger: logger.With(zap.String("component", "operation_waiter")),
	}

	for _, opt := range opts {
		opt(&w)
	}

	return &w
}

// Wait polls h until it reports completion or the timeout elapses.
// It returns the last snapshot and whether the operation completed. Errors
// returned by Poll are handed back as is, the loop never retries them.
func Wait[T any](ctx context.Context, w *Waiter, h Handle[T], opts Options) (T, bool, error) {
	var (
		snapshot T
		err      error
		start    = w.clock.Now()
		logger   = w.logger.With(zap.String("operation", h.Name), zap.String("kind", h.Kind))
	)

	defer func() {
		w.metrics.ObserveWait(h.Kind, w.clock.Since(start))
	}()

	for attempt := 1; ; attempt++ {
		logger.Debug("Waiting for operation", zap.Int("attempt", attempt))

		w.metrics.ObservePoll(h.Kind)

		snapshot, err = h.Poll(ctx)
		if err != nil {
			return snapshot, false, err
		}

		if h.IsDone(snapshot) {
			logger.Debug("Operation is done", zap.Int("attempts", attempt))
			return snapshot, true, nil
		}

		if err := w.sleep(ctx, opts.Frequency); err != nil {
			return snapshot, false, err
		}

		if opts.OnTimeout == NoTimeout || opts.Timeout <= 0 || w.clock.Since(start) < opts.Timeout {
			continue
		}

		w.metrics.ObserveTimeout(h.Kind, opts.OnTimeout.String())

		logger.Info(
			"Operation timed out",
			zap.Duration("timeout", opts.Timeout),
			zap.Stringer("policy", opts.OnTimeout),
		)

		switch opts.OnTimeout {
		case CancelOnTimeout:
			if err := cancel(ctx, h); err != nil {
				logger.Info("Unable to cancel operation", zap.Error(err))
			}

			return snapshot, false, nil
		case CancelAndFailOnTimeout:
			if err := cancel(ctx, h); err != nil {
				return snapshot, false, errors.Join(ErrTimeout, err)
			}

			return snapshot, false, ErrTimeout
		default:
			return snapshot, false, ErrTimeout
		}
	}
}

func cancel[T any](ctx context.Context, h Handle[T]) error {
	if h.Cancel == nil {
		return ErrCancelUnsupported
	}

	return h.Cancel(ctx)
}

// sleep pauses for d, cancellation is observed between polls.
func (w *Waiter) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.clock.Sleep(d)

	return ctx.Err()
}
