package operation

import (
	"context"
	"time"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/googleapis/gax-go/v2"
)

const DefaultExtendedTimeout = 60 * time.Second

// ExtendedOperation is an operation handle able to refresh its own state.
type ExtendedOperation interface {
	Name() string
	Done() bool
	Poll(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// WaitExtended waits on op and reports whether it completed. By default it
// gives up after a minute, requests the cancellation of the operation and
// returns without error.
func WaitExtended(ctx context.Context, w *Waiter, op ExtendedOperation, opts ...Option) (bool, error) {
	_, done, err := Wait(
		ctx,
		w,
		Handle[bool]{
			Kind: KindExtended,
			Name: op.Name(),
			Poll: func(ctx context.Context) (bool, error) {
				if op.Done() {
					return true, nil
				}

				if err := op.Poll(ctx); err != nil {
					return false, err
				}

				return op.Done(), nil
			},
			IsDone: func(done bool) bool {
				return done
			},
			Cancel: op.Cancel,
		},
		buildOptions(
			Options{
				Frequency: DefaultFrequency,
				Timeout:   DefaultExtendedTimeout,
				OnTimeout: CancelOnTimeout,
			},
			opts,
		),
	)

	return done, err
}

type computeOperation struct {
	op *compute.Operation
}

// FromCompute adapts an operation returned by the compute clients.
// Compute operations can't be cancelled.
func FromCompute(op *compute.Operation) ExtendedOperation {
	return &computeOperation{op: op}
}

func (c *computeOperation) Name() string {
	return c.op.Name()
}

func (c *computeOperation) Done() bool {
	return c.op.Done()
}

func (c *computeOperation) Poll(ctx context.Context) error {
	return c.op.Poll(ctx)
}

func (c *computeOperation) Cancel(context.Context) error {
	return ErrCancelUnsupported
}

type longRunningOperation[R any] interface {
	Name() string
	Done() bool
	Poll(ctx context.Context, opts ...gax.CallOption) (R, error)
}

// OperationCanceller cancels google.longrunning operations, the LROClient of
// every generated client implements it.
type OperationCanceller interface {
	CancelOperation(ctx context.Context, req *longrunningpb.CancelOperationRequest, opts ...gax.CallOption) error
}

// LongRunning adapts the typed operations returned by the generated clients
// (Cloud Run, Cloud Build...).
type LongRunning[R any] struct {
	op        longRunningOperation[R]
	canceller OperationCanceller
}

func FromLongRunning[R any](op longRunningOperation[R], canceller OperationCanceller) *LongRunning[R] {
	return &LongRunning[R]{op: op, canceller: canceller}
}

func (l *LongRunning[R]) Name() string {
	return l.op.Name()
}

func (l *LongRunning[R]) Done() bool {
	return l.op.Done()
}

func (l *LongRunning[R]) Poll(ctx context.Context) error {
	_, err := l.op.Poll(ctx)
	return err
}

func (l *LongRunning[R]) Cancel(ctx context.Context) error {
	if l.canceller == nil {
		return ErrCancelUnsupported
	}

	return l.canceller.CancelOperation(ctx, &longrunningpb.CancelOperationRequest{Name: l.op.Name()})
}

// Result returns the operation result. Once the operation is done it is
// served from the last poll, otherwise the zero value is returned.
func (l *LongRunning[R]) Result(ctx context.Context) (R, error) {
	if !l.op.Done() {
		var zero R
		return zero, nil
	}

	return l.op.Poll(ctx)
}
