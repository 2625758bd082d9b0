package operation_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlevesy/chaosgcp/operation"
)

type fakeTypedOperation struct {
	name      string
	doneAfter int
	polls     int
}

func (f *fakeTypedOperation) Name() string { return f.name }

func (f *fakeTypedOperation) Done() bool { return f.doneAfter >= 0 && f.polls >= f.doneAfter }

func (f *fakeTypedOperation) Poll(context.Context, ...gax.CallOption) (*string, error) {
	f.polls++

	if !f.Done() {
		return nil, nil
	}

	result := "service-" + f.name

	return &result, nil
}

type fakeCanceller struct {
	cancelled []string
}

func (f *fakeCanceller) CancelOperation(_ context.Context, req *longrunningpb.CancelOperationRequest, _ ...gax.CallOption) error {
	f.cancelled = append(f.cancelled, req.GetName())
	return nil
}

func TestLongRunning(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		var (
			ctx       = context.Background()
			waiter, _ = newWaiter(t)
			typed     = fakeTypedOperation{name: "op-1", doneAfter: 2}
			lro       = operation.FromLongRunning[*string](&typed, &fakeCanceller{})
		)

		result, err := lro.Result(ctx)
		require.NoError(t, err)
		assert.Nil(t, result)

		done, err := operation.WaitExtended(ctx, waiter, lro)
		require.NoError(t, err)
		assert.True(t, done)

		result, err = lro.Result(ctx)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "service-op-1", *result)
	})

	t.Run("cancelled on timeout", func(t *testing.T) {
		var (
			ctx       = context.Background()
			waiter, _ = newWaiter(t)
			canceller fakeCanceller
			typed     = fakeTypedOperation{name: "projects/p/locations/l/operations/op-2", doneAfter: -1}
		)

		done, err := operation.WaitExtended(
			ctx,
			waiter,
			operation.FromLongRunning[*string](&typed, &canceller),
			operation.WithTimeout(2*time.Second),
		)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, []string{"projects/p/locations/l/operations/op-2"}, canceller.cancelled)
	})

	t.Run("no canceller", func(t *testing.T) {
		lro := operation.FromLongRunning[*string](&fakeTypedOperation{name: "op-3"}, nil)
		assert.ErrorIs(t, lro.Cancel(context.Background()), operation.ErrCancelUnsupported)
	})
}
