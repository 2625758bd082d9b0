package operation

import (
	"context"

	"cloud.google.com/go/container/apiv1/containerpb"
	"github.com/googleapis/gax-go/v2"

	"github.com/jlevesy/chaosgcp/gcp"
)

// ContainerOperations is the subset of the GKE cluster manager used to follow an operation.
type ContainerOperations interface {
	GetOperation(ctx context.Context, req *containerpb.GetOperationRequest, opts ...gax.CallOption) (*containerpb.Operation, error)
	CancelOperation(ctx context.Context, req *containerpb.CancelOperationRequest, opts ...gax.CallOption) error
}

// WaitContainer waits on a GKE operation. Once the timeout elapsed it fails
// with ErrTimeout, the operation keeps running on GKE side.
func WaitContainer(
	ctx context.Context,
	w *Waiter,
	client ContainerOperations,
	gctx gcp.Context,
	op *containerpb.Operation,
	opts ...Option,
) (*containerpb.Operation, error) {
	name := gctx.OperationName(op.GetName())

	snapshot, _, err := Wait(
		ctx,
		w,
		Handle[*containerpb.Operation]{
			Kind: KindContainer,
			Name: name,
			Poll: func(ctx context.Context) (*containerpb.Operation, error) {
				return client.GetOperation(ctx, &containerpb.GetOperationRequest{Name: name})
			},
			IsDone: func(op *containerpb.Operation) bool {
				return op.GetStatus() == containerpb.Operation_DONE
			},
			Cancel: func(ctx context.Context) error {
				return client.CancelOperation(ctx, &containerpb.CancelOperationRequest{Name: name})
			},
		},
		buildOptions(Options{OnTimeout: FailOnTimeout}, opts),
	)

	return snapshot, err
}
