package operation

import "context"

// StatusDone is the status reported by a completed discovery API operation.
const StatusDone = "DONE"

// WaitDiscovery waits on an operation issued by a discovery based client
// (sqladmin, dns...). get fetches the operation, status extracts its status.
// It never times out unless told otherwise through WithTimeoutPolicy.
func WaitDiscovery[T any](
	ctx context.Context,
	w *Waiter,
	name string,
	get func(ctx context.Context) (T, error),
	status func(T) string,
	opts ...Option,
) (T, error) {
	snapshot, _, err := Wait(
		ctx,
		w,
		Handle[T]{
			Kind: KindDiscovery,
			Name: name,
			Poll: get,
			IsDone: func(s T) bool {
				return status(s) == StatusDone
			},
		},
		buildOptions(Options{OnTimeout: NoTimeout}, opts),
	)

	return snapshot, err
}
