// Package nodepool creates, deletes, resizes and swaps GKE node pools.
package nodepool

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/container/apiv1/containerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"

	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/kube"
	"github.com/jlevesy/chaosgcp/operation"
)

// ClusterManager is the subset of the GKE cluster manager client used by Actions.
type ClusterManager interface {
	operation.ContainerOperations

	CreateNodePool(ctx context.Context, req *containerpb.CreateNodePoolRequest, opts ...gax.CallOption) (*containerpb.Operation, error)
	DeleteNodePool(ctx context.Context, req *containerpb.DeleteNodePoolRequest, opts ...gax.CallOption) (*containerpb.Operation, error)
	SetNodePoolSize(ctx context.Context, req *containerpb.SetNodePoolSizeRequest, opts ...gax.CallOption) (*containerpb.Operation, error)
	RollbackNodePoolUpgrade(ctx context.Context, req *containerpb.RollbackNodePoolUpgradeRequest, opts ...gax.CallOption) (*containerpb.Operation, error)
	ListNodePools(ctx context.Context, req *containerpb.ListNodePoolsRequest, opts ...gax.CallOption) (*containerpb.ListNodePoolsResponse, error)
	GetNodePool(ctx context.Context, req *containerpb.GetNodePoolRequest, opts ...gax.CallOption) (*containerpb.NodePool, error)
}

// Drainer empties the nodes matched by a label selector.
type Drainer interface {
	Drain(ctx context.Context, opts kube.DrainOptions) ([]string, error)
}

type Option func(a *Actions)

func WithDrainer(d Drainer) Option {
	return func(a *Actions) {
		a.drainer = d
	}
}

// WithWaitOptions tunes how operations are awaited.
func WithWaitOptions(opts ...operation.Option) Option {
	return func(a *Actions) {
		a.waitOpts = append(a.waitOpts, opts...)
	}
}

type Actions struct {
	client   ClusterManager
	waiter   *operation.Waiter
	gctx     gcp.Context
	drainer  Drainer
	waitOpts []operation.Option
	logger   *zap.Logger
}

func NewActions(client ClusterManager, waiter *operation.Waiter, gctx gcp.Context, logger *zap.Logger, opts ...Option) *Actions {
	a := Actions{
		client: client,
		waiter: waiter,
		gctx:   gctx,
		logger: logger.With(zap.String("component", "nodepool_actions")),
	}

	for _, opt := range opts {
		opt(&a)
	}

	return &a
}

// Create creates a node pool described by body in the cluster parent.
func (a *Actions) Create(ctx context.Context, parent string, body map[string]any, wait bool) (*containerpb.Operation, error) {
	parent, err := a.gctx.ResolveParent(parent, "")
	if err != nil {
		return nil, err
	}

	np, err := DecodeNodePool(body)
	if err != nil {
		return nil, err
	}

	op, err := a.client.CreateNodePool(ctx, &containerpb.CreateNodePoolRequest{Parent: parent, NodePool: np})
	if err != nil {
		return nil, fmt.Errorf("creating node pool %s in %s: %w", np.GetName(), parent, err)
	}

	a.logger.Info("Node pool creation started", zap.String("parent", parent), zap.String("node_pool", np.GetName()))

	return a.maybeWait(ctx, parent, op, wait)
}

// Delete deletes a node pool. parent is either the node pool path, or empty
// in which case the path is built from the context and nodePoolID.
func (a *Actions) Delete(ctx context.Context, parent, nodePoolID string, wait bool) (*containerpb.Operation, error) {
	name, err := a.gctx.ResolveParent(parent, nodePoolID)
	if err != nil {
		return nil, err
	}

	op, err := a.client.DeleteNodePool(ctx, &containerpb.DeleteNodePoolRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("deleting node pool %s: %w", name, err)
	}

	a.logger.Info("Node pool deletion started", zap.String("node_pool", name))

	return a.maybeWait(ctx, name, op, wait)
}

// Resize sets the node count of a node pool.
func (a *Actions) Resize(ctx context.Context, parent, nodePoolID string, size int32, wait bool) (*containerpb.Operation, error) {
	if parent == "" && nodePoolID == "" {
		return nil, gcp.ActivityFailed("you must pass `node_pool_id` or `parent`")
	}

	name, err := a.gctx.ResolveParent(parent, nodePoolID)
	if err != nil {
		return nil, err
	}

	op, err := a.client.SetNodePoolSize(ctx, &containerpb.SetNodePoolSizeRequest{Name: name, NodeCount: size})
	if err != nil {
		return nil, fmt.Errorf("resizing node pool %s: %w", name, err)
	}

	a.logger.Info("Node pool resize started", zap.String("node_pool", name), zap.Int32("size", size))

	return a.maybeWait(ctx, name, op, wait)
}

// Rollback rolls back an aborted or failed node pool upgrade.
func (a *Actions) Rollback(ctx context.Context, parent, nodePoolID string, wait bool) (*containerpb.Operation, error) {
	name, err := a.gctx.ResolveParent(parent, nodePoolID)
	if err != nil {
		return nil, err
	}

	op, err := a.client.RollbackNodePoolUpgrade(ctx, &containerpb.RollbackNodePoolUpgradeRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("rolling back node pool %s: %w", name, err)
	}

	a.logger.Info("Node pool rollback started", zap.String("node_pool", name))

	return a.maybeWait(ctx, name, op, wait)
}

// SwapRequest describes a node pool swap.
type SwapRequest struct {
	// Parent is the cluster path, built from the context when empty.
	Parent        string
	OldNodePoolID string
	NewNodePool   map[string]any
	DeleteOld     bool
	DrainTimeout  time.Duration
	Wait          bool
}

// Swap creates a new node pool, then drains the old one so its pods are
// rescheduled on the new pool. The old pool is left cordoned unless
// DeleteOld is set.
func (a *Actions) Swap(ctx context.Context, req SwapRequest) (*containerpb.Operation, error) {
	if a.drainer == nil {
		return nil, gcp.ActivityFailed("swapping node pools requires access to the kubernetes cluster")
	}

	if req.OldNodePoolID == "" {
		return nil, gcp.ActivityFailed("you must pass the `old_node_pool_id` to swap")
	}

	parent, err := a.gctx.ResolveParent(req.Parent, "")
	if err != nil {
		return nil, err
	}

	created, err := a.Create(ctx, parent, req.NewNodePool, req.Wait)
	if err != nil {
		return nil, err
	}

	drainTimeout := req.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = kube.DefaultDrainTimeout
	}

	if _, err := a.drainer.Drain(
		ctx,
		kube.DrainOptions{
			LabelSelector: kube.NodePoolSelector(req.OldNodePoolID),
			Timeout:       drainTimeout,
		},
	); err != nil {
		return nil, fmt.Errorf("draining node pool %s: %w", req.OldNodePoolID, err)
	}

	a.logger.Info("Old node pool drained", zap.String("node_pool", req.OldNodePoolID))

	if req.DeleteOld {
		if _, err := a.Delete(ctx, parent+"/nodePools/"+req.OldNodePoolID, "", req.Wait); err != nil {
			return nil, err
		}
	}

	return created, nil
}

// List returns the node pools of a cluster.
func (a *Actions) List(ctx context.Context, parent string) ([]*containerpb.NodePool, error) {
	parent, err := a.gctx.ResolveParent(parent, "")
	if err != nil {
		return nil, err
	}

	resp, err := a.client.ListNodePools(ctx, &containerpb.ListNodePoolsRequest{Parent: parent})
	if err != nil {
		return nil, fmt.Errorf("listing node pools of %s: %w", parent, err)
	}

	return resp.GetNodePools(), nil
}

func (a *Actions) Get(ctx context.Context, parent, nodePoolID string) (*containerpb.NodePool, error) {
	name, err := a.gctx.ResolveParent(parent, nodePoolID)
	if err != nil {
		return nil, err
	}

	np, err := a.client.GetNodePool(ctx, &containerpb.GetNodePoolRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("getting node pool %s: %w", name, err)
	}

	return np, nil
}

func (a *Actions) maybeWait(ctx context.Context, path string, op *containerpb.Operation, wait bool) (*containerpb.Operation, error) {
	if !wait {
		return op, nil
	}

	// Operations live in the location of the resource they act on.
	gctx, err := gcp.ContextFromParentPath(path)
	if err != nil {
		return nil, err
	}

	return operation.WaitContainer(ctx, a.waiter, a.client, gctx, op, a.waitOpts...)
}
