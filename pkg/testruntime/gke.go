package testruntime

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"

	container "cloud.google.com/go/container/apiv1"
	"cloud.google.com/go/container/apiv1/containerpb"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
)

// FakeClusterManager is an in memory GKE cluster manager. Every operation it
// starts completes after PollsBeforeDone calls to GetOperation, or never when
// PollsBeforeDone is negative.
type FakeClusterManager struct {
	containerpb.UnimplementedClusterManagerServer

	PollsBeforeDone int

	mu               sync.Mutex
	nodePools        map[string]*containerpb.NodePool
	operations       map[string]int
	operationCount   int
	polledOperations []string
	cancelled        []string
}

func NewFakeClusterManager(pollsBeforeDone int) *FakeClusterManager {
	return &FakeClusterManager{
		PollsBeforeDone: pollsBeforeDone,
		nodePools:       make(map[string]*containerpb.NodePool),
		operations:      make(map[string]int),
	}
}

// StartFakeClusterManager serves a FakeClusterManager over an in memory
// listener and returns a real client connected to it.
func StartFakeClusterManager(t *testing.T, pollsBeforeDone int) (*FakeClusterManager, *container.ClusterManagerClient) {
	t.Helper()

	fake := NewFakeClusterManager(pollsBeforeDone)

	conn := ServeGRPC(t, func(srv *grpc.Server) {
		containerpb.RegisterClusterManagerServer(srv, fake)
	})

	client, err := container.NewClusterManagerClient(context.Background(), option.WithGRPCConn(conn))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return fake, client
}

// AddNodePool registers a node pool under the cluster parent.
func (f *FakeClusterManager) AddNodePool(parent string, np *containerpb.NodePool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nodePools[parent+"/nodePools/"+np.GetName()] = proto.Clone(np).(*containerpb.NodePool)
}

// NodePool returns the node pool stored at name, or nil.
func (f *FakeClusterManager) NodePool(name string) *containerpb.NodePool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.nodePools[name]
}

// PolledOperations returns the operation names received by GetOperation.
func (f *FakeClusterManager) PolledOperations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.polledOperations...)
}

func (f *FakeClusterManager) CancelledOperations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.cancelled...)
}

func (f *FakeClusterManager) CreateNodePool(_ context.Context, req *containerpb.CreateNodePoolRequest) (*containerpb.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetParent() + "/nodePools/" + req.GetNodePool().GetName()
	if _, ok := f.nodePools[name]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "node pool %s already exists", name)
	}

	f.nodePools[name] = proto.Clone(req.GetNodePool()).(*containerpb.NodePool)

	return f.startOperation(containerpb.Operation_CREATE_NODE_POOL, name), nil
}

func (f *FakeClusterManager) DeleteNodePool(_ context.Context, req *containerpb.DeleteNodePoolRequest) (*containerpb.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.nodePools[req.GetName()]; !ok {
		return nil, status.Errorf(codes.NotFound, "node pool %s not found", req.GetName())
	}

	delete(f.nodePools, req.GetName())

	return f.startOperation(containerpb.Operation_DELETE_NODE_POOL, req.GetName()), nil
}

func (f *FakeClusterManager) SetNodePoolSize(_ context.Context, req *containerpb.SetNodePoolSizeRequest) (*containerpb.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	np, ok := f.nodePools[req.GetName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "node pool %s not found", req.GetName())
	}

	np.InitialNodeCount = req.GetNodeCount()

	return f.startOperation(containerpb.Operation_SET_NODE_POOL_SIZE, req.GetName()), nil
}

func (f *FakeClusterManager) RollbackNodePoolUpgrade(_ context.Context, req *containerpb.RollbackNodePoolUpgradeRequest) (*containerpb.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.nodePools[req.GetName()]; !ok {
		return nil, status.Errorf(codes.NotFound, "node pool %s not found", req.GetName())
	}

	return f.startOperation(containerpb.Operation_UPGRADE_NODES, req.GetName()), nil
}

func (f *FakeClusterManager) ListNodePools(_ context.Context, req *containerpb.ListNodePoolsRequest) (*containerpb.ListNodePoolsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp containerpb.ListNodePoolsResponse

	for name, np := range f.nodePools {
		if strings.HasPrefix(name, req.GetParent()+"/nodePools/") {
			resp.NodePools = append(resp.NodePools, np)
		}
	}

	return &resp, nil
}

func (f *FakeClusterManager) GetNodePool(_ context.Context, req *containerpb.GetNodePoolRequest) (*containerpb.NodePool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	np, ok := f.nodePools[req.GetName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "node pool %s not found", req.GetName())
	}

	return np, nil
}

func (f *FakeClusterManager) GetOperation(_ context.Context, req *containerpb.GetOperationRequest) (*containerpb.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polledOperations = append(f.polledOperations, req.GetName())

	opName := path.Base(req.GetName())

	remaining, ok := f.operations[opName]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "operation %s not found", opName)
	}

	op := containerpb.Operation{Name: opName, Status: containerpb.Operation_RUNNING}

	if remaining > 0 {
		remaining--
		f.operations[opName] = remaining
	}

	if remaining == 0 {
		op.Status = containerpb.Operation_DONE
	}

	return &op, nil
}

func (f *FakeClusterManager) CancelOperation(_ context.Context, req *containerpb.CancelOperationRequest) (*emptypb.Empty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, req.GetName())

	return &emptypb.Empty{}, nil
}

func (f *FakeClusterManager) startOperation(opType containerpb.Operation_Type, target string) *containerpb.Operation {
	f.operationCount++

	name := fmt.Sprintf("operation-%d", f.operationCount)
	f.operations[name] = f.PollsBeforeDone

	return &containerpb.Operation{
		Name:          name,
		OperationType: opType,
		Status:        containerpb.Operation_RUNNING,
		TargetLink:    target,
	}
}
