package nodepool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/container/apiv1/containerpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/gke/nodepool"
	"github.com/jlevesy/chaosgcp/kube"
	"github.com/jlevesy/chaosgcp/operation"
	tr "github.com/jlevesy/chaosgcp/pkg/testruntime"
)

const clusterParent = "projects/my-project/locations/us-east1/clusters/demo"

var gctx = gcp.Context{ProjectID: "my-project", Region: "us-east1", ClusterName: "demo"}

type fakeDrainer struct {
	calls []kube.DrainOptions
	err   error
}

func (f *fakeDrainer) Drain(_ context.Context, opts kube.DrainOptions) ([]string, error) {
	f.calls = append(f.calls, opts)
	return nil, f.err
}

func newActions(t *testing.T, pollsBeforeDone int, opts ...nodepool.Option) (*nodepool.Actions, *tr.FakeClusterManager) {
	t.Helper()

	fake, client := tr.StartFakeClusterManager(t, pollsBeforeDone)
	logger := zaptest.NewLogger(t)
	waiter := operation.NewWaiter(logger, operation.WithClock(clocktesting.NewFakeClock(time.Now())))

	fake.AddNodePool(clusterParent, &containerpb.NodePool{Name: "default-pool", InitialNodeCount: 3})

	return nodepool.NewActions(client, waiter, gctx, logger, opts...), fake
}

func TestDecodeNodePool(t *testing.T) {
	for _, testCase := range []struct {
		desc string
		body map[string]any
	}{
		{
			desc: "camel case",
			body: map[string]any{
				"name":             "new-pool",
				"initialNodeCount": 2,
				"config":           map[string]any{"machineType": "e2-small"},
			},
		},
		{
			desc: "snake case",
			body: map[string]any{
				"name":               "new-pool",
				"initial_node_count": 2,
				"config":             map[string]any{"machine_type": "e2-small"},
			},
		},
		{
			desc: "legacy wrapper",
			body: map[string]any{
				"nodePool": map[string]any{
					"name":             "new-pool",
					"initialNodeCount": 2,
					"config":           map[string]any{"machineType": "e2-small"},
				},
			},
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			np, err := nodepool.DecodeNodePool(testCase.body)
			require.NoError(t, err)

			assert.Equal(t, "new-pool", np.GetName())
			assert.Equal(t, int32(2), np.GetInitialNodeCount())
			assert.Equal(t, "e2-small", np.GetConfig().GetMachineType())
		})
	}
}

func TestDecodeNodePool_UnknownField(t *testing.T) {
	_, err := nodepool.DecodeNodePool(map[string]any{"name": "pool", "nodeCuont": 2})
	require.Error(t, err)
}

func TestActions_Create(t *testing.T) {
	ctx := context.Background()
	actions, fake := newActions(t, 2)

	op, err := actions.Create(ctx, "", map[string]any{"name": "new-pool", "initialNodeCount": 1}, true)
	require.NoError(t, err)

	assert.Equal(t, containerpb.Operation_DONE, op.GetStatus())
	assert.NotNil(t, fake.NodePool(clusterParent+"/nodePools/new-pool"))
	assert.Equal(
		t,
		[]string{
			"projects/my-project/locations/us-east1/operations/operation-1",
			"projects/my-project/locations/us-east1/operations/operation-1",
		},
		fake.PolledOperations(),
	)
}

func TestActions_Create_NoWait(t *testing.T) {
	ctx := context.Background()
	actions, fake := newActions(t, -1)

	op, err := actions.Create(ctx, clusterParent, map[string]any{"name": "new-pool"}, false)
	require.NoError(t, err)

	assert.Equal(t, containerpb.Operation_RUNNING, op.GetStatus())
	assert.Empty(t, fake.PolledOperations())
}

func TestActions_Create_MissingParent(t *testing.T) {
	fake, client := tr.StartFakeClusterManager(t, 1)
	logger := zaptest.NewLogger(t)

	actions := nodepool.NewActions(client, operation.NewWaiter(logger), gcp.Context{ProjectID: "my-project"}, logger)

	_, err := actions.Create(context.Background(), "", map[string]any{"name": "new-pool"}, true)

	var failed gcp.ActivityFailed
	require.ErrorAs(t, err, &failed)
	assert.Nil(t, fake.NodePool(clusterParent+"/nodePools/new-pool"))
}

func TestActions_Resize(t *testing.T) {
	for _, testCase := range []struct {
		desc       string
		parent     string
		nodePoolID string
		wantErr    bool
	}{
		{
			desc:       "from node pool id",
			nodePoolID: "default-pool",
		},
		{
			desc:   "from parent",
			parent: clusterParent + "/nodePools/default-pool",
		},
		{
			desc:    "neither",
			wantErr: true,
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			actions, fake := newActions(t, 1)

			_, err := actions.Resize(context.Background(), testCase.parent, testCase.nodePoolID, 5, true)
			if testCase.wantErr {
				var failed gcp.ActivityFailed
				require.ErrorAs(t, err, &failed)
				assert.Equal(t, int32(3), fake.NodePool(clusterParent+"/nodePools/default-pool").GetInitialNodeCount())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, int32(5), fake.NodePool(clusterParent+"/nodePools/default-pool").GetInitialNodeCount())
		})
	}
}

func TestActions_DeleteAndRollback(t *testing.T) {
	ctx := context.Background()
	actions, fake := newActions(t, 1)

	_, err := actions.Rollback(ctx, "", "default-pool", true)
	require.NoError(t, err)

	_, err = actions.Delete(ctx, "", "default-pool", true)
	require.NoError(t, err)
	assert.Nil(t, fake.NodePool(clusterParent+"/nodePools/default-pool"))

	_, err = actions.Delete(ctx, "", "default-pool", true)
	require.Error(t, err)
	assert.True(t, gcp.IsNotFound(err))
}

func TestActions_ListAndGet(t *testing.T) {
	ctx := context.Background()
	actions, fake := newActions(t, 1)
	fake.AddNodePool(clusterParent, &containerpb.NodePool{Name: "other-pool"})

	pools, err := actions.List(ctx, "")
	require.NoError(t, err)

	var names []string
	for _, np := range pools {
		names = append(names, np.GetName())
	}

	assert.ElementsMatch(t, []string{"default-pool", "other-pool"}, names)

	np, err := actions.Get(ctx, "", "default-pool")
	require.NoError(t, err)
	assert.Equal(t, int32(3), np.GetInitialNodeCount())
}

func TestActions_Swap(t *testing.T) {
	for _, testCase := range []struct {
		desc          string
		deleteOld     bool
		drainErr      error
		wantErr       bool
		wantOldExists bool
	}{
		{
			desc:          "keeps the old pool cordoned",
			wantOldExists: true,
		},
		{
			desc:      "deletes the old pool",
			deleteOld: true,
		},
		{
			desc:          "drain failure",
			deleteOld:     true,
			drainErr:      errors.New("boom"),
			wantErr:       true,
			wantOldExists: true,
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			drainer := fakeDrainer{err: testCase.drainErr}
			actions, fake := newActions(t, 1, nodepool.WithDrainer(&drainer))

			_, err := actions.Swap(
				context.Background(),
				nodepool.SwapRequest{
					OldNodePoolID: "default-pool",
					NewNodePool:   map[string]any{"name": "new-pool"},
					DeleteOld:     testCase.deleteOld,
					Wait:          true,
				},
			)
			if testCase.wantErr {
				require.ErrorIs(t, err, testCase.drainErr)
			} else {
				require.NoError(t, err)
			}

			assert.NotNil(t, fake.NodePool(clusterParent+"/nodePools/new-pool"))
			assert.Equal(t, testCase.wantOldExists, fake.NodePool(clusterParent+"/nodePools/default-pool") != nil)
			assert.Equal(
				t,
				[]kube.DrainOptions{
					{LabelSelector: "cloud.google.com/gke-nodepool=default-pool", Timeout: kube.DefaultDrainTimeout},
				},
				drainer.calls,
			)
		})
	}
}

func TestActions_Swap_WithoutDrainer(t *testing.T) {
	actions, fake := newActions(t, 1)

	_, err := actions.Swap(
		context.Background(),
		nodepool.SwapRequest{OldNodePoolID: "default-pool", NewNodePool: map[string]any{"name": "new-pool"}},
	)

	var failed gcp.ActivityFailed
	require.ErrorAs(t, err, &failed)
	assert.Nil(t, fake.NodePool(clusterParent+"/nodePools/new-pool"))
}
