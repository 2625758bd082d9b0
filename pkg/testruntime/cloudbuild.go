package testruntime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	cloudbuild "cloud.google.com/go/cloudbuild/apiv1/v2"
	"cloud.google.com/go/cloudbuild/apiv1/v2/cloudbuildpb"
	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// FakeCloudBuild runs the triggers it knows about by starting fake builds.
type FakeCloudBuild struct {
	cloudbuildpb.UnimplementedCloudBuildServer

	Operations *FakeOperations

	mu       sync.Mutex
	triggers map[string]*cloudbuildpb.BuildTrigger
	runs     []*cloudbuildpb.RunBuildTriggerRequest
	parents  []string
	conn     *grpc.ClientConn
}

func StartFakeCloudBuild(t *testing.T, pollsBeforeDone int, triggers ...string) (*FakeCloudBuild, *cloudbuild.Client) {
	t.Helper()

	fake := FakeCloudBuild{triggers: make(map[string]*cloudbuildpb.BuildTrigger)}
	for _, trigger := range triggers {
		fake.triggers[trigger] = &cloudbuildpb.BuildTrigger{
			Id:   trigger,
			Name: trigger,
		}
	}

	ops, conn := ServeWithOperations(t, pollsBeforeDone, func(srv *grpc.Server) {
		cloudbuildpb.RegisterCloudBuildServer(srv, &fake)
	})

	fake.Operations = ops
	fake.conn = conn

	client, err := cloudbuild.NewClient(context.Background(), fake.ClientOptions()...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return &fake, client
}

// ClientOptions points any Cloud Build client to the fake.
func (f *FakeCloudBuild) ClientOptions() []option.ClientOption {
	return []option.ClientOption{option.WithGRPCConn(f.conn)}
}

func (f *FakeCloudBuild) Runs() []*cloudbuildpb.RunBuildTriggerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*cloudbuildpb.RunBuildTriggerRequest(nil), f.runs...)
}

func (f *FakeCloudBuild) RunBuildTrigger(_ context.Context, req *cloudbuildpb.RunBuildTriggerRequest) (*longrunningpb.Operation, error) {
	f.mu.Lock()

	if _, ok := f.triggers[req.GetTriggerId()]; !ok {
		f.mu.Unlock()
		return nil, status.Errorf(codes.NotFound, "trigger %s not found", req.GetTriggerId())
	}

	f.runs = append(f.runs, proto.Clone(req).(*cloudbuildpb.RunBuildTriggerRequest))
	id := fmt.Sprintf("build-%d", len(f.runs))

	f.mu.Unlock()

	queued := cloudbuildpb.Build{
		Id:             id,
		ProjectId:      req.GetProjectId(),
		BuildTriggerId: req.GetTriggerId(),
		Status:         cloudbuildpb.Build_QUEUED,
	}

	done := proto.Clone(&queued).(*cloudbuildpb.Build)
	done.Status = cloudbuildpb.Build_SUCCESS

	return f.Operations.Start("build", done, &cloudbuildpb.BuildOperationMetadata{Build: &queued})
}

// ListParents returns the parent of every list request received.
func (f *FakeCloudBuild) ListParents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.parents...)
}

func (f *FakeCloudBuild) ListBuildTriggers(_ context.Context, req *cloudbuildpb.ListBuildTriggersRequest) (*cloudbuildpb.ListBuildTriggersResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.parents = append(f.parents, req.GetParent())

	var resp cloudbuildpb.ListBuildTriggersResponse

	for _, id := range SortedKeys(f.triggers) {
		resp.Triggers = append(resp.Triggers, f.triggers[id])
	}

	return &resp, nil
}

func (f *FakeCloudBuild) GetBuildTrigger(_ context.Context, req *cloudbuildpb.GetBuildTriggerRequest) (*cloudbuildpb.BuildTrigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	trigger, ok := f.triggers[req.GetTriggerId()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "trigger %s not found", req.GetTriggerId())
	}

	return trigger, nil
}
