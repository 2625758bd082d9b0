package testruntime

import (
	"context"
	"sync"
	"testing"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeRun is an in memory Cloud Run services and revisions API.
type FakeRun struct {
	runpb.UnimplementedServicesServer

	Operations *FakeOperations

	mu        sync.Mutex
	services  map[string]*runpb.Service
	revisions *fakeRevisions
	conn      *grpc.ClientConn
}

type fakeRevisions struct {
	runpb.UnimplementedRevisionsServer

	mu        sync.Mutex
	revisions map[string]*runpb.Revision
}

func StartFakeRun(t *testing.T, pollsBeforeDone int) (*FakeRun, *run.ServicesClient) {
	t.Helper()

	fake := FakeRun{
		services:  make(map[string]*runpb.Service),
		revisions: &fakeRevisions{revisions: make(map[string]*runpb.Revision)},
	}

	ops, conn := ServeWithOperations(t, pollsBeforeDone, func(srv *grpc.Server) {
		runpb.RegisterServicesServer(srv, &fake)
		runpb.RegisterRevisionsServer(srv, fake.revisions)
	})

	fake.Operations = ops
	fake.conn = conn

	client, err := run.NewServicesClient(context.Background(), fake.ClientOptions()...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return &fake, client
}

// ClientOptions points any Cloud Run client to the fake.
func (f *FakeRun) ClientOptions() []option.ClientOption {
	return []option.ClientOption{option.WithGRPCConn(f.conn)}
}

// RevisionsClient returns a revisions client talking to the fake.
func (f *FakeRun) RevisionsClient(t *testing.T) *run.RevisionsClient {
	t.Helper()

	client, err := run.NewRevisionsClient(context.Background(), f.ClientOptions()...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func (f *FakeRun) AddRevision(rev *runpb.Revision) {
	f.revisions.mu.Lock()
	defer f.revisions.mu.Unlock()

	f.revisions.revisions[rev.GetName()] = proto.Clone(rev).(*runpb.Revision)
}

func (f *FakeRun) AddService(svc *runpb.Service) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.services[svc.GetName()] = proto.Clone(svc).(*runpb.Service)
}

func (f *FakeRun) Service(name string) *runpb.Service {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.services[name]
}

func (f *FakeRun) GetService(_ context.Context, req *runpb.GetServiceRequest) (*runpb.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	svc, ok := f.services[req.GetName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "service %s not found", req.GetName())
	}

	return svc, nil
}

func (f *FakeRun) ListServices(_ context.Context, req *runpb.ListServicesRequest) (*runpb.ListServicesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp runpb.ListServicesResponse

	for _, name := range SortedKeys(f.services) {
		if hasParent(name, req.GetParent(), "services") {
			resp.Services = append(resp.Services, f.services[name])
		}
	}

	return &resp, nil
}

func (f *FakeRun) CreateService(_ context.Context, req *runpb.CreateServiceRequest) (*longrunningpb.Operation, error) {
	f.mu.Lock()

	name := req.GetParent() + "/services/" + req.GetServiceId()
	if _, ok := f.services[name]; ok {
		f.mu.Unlock()
		return nil, status.Errorf(codes.AlreadyExists, "service %s already exists", name)
	}

	svc := proto.Clone(req.GetService()).(*runpb.Service)
	svc.Name = name
	svc.CreateTime = timestamppb.Now()
	f.services[name] = svc

	f.mu.Unlock()

	return f.Operations.Start("create", svc, nil)
}

func (f *FakeRun) UpdateService(_ context.Context, req *runpb.UpdateServiceRequest) (*longrunningpb.Operation, error) {
	f.mu.Lock()

	name := req.GetService().GetName()
	if _, ok := f.services[name]; !ok {
		f.mu.Unlock()
		return nil, status.Errorf(codes.NotFound, "service %s not found", name)
	}

	svc := proto.Clone(req.GetService()).(*runpb.Service)
	svc.UpdateTime = timestamppb.Now()
	f.services[name] = svc

	f.mu.Unlock()

	return f.Operations.Start("update", svc, nil)
}

func (f *FakeRun) DeleteService(_ context.Context, req *runpb.DeleteServiceRequest) (*longrunningpb.Operation, error) {
	f.mu.Lock()

	svc, ok := f.services[req.GetName()]
	if !ok {
		f.mu.Unlock()
		return nil, status.Errorf(codes.NotFound, "service %s not found", req.GetName())
	}

	delete(f.services, req.GetName())

	f.mu.Unlock()

	return f.Operations.Start("delete", svc, nil)
}

func (f *fakeRevisions) ListRevisions(_ context.Context, req *runpb.ListRevisionsRequest) (*runpb.ListRevisionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp runpb.ListRevisionsResponse

	for _, name := range SortedKeys(f.revisions) {
		if hasParent(name, req.GetParent(), "revisions") {
			resp.Revisions = append(resp.Revisions, f.revisions[name])
		}
	}

	return &resp, nil
}
