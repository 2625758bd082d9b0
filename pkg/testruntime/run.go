package testruntime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"
)

// FakeOperations tracks google.longrunning operations. An operation is done
// after PollsBeforeDone calls to GetOperation, or never when negative.
type FakeOperations struct {
	longrunningpb.UnimplementedOperationsServer

	PollsBeforeDone int

	mu        sync.Mutex
	count     int
	pending   map[string]int
	results   map[string]*anypb.Any
	metadata  map[string]*anypb.Any
	cancelled []string
}

func newFakeOperations(pollsBeforeDone int) *FakeOperations {
	return &FakeOperations{
		PollsBeforeDone: pollsBeforeDone,
		pending:         make(map[string]int),
		results:         make(map[string]*anypb.Any),
		metadata:        make(map[string]*anypb.Any),
	}
}

// Start registers a new operation resolving to result. metadata can be nil.
func (f *FakeOperations) Start(kind string, result, metadata proto.Message) (*longrunningpb.Operation, error) {
	packed, err := anypb.New(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	var packedMetadata *anypb.Any
	if metadata != nil {
		if packedMetadata, err = anypb.New(metadata); err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.count++

	name := fmt.Sprintf("operations/%s-%d", kind, f.count)
	f.pending[name] = f.PollsBeforeDone
	f.results[name] = packed
	f.metadata[name] = packedMetadata

	return f.snapshot(name), nil
}

func (f *FakeOperations) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.cancelled...)
}

func (f *FakeOperations) GetOperation(_ context.Context, req *longrunningpb.GetOperationRequest) (*longrunningpb.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	remaining, ok := f.pending[req.GetName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "operation %s not found", req.GetName())
	}

	if remaining > 0 {
		f.pending[req.GetName()] = remaining - 1
	}

	return f.snapshot(req.GetName()), nil
}

func (f *FakeOperations) CancelOperation(_ context.Context, req *longrunningpb.CancelOperationRequest) (*emptypb.Empty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, req.GetName())

	return &emptypb.Empty{}, nil
}

func (f *FakeOperations) snapshot(name string) *longrunningpb.Operation {
	op := longrunningpb.Operation{Name: name, Metadata: f.metadata[name]}

	if f.pending[name] == 0 {
		op.Done = true
		op.Result = &longrunningpb.Operation_Response{Response: f.results[name]}
	}

	return &op
}

// SortedKeys returns the keys of m in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// ServeWithOperations serves the services registered by register next to a
// FakeOperations server.
func ServeWithOperations(t *testing.T, pollsBeforeDone int, register func(srv *grpc.Server)) (*FakeOperations, *grpc.ClientConn) {
	t.Helper()

	ops := newFakeOperations(pollsBeforeDone)

	conn := ServeGRPC(t, func(srv *grpc.Server) {
		longrunningpb.RegisterOperationsServer(srv, ops)
		register(srv)
	})

	return ops, conn
}

// hasParent tells if name lives directly under parent/collection.
func hasParent(name, parent, collection string) bool {
	rest, ok := strings.CutPrefix(name, parent+"/"+collection+"/")
	return ok && !strings.Contains(rest, "/")
}
