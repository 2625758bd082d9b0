package testruntime

import (
	"context"
	"sync"
	"testing"

	"cloud.google.com/go/logging/apiv2/loggingpb"
	"google.golang.org/grpc"
)

// FakeLogging answers log entries listings with a fixed set of entries and
// records the requests it received.
type FakeLogging struct {
	loggingpb.UnimplementedLoggingServiceV2Server

	mu       sync.Mutex
	entries  []*loggingpb.LogEntry
	requests []*loggingpb.ListLogEntriesRequest
}

// StartFakeLogging serves a FakeLogging and returns a connection to it.
func StartFakeLogging(t *testing.T, entries ...*loggingpb.LogEntry) (*FakeLogging, *grpc.ClientConn) {
	t.Helper()

	fake := FakeLogging{entries: entries}

	conn := ServeGRPC(t, func(srv *grpc.Server) {
		loggingpb.RegisterLoggingServiceV2Server(srv, &fake)
	})

	return &fake, conn
}

func (f *FakeLogging) Requests() []*loggingpb.ListLogEntriesRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*loggingpb.ListLogEntriesRequest(nil), f.requests...)
}

func (f *FakeLogging) ListLogEntries(_ context.Context, req *loggingpb.ListLogEntriesRequest) (*loggingpb.ListLogEntriesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	return &loggingpb.ListLogEntriesResponse{Entries: f.entries}, nil
}
