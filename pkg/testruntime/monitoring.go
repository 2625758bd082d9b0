package testruntime

import (
	"context"
	"sync"
	"testing"

	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FakeMonitoring answers time series listings and MQL queries with fixed
// results, resolves the objectives it knows about and records the requests it
// received.
type FakeMonitoring struct {
	mu      sync.Mutex
	series  []*monitoringpb.TimeSeries
	data    []*monitoringpb.TimeSeriesData
	slos    map[string]*monitoringpb.ServiceLevelObjective
	lists   []*monitoringpb.ListTimeSeriesRequest
	queries []*monitoringpb.QueryTimeSeriesRequest
	conn    *grpc.ClientConn
}

type fakeMetricService struct {
	monitoringpb.UnimplementedMetricServiceServer

	fake *FakeMonitoring
}

type fakeQueryService struct {
	monitoringpb.UnimplementedQueryServiceServer

	fake *FakeMonitoring
}

type fakeServiceMonitoring struct {
	monitoringpb.UnimplementedServiceMonitoringServiceServer

	fake *FakeMonitoring
}

func StartFakeMonitoring(t *testing.T) *FakeMonitoring {
	t.Helper()

	fake := FakeMonitoring{slos: make(map[string]*monitoringpb.ServiceLevelObjective)}

	fake.conn = ServeGRPC(t, func(srv *grpc.Server) {
		monitoringpb.RegisterMetricServiceServer(srv, &fakeMetricService{fake: &fake})
		monitoringpb.RegisterQueryServiceServer(srv, &fakeQueryService{fake: &fake})
		monitoringpb.RegisterServiceMonitoringServiceServer(srv, &fakeServiceMonitoring{fake: &fake})
	})

	return &fake
}

// ClientOptions points any monitoring client to the fake.
func (f *FakeMonitoring) ClientOptions() []option.ClientOption {
	return []option.ClientOption{option.WithGRPCConn(f.conn)}
}

// SetTimeSeries sets the series returned by every listing.
func (f *FakeMonitoring) SetTimeSeries(series ...*monitoringpb.TimeSeries) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.series = series
}

// SetQueryResults sets the data returned by every MQL query.
func (f *FakeMonitoring) SetQueryResults(data ...*monitoringpb.TimeSeriesData) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.data = data
}

func (f *FakeMonitoring) AddSLO(slo *monitoringpb.ServiceLevelObjective) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.slos[slo.GetName()] = slo
}

func (f *FakeMonitoring) ListRequests() []*monitoringpb.ListTimeSeriesRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*monitoringpb.ListTimeSeriesRequest(nil), f.lists...)
}

func (f *FakeMonitoring) QueryRequests() []*monitoringpb.QueryTimeSeriesRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*monitoringpb.QueryTimeSeriesRequest(nil), f.queries...)
}

func (s *fakeMetricService) ListTimeSeries(_ context.Context, req *monitoringpb.ListTimeSeriesRequest) (*monitoringpb.ListTimeSeriesResponse, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()

	s.fake.lists = append(s.fake.lists, req)

	return &monitoringpb.ListTimeSeriesResponse{TimeSeries: s.fake.series}, nil
}

func (s *fakeQueryService) QueryTimeSeries(_ context.Context, req *monitoringpb.QueryTimeSeriesRequest) (*monitoringpb.QueryTimeSeriesResponse, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()

	s.fake.queries = append(s.fake.queries, req)

	return &monitoringpb.QueryTimeSeriesResponse{TimeSeriesData: s.fake.data}, nil
}

func (s *fakeServiceMonitoring) GetServiceLevelObjective(_ context.Context, req *monitoringpb.GetServiceLevelObjectiveRequest) (*monitoringpb.ServiceLevelObjective, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()

	slo, ok := s.fake.slos[req.GetName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "objective %s not found", req.GetName())
	}

	return slo, nil
}
