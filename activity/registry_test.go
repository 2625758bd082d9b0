package activity_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/compute/apiv1/computepb"
	"cloud.google.com/go/container/apiv1/containerpb"
	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	"cloud.google.com/go/run/apiv2/runpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/jlevesy/chaosgcp/activity"
	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/kube"
	"github.com/jlevesy/chaosgcp/lb"
	"github.com/jlevesy/chaosgcp/operation"
	tr "github.com/jlevesy/chaosgcp/pkg/testruntime"
)

const clusterParent = "projects/my-project/locations/us-east1/clusters/my-cluster"

type fakeDrainer struct {
	selectors []string
	timeouts  []time.Duration
}

func (f *fakeDrainer) Drain(_ context.Context, opts kube.DrainOptions) ([]string, error) {
	f.selectors = append(f.selectors, opts.LabelSelector)
	f.timeouts = append(f.timeouts, opts.Timeout)

	return []string{"node-1"}, nil
}

func newSession(t *testing.T, cfg gcp.Configuration, opts ...activity.Option) *activity.Session {
	t.Helper()

	session, err := activity.NewSession(
		context.Background(),
		cfg,
		nil,
		zaptest.NewLogger(t),
		append(
			[]activity.Option{
				activity.WithWaiterOptions(operation.WithClock(clocktesting.NewFakeClock(time.Now()))),
			},
			opts...,
		)...,
	)
	require.NoError(t, err)

	return session
}

func TestRun_Errors(t *testing.T) {
	session := newSession(
		t,
		gcp.Configuration{gcp.KeyProjectID: "my-project"},
		activity.WithClientOptions(option.WithoutAuthentication()),
	)

	for _, testCase := range []struct {
		desc     string
		activity string
		args     string
		assert   func(t *testing.T, err error)
	}{
		{
			desc:     "unknown activity",
			activity: "reboot_the_world",
			assert: func(t *testing.T, err error) {
				require.ErrorIs(t, err, activity.UnknownActivityError("reboot_the_world"))
			},
		},
		{
			desc:     "unknown argument",
			activity: "inject_traffic_faults",
			args:     `{"url_map": "lb", "percent": 10}`,
			assert: func(t *testing.T, err error) {
				var failed gcp.ActivityFailed
				require.ErrorAs(t, err, &failed)
			},
		},
		{
			desc:     "malformed drain timeout",
			activity: "swap_nodepool",
			args:     `{"old_node_pool_id": "old", "drain_timeout": "soon"}`,
			assert: func(t *testing.T, err error) {
				require.Error(t, err)
			},
		},
		{
			desc:     "project override is not a string",
			activity: "list_instances",
			args:     `{"project_id": 42}`,
			assert: func(t *testing.T, err error) {
				var failed gcp.ActivityFailed
				require.ErrorAs(t, err, &failed)
			},
		},
		{
			desc:     "arguments are not an object",
			activity: "list_instances",
			args:     `["my-project"]`,
			assert: func(t *testing.T, err error) {
				var failed gcp.ActivityFailed
				require.ErrorAs(t, err, &failed)
			},
		},
		{
			desc:     "unsupported record kind",
			activity: "update_dns_a_record",
			args:     `{"project": "my-project", "zone_name": "zone", "name": "a.example.com.", "ip_address": "10.0.0.1", "kind": "dns#change"}`,
			assert: func(t *testing.T, err error) {
				var failed gcp.ActivityFailed
				require.ErrorAs(t, err, &failed)
			},
		},
		{
			desc:     "malformed endpoint",
			activity: "attach_network_endpoint_group",
			args:     `{"network_endpoint_group": "neg", "zone": "us-east1-b", "endpoints": [{"ip_address": 10}]}`,
			assert: func(t *testing.T, err error) {
				var failed gcp.ActivityFailed
				require.ErrorAs(t, err, &failed)
			},
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			_, err := activity.Run(context.Background(), session, testCase.activity, json.RawMessage(testCase.args))
			testCase.assert(t, err)
		})
	}
}

func TestRun_InjectTrafficDelay(t *testing.T) {
	for _, testCase := range []struct {
		desc           string
		args           string
		wantPercentage float64
		wantSeconds    int64
	}{
		{
			desc:           "from url",
			args:           `{"url": "https://a.example.com/api/users", "delay_in_seconds": 2}`,
			wantPercentage: 50,
			wantSeconds:    2,
		},
		{
			desc:           "from target",
			args:           `{"url_map": "lb", "target_name": "matcher", "target_path": "/api", "impacted_percentage": 20, "delay_in_seconds": 3}`,
			wantPercentage: 20,
			wantSeconds:    3,
		},
		{
			desc:           "delay defaults to one second",
			args:           `{"url_map": "lb", "target_name": "matcher", "target_path": "/api"}`,
			wantPercentage: 50,
			wantSeconds:    1,
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			fake := tr.StartFakeCompute(t, 1)
			fake.AddURLMap("", tr.BuildURLMap(
				"lb",
				tr.WithHostRule("matcher", "a.example.com"),
				tr.WithPathMatchers(tr.BuildPathMatcher("matcher", tr.WithRouteRule(tr.PrefixMatch("/api")))),
			))

			session := newSession(
				t,
				gcp.Configuration{gcp.KeyProjectID: "my-project"},
				activity.WithClientOptions(fake.ClientOptions()...),
			)

			got, err := activity.Run(context.Background(), session, "inject_traffic_delay", json.RawMessage(testCase.args))
			require.NoError(t, err)

			dict, ok := got.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "lb", dict["name"])

			delay := fake.URLMap("", "lb").GetPathMatchers()[0].GetRouteRules()[0].GetRouteAction().GetFaultInjectionPolicy().GetDelay()
			assert.Equal(t, testCase.wantPercentage, delay.GetPercentage())
			assert.Equal(t, testCase.wantSeconds, delay.GetFixedDelay().GetSeconds())
		})
	}
}

func TestRun_InjectTrafficFaults(t *testing.T) {
	for _, testCase := range []struct {
		desc         string
		region       string
		args         string
		wantRequests []string
	}{
		{
			desc:         "global url map",
			args:         `{"url_map": "lb", "target_name": "matcher", "target_path": "/api", "impacted_percentage": 75}`,
			wantRequests: []string{"PUT /compute/v1/projects/my-project/global/urlMaps/lb"},
		},
		{
			desc:   "regional url map of another project",
			region: "europe-west1",
			args: `{
				"url_map": "lb",
				"target_name": "matcher",
				"target_path": "/api",
				"impacted_percentage": 75,
				"regional": true,
				"project_id": "other-project",
				"region": "europe-west1"
			}`,
			wantRequests: []string{"PUT /compute/v1/projects/other-project/regions/europe-west1/urlMaps/lb"},
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			fake := tr.StartFakeCompute(t, 1)
			fake.AddURLMap(testCase.region, tr.BuildURLMap(
				"lb",
				tr.WithHostRule("matcher", "a.example.com"),
				tr.WithPathMatchers(tr.BuildPathMatcher("matcher", tr.WithRouteRule(tr.PrefixMatch("/api")))),
			))

			session := newSession(
				t,
				gcp.Configuration{gcp.KeyProjectID: "my-project", gcp.KeyRegion: "us-east1"},
				activity.WithClientOptions(fake.ClientOptions()...),
			)

			_, err := activity.Run(context.Background(), session, "inject_traffic_faults", json.RawMessage(testCase.args))
			require.NoError(t, err)

			abort := fake.URLMap(testCase.region, "lb").GetPathMatchers()[0].GetRouteRules()[0].GetRouteAction().GetFaultInjectionPolicy().GetAbort()
			assert.Equal(t, 75.0, abort.GetPercentage())
			assert.Equal(t, uint32(lb.DefaultHTTPStatus), abort.GetHttpStatus())
			assert.Equal(t, testCase.wantRequests, fake.Requests())

			// The override only lasts for one call.
			assert.Equal(t, "my-project", session.Context.ProjectID)
			assert.Equal(t, "us-east1", session.Context.Region)
		})
	}
}

func TestRun_SwapNodePool(t *testing.T) {
	fake := tr.NewFakeClusterManager(1)
	fake.AddNodePool(clusterParent, &containerpb.NodePool{Name: "old-pool"})

	conn := tr.ServeGRPC(t, func(srv *grpc.Server) {
		containerpb.RegisterClusterManagerServer(srv, fake)
	})

	drainer := &fakeDrainer{}

	session := newSession(
		t,
		gcp.Configuration{gcp.KeyParent: clusterParent},
		activity.WithClientOptions(option.WithGRPCConn(conn)),
		activity.WithDrainer(drainer),
	)

	_, err := activity.Run(
		context.Background(),
		session,
		"swap_nodepool",
		json.RawMessage(`{
			"old_node_pool_id": "old-pool",
			"delete_old_node_pool": true,
			"drain_timeout": 30,
			"new_nodepool_body": {"name": "new-pool", "initialNodeCount": 2}
		}`),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{kube.NodePoolSelector("old-pool")}, drainer.selectors)
	assert.Equal(t, []time.Duration{30 * time.Second}, drainer.timeouts)
	assert.NotNil(t, fake.NodePool(clusterParent+"/nodePools/new-pool"))
	assert.Nil(t, fake.NodePool(clusterParent+"/nodePools/old-pool"))

	got, err := activity.Run(context.Background(), session, "list_nodepools", nil)
	require.NoError(t, err)

	pools, ok := got.([]map[string]any)
	require.True(t, ok)
	require.Len(t, pools, 1)
	assert.Equal(t, "new-pool", pools[0]["name"])
}

func TestRun_ResizeNodePool(t *testing.T) {
	fake := tr.NewFakeClusterManager(0)
	fake.AddNodePool(clusterParent, &containerpb.NodePool{Name: "pool", InitialNodeCount: 3})

	conn := tr.ServeGRPC(t, func(srv *grpc.Server) {
		containerpb.RegisterClusterManagerServer(srv, fake)
	})

	session := newSession(
		t,
		gcp.Configuration{gcp.KeyParent: clusterParent},
		activity.WithClientOptions(option.WithGRPCConn(conn)),
	)

	_, err := activity.Run(context.Background(), session, "resize_nodepool", json.RawMessage(`{"node_pool_id": "pool"}`))
	require.NoError(t, err)

	assert.Equal(t, int32(1), fake.NodePool(clusterParent+"/nodePools/pool").GetInitialNodeCount())
}

func TestRun_CloudBuildTriggers(t *testing.T) {
	ctx := context.Background()
	fake, _ := tr.StartFakeCloudBuild(t, 0, "deploy", "rollback")

	session := newSession(
		t,
		gcp.Configuration{gcp.KeyProjectID: "my-project", gcp.KeyRegion: "us-east1"},
		activity.WithClientOptions(fake.ClientOptions()...),
	)

	got, err := activity.Run(ctx, session, "list_trigger_names", json.RawMessage(`{"project_id": "other-project", "region": "europe-west1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "rollback"}, got)
	assert.Equal(t, []string{"projects/other-project/locations/europe-west1"}, fake.ListParents())

	got, err = activity.Run(ctx, session, "list_triggers", nil)
	require.NoError(t, err)

	triggers, ok := got.([]map[string]any)
	require.True(t, ok)
	require.Len(t, triggers, 2)

	got, err = activity.Run(ctx, session, "get_trigger", json.RawMessage(`{"name": "rollback"}`))
	require.NoError(t, err)

	trigger, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rollback", trigger["id"])

	_, err = activity.Run(ctx, session, "run_trigger", json.RawMessage(`{"name": "deploy", "source": {"branch_name": "main"}}`))
	require.NoError(t, err)

	runs := fake.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "deploy", runs[0].GetTriggerId())
	assert.Equal(t, "main", runs[0].GetSource().GetBranchName())
}

func TestRun_NetworkEndpointGroups(t *testing.T) {
	ctx := context.Background()

	fake := tr.StartFakeCompute(t, 0)
	fake.AddNetworkEndpointGroup("us-east1-b", &computepb.NetworkEndpointGroup{Name: tr.Ptr("neg"), Size: tr.Ptr(int32(2))})

	session := newSession(
		t,
		gcp.Configuration{gcp.KeyProjectID: "my-project", gcp.KeyZone: "us-east1-b"},
		activity.WithClientOptions(fake.ClientOptions()...),
	)

	got, err := activity.Run(ctx, session, "get_network_endpoint_group", json.RawMessage(`{"network_endpoint_group": "neg", "zone": "us-east1-b"}`))
	require.NoError(t, err)

	neg, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "neg", neg["name"])

	_, err = activity.Run(
		ctx,
		session,
		"attach_network_endpoint_group",
		json.RawMessage(`{"network_endpoint_group": "neg", "zone": "us-east1-b", "endpoints": [{"ip_address": "10.0.0.1", "port": 8080}]}`),
	)
	require.NoError(t, err)

	endpoints := fake.NetworkEndpoints("us-east1-b", "neg")
	require.Len(t, endpoints, 1)
	assert.Equal(t, "10.0.0.1", endpoints[0].GetIpAddress())
	assert.Equal(t, int32(8080), endpoints[0].GetPort())

	got, err = activity.Run(ctx, session, "list_network_endpoint_groups", json.RawMessage(`{"zone": "us-east1-b"}`))
	require.NoError(t, err)

	negs, ok := got.([]map[string]any)
	require.True(t, ok)
	require.Len(t, negs, 1)
}

func TestRun_CloudRunServices(t *testing.T) {
	ctx := context.Background()

	const parent = "projects/my-project/locations/us-east1"

	fake, _ := tr.StartFakeRun(t, 0)
	fake.AddRevision(&runpb.Revision{Name: parent + "/services/demo/revisions/demo-00001"})

	session := newSession(
		t,
		gcp.Configuration{gcp.KeyProjectID: "my-project", gcp.KeyRegion: "us-east1"},
		activity.WithClientOptions(fake.ClientOptions()...),
	)

	_, err := activity.Run(
		ctx,
		session,
		"create_service",
		json.RawMessage(`{
			"parent": "`+parent+`",
			"service_id": "demo",
			"container": {"image": "gcr.io/demo/app:v1"},
			"max_instance_request_concurrency": 10,
			"labels": {"team": "chaos"},
			"traffic": [{"type_": 1, "percent": 100}]
		}`),
	)
	require.NoError(t, err)

	svc := fake.Service(parent + "/services/demo")
	require.NotNil(t, svc)
	assert.Equal(t, "gcr.io/demo/app:v1", svc.GetTemplate().GetContainers()[0].GetImage())
	assert.Equal(t, int32(10), svc.GetTemplate().GetMaxInstanceRequestConcurrency())
	assert.Equal(t, map[string]string{"team": "chaos"}, svc.GetLabels())
	assert.Equal(
		t,
		runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_LATEST,
		svc.GetTraffic()[0].GetType(),
	)

	got, err := activity.Run(ctx, session, "get_service", json.RawMessage(`{"name": "demo"}`))
	require.NoError(t, err)

	dict, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, parent+"/services/demo", dict["name"])

	got, err = activity.Run(ctx, session, "list_service_revisions", json.RawMessage(`{"parent": "`+parent+`/services/demo"}`))
	require.NoError(t, err)

	revisions, ok := got.([]map[string]any)
	require.True(t, ok)
	require.Len(t, revisions, 1)
	assert.Equal(t, parent+"/services/demo/revisions/demo-00001", revisions[0]["name"])

	_, err = activity.Run(ctx, session, "delete_service", json.RawMessage(`{"parent": "`+parent+`/services/demo"}`))
	require.NoError(t, err)
	assert.Nil(t, fake.Service(parent+"/services/demo"))
}

func TestRun_Monitoring(t *testing.T) {
	ctx := context.Background()

	const slo = "projects/my-project/services/api/serviceLevelObjectives/availability"

	fake := tr.StartFakeMonitoring(t)
	fake.AddSLO(&monitoringpb.ServiceLevelObjective{Name: slo})
	fake.SetTimeSeries(&monitoringpb.TimeSeries{
		Points: []*monitoringpb.Point{
			{Value: &monitoringpb.TypedValue{Value: &monitoringpb.TypedValue_DoubleValue{DoubleValue: 0.99}}},
			{Value: &monitoringpb.TypedValue{Value: &monitoringpb.TypedValue_DoubleValue{DoubleValue: 0.2}}},
		},
	})

	session := newSession(
		t,
		gcp.Configuration{gcp.KeyProjectID: "my-project"},
		activity.WithClientOptions(fake.ClientOptions()...),
	)

	got, err := activity.Run(
		ctx,
		session,
		"get_slo_health",
		json.RawMessage(`{"name": "`+slo+`", "alignment_period": 120, "group_by_fields": "resource.labels.zone, resource.labels.service"}`),
	)
	require.NoError(t, err)

	series, ok := got.([]map[string]any)
	require.True(t, ok)
	require.Len(t, series, 1)

	aggregation := fake.ListRequests()[0].GetAggregation()
	assert.Equal(t, 2*time.Minute, aggregation.GetAlignmentPeriod().AsDuration())
	assert.Equal(t, []string{"resource.labels.zone", "resource.labels.service"}, aggregation.GetGroupByFields())

	got, err = activity.Run(ctx, session, "valid_slo_ratio_during_window", json.RawMessage(`{"name": "`+slo+`"}`))
	require.NoError(t, err)
	assert.Equal(t, false, got)

	got, err = activity.Run(ctx, session, "valid_slo_ratio_during_window", json.RawMessage(`{"name": "`+slo+`", "expected_ratio": 0.5}`))
	require.NoError(t, err)
	assert.Equal(t, true, got)

	_, err = activity.Run(
		ctx,
		session,
		"get_metrics",
		json.RawMessage(`{"metric_type": "run.googleapis.com/request_count", "metric_labels_filters": "response_code=500"}`),
	)
	require.NoError(t, err)

	reqs := fake.ListRequests()
	assert.Equal(
		t,
		`metric.type = "run.googleapis.com/request_count" AND metric.labels.response_code = "500"`,
		reqs[len(reqs)-1].GetFilter(),
	)

	_, err = activity.Run(ctx, session, "query_time_series", json.RawMessage(`{"mql_query": "fetch gce_instance", "project_id": "other-project"}`))
	require.NoError(t, err)

	queries := fake.QueryRequests()
	require.Len(t, queries, 1)
	assert.Equal(t, "projects/other-project", queries[0].GetName())
}

func TestNames(t *testing.T) {
	names := activity.Names()

	assert.IsIncreasing(t, names)
	for _, name := range []string{
		"inject_traffic_faults",
		"get_logs_between_timestamps",
		"update_dns_a_record",
		"get_service",
		"list_service_revisions",
		"attach_network_endpoint_group",
		"get_slo_burn_rate",
		"get_trigger",
	} {
		assert.Contains(t, names, name)
	}
}
