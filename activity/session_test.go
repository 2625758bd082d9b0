package activity_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/compute/apiv1/computepb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	sqladmin "google.golang.org/api/sqladmin/v1"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/jlevesy/chaosgcp/activity"
	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/gke/nodepool"
	"github.com/jlevesy/chaosgcp/lb"
	"github.com/jlevesy/chaosgcp/operation"
	tr "github.com/jlevesy/chaosgcp/pkg/testruntime"
)

func TestNewSession(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	t.Setenv("GCP_APPLICATION_CREDENTIALS", "")

	for _, testCase := range []struct {
		desc        string
		cfg         gcp.Configuration
		secrets     gcp.Secrets
		opts        []activity.Option
		wantContext gcp.Context
		wantErr     error
	}{
		{
			desc: "resolves context from configuration",
			cfg: gcp.Configuration{
				gcp.KeyProjectID: "my-project",
				gcp.KeyRegion:    "us-east1",
			},
			opts: []activity.Option{
				activity.WithClientOptions(option.WithoutAuthentication()),
			},
			wantContext: gcp.Context{ProjectID: "my-project", Region: "us-east1"},
		},
		{
			desc: "applies overrides",
			cfg: gcp.Configuration{
				gcp.KeyContextProvider: "config",
				gcp.KeyProjectID:       "my-project",
				gcp.KeyRegion:          "us-east1",
			},
			opts: []activity.Option{
				activity.WithClientOptions(option.WithoutAuthentication()),
				activity.WithOverrides("other-project", "europe-west1"),
			},
			wantContext: gcp.Context{ProjectID: "other-project", Region: "europe-west1"},
		},
		{
			desc: "unknown provider",
			cfg: gcp.Configuration{
				gcp.KeyContextProvider: "vault",
			},
			wantErr: gcp.UnknownProviderError("vault"),
		},
		{
			desc: "missing credentials",
			cfg: gcp.Configuration{
				gcp.KeyProjectID: "my-project",
			},
			secrets: gcp.Secrets{},
			wantErr: gcp.ErrMissingCredentials,
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			session, err := activity.NewSession(
				context.Background(),
				testCase.cfg,
				testCase.secrets,
				zaptest.NewLogger(t),
				testCase.opts...,
			)
			if testCase.wantErr != nil {
				require.ErrorIs(t, err, testCase.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.wantContext, session.Context)
			assert.NotNil(t, session.Waiter)
			assert.Len(t, session.ClientOptions(), 1)
		})
	}
}

func TestSession_LoadBalancer(t *testing.T) {
	ctx := context.Background()

	fake := tr.StartFakeCompute(t, 1)
	fake.AddURLMap("", tr.BuildURLMap(
		"lb",
		tr.WithHostRule("matcher", "a.example.com"),
		tr.WithPathMatchers(tr.BuildPathMatcher("matcher", tr.WithPathRule("/*"))),
	))

	reg := prometheus.NewRegistry()

	session, err := activity.NewSession(
		ctx,
		gcp.Configuration{gcp.KeyProjectID: "my-project"},
		nil,
		zaptest.NewLogger(t),
		activity.WithClientOptions(fake.ClientOptions()...),
		activity.WithRegisterer(reg),
		activity.WithWaiterOptions(operation.WithClock(clocktesting.NewFakeClock(time.Now()))),
	)
	require.NoError(t, err)

	actions, closeActions, err := session.LoadBalancer(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = closeActions()
	})

	got, err := actions.InjectTrafficFaults(
		ctx,
		lb.Target{URLMap: "lb", PathMatcher: "matcher"},
		10,
		503,
	)
	require.NoError(t, err)

	assert.Equal(
		t,
		uint32(503),
		got.GetPathMatchers()[0].GetPathRules()[0].GetRouteAction().GetFaultInjectionPolicy().GetAbort().GetHttpStatus(),
	)
	assert.Equal(t, 1.0, testutil.ToFloat64(session.Metrics.FaultPolicyChangesTotal.WithLabelValues("abort")))
	assert.Equal(t, 1, testutil.CollectAndCount(session.Metrics.OperationWaitDuration))

	health, err := session.BackendHealth(ctx)
	require.NoError(t, err)

	_, err = health.GetBackendServiceHealth(ctx, "missing", "")
	require.Error(t, err)
	assert.True(t, gcp.IsNotFound(err))
}

func TestSession_Compute(t *testing.T) {
	ctx := context.Background()

	fake := tr.StartFakeCompute(t, 0)
	fake.AddInstance("us-east1-b", &computepb.Instance{
		Name: tr.Ptr("vm"),
		Tags: &computepb.Tags{Fingerprint: tr.Ptr("abc")},
	})

	session, err := activity.NewSession(
		ctx,
		gcp.Configuration{
			gcp.KeyProjectID: "my-project",
			gcp.KeyZone:      "us-east1-b",
		},
		nil,
		zaptest.NewLogger(t),
		activity.WithClientOptions(fake.ClientOptions()...),
		activity.WithWaiterOptions(operation.WithClock(clocktesting.NewFakeClock(time.Now()))),
	)
	require.NoError(t, err)

	actions, err := session.Compute(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = actions.Close()
	})

	tags, err := actions.SetInstanceTags(ctx, "", "vm", []string{"chaos"})
	require.NoError(t, err)
	assert.Equal(t, "abc", tags.GetFingerprint())
	assert.Equal(t, []string{"chaos"}, fake.Instance("us-east1-b", "vm").GetTags().GetItems())
}

func TestSession_SQL(t *testing.T) {
	ctx := context.Background()

	fake := tr.StartFakeSQLAdmin(t, 0)
	fake.AddInstance(&sqladmin.DatabaseInstance{Name: "primary"})

	session, err := activity.NewSession(
		ctx,
		gcp.Configuration{gcp.KeyProjectID: "my-project"},
		nil,
		zaptest.NewLogger(t),
		activity.WithClientOptions(fake.ClientOptions()...),
	)
	require.NoError(t, err)

	actions, err := session.SQL(ctx)
	require.NoError(t, err)

	instance, err := actions.DescribeInstance(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, "primary", instance.Name)
}

func TestSession_NodePools(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")

	var (
		ctx        = context.Background()
		cfg        = gcp.Configuration{gcp.KeyParent: "projects/my-project/locations/us-east1/clusters/my-cluster"}
		clientOpts = []option.ClientOption{
			option.WithEndpoint("localhost:1"),
			option.WithoutAuthentication(),
		}
	)

	t.Run("without cluster access", func(t *testing.T) {
		session, err := activity.NewSession(ctx, cfg, nil, zaptest.NewLogger(t), activity.WithClientOptions(clientOpts...))
		require.NoError(t, err)

		actions, closeActions, err := session.NodePools(ctx)
		require.NoError(t, err)

		t.Cleanup(func() {
			_ = closeActions()
		})

		_, err = actions.Swap(ctx, nodepool.SwapRequest{OldNodePoolID: "old"})

		var failed gcp.ActivityFailed
		require.ErrorAs(t, err, &failed)
	})

	t.Run("unreadable kubeconfig", func(t *testing.T) {
		session, err := activity.NewSession(
			ctx,
			cfg,
			gcp.Secrets{gcp.SecretKubeconfig: t.TempDir() + "/missing"},
			zaptest.NewLogger(t),
			activity.WithClientOptions(clientOpts...),
		)
		require.NoError(t, err)

		_, _, err = session.NodePools(ctx)
		require.Error(t, err)
	})
}
