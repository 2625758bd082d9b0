package cloudbuild_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/cloudbuild/apiv1/v2/cloudbuildpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/jlevesy/chaosgcp/cloudbuild"
	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/operation"
	tr "github.com/jlevesy/chaosgcp/pkg/testruntime"
)

func TestActions_RunTrigger(t *testing.T) {
	for _, testCase := range []struct {
		desc       string
		gctx       gcp.Context
		trigger    string
		source     map[string]any
		wait       bool
		wantStatus cloudbuildpb.Build_Status
		wantName   string
		wantErr    bool
	}{
		{
			desc:       "waits for the build",
			gctx:       gcp.Context{ProjectID: "my-project"},
			trigger:    "deploy",
			source:     map[string]any{"branchName": "main"},
			wait:       true,
			wantStatus: cloudbuildpb.Build_SUCCESS,
		},
		{
			desc:       "returns the queued build",
			gctx:       gcp.Context{ProjectID: "my-project", Region: "us-east1"},
			trigger:    "deploy",
			source:     map[string]any{"branch_name": "main"},
			wantStatus: cloudbuildpb.Build_QUEUED,
			wantName:   "projects/my-project/locations/us-east1/triggers/deploy",
		},
		{
			desc:    "unknown trigger",
			gctx:    gcp.Context{ProjectID: "my-project"},
			trigger: "missing",
			wantErr: true,
		},
		{
			desc:    "invalid source",
			gctx:    gcp.Context{ProjectID: "my-project"},
			trigger: "deploy",
			source:  map[string]any{"branch": "main"},
			wantErr: true,
		},
		{
			desc:    "missing project",
			trigger: "deploy",
			wantErr: true,
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			fake, client := tr.StartFakeCloudBuild(t, 3, "deploy")
			logger := zaptest.NewLogger(t)
			waiter := operation.NewWaiter(logger, operation.WithClock(clocktesting.NewFakeClock(time.Now())))

			build, err := cloudbuild.NewActions(client, testCase.gctx, waiter, logger).RunTrigger(
				context.Background(),
				testCase.trigger,
				testCase.source,
				testCase.wait,
			)
			if testCase.wantErr {
				require.Error(t, err)
				assert.Empty(t, fake.Runs())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.wantStatus, build.GetStatus())
			assert.Equal(t, "deploy", build.GetBuildTriggerId())

			runs := fake.Runs()
			require.Len(t, runs, 1)
			assert.Equal(t, "main", runs[0].GetSource().GetBranchName())
			assert.Equal(t, testCase.wantName, runs[0].GetName())
		})
	}
}

func TestActions_Triggers(t *testing.T) {
	ctx := context.Background()

	fake, client := tr.StartFakeCloudBuild(t, 0, "deploy", "rollback")
	logger := zaptest.NewLogger(t)

	actions := cloudbuild.NewActions(
		client,
		gcp.Context{ProjectID: "my-project", Region: "us-east1"},
		operation.NewWaiter(logger),
		logger,
	)

	triggers, err := actions.ListTriggers(ctx)
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, "deploy", triggers[0].GetId())
	assert.Equal(t, []string{"projects/my-project/locations/us-east1"}, fake.ListParents())

	names, err := actions.ListTriggerNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "rollback"}, names)

	trigger, err := actions.GetTrigger(ctx, "rollback")
	require.NoError(t, err)
	assert.Equal(t, "rollback", trigger.GetName())

	_, err = actions.GetTrigger(ctx, "missing")
	require.Error(t, err)
	assert.True(t, gcp.IsNotFound(err))

	_, err = cloudbuild.NewActions(client, gcp.Context{}, operation.NewWaiter(logger), logger).ListTriggers(ctx)

	var failed gcp.ActivityFailed
	require.ErrorAs(t, err, &failed)
}
