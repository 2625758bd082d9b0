package lb_test

import (
	"context"
	"testing"

	"cloud.google.com/go/compute/apiv1/computepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/lb"
	tr "github.com/jlevesy/chaosgcp/pkg/testruntime"
)

func TestBackendHealth_GetBackendServiceHealth(t *testing.T) {
	const (
		groupA = "https://www.googleapis.com/compute/v1/projects/my-project/zones/us-east1-b/instanceGroups/a"
		groupB = "https://www.googleapis.com/compute/v1/projects/my-project/zones/us-east1-c/instanceGroups/b"
	)

	healthOf := func(state string) *computepb.BackendServiceGroupHealth {
		return &computepb.BackendServiceGroupHealth{
			HealthStatus: []*computepb.HealthStatus{{HealthState: tr.Ptr(state)}},
		}
	}

	ctx := context.Background()
	fake := tr.StartFakeCompute(t, 0)
	fake.AddBackendService(
		"",
		&computepb.BackendService{
			Name: tr.Ptr("backend"),
			Backends: []*computepb.Backend{
				{Group: tr.Ptr(groupA)},
				{Group: tr.Ptr(groupB)},
			},
		},
		map[string]*computepb.BackendServiceGroupHealth{
			groupA: healthOf("HEALTHY"),
			groupB: healthOf("UNHEALTHY"),
		},
	)
	fake.AddBackendService(
		region,
		&computepb.BackendService{
			Name:     tr.Ptr("regional-backend"),
			Backends: []*computepb.Backend{{Group: tr.Ptr(groupA)}},
		},
		nil,
	)

	health, err := lb.NewBackendHealth(ctx, gcp.Context{ProjectID: project}, fake.ClientOptions()...)
	require.NoError(t, err)

	defer health.Close()

	got, err := health.GetBackendServiceHealth(ctx, "backend", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "HEALTHY", got[groupA].GetHealthStatus()[0].GetHealthState())
	assert.Equal(t, "UNHEALTHY", got[groupB].GetHealthStatus()[0].GetHealthState())

	got, err = health.GetBackendServiceHealth(ctx, "regional-backend", region)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "HEALTHY", got[groupA].GetHealthStatus()[0].GetHealthState())

	_, err = health.GetBackendServiceHealth(ctx, "missing", "")
	require.Error(t, err)
	assert.True(t, gcp.IsNotFound(err))
}
