package gcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetadata struct {
	projectID string
	zone      string
}

func (f fakeMetadata) ProjectIDWithContext(context.Context) (string, error) {
	return f.projectID, nil
}

func (f fakeMetadata) ZoneWithContext(context.Context) (string, error) {
	return f.zone, nil
}

func TestBuildContextProvider(t *testing.T) {
	ctx := context.Background()

	provider, err := BuildContextProvider(ctx, "CONFIG")
	require.NoError(t, err)

	gctx, err := provider.Provide(ctx, Configuration{KeyProjectID: "p", KeyZone: "us-east1-b"})
	require.NoError(t, err)
	assert.Equal(t, Context{ProjectID: "p", Zone: "us-east1-b"}, gctx)

	_, err = BuildContextProvider(ctx, "vault")
	assert.Equal(t, UnknownProviderError("vault"), err)
}

func TestGcloudProvider(t *testing.T) {
	for _, testCase := range []struct {
		desc    string
		onGCE   bool
		cfg     Configuration
		want    Context
		wantErr error
	}{
		{
			desc:  "fills from metadata",
			onGCE: true,
			cfg:   Configuration{KeyClusterName: "c"},
			want: Context{
				ProjectID:   "meta-project",
				Zone:        "europe-west1-d",
				Region:      "europe-west1",
				ClusterName: "c",
			},
		},
		{
			desc:  "configuration wins",
			onGCE: false,
			cfg:   Configuration{KeyProjectID: "p", KeyRegion: "us-east1"},
			want:  Context{ProjectID: "p", Region: "us-east1"},
		},
		{
			desc:    "not on GCE",
			onGCE:   false,
			cfg:     Configuration{},
			wantErr: ErrNotRunningOnGCE,
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			provider := gcloudProvider{
				onGCE:    func() bool { return testCase.onGCE },
				metadata: fakeMetadata{projectID: "meta-project", zone: "europe-west1-d"},
			}

			got, err := provider.Provide(context.Background(), testCase.cfg)
			if testCase.wantErr != nil {
				require.ErrorIs(t, err, testCase.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.want, got)
		})
	}
}
