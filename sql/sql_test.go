package sql_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	sqladmin "google.golang.org/api/sqladmin/v1"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/operation"
	tr "github.com/jlevesy/chaosgcp/pkg/testruntime"
	"github.com/jlevesy/chaosgcp/sql"
)

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func newActions(t *testing.T, pollsBeforeDone int) (*sql.Actions, *tr.FakeSQLAdmin, *clocktesting.FakeClock) {
	t.Helper()

	fake := tr.StartFakeSQLAdmin(t, pollsBeforeDone)
	fake.AddInstance(&sqladmin.DatabaseInstance{
		Name:     "primary",
		Settings: &sqladmin.Settings{SettingsVersion: 7},
	})
	fake.AddInstance(&sqladmin.DatabaseInstance{
		Name:               "replica",
		MasterInstanceName: "primary",
	})

	var (
		logger = zaptest.NewLogger(t)
		clk    = clocktesting.NewFakeClock(epoch)
	)

	actions, err := sql.NewActions(
		context.Background(),
		gcp.Context{ProjectID: "my-project"},
		operation.NewWaiter(logger, operation.WithClock(clk)),
		logger,
		fake.ClientOptions(),
	)
	require.NoError(t, err)

	return actions, fake, clk
}

func TestNewActions_MissingProject(t *testing.T) {
	_, err := sql.NewActions(context.Background(), gcp.Context{}, nil, zaptest.NewLogger(t), nil)

	var failed gcp.ActivityFailed
	require.ErrorAs(t, err, &failed)
}

func TestActions_TriggerFailover(t *testing.T) {
	for _, testCase := range []struct {
		desc            string
		settingsVersion int64
		wantVersion     float64
	}{
		{
			desc:        "reads the settings version",
			wantVersion: 7,
		},
		{
			desc:            "uses the given settings version",
			settingsVersion: 12,
			wantVersion:     12,
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			actions, fake, clk := newActions(t, 3)

			op, err := actions.TriggerFailover(context.Background(), "primary", testCase.settingsVersion, true)
			require.NoError(t, err)
			assert.Equal(t, "DONE", op.Status)
			assert.Equal(t, epoch.Add(2*sql.FailoverPollFrequency), clk.Now())

			var body map[string]map[string]any
			require.NoError(t, json.Unmarshal(fake.Body("failover", "primary"), &body))
			assert.Equal(t, "sql#failoverContext", body["failoverContext"]["kind"])
			assert.Equal(t, testCase.wantVersion, mustFloat(t, body["failoverContext"]["settingsVersion"]))
		})
	}
}

// int64 fields are sent as strings by discovery clients.
func mustFloat(t *testing.T, v any) float64 {
	t.Helper()

	var f float64

	switch value := v.(type) {
	case string:
		require.NoError(t, json.Unmarshal([]byte(value), &f))
	case float64:
		f = value
	default:
		t.Fatalf("unexpected settings version %v", v)
	}

	return f
}

func TestActions_ExportData(t *testing.T) {
	for _, testCase := range []struct {
		desc       string
		req        sql.ExportRequest
		wantErr    bool
		wantFormat string
	}{
		{
			desc:       "sql dump",
			req:        sql.ExportRequest{Instance: "primary", StorageURI: "gs://bucket/dump.sql", Databases: []string{"app"}},
			wantFormat: "SQL",
		},
		{
			desc: "csv",
			req: sql.ExportRequest{
				Instance:    "primary",
				StorageURI:  "gs://bucket/dump.csv",
				FileType:    sql.FileTypeCSV,
				SelectQuery: "SELECT * FROM users",
			},
			wantFormat: "CSV",
		},
		{
			desc:    "csv without query",
			req:     sql.ExportRequest{Instance: "primary", FileType: sql.FileTypeCSV},
			wantErr: true,
		},
		{
			desc:    "unknown file type",
			req:     sql.ExportRequest{Instance: "primary", FileType: "parquet"},
			wantErr: true,
		},
	} {
		t.Run(testCase.desc, func(t *testing.T) {
			actions, fake, _ := newActions(t, 1)

			_, err := actions.ExportData(context.Background(), testCase.req, true)
			if testCase.wantErr {
				require.Error(t, err)
				assert.Nil(t, fake.Body("export", "primary"))
				return
			}

			require.NoError(t, err)

			var body struct {
				ExportContext sqladmin.ExportContext `json:"exportContext"`
			}
			require.NoError(t, json.Unmarshal(fake.Body("export", "primary"), &body))
			assert.Equal(t, testCase.wantFormat, body.ExportContext.FileType)
			assert.Equal(t, testCase.req.StorageURI, body.ExportContext.Uri)
		})
	}
}

func TestActions_Replication(t *testing.T) {
	actions, fake, clk := newActions(t, 2)
	ctx := context.Background()

	_, err := actions.DisableReplication(ctx, "replica", true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"settings":{"databaseReplicationEnabled":false}}`, string(fake.Body("patch", "replica")))
	assert.Equal(t, epoch.Add(sql.ReplicationPollFrequency), clk.Now())

	_, err = actions.EnableReplication(ctx, "replica", true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"settings":{"databaseReplicationEnabled":true}}`, string(fake.Body("patch", "replica")))

	op, err := actions.PromoteReplica(ctx, "replica", false)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", op.Status)

	_, err = actions.PromoteReplica(ctx, "missing", false)
	require.Error(t, err)
	assert.True(t, gcp.IsNotFound(err))
}

func TestActions_Probes(t *testing.T) {
	actions, _, _ := newActions(t, 1)
	ctx := context.Background()

	instances, err := actions.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "primary", instances[0].Name)
	assert.Equal(t, "replica", instances[1].Name)

	desc, err := actions.DescribeInstance(ctx, "replica")
	require.NoError(t, err)
	assert.Equal(t, "primary", desc.MasterInstanceName)
	assert.NotNil(t, desc.Settings)
}
