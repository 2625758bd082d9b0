// Package sql drives Cloud SQL instances through the sqladmin API.
package sql

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sqladmin "google.golang.org/api/sqladmin/v1"

	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/operation"
)

const (
	FileTypeSQL = "sql"
	FileTypeCSV = "csv"

	FailoverPollFrequency    = 10 * time.Second
	ReplicationPollFrequency = 30 * time.Second
)

// InvalidFileTypeError is returned when an export is asked for an unsupported file type.
type InvalidFileTypeError string

func (i InvalidFileTypeError) Error() string {
	return fmt.Sprintf("cannot export database, file type %q is invalid", string(i))
}

type Option func(a *Actions)

// WithWaitOptions tunes how operations are awaited, on top of the per action defaults.
func WithWaitOptions(opts ...operation.Option) Option {
	return func(a *Actions) {
		a.waitOpts = append(a.waitOpts, opts...)
	}
}

type Actions struct {
	service  *sqladmin.Service
	project  string
	waiter   *operation.Waiter
	waitOpts []operation.Option
	logger   *zap.Logger
}

func NewActions(ctx context.Context, gctx gcp.Context, waiter *operation.Waiter, logger *zap.Logger, clientOpts []option.ClientOption, opts ...Option) (*Actions, error) {
	if gctx.ProjectID == "" {
		return nil, gcp.ActivityFailed("the project ID must be defined in configuration or as argument")
	}

	service, err := sqladmin.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating sqladmin service: %w", err)
	}

	a := Actions{
		service: service,
		project: gctx.ProjectID,
		waiter:  waiter,
		logger:  logger.With(zap.String("component", "sql_actions"), zap.String("project", gctx.ProjectID)),
	}

	for _, opt := range opts {
		opt(&a)
	}

	return &a, nil
}

// TriggerFailover makes a high availability instance fail over. When
// settingsVersion is zero, the current one is read from the instance first.
func (a *Actions) TriggerFailover(ctx context.Context, instance string, settingsVersion int64, wait bool) (*sqladmin.Operation, error) {
	if settingsVersion == 0 {
		desc, err := a.DescribeInstance(ctx, instance)
		if err != nil {
			return nil, err
		}

		settingsVersion = desc.Settings.SettingsVersion
	}

	op, err := a.service.Instances.Failover(
		a.project,
		instance,
		&sqladmin.InstancesFailoverRequest{
			FailoverContext: &sqladmin.FailoverContext{
				Kind:            "sql#failoverContext",
				SettingsVersion: settingsVersion,
			},
		},
	).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failing over instance %s: %w", instance, err)
	}

	a.logger.Info("Failover triggered", zap.String("instance", instance), zap.Int64("settings_version", settingsVersion))

	return a.maybeWait(ctx, op, wait, operation.WithFrequency(FailoverPollFrequency))
}

// ExportRequest describes a data export to a Cloud Storage bucket.
type ExportRequest struct {
	Instance   string
	StorageURI string
	// FileType defaults to FileTypeSQL.
	FileType   string
	Databases  []string
	Tables     []string
	SchemaOnly bool
	// SelectQuery is required for csv exports.
	SelectQuery string
}

func (a *Actions) ExportData(ctx context.Context, req ExportRequest, wait bool) (*sqladmin.Operation, error) {
	exportCtx := sqladmin.ExportContext{
		Kind:      "sql#exportContext",
		Uri:       req.StorageURI,
		Databases: req.Databases,
	}

	switch req.FileType {
	case "", FileTypeSQL:
		exportCtx.FileType = "SQL"
		exportCtx.SqlExportOptions = &sqladmin.ExportContextSqlExportOptions{
			Tables:             req.Tables,
			SchemaOnly:         req.SchemaOnly,
			MysqlExportOptions: &sqladmin.ExportContextSqlExportOptionsMysqlExportOptions{},
		}
	case FileTypeCSV:
		if req.SelectQuery == "" {
			return nil, gcp.ActivityFailed("cannot export database, a select query is required for csv exports")
		}

		exportCtx.FileType = "CSV"
		exportCtx.CsvExportOptions = &sqladmin.ExportContextCsvExportOptions{SelectQuery: req.SelectQuery}
	default:
		return nil, InvalidFileTypeError(req.FileType)
	}

	op, err := a.service.Instances.Export(
		a.project,
		req.Instance,
		&sqladmin.InstancesExportRequest{ExportContext: &exportCtx},
	).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("exporting data of instance %s: %w", req.Instance, err)
	}

	a.logger.Info("Export started", zap.String("instance", req.Instance), zap.String("uri", req.StorageURI))

	return a.maybeWait(ctx, op, wait)
}

func (a *Actions) DisableReplication(ctx context.Context, replica string, wait bool) (*sqladmin.Operation, error) {
	return a.setReplication(ctx, replica, false, wait)
}

func (a *Actions) EnableReplication(ctx context.Context, replica string, wait bool) (*sqladmin.Operation, error) {
	return a.setReplication(ctx, replica, true, wait)
}

func (a *Actions) setReplication(ctx context.Context, replica string, enabled, wait bool) (*sqladmin.Operation, error) {
	op, err := a.service.Instances.Patch(
		a.project,
		replica,
		&sqladmin.DatabaseInstance{
			Settings: &sqladmin.Settings{
				DatabaseReplicationEnabled: enabled,
				ForceSendFields:            []string{"DatabaseReplicationEnabled"},
			},
		},
	).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("setting replication of %s to %t: %w", replica, enabled, err)
	}

	a.logger.Info("Replication updated", zap.String("replica", replica), zap.Bool("enabled", enabled))

	return a.maybeWait(ctx, op, wait, operation.WithFrequency(ReplicationPollFrequency))
}

// PromoteReplica turns a read replica into a standalone instance.
func (a *Actions) PromoteReplica(ctx context.Context, replica string, wait bool) (*sqladmin.Operation, error) {
	op, err := a.service.Instances.PromoteReplica(a.project, replica).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("promoting replica %s: %w", replica, err)
	}

	a.logger.Info("Replica promotion started", zap.String("replica", replica))

	return a.maybeWait(ctx, op, wait, operation.WithFrequency(ReplicationPollFrequency))
}

// ListInstances returns every instance of the project, in the order the API returns them.
func (a *Actions) ListInstances(ctx context.Context) ([]*sqladmin.DatabaseInstance, error) {
	var instances []*sqladmin.DatabaseInstance

	err := a.service.Instances.List(a.project).Pages(ctx, func(page *sqladmin.InstancesListResponse) error {
		instances = append(instances, page.Items...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}

	return instances, nil
}

func (a *Actions) DescribeInstance(ctx context.Context, instance string) (*sqladmin.DatabaseInstance, error) {
	desc, err := a.service.Instances.Get(a.project, instance).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("describing instance %s: %w", instance, err)
	}

	if desc.Settings == nil {
		desc.Settings = &sqladmin.Settings{}
	}

	return desc, nil
}

func (a *Actions) maybeWait(ctx context.Context, op *sqladmin.Operation, wait bool, defaults ...operation.Option) (*sqladmin.Operation, error) {
	if !wait {
		return op, nil
	}

	return operation.WaitDiscovery(
		ctx,
		a.waiter,
		op.Name,
		func(ctx context.Context) (*sqladmin.Operation, error) {
			return a.service.Operations.Get(a.project, op.Name).Context(ctx).Do()
		},
		func(op *sqladmin.Operation) string {
			return op.Status
		},
		append(defaults, a.waitOpts...)...,
	)
}
