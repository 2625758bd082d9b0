// Package cloudbuild runs and inspects Cloud Build triggers.
package cloudbuild

import (
	"context"
	"fmt"

	cloudbuild "cloud.google.com/go/cloudbuild/apiv1/v2"
	"cloud.google.com/go/cloudbuild/apiv1/v2/cloudbuildpb"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/operation"
)

type Option func(a *Actions)

// WithWaitOptions tunes how builds are awaited. Builds are waited on without
// timeout unless a timeout policy is set here.
func WithWaitOptions(opts ...operation.Option) Option {
	return func(a *Actions) {
		a.waitOpts = append(a.waitOpts, opts...)
	}
}

type Actions struct {
	client   *cloudbuild.Client
	gctx     gcp.Context
	waiter   *operation.Waiter
	waitOpts []operation.Option
	logger   *zap.Logger
}

func NewActions(client *cloudbuild.Client, gctx gcp.Context, waiter *operation.Waiter, logger *zap.Logger, opts ...Option) *Actions {
	a := Actions{
		client:   client,
		gctx:     gctx,
		waiter:   waiter,
		waitOpts: []operation.Option{operation.WithTimeoutPolicy(operation.NoTimeout)},
		logger:   logger.With(zap.String("component", "cloudbuild_actions")),
	}

	for _, opt := range opts {
		opt(&a)
	}

	return &a
}

// RunTrigger runs an existing build trigger at the revision described by
// source, a RepoSource shaped map. Without wait, the queued build is returned.
func (a *Actions) RunTrigger(ctx context.Context, trigger string, source map[string]any, wait bool) (*cloudbuildpb.Build, error) {
	if a.gctx.ProjectID == "" {
		return nil, gcp.ActivityFailed("the project ID must be defined in configuration or as argument")
	}

	repoSource, err := decodeRepoSource(source)
	if err != nil {
		return nil, err
	}

	req := cloudbuildpb.RunBuildTriggerRequest{
		ProjectId: a.gctx.ProjectID,
		TriggerId: trigger,
		Source:    repoSource,
	}

	if parent := a.gctx.LocationParent(); parent != "" {
		req.Name = parent + "/triggers/" + trigger
	}

	op, err := a.client.RunBuildTrigger(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("running trigger %s: %w", trigger, err)
	}

	a.logger.Info("Build trigger started", zap.String("trigger", trigger), zap.String("operation", op.Name()))

	if !wait {
		md, err := op.Metadata()
		if err != nil {
			return nil, fmt.Errorf("reading build metadata: %w", err)
		}

		return md.GetBuild(), nil
	}

	lro := operation.FromLongRunning[*cloudbuildpb.Build](op, a.client.LROClient)

	done, err := operation.WaitExtended(ctx, a.waiter, lro, a.waitOpts...)
	if err != nil {
		return nil, err
	}

	if !done {
		a.logger.Warn("Build cancelled, it did not complete in time", zap.String("trigger", trigger))
		return nil, nil
	}

	return lro.Result(ctx)
}

// ListTriggers lists the build triggers of the project.
func (a *Actions) ListTriggers(ctx context.Context) ([]*cloudbuildpb.BuildTrigger, error) {
	if a.gctx.ProjectID == "" {
		return nil, gcp.ActivityFailed("the project ID must be defined in configuration or as argument")
	}

	var (
		triggers []*cloudbuildpb.BuildTrigger
		it       = a.client.ListBuildTriggers(
			ctx,
			&cloudbuildpb.ListBuildTriggersRequest{
				ProjectId: a.gctx.ProjectID,
				Parent:    a.gctx.LocationParent(),
			},
		)
	)

	for {
		trigger, err := it.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("listing build triggers: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	return triggers, nil
}

// ListTriggerNames lists only the names of the build triggers of the project.
func (a *Actions) ListTriggerNames(ctx context.Context) ([]string, error) {
	triggers, err := a.ListTriggers(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(triggers))
	for _, trigger := range triggers {
		names = append(names, trigger.GetName())
	}

	return names, nil
}

// GetTrigger returns the build trigger identified by its ID or its name.
func (a *Actions) GetTrigger(ctx context.Context, trigger string) (*cloudbuildpb.BuildTrigger, error) {
	if a.gctx.ProjectID == "" {
		return nil, gcp.ActivityFailed("the project ID must be defined in configuration or as argument")
	}

	req := cloudbuildpb.GetBuildTriggerRequest{
		ProjectId: a.gctx.ProjectID,
		TriggerId: trigger,
	}

	if parent := a.gctx.LocationParent(); parent != "" {
		req.Name = parent + "/triggers/" + trigger
	}

	got, err := a.client.GetBuildTrigger(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("getting trigger %s: %w", trigger, err)
	}

	return got, nil
}

func decodeRepoSource(source map[string]any) (*cloudbuildpb.RepoSource, error) {
	if len(source) == 0 {
		return nil, nil
	}

	var repoSource cloudbuildpb.RepoSource
	if err := gcp.FromDict(source, &repoSource); err != nil {
		return nil, fmt.Errorf("decoding build source: %w", err)
	}

	return &repoSource, nil
}
