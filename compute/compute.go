// Package compute acts on Compute Engine instances and network endpoint groups.
package compute

import (
	"context"
	"errors"
	"fmt"

	computeapi "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/operation"
)

type Option func(a *Actions)

// WithWaitOptions tunes how operations are awaited.
func WithWaitOptions(opts ...operation.Option) Option {
	return func(a *Actions) {
		a.waitOpts = append(a.waitOpts, opts...)
	}
}

type Actions struct {
	instances *computeapi.InstancesClient
	negs      *computeapi.NetworkEndpointGroupsClient
	gctx      gcp.Context
	waiter    *operation.Waiter
	waitOpts  []operation.Option
	logger    *zap.Logger
}

func NewActions(ctx context.Context, gctx gcp.Context, waiter *operation.Waiter, logger *zap.Logger, clientOpts []option.ClientOption, opts ...Option) (*Actions, error) {
	if gctx.ProjectID == "" {
		return nil, gcp.ActivityFailed("the project ID must be defined in configuration or as argument")
	}

	instances, err := computeapi.NewInstancesRESTClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating instances client: %w", err)
	}

	negs, err := computeapi.NewNetworkEndpointGroupsRESTClient(ctx, clientOpts...)
	if err != nil {
		_ = instances.Close()
		return nil, fmt.Errorf("creating network endpoint groups client: %w", err)
	}

	a := Actions{
		instances: instances,
		negs:      negs,
		gctx:      gctx,
		waiter:    waiter,
		logger:    logger.With(zap.String("component", "compute_actions")),
	}

	for _, opt := range opts {
		opt(&a)
	}

	return &a, nil
}

func (a *Actions) Close() error {
	return errors.Join(a.instances.Close(), a.negs.Close())
}

// SetInstanceTags replaces the network tags of an instance. The current tags
// fingerprint is read first, the update fails if they changed in between.
func (a *Actions) SetInstanceTags(ctx context.Context, zone, instance string, tags []string) (*computepb.Tags, error) {
	zone = a.zone(zone)

	current, err := a.instances.Get(ctx, &computepb.GetInstanceRequest{
		Project:  a.gctx.ProjectID,
		Zone:     zone,
		Instance: instance,
	})
	if err != nil {
		return nil, fmt.Errorf("getting instance %s: %w", instance, err)
	}

	tagsResource := computepb.Tags{
		Fingerprint: current.GetTags().Fingerprint,
		Items:       tags,
	}

	op, err := a.instances.SetTags(ctx, &computepb.SetTagsInstanceRequest{
		Project:      a.gctx.ProjectID,
		Zone:         zone,
		Instance:     instance,
		TagsResource: &tagsResource,
	})
	if err != nil {
		return nil, fmt.Errorf("setting tags of instance %s: %w", instance, err)
	}

	a.logger.Info("Instance tags updated", zap.String("instance", instance), zap.Strings("tags", tags))

	if err := a.wait(ctx, op); err != nil {
		return nil, err
	}

	return &tagsResource, nil
}

func (a *Actions) SuspendInstance(ctx context.Context, zone, instance string) error {
	zone = a.zone(zone)

	op, err := a.instances.Suspend(ctx, &computepb.SuspendInstanceRequest{
		Project:  a.gctx.ProjectID,
		Zone:     zone,
		Instance: instance,
	})
	if err != nil {
		return fmt.Errorf("suspending instance %s: %w", instance, err)
	}

	a.logger.Info("Instance suspended", zap.String("instance", instance))

	return a.wait(ctx, op)
}

func (a *Actions) ResumeInstance(ctx context.Context, zone, instance string) error {
	zone = a.zone(zone)

	op, err := a.instances.Resume(ctx, &computepb.ResumeInstanceRequest{
		Project:  a.gctx.ProjectID,
		Zone:     zone,
		Instance: instance,
	})
	if err != nil {
		return fmt.Errorf("resuming instance %s: %w", instance, err)
	}

	a.logger.Info("Instance resumed", zap.String("instance", instance))

	return a.wait(ctx, op)
}

// AttachNetworkEndpoints adds endpoints to a zonal network endpoint group.
func (a *Actions) AttachNetworkEndpoints(ctx context.Context, zone, neg string, endpoints []*computepb.NetworkEndpoint) error {
	zone = a.zone(zone)

	op, err := a.negs.AttachNetworkEndpoints(ctx, &computepb.AttachNetworkEndpointsNetworkEndpointGroupRequest{
		Project:              a.gctx.ProjectID,
		Zone:                 zone,
		NetworkEndpointGroup: neg,
		NetworkEndpointGroupsAttachEndpointsRequestResource: &computepb.NetworkEndpointGroupsAttachEndpointsRequest{
			NetworkEndpoints: endpoints,
		},
	})
	if err != nil {
		return fmt.Errorf("attaching endpoints to %s: %w", neg, err)
	}

	a.logger.Info("Network endpoints attached", zap.String("neg", neg), zap.Int("count", len(endpoints)))

	return a.wait(ctx, op)
}

func (a *Actions) DetachNetworkEndpoints(ctx context.Context, zone, neg string, endpoints []*computepb.NetworkEndpoint) error {
	zone = a.zone(zone)

	op, err := a.negs.DetachNetworkEndpoints(ctx, &computepb.DetachNetworkEndpointsNetworkEndpointGroupRequest{
		Project:              a.gctx.ProjectID,
		Zone:                 zone,
		NetworkEndpointGroup: neg,
		NetworkEndpointGroupsDetachEndpointsRequestResource: &computepb.NetworkEndpointGroupsDetachEndpointsRequest{
			NetworkEndpoints: endpoints,
		},
	})
	if err != nil {
		return fmt.Errorf("detaching endpoints from %s: %w", neg, err)
	}

	a.logger.Info("Network endpoints detached", zap.String("neg", neg), zap.Int("count", len(endpoints)))

	return a.wait(ctx, op)
}

// GetNetworkEndpointGroup returns a zonal network endpoint group.
func (a *Actions) GetNetworkEndpointGroup(ctx context.Context, zone, neg string) (*computepb.NetworkEndpointGroup, error) {
	got, err := a.negs.Get(ctx, &computepb.GetNetworkEndpointGroupRequest{
		Project:              a.gctx.ProjectID,
		Zone:                 a.zone(zone),
		NetworkEndpointGroup: neg,
	})
	if err != nil {
		return nil, fmt.Errorf("getting network endpoint group %s: %w", neg, err)
	}

	return got, nil
}

// ListNetworkEndpointGroups lists the network endpoint groups of a zone.
func (a *Actions) ListNetworkEndpointGroups(ctx context.Context, zone string) ([]*computepb.NetworkEndpointGroup, error) {
	zone = a.zone(zone)

	var (
		negs []*computepb.NetworkEndpointGroup
		it   = a.negs.List(ctx, &computepb.ListNetworkEndpointGroupsRequest{
			Project: a.gctx.ProjectID,
			Zone:    zone,
		})
	)

	for {
		neg, err := it.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("listing network endpoint groups of %s: %w", zone, err)
		}

		negs = append(negs, neg)
	}

	return negs, nil
}

func (a *Actions) zone(zone string) string {
	if zone == "" {
		return a.gctx.Zone
	}

	return zone
}

func (a *Actions) wait(ctx context.Context, op *computeapi.Operation) error {
	done, err := operation.WaitExtended(ctx, a.waiter, operation.FromCompute(op), a.waitOpts...)
	if err != nil {
		return err
	}

	if !done {
		a.logger.Warn("Operation did not complete in time", zap.String("operation", op.Name()))
	}

	return nil
}
