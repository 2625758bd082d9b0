// Package cloudrun creates, updates and deletes Cloud Run services.
package cloudrun

import (
	"context"
	"fmt"
	"strings"

	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

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

// ServiceSpec describes a service. On update, zero fields leave the service
// untouched.
type ServiceSpec struct {
	Description string
	// Container is shaped like a Container message, in camelCase or snake_case.
	Container                     map[string]any
	MaxInstanceRequestConcurrency int32
	ServiceAccount                string
	EncryptionKey                 string
	Traffic                       []*runpb.TrafficTarget
	Labels                        map[string]string
	Annotations                   map[string]string
	// VPCAccess is shaped like a VpcAccess message.
	VPCAccess map[string]any
}

func (s ServiceSpec) apply(svc *runpb.Service) error {
	if svc.Template == nil {
		svc.Template = &runpb.RevisionTemplate{}
	}

	if len(s.Container) > 0 {
		var container runpb.Container
		if err := gcp.FromDict(s.Container, &container); err != nil {
			return gcp.ActivityFailed(fmt.Sprintf("invalid container: %s", err))
		}

		svc.Template.Containers = []*runpb.Container{&container}
	}

	if len(s.VPCAccess) > 0 {
		var access runpb.VpcAccess
		if err := gcp.FromDict(s.VPCAccess, &access); err != nil {
			return gcp.ActivityFailed(fmt.Sprintf("invalid VPC access: %s", err))
		}

		svc.Template.VpcAccess = &access
	}

	if s.Description != "" {
		svc.Description = s.Description
	}

	if s.MaxInstanceRequestConcurrency > 0 {
		svc.Template.MaxInstanceRequestConcurrency = s.MaxInstanceRequestConcurrency
	}

	if s.ServiceAccount != "" {
		svc.Template.ServiceAccount = s.ServiceAccount
	}

	if s.EncryptionKey != "" {
		svc.Template.EncryptionKey = s.EncryptionKey
	}

	if len(s.Traffic) > 0 {
		svc.Traffic = s.Traffic
	}

	if s.Labels != nil {
		svc.Labels = s.Labels
	}

	if s.Annotations != nil {
		svc.Annotations = s.Annotations
	}

	return nil
}

type Actions struct {
	services  *run.ServicesClient
	revisions *run.RevisionsClient
	gctx      gcp.Context
	waiter    *operation.Waiter
	waitOpts  []operation.Option
	logger    *zap.Logger
}

func NewActions(services *run.ServicesClient, revisions *run.RevisionsClient, gctx gcp.Context, waiter *operation.Waiter, logger *zap.Logger, opts ...Option) *Actions {
	a := Actions{
		services:  services,
		revisions: revisions,
		gctx:      gctx,
		waiter:    waiter,
		logger:    logger.With(zap.String("component", "cloudrun_actions")),
	}

	for _, opt := range opts {
		opt(&a)
	}

	return &a
}

// CreateService creates the service serviceID under parent, defaulting to
// the location of the context. It returns nil when the creation did not
// complete in time.
func (a *Actions) CreateService(ctx context.Context, parent, serviceID string, spec ServiceSpec) (*runpb.Service, error) {
	if parent == "" {
		parent = a.gctx.LocationParent()
	}

	if parent == "" {
		return nil, gcp.ActivityFailed("missing GCP configuration keys to the path of the resource")
	}

	if serviceID == "" || len(spec.Container) == 0 {
		return nil, gcp.ActivityFailed("creating a service requires a service ID and a container")
	}

	var svc runpb.Service
	if err := spec.apply(&svc); err != nil {
		return nil, err
	}

	op, err := a.services.CreateService(ctx, &runpb.CreateServiceRequest{
		Parent:    parent,
		ServiceId: serviceID,
		Service:   &svc,
	})
	if err != nil {
		return nil, fmt.Errorf("creating service %s: %w", serviceID, err)
	}

	a.logger.Info("Service creation started", zap.String("parent", parent), zap.String("service", serviceID))

	return wait(ctx, a, operation.FromLongRunning[*runpb.Service](op, a.services.LROClient))
}

// DeleteService deletes a service and all its revisions. It returns the
// deleted service, or nil when the deletion did not complete in time.
func (a *Actions) DeleteService(ctx context.Context, name string) (*runpb.Service, error) {
	name = a.serviceName(name)

	op, err := a.services.DeleteService(ctx, &runpb.DeleteServiceRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("deleting service %s: %w", name, err)
	}

	a.logger.Info("Service deletion started", zap.String("service", name))

	return wait(ctx, a, operation.FromLongRunning[*runpb.Service](op, a.services.LROClient))
}

// UpdateService applies spec to an existing service, which rolls out a new
// revision when the template changes.
func (a *Actions) UpdateService(ctx context.Context, name string, spec ServiceSpec) (*runpb.Service, error) {
	svc, err := a.GetService(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := spec.apply(svc); err != nil {
		return nil, err
	}

	op, err := a.services.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: svc})
	if err != nil {
		return nil, fmt.Errorf("updating service %s: %w", svc.GetName(), err)
	}

	a.logger.Info(
		"Service update started",
		zap.String("service", svc.GetName()),
		zap.Int("traffic_targets", len(spec.Traffic)),
	)

	return wait(ctx, a, operation.FromLongRunning[*runpb.Service](op, a.services.LROClient))
}

func (a *Actions) GetService(ctx context.Context, name string) (*runpb.Service, error) {
	name = a.serviceName(name)

	svc, err := a.services.GetService(ctx, &runpb.GetServiceRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("getting service %s: %w", name, err)
	}

	return svc, nil
}

// ListServices lists the services of parent, defaulting to the location of the context.
func (a *Actions) ListServices(ctx context.Context, parent string) ([]*runpb.Service, error) {
	if parent == "" {
		parent = a.gctx.LocationParent()
	}

	if parent == "" {
		return nil, gcp.ActivityFailed("missing GCP configuration keys to the path of the resource")
	}

	var (
		services []*runpb.Service
		it       = a.services.ListServices(ctx, &runpb.ListServicesRequest{Parent: parent})
	)

	for {
		svc, err := it.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("listing services of %s: %w", parent, err)
		}

		services = append(services, svc)
	}

	return services, nil
}

// ListServiceRevisions lists the revisions of a service.
func (a *Actions) ListServiceRevisions(ctx context.Context, name string) ([]*runpb.Revision, error) {
	name = a.serviceName(name)

	var (
		revisions []*runpb.Revision
		it        = a.revisions.ListRevisions(ctx, &runpb.ListRevisionsRequest{Parent: name})
	)

	for {
		revision, err := it.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("listing revisions of %s: %w", name, err)
		}

		revisions = append(revisions, revision)
	}

	return revisions, nil
}

// serviceName expands a bare service name into its full path, under the
// location of the context.
func (a *Actions) serviceName(name string) string {
	if name == "" || strings.Contains(name, "/") {
		return name
	}

	parent := a.gctx.LocationParent()
	if parent == "" {
		return name
	}

	return parent + "/services/" + name
}

func wait[R any](ctx context.Context, a *Actions, op *operation.LongRunning[R]) (R, error) {
	var zero R

	done, err := operation.WaitExtended(ctx, a.waiter, op, a.waitOpts...)
	if err != nil {
		return zero, err
	}

	if !done {
		a.logger.Warn("Operation cancelled, it did not complete in time", zap.String("operation", op.Name()))
		return zero, nil
	}

	return op.Result(ctx)
}
