// Package activity resolves what every activity call shares: the GCP
// context, the client credentials and the operation waiter. It then builds
// the per service actions out of them.
package activity

import (
	"context"
	"errors"
	"fmt"
	"os"

	cloudbuildapi "cloud.google.com/go/cloudbuild/apiv1/v2"
	container "cloud.google.com/go/container/apiv1"
	run "cloud.google.com/go/run/apiv2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jlevesy/chaosgcp/cloudbuild"
	"github.com/jlevesy/chaosgcp/cloudlogging"
	"github.com/jlevesy/chaosgcp/cloudrun"
	"github.com/jlevesy/chaosgcp/compute"
	"github.com/jlevesy/chaosgcp/dns"
	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/gke/nodepool"
	"github.com/jlevesy/chaosgcp/kube"
	"github.com/jlevesy/chaosgcp/lb"
	"github.com/jlevesy/chaosgcp/metrics"
	"github.com/jlevesy/chaosgcp/monitoring"
	"github.com/jlevesy/chaosgcp/operation"
	"github.com/jlevesy/chaosgcp/sql"
	"github.com/jlevesy/chaosgcp/storage"
)

type Option func(s *settings)

type settings struct {
	clientOpts []option.ClientOption
	registerer prometheus.Registerer
	waiterOpts []operation.WaiterOption
	projectID  string
	region     string
	drainer    nodepool.Drainer
}

// WithClientOptions sets the options handed to every GCP client, in place of
// the credentials read from the secrets.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// WithRegisterer records the session metrics into reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

func WithWaiterOptions(opts ...operation.WaiterOption) Option {
	return func(s *settings) {
		s.waiterOpts = append(s.waiterOpts, opts...)
	}
}

// WithOverrides replaces the configured project and region for this session.
func WithOverrides(projectID, region string) Option {
	return func(s *settings) {
		s.projectID = projectID
		s.region = region
	}
}

// WithDrainer sets the drainer used when swapping node pools, in place of
// one built from the kubeconfig.
func WithDrainer(d nodepool.Drainer) Option {
	return func(s *settings) {
		s.drainer = d
	}
}

// Session holds the state resolved once per activity call.
type Session struct {
	Context gcp.Context
	Waiter  *operation.Waiter
	Metrics *metrics.Metrics

	clientOpts []option.ClientOption
	secrets    gcp.Secrets
	logger     *zap.Logger
	drainer    nodepool.Drainer

	// callRegion is the region given along the arguments of one call.
	callRegion string
}

func NewSession(ctx context.Context, cfg gcp.Configuration, secrets gcp.Secrets, logger *zap.Logger, opts ...Option) (*Session, error) {
	var s settings

	for _, opt := range opts {
		opt(&s)
	}

	provider, err := gcp.BuildContextProvider(ctx, cfg.String(gcp.KeyContextProvider))
	if err != nil {
		return nil, err
	}

	gctx, err := provider.Provide(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolving GCP context: %w", err)
	}

	gctx = gctx.WithOverrides(s.projectID, s.region)

	clientOpts := s.clientOpts
	if len(clientOpts) == 0 {
		clientOpts, err = gcp.ClientOptions(ctx, logger, secrets)
		if err != nil {
			return nil, err
		}
	}

	var m *metrics.Metrics
	if s.registerer != nil {
		m = metrics.NewMetrics(s.registerer)
	}

	logger = logger.With(zap.String("project", gctx.ProjectID))

	return &Session{
		Context:    gctx,
		Waiter:     operation.NewWaiter(logger, append([]operation.WaiterOption{operation.WithMetrics(m)}, s.waiterOpts...)...),
		Metrics:    m,
		clientOpts: clientOpts,
		secrets:    secrets,
		logger:     logger,
		drainer:    s.drainer,
	}, nil
}

// withOverrides returns a copy of the session targeting projectID and region
// when they are set.
func (s *Session) withOverrides(projectID, region string) *Session {
	if projectID == "" && region == "" {
		return s
	}

	overridden := *s
	overridden.Context = s.Context.WithOverrides(projectID, region)
	overridden.callRegion = region

	if projectID != "" {
		overridden.logger = s.logger.With(zap.String("project_override", projectID))
	}

	return &overridden
}

// ClientOptions returns the options to build any GCP client.
func (s *Session) ClientOptions() []option.ClientOption {
	return s.clientOpts
}

func (s *Session) LoadBalancer(ctx context.Context, opts ...lb.ActionsOption) (*lb.Actions, func() error, error) {
	return lb.NewActionsFromContext(
		ctx,
		s.Context,
		s.Waiter,
		s.logger,
		s.clientOpts,
		append([]lb.ActionsOption{lb.WithMetrics(s.Metrics)}, opts...)...,
	)
}

func (s *Session) BackendHealth(ctx context.Context) (*lb.BackendHealth, error) {
	return lb.NewBackendHealth(ctx, s.Context, s.clientOpts...)
}

// NodePools builds the node pool actions. Swapping node pools is available
// when the secrets point at a kubeconfig, or when running inside a cluster.
func (s *Session) NodePools(ctx context.Context, opts ...nodepool.Option) (*nodepool.Actions, func() error, error) {
	client, err := container.NewClusterManagerClient(ctx, s.clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cluster manager client: %w", err)
	}

	drainer, err := s.buildDrainer()
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	if drainer != nil {
		opts = append([]nodepool.Option{nodepool.WithDrainer(drainer)}, opts...)
	}

	return nodepool.NewActions(client, s.Waiter, s.Context, s.logger, opts...), client.Close, nil
}

func (s *Session) buildDrainer() (nodepool.Drainer, error) {
	if s.drainer != nil {
		return s.drainer, nil
	}

	kubeconfig := s.secrets.String(gcp.SecretKubeconfig)
	if kubeconfig == "" && os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
		return nil, nil
	}

	client, err := kube.NewClientset(kubeconfig)
	if err != nil {
		return nil, err
	}

	return kube.NewDrainer(client, s.logger), nil
}

func (s *Session) SQL(ctx context.Context, opts ...sql.Option) (*sql.Actions, error) {
	return sql.NewActions(ctx, s.Context, s.Waiter, s.logger, s.clientOpts, opts...)
}

func (s *Session) CloudRun(ctx context.Context, opts ...cloudrun.Option) (*cloudrun.Actions, func() error, error) {
	services, err := run.NewServicesClient(ctx, s.clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cloud run client: %w", err)
	}

	revisions, err := run.NewRevisionsClient(ctx, s.clientOpts...)
	if err != nil {
		_ = services.Close()
		return nil, nil, fmt.Errorf("creating cloud run revisions client: %w", err)
	}

	closeClients := func() error {
		return errors.Join(services.Close(), revisions.Close())
	}

	return cloudrun.NewActions(services, revisions, s.Context, s.Waiter, s.logger, opts...), closeClients, nil
}

func (s *Session) CloudBuild(ctx context.Context, opts ...cloudbuild.Option) (*cloudbuild.Actions, func() error, error) {
	client, err := cloudbuildapi.NewClient(ctx, s.clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cloud build client: %w", err)
	}

	return cloudbuild.NewActions(client, s.Context, s.Waiter, s.logger, opts...), client.Close, nil
}

func (s *Session) Compute(ctx context.Context, opts ...compute.Option) (*compute.Actions, error) {
	return compute.NewActions(ctx, s.Context, s.Waiter, s.logger, s.clientOpts, opts...)
}

func (s *Session) Storage(ctx context.Context) (*storage.Probes, error) {
	return storage.NewProbes(ctx, s.logger, s.clientOpts...)
}

func (s *Session) DNS(ctx context.Context) (*dns.Records, error) {
	return dns.NewRecords(ctx, s.Context, s.logger, s.clientOpts...)
}

func (s *Session) Logging(ctx context.Context, opts ...cloudlogging.Option) (*cloudlogging.Probes, error) {
	return cloudlogging.NewProbes(ctx, s.Context, s.logger, s.clientOpts, opts...)
}

func (s *Session) Monitoring(ctx context.Context, opts ...monitoring.Option) (*monitoring.Reader, error) {
	return monitoring.NewReader(ctx, s.Context, s.logger, s.clientOpts, opts...)
}
