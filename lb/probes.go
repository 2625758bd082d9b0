package lb

import (
	"context"
	"fmt"
	"sync"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	hcm "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/urlmap"
)

// FaultInjection describes the fault injection policy of a route.
type FaultInjection struct {
	URLMap string
	Policy *computepb.HttpFaultInjection
	State  urlmap.State
	// Filter is the fault filter proxies receive for this policy, nil when absent.
	Filter *hcm.HttpFilter
}

// DescribeFaultInjectionPolicy reads the fault injection policy of target.
func (a *Actions) DescribeFaultInjectionPolicy(ctx context.Context, target Target) (*FaultInjection, error) {
	urlMaps, err := a.scope(target.Regional)
	if err != nil {
		return nil, err
	}

	um, err := urlMaps.Get(ctx, target.URLMap)
	if err != nil {
		return nil, fmt.Errorf("could not get url map %q: %w", target.URLMap, err)
	}

	policy, err := urlmap.GetFaultInjectionPolicy(um, target.PathMatcher, target.path())
	if err != nil {
		return nil, err
	}

	filter, err := urlmap.ToEnvoyFilter(policy)
	if err != nil {
		return nil, err
	}

	return &FaultInjection{
		URLMap: um.GetName(),
		Policy: policy,
		State:  urlmap.StateOf(policy),
		Filter: filter,
	}, nil
}

// BackendHealth reports the health of backend services.
type BackendHealth struct {
	gctx     gcp.Context
	global   *compute.BackendServicesClient
	regional *compute.RegionBackendServicesClient
}

func NewBackendHealth(ctx context.Context, gctx gcp.Context, opts ...option.ClientOption) (*BackendHealth, error) {
	global, err := compute.NewBackendServicesRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create backend services client: %w", err)
	}

	regional, err := compute.NewRegionBackendServicesRESTClient(ctx, opts...)
	if err != nil {
		_ = global.Close()
		return nil, fmt.Errorf("could not create regional backend services client: %w", err)
	}

	return &BackendHealth{gctx: gctx, global: global, regional: regional}, nil
}

func (b *BackendHealth) Close() error {
	if err := b.regional.Close(); err != nil {
		_ = b.global.Close()
		return err
	}

	return b.global.Close()
}

// GetBackendServiceHealth returns the health of every backend group of the
// backend service, keyed by group. A non empty region targets a regional backend service.
func (b *BackendHealth) GetBackendServiceHealth(ctx context.Context, backendService, region string) (map[string]*computepb.BackendServiceGroupHealth, error) {
	bs, err := b.getBackendService(ctx, backendService, region)
	if err != nil {
		return nil, fmt.Errorf("could not get backend service %q: %w", backendService, err)
	}

	var (
		mu     sync.Mutex
		health = make(map[string]*computepb.BackendServiceGroupHealth, len(bs.GetBackends()))
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for _, backend := range bs.GetBackends() {
		groupURL := backend.GetGroup()

		group.Go(func() error {
			h, err := b.getHealth(groupCtx, backendService, region, groupURL)
			if err != nil {
				return fmt.Errorf("could not get health of group %q: %w", groupURL, err)
			}

			mu.Lock()
			health[groupURL] = h
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return health, nil
}

func (b *BackendHealth) getBackendService(ctx context.Context, name, region string) (*computepb.BackendService, error) {
	if region != "" {
		return b.regional.Get(ctx, &computepb.GetRegionBackendServiceRequest{
			Project:        b.gctx.ProjectID,
			Region:         region,
			BackendService: name,
		})
	}

	return b.global.Get(ctx, &computepb.GetBackendServiceRequest{
		Project:        b.gctx.ProjectID,
		BackendService: name,
	})
}

func (b *BackendHealth) getHealth(ctx context.Context, name, region, groupURL string) (*computepb.BackendServiceGroupHealth, error) {
	ref := &computepb.ResourceGroupReference{Group: &groupURL}

	if region != "" {
		return b.regional.GetHealth(ctx, &computepb.GetHealthRegionBackendServiceRequest{
			Project:                        b.gctx.ProjectID,
			Region:                         region,
			BackendService:                 name,
			ResourceGroupReferenceResource: ref,
		})
	}

	return b.global.GetHealth(ctx, &computepb.GetHealthBackendServiceRequest{
		Project:                        b.gctx.ProjectID,
		BackendService:                 name,
		ResourceGroupReferenceResource: ref,
	})
}
