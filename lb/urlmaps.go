package lb

import (
	"context"
	"errors"
	"fmt"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// URLMaps reads and writes the url maps of a project, either global ones or
// the ones of a single region.
type URLMaps struct {
	project  string
	region   string
	global   *compute.UrlMapsClient
	regional *compute.RegionUrlMapsClient
}

func NewGlobalURLMaps(ctx context.Context, project string, opts ...option.ClientOption) (*URLMaps, error) {
	client, err := compute.NewUrlMapsRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create url maps client: %w", err)
	}

	return &URLMaps{project: project, global: client}, nil
}

func NewRegionalURLMaps(ctx context.Context, project, region string, opts ...option.ClientOption) (*URLMaps, error) {
	if region == "" {
		return nil, ErrMissingRegion
	}

	client, err := compute.NewRegionUrlMapsRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create regional url maps client: %w", err)
	}

	return &URLMaps{project: project, region: region, regional: client}, nil
}

// Scope returns "global" or the region the url maps belong to.
func (u *URLMaps) Scope() string {
	if u.region == "" {
		return "global"
	}

	return u.region
}

func (u *URLMaps) Close() error {
	if u.regional != nil {
		return u.regional.Close()
	}

	return u.global.Close()
}

func (u *URLMaps) Get(ctx context.Context, name string) (*computepb.UrlMap, error) {
	if u.regional != nil {
		return u.regional.Get(ctx, &computepb.GetRegionUrlMapRequest{
			Project: u.project,
			Region:  u.region,
			UrlMap:  name,
		})
	}

	return u.global.Get(ctx, &computepb.GetUrlMapRequest{
		Project: u.project,
		UrlMap:  name,
	})
}

func (u *URLMaps) List(ctx context.Context) ([]*computepb.UrlMap, error) {
	var it *compute.UrlMapIterator

	if u.regional != nil {
		it = u.regional.List(ctx, &computepb.ListRegionUrlMapsRequest{
			Project: u.project,
			Region:  u.region,
		})
	} else {
		it = u.global.List(ctx, &computepb.ListUrlMapsRequest{
			Project: u.project,
		})
	}

	var urlMaps []*computepb.UrlMap

	for {
		urlMap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return urlMaps, nil
		}

		if err != nil {
			return nil, err
		}

		urlMaps = append(urlMaps, urlMap)
	}
}

// Update replaces the whole url map document.
func (u *URLMaps) Update(ctx context.Context, urlMap *computepb.UrlMap) (*compute.Operation, error) {
	if u.regional != nil {
		return u.regional.Update(ctx, &computepb.UpdateRegionUrlMapRequest{
			Project:        u.project,
			Region:         u.region,
			UrlMap:         urlMap.GetName(),
			UrlMapResource: urlMap,
		})
	}

	return u.global.Update(ctx, &computepb.UpdateUrlMapRequest{
		Project:        u.project,
		UrlMap:         urlMap.GetName(),
		UrlMapResource: urlMap,
	})
}
