// Package lb injects faults into the traffic served by GCP load balancers by
// editing the fault injection policies of their url maps.
package lb

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/compute/apiv1/computepb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jlevesy/chaosgcp/metrics"
	"github.com/jlevesy/chaosgcp/operation"
	"github.com/jlevesy/chaosgcp/urlmap"
)

const (
	DefaultTargetPath = "/*"
	DefaultPercentage = 50.0
	DefaultHTTPStatus = 400
	// DefaultDelaySeconds is the delay injected when none is given.
	DefaultDelaySeconds = 1
)

var ErrMissingRegion = errors.New("when `regional` is set, the `gcp_region` configuration key must also be set")

// Target designates a route of a url map.
type Target struct {
	URLMap string
	// PathMatcher is the name of the path matcher holding the route.
	PathMatcher string
	// Path defaults to DefaultTargetPath.
	Path     string
	Regional bool
}

func (t Target) path() string {
	if t.Path == "" {
		return DefaultTargetPath
	}

	return t.Path
}

// Delay is a fixed delay split like the url map stores it.
type Delay struct {
	Seconds int64
	Nanos   int32
}

// Actions edits fault injection policies of url maps and waits for the
// load balancer to accept the change.
type Actions struct {
	global   *URLMaps
	regional *URLMaps
	waiter   *operation.Waiter
	waitOpts []operation.Option
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

type ActionsOption func(a *Actions)

// WithRegionalURLMaps enables regional targets.
func WithRegionalURLMaps(u *URLMaps) ActionsOption {
	return func(a *Actions) {
		a.regional = u
	}
}

// WithWaitOptions tunes how updates are waited on.
func WithWaitOptions(opts ...operation.Option) ActionsOption {
	return func(a *Actions) {
		a.waitOpts = opts
	}
}

func WithMetrics(m *metrics.Metrics) ActionsOption {
	return func(a *Actions) {
		a.metrics = m
	}
}

func NewActions(global *URLMaps, waiter *operation.Waiter, logger *zap.Logger, opts ...ActionsOption) *Actions {
	a := Actions{
		global: global,
		waiter: waiter,
		logger: logger.With(zap.String("component", "lb_actions")),
	}

	for _, opt := range opts {
		opt(&a)
	}

	return &a
}

// InjectTrafficDelay delays percentage of the requests routed to target.
func (a *Actions) InjectTrafficDelay(ctx context.Context, target Target, percentage float64, delay Delay) (*computepb.UrlMap, error) {
	a.logger.Info(
		"Injecting traffic delay",
		zap.String("url_map", target.URLMap),
		zap.String("path_matcher", target.PathMatcher),
		zap.String("path", target.path()),
		zap.Float64("percentage", percentage),
		zap.Int64("delay_seconds", delay.Seconds),
		zap.Int32("delay_nanos", delay.Nanos),
	)

	return a.editTarget(ctx, target, "delay", func(action *computepb.HttpRouteAction) error {
		return urlmap.SetDelay(urlmap.EnsurePolicy(action), percentage, delay.Seconds, delay.Nanos)
	})
}

// InjectTrafficFaults aborts percentage of the requests routed to target with httpStatus.
func (a *Actions) InjectTrafficFaults(ctx context.Context, target Target, percentage float64, httpStatus uint32) (*computepb.UrlMap, error) {
	a.logger.Info(
		"Injecting traffic faults",
		zap.String("url_map", target.URLMap),
		zap.String("path_matcher", target.PathMatcher),
		zap.String("path", target.path()),
		zap.Float64("percentage", percentage),
		zap.Uint32("http_status", httpStatus),
	)

	return a.editTarget(ctx, target, "abort", func(action *computepb.HttpRouteAction) error {
		return urlmap.SetAbort(urlmap.EnsurePolicy(action), percentage, httpStatus)
	})
}

// RemoveFaultInjectionTrafficPolicy clears any fault injected on target.
func (a *Actions) RemoveFaultInjectionTrafficPolicy(ctx context.Context, target Target) (*computepb.UrlMap, error) {
	a.logger.Info(
		"Removing fault injection policy",
		zap.String("url_map", target.URLMap),
		zap.String("path_matcher", target.PathMatcher),
		zap.String("path", target.path()),
	)

	return a.editTarget(ctx, target, "remove", func(action *computepb.HttpRouteAction) error {
		action.FaultInjectionPolicy = nil
		return nil
	})
}

// InjectTrafficDelayForURL is InjectTrafficDelay targeting the route serving rawURL.
func (a *Actions) InjectTrafficDelayForURL(ctx context.Context, rawURL string, percentage float64, delay Delay) (*computepb.UrlMap, error) {
	a.logger.Info("Injecting traffic delay", zap.String("url", rawURL), zap.Float64("percentage", percentage))

	return a.editURL(ctx, rawURL, "delay", func(action *computepb.HttpRouteAction) error {
		return urlmap.SetDelay(urlmap.EnsurePolicy(action), percentage, delay.Seconds, delay.Nanos)
	})
}

// InjectTrafficFaultsForURL is InjectTrafficFaults targeting the route serving rawURL.
func (a *Actions) InjectTrafficFaultsForURL(ctx context.Context, rawURL string, percentage float64, httpStatus uint32) (*computepb.UrlMap, error) {
	a.logger.Info("Injecting traffic faults", zap.String("url", rawURL), zap.Float64("percentage", percentage))

	return a.editURL(ctx, rawURL, "abort", func(action *computepb.HttpRouteAction) error {
		return urlmap.SetAbort(urlmap.EnsurePolicy(action), percentage, httpStatus)
	})
}

// RemoveFaultInjectionForURL clears any fault injected on the route serving rawURL.
func (a *Actions) RemoveFaultInjectionForURL(ctx context.Context, rawURL string) (*computepb.UrlMap, error) {
	a.logger.Info("Removing fault injection policy", zap.String("url", rawURL))

	return a.editURL(ctx, rawURL, "remove", func(action *computepb.HttpRouteAction) error {
		action.FaultInjectionPolicy = nil
		return nil
	})
}

func (a *Actions) scope(regional bool) (*URLMaps, error) {
	if !regional {
		return a.global, nil
	}

	if a.regional == nil {
		return nil, ErrMissingRegion
	}

	return a.regional, nil
}

// editTarget fetches the url map, applies edit to the target route and pushes
// the whole document back. Nothing is pushed if the route can't be found.
func (a *Actions) editTarget(ctx context.Context, target Target, change string, edit func(*computepb.HttpRouteAction) error) (*computepb.UrlMap, error) {
	urlMaps, err := a.scope(target.Regional)
	if err != nil {
		return nil, err
	}

	um, err := urlMaps.Get(ctx, target.URLMap)
	if err != nil {
		return nil, fmt.Errorf("could not get url map %q: %w", target.URLMap, err)
	}

	action, err := urlmap.FindRoute(um, target.PathMatcher, target.path())
	if err != nil {
		return nil, err
	}

	if err := edit(action); err != nil {
		return nil, err
	}

	if err := a.push(ctx, urlMaps, um, change); err != nil {
		return nil, err
	}

	return um, nil
}

func (a *Actions) editURL(ctx context.Context, rawURL, change string, edit func(*computepb.HttpRouteAction) error) (*computepb.UrlMap, error) {
	scopes := []*URLMaps{a.global}
	if a.regional != nil {
		scopes = append(scopes, a.regional)
	}

	listed, err := listAll(ctx, scopes)
	if err != nil {
		return nil, err
	}

	var all []*computepb.UrlMap
	for _, urlMaps := range listed {
		all = append(all, urlMaps...)
	}

	um, action, err := urlmap.FindRouteFromURL(all, rawURL)
	if err != nil {
		return nil, err
	}

	if err := edit(action); err != nil {
		return nil, err
	}

	owner := scopes[0]

	for i, urlMaps := range listed {
		for _, candidate := range urlMaps {
			if candidate == um {
				owner = scopes[i]
			}
		}
	}

	if err := a.push(ctx, owner, um, change); err != nil {
		return nil, err
	}

	return um, nil
}

func (a *Actions) push(ctx context.Context, urlMaps *URLMaps, um *computepb.UrlMap, change string) error {
	op, err := urlMaps.Update(ctx, um)
	if err != nil {
		return fmt.Errorf("could not update url map %q: %w", um.GetName(), err)
	}

	a.metrics.ObserveFaultPolicyChange(change)

	done, err := operation.WaitExtended(ctx, a.waiter, operation.FromCompute(op), a.waitOpts...)
	if err != nil {
		return err
	}

	if !done {
		a.logger.Info(
			"Url map update did not complete in time",
			zap.String("url_map", um.GetName()),
			zap.String("scope", urlMaps.Scope()),
		)
	}

	return nil
}

// listAll lists the url maps of every scope concurrently, results are
// returned in the order of scopes.
func listAll(ctx context.Context, scopes []*URLMaps) ([][]*computepb.UrlMap, error) {
	listed := make([][]*computepb.UrlMap, len(scopes))

	group, groupCtx := errgroup.WithContext(ctx)

	for i, urlMaps := range scopes {
		group.Go(func() error {
			ums, err := urlMaps.List(groupCtx)
			if err != nil {
				return fmt.Errorf("could not list %s url maps: %w", urlMaps.Scope(), err)
			}

			listed[i] = ums

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return listed, nil
}
