package testruntime

import (
	"cloud.google.com/go/compute/apiv1/computepb"
)

func Ptr[T any](v T) *T {
	return &v
}

type URLMapOption func(u *computepb.UrlMap)

// WithHostRule routes hosts to the path matcher named pathMatcher.
func WithHostRule(pathMatcher string, hosts ...string) URLMapOption {
	return func(u *computepb.UrlMap) {
		u.HostRules = append(
			u.HostRules,
			&computepb.HostRule{
				Hosts:       hosts,
				PathMatcher: Ptr(pathMatcher),
			},
		)
	}
}

func WithPathMatchers(pms ...*computepb.PathMatcher) URLMapOption {
	return func(u *computepb.UrlMap) {
		u.PathMatchers = append(u.PathMatchers, pms...)
	}
}

func BuildURLMap(name string, opts ...URLMapOption) *computepb.UrlMap {
	u := computepb.UrlMap{
		Name:           Ptr(name),
		DefaultService: Ptr("global/backendServices/" + name + "-default"),
	}

	for _, opt := range opts {
		opt(&u)
	}

	return &u
}

type PathMatcherOption func(pm *computepb.PathMatcher)

// WithPathRule adds a path rule owning an empty route action.
func WithPathRule(paths ...string) PathMatcherOption {
	return func(pm *computepb.PathMatcher) {
		pm.PathRules = append(
			pm.PathRules,
			&computepb.PathRule{
				Paths:       paths,
				RouteAction: &computepb.HttpRouteAction{},
			},
		)
	}
}

// WithBarePathRule adds a path rule without route action.
func WithBarePathRule(paths ...string) PathMatcherOption {
	return func(pm *computepb.PathMatcher) {
		pm.PathRules = append(pm.PathRules, &computepb.PathRule{Paths: paths})
	}
}

// WithRouteRule adds a route rule owning an empty route action.
func WithRouteRule(matches ...*computepb.HttpRouteRuleMatch) PathMatcherOption {
	return func(pm *computepb.PathMatcher) {
		pm.RouteRules = append(
			pm.RouteRules,
			&computepb.HttpRouteRule{
				Priority:    Ptr(int32(len(pm.RouteRules) + 1)),
				MatchRules:  matches,
				RouteAction: &computepb.HttpRouteAction{},
			},
		)
	}
}

func BuildPathMatcher(name string, opts ...PathMatcherOption) *computepb.PathMatcher {
	pm := computepb.PathMatcher{
		Name: Ptr(name),
	}

	for _, opt := range opts {
		opt(&pm)
	}

	return &pm
}

func PrefixMatch(prefix string) *computepb.HttpRouteRuleMatch {
	return &computepb.HttpRouteRuleMatch{PrefixMatch: Ptr(prefix)}
}

func FullPathMatch(path string) *computepb.HttpRouteRuleMatch {
	return &computepb.HttpRouteRuleMatch{FullPathMatch: Ptr(path)}
}

func RegexMatch(re string) *computepb.HttpRouteRuleMatch {
	return &computepb.HttpRouteRuleMatch{RegexMatch: Ptr(re)}
}
