// Package urlmap locates routes inside GCP url maps and edits the fault
// injection policy attached to them. Nothing in this package talks to the
// network: callers fetch the url map, edit it in place, and push it back.
package urlmap

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"cloud.google.com/go/compute/apiv1/computepb"
)

var (
	ErrPathMatcherNotFound = errors.New("failed to match the appropriate path matcher")
	ErrRouteNotFound       = errors.New("failed to match the appropriate route/path")
	ErrNoMatchingURLMap    = errors.New("no url map is serving the host")
	ErrNoMatchingRoute     = errors.New("no route is matching the path")
)

// routeStrategy looks for path inside a path matcher. It returns the rule
// owning the route action, or nil.
type routeStrategy func(pm *computepb.PathMatcher, path string) (routeActionOwner, error)

// routeStrategies is evaluated in order, first match wins: path rules take
// precedence over route rules.
var routeStrategies = []routeStrategy{
	matchPathRules,
	matchRouteRules,
}

// routeActionOwner is either a *computepb.PathRule or a *computepb.HttpRouteRule.
type routeActionOwner interface {
	GetRouteAction() *computepb.HttpRouteAction
}

// FindRoute returns the route action serving targetPath in the path matcher
// named targetName. The returned action belongs to urlMap: editing it edits
// the url map. A matched rule without route action gets an empty one.
func FindRoute(urlMap *computepb.UrlMap, targetName, targetPath string) (*computepb.HttpRouteAction, error) {
	pm := findPathMatcher(urlMap, targetName)
	if pm == nil {
		return nil, fmt.Errorf("%w %q in url map %q", ErrPathMatcherNotFound, targetName, urlMap.GetName())
	}

	for _, strategy := range routeStrategies {
		owner, err := strategy(pm, targetPath)
		if err != nil {
			return nil, err
		}

		if owner != nil {
			return ensureRouteAction(owner), nil
		}
	}

	return nil, fmt.Errorf(
		"%w %q in path matcher %q of url map %q",
		ErrRouteNotFound,
		targetPath,
		targetName,
		urlMap.GetName(),
	)
}

// FindRouteFromURL returns the first url map having a host rule for the host
// of rawURL, along with the route action of the first route rule matching its path.
func FindRouteFromURL(urlMaps []*computepb.UrlMap, rawURL string) (*computepb.UrlMap, *computepb.HttpRouteAction, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse url %q: %w", rawURL, err)
	}

	var (
		host = u.Hostname()
		path = u.Path
	)

	if path == "" {
		path = "/"
	}

	urlMap := findURLMapByHost(urlMaps, host)
	if urlMap == nil {
		return nil, nil, fmt.Errorf("%w %q", ErrNoMatchingURLMap, host)
	}

	for _, pm := range urlMap.GetPathMatchers() {
		owner, err := matchRouteRules(pm, path)
		if err != nil {
			return nil, nil, err
		}

		if owner != nil {
			return urlMap, ensureRouteAction(owner), nil
		}
	}

	return nil, nil, fmt.Errorf("%w %q in url map %q", ErrNoMatchingRoute, path, urlMap.GetName())
}

func findPathMatcher(urlMap *computepb.UrlMap, name string) *computepb.PathMatcher {
	for _, pm := range urlMap.GetPathMatchers() {
		if pm.GetName() == name {
			return pm
		}
	}

	return nil
}

func findURLMapByHost(urlMaps []*computepb.UrlMap, host string) *computepb.UrlMap {
	for _, urlMap := range urlMaps {
		for _, hostRule := range urlMap.GetHostRules() {
			for _, candidate := range hostRule.GetHosts() {
				if candidate == host {
					return urlMap
				}
			}
		}
	}

	return nil
}

func matchPathRules(pm *computepb.PathMatcher, path string) (routeActionOwner, error) {
	for _, rule := range pm.GetPathRules() {
		for _, candidate := range rule.GetPaths() {
			if candidate == path {
				return rule, nil
			}
		}
	}

	return nil, nil
}

func matchRouteRules(pm *computepb.PathMatcher, path string) (routeActionOwner, error) {
	for _, rule := range pm.GetRouteRules() {
		for _, matchRule := range rule.GetMatchRules() {
			ok, err := matchesPath(matchRule, path)
			if err != nil {
				return nil, err
			}

			if ok {
				return rule, nil
			}
		}
	}

	return nil, nil
}

// matchesPath evaluates a match rule the way the load balancer does: a regex
// must match the whole path, a full path match is an equality and a prefix
// match is a literal prefix.
func matchesPath(matchRule *computepb.HttpRouteRuleMatch, path string) (bool, error) {
	switch {
	case matchRule.RegexMatch != nil:
		re, err := regexp.Compile("^(?:" + matchRule.GetRegexMatch() + ")$")
		if err != nil {
			return false, fmt.Errorf("invalid regex match %q: %w", matchRule.GetRegexMatch(), err)
		}

		return re.MatchString(path), nil
	case matchRule.FullPathMatch != nil:
		return matchRule.GetFullPathMatch() == path, nil
	case matchRule.PrefixMatch != nil:
		return strings.HasPrefix(path, matchRule.GetPrefixMatch()), nil
	default:
		return false, nil
	}
}

func ensureRouteAction(owner routeActionOwner) *computepb.HttpRouteAction {
	if action := owner.GetRouteAction(); action != nil {
		return action
	}

	action := &computepb.HttpRouteAction{}

	switch rule := owner.(type) {
	case *computepb.PathRule:
		rule.RouteAction = action
	case *computepb.HttpRouteRule:
		rule.RouteAction = action
	}

	return action
}
