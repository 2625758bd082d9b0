package gcp

import (
	"fmt"
	"strings"
)

// MalformedParentError is returned when a parent path can't be decomposed into a Context.
type MalformedParentError string

func (m MalformedParentError) Error() string {
	return fmt.Sprintf("malformed parent path %q, expected projects/<project>/locations/<location>[/...]", string(m))
}

// Context carries the identifiers used to build GCP resource names.
// It is resolved once per activity call and is never mutated afterwards: every
// method works on a copy.
type Context struct {
	ProjectID   string
	ClusterName string
	Zone        string
	Region      string
	Parent      string
}

// ContextFromConfiguration reads the context keys out of an activity configuration.
func ContextFromConfiguration(cfg Configuration) Context {
	return Context{
		ProjectID:   cfg.String(KeyProjectID),
		ClusterName: cfg.String(KeyClusterName),
		Region:      cfg.String(KeyRegion),
		Zone:        cfg.String(KeyZone),
		Parent:      cfg.String(KeyParent),
	}
}

// ContextFromParentPath decomposes a path shaped like
// projects/<project>/locations/<location>[/clusters/<cluster>/...].
// A location carrying a zone suffix (us-east1-b) fills both Zone and Region.
func ContextFromParentPath(parent string) (Context, error) {
	segments := strings.Split(strings.Trim(parent, "/"), "/")
	if len(segments) < 4 ||
		segments[0] != "projects" || segments[1] == "" ||
		segments[2] != "locations" || segments[3] == "" {
		return Context{}, MalformedParentError(parent)
	}

	location := segments[3]

	gctx := Context{
		ProjectID: segments[1],
		Region:    location,
		Parent:    parent,
	}

	if region, ok := regionOfZone(location); ok {
		gctx.Zone = location
		gctx.Region = region
	}

	rest := segments[4:]
	for i, segment := range rest {
		if segment == "clusters" && i+1 < len(rest) {
			gctx.ClusterName = rest[i+1]
			break
		}
	}

	return gctx, nil
}

// regionOfZone extracts the region out of a zone name. Regions are made of
// two dash separated parts (europe-west1), zones add a third one (europe-west1-b).
func regionOfZone(location string) (string, bool) {
	if strings.Count(location, "-") < 2 {
		return "", false
	}

	idx := strings.LastIndex(location, "-")

	return location[:idx], true
}

// WithOverrides returns a copy of the context where non empty arguments replace
// the configured project and region.
func (c Context) WithOverrides(projectID, region string) Context {
	if projectID != "" {
		c.ProjectID = projectID
	}

	if region != "" {
		c.Region = region
	}

	return c
}

// Location returns the zone when set, the region otherwise.
func (c Context) Location() string {
	if c.Zone != "" {
		return c.Zone
	}

	return c.Region
}

// LocationParent returns the configured parent, or derives it from the project
// and the region. It returns an empty string when neither is possible.
func (c Context) LocationParent() string {
	if c.Parent != "" {
		return c.Parent
	}

	if c.ProjectID == "" || c.Region == "" {
		return ""
	}

	return fmt.Sprintf("projects/%s/locations/%s", c.ProjectID, c.Region)
}

// ClusterParent returns the GKE cluster path, or an empty string when the
// context does not hold enough information to build it.
func (c Context) ClusterParent() string {
	if c.Parent != "" {
		return c.Parent
	}

	parent := c.LocationParent()
	if parent == "" || c.ClusterName == "" {
		return ""
	}

	return parent + "/clusters/" + c.ClusterName
}

// OperationName returns the fully qualified name of a GKE operation.
func (c Context) OperationName(operation string) string {
	if strings.HasPrefix(operation, "projects/") {
		return operation
	}

	return fmt.Sprintf("projects/%s/locations/%s/operations/%s", c.ProjectID, c.Location(), operation)
}

// ResolveParent returns parent when given. Otherwise it builds the cluster
// parent from the context, optionally pointing at the node pool nodePoolID.
func (c Context) ResolveParent(parent, nodePoolID string) (string, error) {
	if parent != "" {
		return parent, nil
	}

	parent = c.ClusterParent()
	if parent == "" {
		return "", ActivityFailed("missing GCP configuration keys to the path of the resource")
	}

	if nodePoolID != "" {
		parent = parent + "/nodePools/" + nodePoolID
	}

	return parent, nil
}
