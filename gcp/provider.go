package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/compute/metadata"
)

const (
	ProviderTypeConfig = "config"
	ProviderTypeGcloud = "gcloud"
)

var ErrNotRunningOnGCE = errors.New("not running on GCE")

type UnknownProviderError string

func (u UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown context provider %q", string(u))
}

// ContextProvider allows to resolve a Context for an activity.
type ContextProvider interface {
	Provide(ctx context.Context, cfg Configuration) (Context, error)
}

func BuildContextProvider(_ context.Context, providerType string) (ContextProvider, error) {
	switch strings.ToLower(providerType) {
	case ProviderTypeConfig, "":
		return &configProvider{}, nil
	case ProviderTypeGcloud:
		return &gcloudProvider{
			onGCE:    metadata.OnGCE,
			metadata: metadata.NewClient(nil),
		}, nil
	default:
		return nil, UnknownProviderError(providerType)
	}
}

type configProvider struct{}

func (c *configProvider) Provide(_ context.Context, cfg Configuration) (Context, error) {
	return ContextFromConfiguration(cfg), nil
}

type metadataClient interface {
	ProjectIDWithContext(ctx context.Context) (string, error)
	ZoneWithContext(ctx context.Context) (string, error)
}

// gcloudProvider completes the configuration with what the metadata server knows
// about the instance running the activity.
type gcloudProvider struct {
	onGCE    func() bool
	metadata metadataClient
}

func (g *gcloudProvider) Provide(ctx context.Context, cfg Configuration) (Context, error) {
	gctx := ContextFromConfiguration(cfg)

	if gctx.ProjectID != "" && gctx.Location() != "" {
		return gctx, nil
	}

	if !g.onGCE() {
		return Context{}, ErrNotRunningOnGCE
	}

	if gctx.ProjectID == "" {
		projectID, err := g.metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return Context{}, err
		}

		gctx.ProjectID = projectID
	}

	if gctx.Location() == "" {
		zone, err := g.metadata.ZoneWithContext(ctx)
		if err != nil {
			return Context{}, err
		}

		gctx.Zone = zone

		if region, ok := regionOfZone(zone); ok {
			gctx.Region = region
		}
	}

	return gctx, nil
}
