// Package storage probes Cloud Storage objects.
package storage

import (
	"context"
	"errors"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jlevesy/chaosgcp/gcp"
)

type Probes struct {
	client *gcs.Client
	logger *zap.Logger
}

func NewProbes(ctx context.Context, logger *zap.Logger, clientOpts ...option.ClientOption) (*Probes, error) {
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &Probes{
		client: client,
		logger: logger.With(zap.String("component", "storage_probes")),
	}, nil
}

func (p *Probes) Close() error {
	return p.client.Close()
}

// ObjectExists tells if object is stored in bucket. A missing bucket is an error.
func (p *Probes) ObjectExists(ctx context.Context, bucket, object string) (bool, error) {
	if bucket == "" {
		return false, gcp.ActivityFailed("cannot get object, bucket name is mandatory")
	}

	if object == "" {
		return false, gcp.ActivityFailed("cannot get object, object name is mandatory")
	}

	_, err := p.client.Bucket(bucket).Object(object).Attrs(ctx)

	switch {
	case errors.Is(err, gcs.ErrObjectNotExist):
		p.logger.Debug("Object not found", zap.String("bucket", bucket), zap.String("object", object))
		return false, nil
	case err != nil:
		return false, fmt.Errorf("reading object %s in bucket %s: %w", object, bucket, err)
	default:
		return true, nil
	}
}
