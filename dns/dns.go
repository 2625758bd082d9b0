// Package dns edits Cloud DNS record sets.
package dns

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	dnsapi "google.golang.org/api/dns/v1"
	"google.golang.org/api/option"

	"github.com/jlevesy/chaosgcp/gcp"
)

const (
	DefaultTTL        = 5
	DefaultRecordType = "A"
	recordSetKind     = "dns#resourceRecordSet"
)

// ARecordUpdate points a record at a new address.
type ARecordUpdate struct {
	Zone      string
	Name      string
	IPAddress string
	// TTL defaults to DefaultTTL seconds.
	TTL int64
	// RecordType is the type the record ends up with, ExistingType the one it
	// currently has. Both default to DefaultRecordType.
	RecordType   string
	ExistingType string
}

type Records struct {
	service *dnsapi.Service
	project string
	logger  *zap.Logger
}

func NewRecords(ctx context.Context, gctx gcp.Context, logger *zap.Logger, clientOpts ...option.ClientOption) (*Records, error) {
	if gctx.ProjectID == "" {
		return nil, gcp.ActivityFailed("the project ID must be defined in configuration or as argument")
	}

	service, err := dnsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating dns service: %w", err)
	}

	return &Records{
		service: service,
		project: gctx.ProjectID,
		logger:  logger.With(zap.String("component", "dns_records")),
	}, nil
}

// UpdateARecord replaces the data of a record set. The previous value is not
// kept anywhere, the change can't be rolled back.
func (r *Records) UpdateARecord(ctx context.Context, u ARecordUpdate) (*dnsapi.ResourceRecordSet, error) {
	if u.Zone == "" || u.Name == "" || u.IPAddress == "" {
		return nil, gcp.ActivityFailed("the zone, name and ip address of the record are mandatory")
	}

	if u.TTL == 0 {
		u.TTL = DefaultTTL
	}

	if u.RecordType == "" {
		u.RecordType = DefaultRecordType
	}

	if u.ExistingType == "" {
		u.ExistingType = DefaultRecordType
	}

	rrs, err := r.service.ResourceRecordSets.Patch(
		r.project,
		u.Zone,
		u.Name,
		u.ExistingType,
		&dnsapi.ResourceRecordSet{
			Kind:    recordSetKind,
			Name:    u.Name,
			Rrdatas: []string{u.IPAddress},
			Ttl:     u.TTL,
			Type:    u.RecordType,
		},
	).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("updating record %s %s in zone %s: %w", u.ExistingType, u.Name, u.Zone, err)
	}

	r.logger.Info(
		"Record updated",
		zap.String("zone", u.Zone),
		zap.String("name", u.Name),
		zap.String("ip_address", u.IPAddress),
	)

	return rrs, nil
}
