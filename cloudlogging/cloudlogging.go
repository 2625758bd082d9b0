// Package cloudlogging reads entries out of Cloud Logging.
package cloudlogging

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/logging"
	"cloud.google.com/go/logging/logadmin"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"k8s.io/utils/clock"

	"github.com/jlevesy/chaosgcp/gcp"
)

const (
	DefaultEndTime = gcp.EndTimeNow
	DefaultWindow  = "1h"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Query selects the entries to read.
type Query struct {
	LogName string
	Filter  string
	// EndTime is either "now" or an RFC 3339 timestamp.
	EndTime string
	// Window is how far before EndTime to look, see gcp.ParseInterval.
	Window string
	// Order is OrderAsc or OrderDesc.
	Order string
}

type Option func(p *Probes)

// WithClock sets the clock resolving "now" end times.
func WithClock(clk clock.PassiveClock) Option {
	return func(p *Probes) {
		p.clock = clk
	}
}

type Probes struct {
	client  *logadmin.Client
	project string
	clock   clock.PassiveClock
	logger  *zap.Logger
}

func NewProbes(ctx context.Context, gctx gcp.Context, logger *zap.Logger, clientOpts []option.ClientOption, opts ...Option) (*Probes, error) {
	if gctx.ProjectID == "" {
		return nil, gcp.ActivityFailed("the project ID must be defined in configuration or as argument")
	}

	client, err := logadmin.NewClient(ctx, "projects/"+gctx.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating logging admin client: %w", err)
	}

	p := Probes{
		client:  client,
		project: gctx.ProjectID,
		clock:   clock.RealClock{},
		logger:  logger.With(zap.String("component", "logging_probes")),
	}

	for _, opt := range opts {
		opt(&p)
	}

	return &p, nil
}

func (p *Probes) Close() error {
	return p.client.Close()
}

// GetLogsBetweenTimestamps returns every entry matching q.
func (p *Probes) GetLogsBetweenTimestamps(ctx context.Context, q Query) ([]*logging.Entry, error) {
	if q.EndTime == "" {
		q.EndTime = DefaultEndTime
	}

	if q.Window == "" {
		q.Window = DefaultWindow
	}

	start, end, err := gcp.ParseInterval(p.clock.Now(), q.EndTime, q.Window)
	if err != nil {
		return nil, err
	}

	opts := []logadmin.EntriesOption{logadmin.Filter(BuildFilter(p.project, q.LogName, q.Filter, start, end))}

	switch q.Order {
	case "", OrderAsc:
	case OrderDesc:
		opts = append(opts, logadmin.NewestFirst())
	default:
		return nil, gcp.ActivityFailed(fmt.Sprintf("unknown order %q, expected %q or %q", q.Order, OrderAsc, OrderDesc))
	}

	var (
		entries []*logging.Entry
		it      = p.client.Entries(ctx, opts...)
	)

	for {
		entry, err := it.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("listing log entries: %w", err)
		}

		entries = append(entries, entry)
	}

	p.logger.Debug("Log entries read", zap.Int("count", len(entries)), zap.Time("start", start), zap.Time("end", end))

	return entries, nil
}

// BuildFilter builds a Cloud Logging query bounded by start and end.
func BuildFilter(project, logName, filter string, start, end time.Time) string {
	var clauses []string

	if logName != "" {
		clauses = append(clauses, fmt.Sprintf(`logName="projects/%s/logs/%s"`, project, url.PathEscape(logName)))
	}

	if filter != "" {
		clauses = append(clauses, filter)
	}

	clauses = append(
		clauses,
		fmt.Sprintf(`timestamp>="%s"`, start.UTC().Format(time.RFC3339)),
		fmt.Sprintf(`timestamp<="%s"`, end.UTC().Format(time.RFC3339)),
	)

	return strings.Join(clauses, " AND ")
}
