// Package monitoring reads metrics and service level objectives out of
// Cloud Monitoring.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	monitoringapi "cloud.google.com/go/monitoring/apiv3/v2"
	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"k8s.io/utils/clock"

	"github.com/jlevesy/chaosgcp/gcp"
)

const (
	DefaultEndTime            = gcp.EndTimeNow
	DefaultWindow             = "5 minutes"
	DefaultAlignmentPeriod    = time.Minute
	DefaultPerSeriesAligner   = "ALIGN_MEAN"
	DefaultCrossSeriesReducer = "REDUCE_COUNT"
	DefaultLookbackPeriod     = "300s"
)

// MetricsQuery selects the time series of one metric type.
type MetricsQuery struct {
	MetricType     string
	MetricLabels   map[string]string
	ResourceLabels map[string]string
	EndTime        string
	Window         string
	Aligner        monitoringpb.Aggregation_Aligner
	// AlignerMinutes is the alignment period, defaults to one minute.
	AlignerMinutes int
	Reducer        monitoringpb.Aggregation_Reducer
	// ReducerGroupBy enables the reducer when set.
	ReducerGroupBy []string
}

// SLOQuery selects the time series of a service level objective. Name is the
// full path of the objective:
// projects/<project>/services/<service>/serviceLevelObjectives/<slo>.
type SLOQuery struct {
	Name    string
	EndTime string
	Window  string

	// Aggregation of health queries.
	AlignmentPeriod    time.Duration
	PerSeriesAligner   string
	CrossSeriesReducer string
	GroupByFields      []string

	// LookbackPeriod of burn rate queries.
	LookbackPeriod string
}

type Option func(r *Reader)

// WithClock sets the clock resolving "now" end times.
func WithClock(clk clock.PassiveClock) Option {
	return func(r *Reader) {
		r.clock = clk
	}
}

type Reader struct {
	metrics *monitoringapi.MetricClient
	queries *monitoringapi.QueryClient
	slos    *monitoringapi.ServiceMonitoringClient
	project string
	clock   clock.PassiveClock
	logger  *zap.Logger
}

func NewReader(ctx context.Context, gctx gcp.Context, logger *zap.Logger, clientOpts []option.ClientOption, opts ...Option) (*Reader, error) {
	if gctx.ProjectID == "" {
		return nil, gcp.ActivityFailed("the project ID must be defined in configuration or as argument")
	}

	metrics, err := monitoringapi.NewMetricClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric client: %w", err)
	}

	queries, err := monitoringapi.NewQueryClient(ctx, clientOpts...)
	if err != nil {
		_ = metrics.Close()
		return nil, fmt.Errorf("creating query client: %w", err)
	}

	slos, err := monitoringapi.NewServiceMonitoringClient(ctx, clientOpts...)
	if err != nil {
		_ = metrics.Close()
		_ = queries.Close()
		return nil, fmt.Errorf("creating service monitoring client: %w", err)
	}

	r := Reader{
		metrics: metrics,
		queries: queries,
		slos:    slos,
		project: gctx.ProjectID,
		clock:   clock.RealClock{},
		logger:  logger.With(zap.String("component", "monitoring_reader")),
	}

	for _, opt := range opts {
		opt(&r)
	}

	return &r, nil
}

func (r *Reader) Close() error {
	return errors.Join(r.metrics.Close(), r.queries.Close(), r.slos.Close())
}

// GetMetrics returns the time series of q.MetricType over the queried window.
func (r *Reader) GetMetrics(ctx context.Context, q MetricsQuery) ([]*monitoringpb.TimeSeries, error) {
	if q.MetricType == "" {
		return nil, gcp.ActivityFailed("the metric type is mandatory")
	}

	interval, err := r.interval(q.EndTime, q.Window)
	if err != nil {
		return nil, err
	}

	req := monitoringpb.ListTimeSeriesRequest{
		Name:     r.projectName(),
		Filter:   BuildMetricFilter(q.MetricType, q.MetricLabels, q.ResourceLabels),
		Interval: interval,
		View:     monitoringpb.ListTimeSeriesRequest_FULL,
	}

	if q.Aligner != monitoringpb.Aggregation_ALIGN_NONE || len(q.ReducerGroupBy) > 0 {
		minutes := q.AlignerMinutes
		if minutes <= 0 {
			minutes = 1
		}

		req.Aggregation = &monitoringpb.Aggregation{
			AlignmentPeriod:  durationpb.New(time.Duration(minutes) * time.Minute),
			PerSeriesAligner: q.Aligner,
		}

		if len(q.ReducerGroupBy) > 0 {
			req.Aggregation.CrossSeriesReducer = q.Reducer
			req.Aggregation.GroupByFields = q.ReducerGroupBy
		}
	}

	return r.listTimeSeries(ctx, &req)
}

// RunMQLQuery runs a Monitoring Query Language query against project.
func (r *Reader) RunMQLQuery(ctx context.Context, project, mql string) ([]*monitoringpb.TimeSeriesData, error) {
	if project == "" {
		project = r.project
	}

	var (
		data []*monitoringpb.TimeSeriesData
		it   = r.queries.QueryTimeSeries(ctx, &monitoringpb.QueryTimeSeriesRequest{
			Name:  "projects/" + project,
			Query: mql,
		})
	)

	for {
		d, err := it.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("running MQL query: %w", err)
		}

		data = append(data, d)
	}

	r.logger.Debug("MQL query ran", zap.String("project", project), zap.Int("series", len(data)))

	return data, nil
}

// QueryTimeSeries runs a Monitoring Query Language query against the project of the context.
func (r *Reader) QueryTimeSeries(ctx context.Context, mql string) ([]*monitoringpb.TimeSeriesData, error) {
	return r.RunMQLQuery(ctx, r.project, mql)
}

// GetSLOHealth returns the health of an objective, aggregated as q says.
func (r *Reader) GetSLOHealth(ctx context.Context, q SLOQuery) ([]*monitoringpb.TimeSeries, error) {
	aligner, reducer, err := q.aggregation()
	if err != nil {
		return nil, err
	}

	return r.querySLO(ctx, q, func(slo string) *monitoringpb.ListTimeSeriesRequest {
		period := q.AlignmentPeriod
		if period <= 0 {
			period = DefaultAlignmentPeriod
		}

		return &monitoringpb.ListTimeSeriesRequest{
			Filter: fmt.Sprintf("select_slo_health(%q)", slo),
			Aggregation: &monitoringpb.Aggregation{
				AlignmentPeriod:    durationpb.New(period),
				PerSeriesAligner:   aligner,
				CrossSeriesReducer: reducer,
				GroupByFields:      q.GroupByFields,
			},
		}
	})
}

// GetSLOBurnRate returns how fast an objective consumes its error budget
// over q.LookbackPeriod.
func (r *Reader) GetSLOBurnRate(ctx context.Context, q SLOQuery) ([]*monitoringpb.TimeSeries, error) {
	lookback := q.LookbackPeriod
	if lookback == "" {
		lookback = DefaultLookbackPeriod
	}

	return r.querySLO(ctx, q, func(slo string) *monitoringpb.ListTimeSeriesRequest {
		return &monitoringpb.ListTimeSeriesRequest{
			Filter: fmt.Sprintf("select_slo_burn_rate(%q, %q)", slo, lookback),
		}
	})
}

// GetSLOBudget returns the remaining error budget of an objective.
func (r *Reader) GetSLOBudget(ctx context.Context, q SLOQuery) ([]*monitoringpb.TimeSeries, error) {
	return r.querySLO(ctx, q, func(slo string) *monitoringpb.ListTimeSeriesRequest {
		return &monitoringpb.ListTimeSeriesRequest{
			Filter: fmt.Sprintf("select_slo_budget(%q)", slo),
		}
	})
}

// ValidSLORatioDuringWindow tells if at least expectedRatio of the health
// points of an objective reached minLevel. Both are between 0 and 1.
func (r *Reader) ValidSLORatioDuringWindow(ctx context.Context, q SLOQuery, expectedRatio, minLevel float64) (bool, error) {
	series, err := r.GetSLOHealth(ctx, q)
	if err != nil {
		return false, err
	}

	if len(series) == 0 || len(series[0].GetPoints()) == 0 {
		return false, gcp.ActivityFailed(fmt.Sprintf("no health point for objective %s", q.Name))
	}

	var good, total int

	for _, point := range series[0].GetPoints() {
		total++

		if point.GetValue().GetDoubleValue() >= minLevel {
			good++
		}
	}

	ratio := float64(good) / float64(total)

	r.logger.Debug(
		"Objective health ratio computed",
		zap.String("slo", q.Name),
		zap.Int("good", good),
		zap.Int("total", total),
		zap.Float64("ratio", ratio),
	)

	return ratio >= expectedRatio, nil
}

// querySLO resolves the objective then lists the time series selected by the
// request build returns, over the window of q.
func (r *Reader) querySLO(ctx context.Context, q SLOQuery, build func(slo string) *monitoringpb.ListTimeSeriesRequest) ([]*monitoringpb.TimeSeries, error) {
	if q.Name == "" {
		return nil, gcp.ActivityFailed("the objective name is mandatory")
	}

	interval, err := r.interval(q.EndTime, q.Window)
	if err != nil {
		return nil, err
	}

	slo, err := r.slos.GetServiceLevelObjective(ctx, &monitoringpb.GetServiceLevelObjectiveRequest{Name: q.Name})
	if err != nil {
		return nil, fmt.Errorf("getting objective %s: %w", q.Name, err)
	}

	req := build(slo.GetName())
	req.Name = r.projectName()
	req.Interval = interval

	return r.listTimeSeries(ctx, req)
}

func (r *Reader) listTimeSeries(ctx context.Context, req *monitoringpb.ListTimeSeriesRequest) ([]*monitoringpb.TimeSeries, error) {
	var (
		series []*monitoringpb.TimeSeries
		it     = r.metrics.ListTimeSeries(ctx, req)
	)

	for {
		ts, err := it.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("listing time series: %w", err)
		}

		series = append(series, ts)
	}

	r.logger.Debug("Time series listed", zap.String("filter", req.GetFilter()), zap.Int("count", len(series)))

	return series, nil
}

func (r *Reader) interval(endTime, window string) (*monitoringpb.TimeInterval, error) {
	if endTime == "" {
		endTime = DefaultEndTime
	}

	if window == "" {
		window = DefaultWindow
	}

	start, end, err := gcp.ParseInterval(r.clock.Now(), endTime, window)
	if err != nil {
		return nil, err
	}

	return &monitoringpb.TimeInterval{
		StartTime: timestamppb.New(start),
		EndTime:   timestamppb.New(end),
	}, nil
}

func (r *Reader) projectName() string {
	return "projects/" + r.project
}

func (q SLOQuery) aggregation() (monitoringpb.Aggregation_Aligner, monitoringpb.Aggregation_Reducer, error) {
	alignerName := q.PerSeriesAligner
	if alignerName == "" {
		alignerName = DefaultPerSeriesAligner
	}

	reducerName := q.CrossSeriesReducer
	if reducerName == "" {
		reducerName = DefaultCrossSeriesReducer
	}

	aligner, ok := monitoringpb.Aggregation_Aligner_value[alignerName]
	if !ok {
		return 0, 0, gcp.ActivityFailed(fmt.Sprintf("unknown aligner %q", alignerName))
	}

	reducer, ok := monitoringpb.Aggregation_Reducer_value[reducerName]
	if !ok {
		return 0, 0, gcp.ActivityFailed(fmt.Sprintf("unknown reducer %q", reducerName))
	}

	return monitoringpb.Aggregation_Aligner(aligner), monitoringpb.Aggregation_Reducer(reducer), nil
}

// BuildMetricFilter selects the series of metricType carrying every given
// metric and resource label.
func BuildMetricFilter(metricType string, metricLabels, resourceLabels map[string]string) string {
	clauses := []string{fmt.Sprintf("metric.type = %q", metricType)}
	clauses = append(clauses, labelClauses("metric.labels", metricLabels)...)
	clauses = append(clauses, labelClauses("resource.labels", resourceLabels)...)

	return strings.Join(clauses, " AND ")
}

func labelClauses(prefix string, labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, key := range keys {
		clauses = append(clauses, fmt.Sprintf("%s.%s = %q", prefix, key, labels[key]))
	}

	return clauses
}
