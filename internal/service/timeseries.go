package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/cache"
)

// TimeSeriesResponse is a dense, chart-ready bucket series.
type TimeSeriesResponse struct {
	Buckets  []analytics.TimeBucket  `json:"buckets"`
	Chart    Chart                   `json:"chart"`
	Summary  analytics.SeriesSummary `json:"summary"`
	Metadata SeriesMetadata          `json:"metadata"`
}

// Chart is the series reshaped for charting clients: one label per bucket
// and one dataset per metric.
type Chart struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one plotted metric.
type Dataset struct {
	Key   string    `json:"key"`
	Label string    `json:"label"`
	Unit  string    `json:"unit"` // "count" or "percent"
	Data  []float64 `json:"data"`
}

// SeriesMetadata echoes the normalized query.
type SeriesMetadata struct {
	Interval    string    `json:"interval"`
	Timezone    string    `json:"timezone"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	BucketCount int       `json:"bucket_count"`
	EventTypes  []string  `json:"event_types"`
	GeneratedAt time.Time `json:"generated_at"`
}

// TimeSeries returns counts per interval bucket over the requested range.
// Every bucket in [from, to) is present, with zeros where nothing happened.
func (s *Service) TimeSeries(ctx context.Context, rc analytics.RequestContext, raw analytics.RawTimeSeriesQuery) (*TimeSeriesResponse, error) {
	tenant := s.tenant(rc)
	q, err := analytics.ValidateTimeSeries(rc, raw, tenant.Location)
	if err != nil {
		return nil, err
	}

	r := report{
		kind: cache.KindTimeSeries,
		key:  s.cache.TimeSeriesKey(q),
		ttl:  s.opts.SeriesTTL,
		fields: append(queryFields(cache.KindTimeSeries, rc, q.Query),
			zap.String("interval", q.Interval.Name), zap.String("timezone", q.Location.String())),
	}
	return cached(ctx, s, r, func(ctx context.Context) (*TimeSeriesResponse, error) {
		rows, err := s.store.TimeBuckets(ctx, q)
		if err != nil {
			return nil, err
		}
		return buildTimeSeries(q, rows, s.opts.Now()), nil
	})
}

func buildTimeSeries(q analytics.TimeSeriesQuery, rows []analytics.BucketRow, now time.Time) *TimeSeriesResponse {
	buckets := analytics.Reconcile(q.From, q.To, q.Interval, q.Location, rows)

	types := q.EventTypes
	if len(types) == 0 {
		types = analytics.AllEventTypes
	}
	typeKeys := make([]string, len(types))
	for i, et := range types {
		typeKeys[i] = et.Key()
	}

	return &TimeSeriesResponse{
		Buckets: buckets,
		Chart:   buildChart(buckets, types),
		Summary: analytics.Summarize(buckets),
		Metadata: SeriesMetadata{
			Interval:    q.Interval.Name,
			Timezone:    q.Location.String(),
			From:        q.From,
			To:          q.To,
			BucketCount: len(buckets),
			EventTypes:  typeKeys,
			GeneratedAt: now.UTC(),
		},
	}
}

var rateDatasets = []struct {
	key, label string
	value      func(analytics.TimeBucket) float64
}{
	{"delivery_rate", "Delivery rate", func(b analytics.TimeBucket) float64 { return b.DeliveryRate }},
	{"open_rate", "Open rate", func(b analytics.TimeBucket) float64 { return b.OpenRate }},
	{"click_rate", "Click rate", func(b analytics.TimeBucket) float64 { return b.ClickRate }},
}

func buildChart(buckets []analytics.TimeBucket, types []analytics.EventType) Chart {
	chart := Chart{
		Labels:   make([]string, len(buckets)),
		Datasets: make([]Dataset, 0, len(types)+len(rateDatasets)),
	}
	for i, b := range buckets {
		chart.Labels[i] = b.Label
	}

	for _, et := range types {
		ds := Dataset{Key: et.Key(), Label: displayName(et), Unit: "count", Data: make([]float64, len(buckets))}
		for i, b := range buckets {
			ds.Data[i] = float64(b.Counts.Get(et))
		}
		chart.Datasets = append(chart.Datasets, ds)
	}
	for _, rd := range rateDatasets {
		ds := Dataset{Key: rd.key, Label: rd.label, Unit: "percent", Data: make([]float64, len(buckets))}
		for i, b := range buckets {
			ds.Data[i] = rd.value(b)
		}
		chart.Datasets = append(chart.Datasets, ds)
	}
	return chart
}

// displayName turns "spam_reports" into "Spam reports".
func displayName(et analytics.EventType) string {
	k := strings.ReplaceAll(et.Key(), "_", " ")
	return strings.ToUpper(k[:1]) + k[1:]
}
