package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/cache"
	"github.com/open-wander/tally/internal/config"
	"github.com/open-wander/tally/internal/metrics"
	"github.com/open-wander/tally/internal/store"
)

// EventStore is the aggregate query surface reports are computed from.
type EventStore interface {
	Totals(ctx context.Context, q analytics.Query) (store.KPIResult, error)
	ChannelBreakdown(ctx context.Context, q analytics.Query) ([]store.ChannelResult, error)
	FailureBreakdown(ctx context.Context, q analytics.Query, limit int) ([]store.FailureResult, error)
	VariantBreakdown(ctx context.Context, q analytics.Query) ([]store.VariantResult, error)
	ChannelVariantBreakdown(ctx context.Context, q analytics.Query) ([]store.ChannelVariantResult, error)
	TimeBuckets(ctx context.Context, q analytics.TimeSeriesQuery) ([]analytics.BucketRow, error)
	Usage(ctx context.Context, tenantID string, from, to time.Time) ([]store.UsageResult, error)
}

// CampaignDirectory answers whether a campaign belongs to a tenant.
type CampaignDirectory interface {
	CampaignOwned(ctx context.Context, tenantID, campaignID string) (bool, error)
}

// TenantSettings resolves per-tenant quota, currency and zone.
type TenantSettings interface {
	Lookup(tenantID string) config.Tenant
}

// Options tunes cache lifetimes and query limits.
type Options struct {
	SummaryTTL   time.Duration
	SeriesTTL    time.Duration
	QueryTimeout time.Duration
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SummaryTTL <= 0 {
		o.SummaryTTL = 60 * time.Second
	}
	if o.SeriesTTL <= 0 {
		o.SeriesTTL = 30 * time.Second
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 15 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Service computes analytics reports for a tenant.
type Service struct {
	store     EventStore
	campaigns CampaignDirectory
	tenants   TenantSettings
	cache     *cache.Gateway
	logger    *zap.Logger
	metrics   *metrics.Collector
	opts      Options

	inflight singleflight.Group
}

// New creates a report service.
func New(es EventStore, campaigns CampaignDirectory, tenants TenantSettings, gw *cache.Gateway, logger *zap.Logger, m *metrics.Collector, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gw == nil {
		gw = cache.New(nil, "", logger, m)
	}
	return &Service{
		store:     es,
		campaigns: campaigns,
		tenants:   tenants,
		cache:     gw,
		logger:    logger,
		metrics:   m,
		opts:      opts.withDefaults(),
	}
}

// report describes one cacheable computation.
type report struct {
	kind   string
	key    string
	ttl    time.Duration
	fields []zap.Field
}

// cached serves r from the cache, or computes it once per key under the
// query timeout and stores the result. A result is either complete or an
// error; partial results are never cached or returned.
//
// Joined callers share one computation that is detached from any single
// caller's cancellation. Each caller still stops waiting when its own
// context ends.
func cached[T any](ctx context.Context, s *Service, r report, compute func(ctx context.Context) (*T, error)) (*T, error) {
	var hit T
	if s.cache.Get(ctx, r.kind, r.key, &hit) {
		return &hit, nil
	}

	ch := s.inflight.DoChan(r.key, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.QueryTimeout)
		defer cancel()

		start := time.Now()
		res, err := compute(qctx)
		s.metrics.ObserveReport(r.kind, time.Since(start))
		if err != nil {
			// drivers do not always wrap the context error
			if qctx.Err() != nil && !errors.Is(err, qctx.Err()) {
				err = fmt.Errorf("%w: %v", qctx.Err(), err)
			}
			return nil, err
		}

		s.cache.Set(qctx, r.kind, r.key, res, r.ttl)
		return res, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, s.fail(r, res.Err)
		}
		return res.Val.(*T), nil
	case <-ctx.Done():
		return nil, s.fail(r, ctx.Err())
	}
}

// fail classifies err for the caller and logs anything unexpected.
func (s *Service) fail(r report, err error) error {
	switch {
	case analytics.IsValidation(err), errors.Is(err, analytics.ErrNotFound):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, analytics.ErrTimeout):
		s.metrics.ReportError(r.kind, "timeout")
		s.logger.Warn("report timed out", append(r.fields, zap.Error(err))...)
		return fmt.Errorf("%s: %w", r.kind, analytics.ErrTimeout)
	default:
		s.metrics.ReportError(r.kind, "internal")
		s.logger.Error("report failed", append(r.fields, zap.Error(err))...)
		return fmt.Errorf("%s report: %w", r.kind, err)
	}
}

// queryFields describes the query shape for logs. It never includes contact
// data or event payloads.
func queryFields(kind string, rc analytics.RequestContext, q analytics.Query) []zap.Field {
	fields := []zap.Field{
		zap.String("kind", kind),
		zap.String("tenant_id", rc.TenantID),
		zap.String("scope", string(q.Scope)),
		zap.Time("from", q.From),
		zap.Time("to", q.To),
		zap.Int("channels", len(q.Channels)),
		zap.Bool("ab_group", q.ABGroup != ""),
	}
	if q.CampaignID != "" {
		fields = append(fields, zap.String("campaign_id", q.CampaignID))
	}
	if rc.RequestID != "" {
		fields = append(fields, zap.String("request_id", rc.RequestID))
	}
	return fields
}

func (s *Service) tenant(rc analytics.RequestContext) config.Tenant {
	t := s.tenants.Lookup(rc.TenantID)
	if t.Location == nil {
		t.Location = time.UTC
	}
	return t
}
