package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/metrics"
)

// keyTimeLayout renders from/to at minute precision.
const keyTimeLayout = "200601021504"

// Report kinds, used as the first key extra and as the metrics label.
const (
	KindSummary    = "summary"
	KindTimeSeries = "timeseries"
	KindFunnel     = "funnel"
	KindABTest     = "abtest"
	KindCost       = "cost"
)

var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Gateway is the advisory response cache in front of the aggregate queries.
// Store failures and undecodable entries are reported as misses.
type Gateway struct {
	store   Store
	prefix  string
	logger  *zap.Logger
	metrics *metrics.Collector
}

// New creates a gateway over store. A nil store disables caching.
func New(store Store, prefix string, logger *zap.Logger, m *metrics.Collector) *Gateway {
	if store == nil {
		store = NopStore{}
	}
	if prefix == "" {
		prefix = "analytics"
	}
	return &Gateway{store: store, prefix: prefix, logger: logger, metrics: m}
}

// Key builds the cache key
//
//	{prefix}:{tenant}:{scope}:{campaign}:{from}:{to}:{kind}:{channels}:{ab_group}:{extras...}
//
// Channels are expected sorted, as the validator leaves them. Empty fields
// render as "-".
func (g *Gateway) Key(kind string, q analytics.Query, extras ...string) string {
	channels := make([]string, len(q.Channels))
	for i, c := range q.Channels {
		channels[i] = string(c)
	}

	parts := []string{
		g.prefix,
		field(q.TenantID),
		field(string(q.Scope)),
		field(q.CampaignID),
		q.From.UTC().Format(keyTimeLayout),
		q.To.UTC().Format(keyTimeLayout),
		kind,
		field(strings.Join(channels, ",")),
		field(q.ABGroup),
	}
	for _, e := range extras {
		parts = append(parts, field(e))
	}
	return strings.Join(parts, ":")
}

// TimeSeriesKey adds interval, timezone and the event type filter to Key.
func (g *Gateway) TimeSeriesKey(q analytics.TimeSeriesQuery) string {
	types := make([]string, len(q.EventTypes))
	for i, et := range q.EventTypes {
		types[i] = et.Key()
	}
	tz := "UTC"
	if q.Location != nil {
		tz = q.Location.String()
	}
	return g.Key(KindTimeSeries, q.Query, q.Interval.Name, tz, strings.Join(types, ","))
}

func field(s string) string {
	if s == "" {
		return "-"
	}
	return keyEscaper.Replace(s)
}

// Get decodes the entry at key into dest and reports whether it was a hit.
func (g *Gateway) Get(ctx context.Context, kind, key string, dest any) bool {
	b, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.Warn("cache get failed, treating as miss",
			zap.String("kind", kind), zap.String("key", key), zap.Error(err))
		g.metrics.CacheError(kind, "get")
		g.metrics.CacheMiss(kind)
		return false
	}
	if !ok {
		g.metrics.CacheMiss(kind)
		return false
	}
	if err := json.Unmarshal(b, dest); err != nil {
		g.logger.Warn("cache entry undecodable, treating as miss",
			zap.String("kind", kind), zap.String("key", key), zap.Error(err))
		g.metrics.CacheError(kind, "decode")
		g.metrics.CacheMiss(kind)
		return false
	}
	g.metrics.CacheHit(kind)
	return true
}

// Set stores v under key. Failures are logged and otherwise ignored.
func (g *Gateway) Set(ctx context.Context, kind, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		g.logger.Warn("cache encode failed", zap.String("kind", kind), zap.Error(err))
		g.metrics.CacheError(kind, "encode")
		return
	}
	if err := g.store.Set(ctx, key, b, ttl); err != nil {
		g.logger.Warn("cache set failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
		g.metrics.CacheError(kind, "set")
	}
}
