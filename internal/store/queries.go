package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/open-wander/tally/internal/analytics"
)

// DefaultFailureLimit is the number of failure codes returned by FailureBreakdown.
const DefaultFailureLimit = 10

// KPIResult is the single-row totals aggregate.
type KPIResult struct {
	Counts    analytics.Counts
	Cost      decimal.Decimal
	Campaigns int64
	Contacts  int64
}

// ChannelResult holds counts for a single channel
type ChannelResult struct {
	Channel string
	Counts  analytics.Counts
	Cost    decimal.Decimal
}

// FailureResult represents a single failure code and reason
type FailureResult struct {
	Code   string
	Reason string
	Count  int64
}

// VariantResult holds counts for a single ab_group
type VariantResult struct {
	ABGroup    string
	Counts     analytics.Counts
	Cost       decimal.Decimal
	Recipients int64
}

// ChannelVariantResult holds counts for a channel and ab_group pair
type ChannelVariantResult struct {
	Channel string
	ABGroup string
	Counts  analytics.Counts
}

// UsageResult is the sent volume and cost of one channel in a billing window.
type UsageResult struct {
	Channel string
	Sent    int64
	Cost    decimal.Decimal
}

// Totals returns counts, cost and distinct campaign/contact cardinality.
func (q *Queries) Totals(ctx context.Context, query analytics.Query) (KPIResult, error) {
	b := q.binder()
	where := b.buildWhere(query)

	sqlText := fmt.Sprintf(`
		SELECT
			%s,
			%s,
			COUNT(DISTINCT campaign_id),
			COUNT(DISTINCT contact_id)
		FROM campaign_events
		%s
	`, countColumns(), q.dialect.CostSumExpr(), where)

	var r KPIResult
	dest := append(countDest(&r.Counts), &r.Cost, &r.Campaigns, &r.Contacts)
	if err := q.db.QueryRowContext(ctx, sqlText, b.args...).Scan(dest...); err != nil {
		return KPIResult{}, fmt.Errorf("totals: %w", err)
	}
	return r, nil
}

// ChannelBreakdown returns counts per channel ordered by sent volume
func (q *Queries) ChannelBreakdown(ctx context.Context, query analytics.Query) ([]ChannelResult, error) {
	b := q.binder()
	where := b.buildWhere(query)

	sqlText := fmt.Sprintf(`
		SELECT
			channel,
			%s,
			%s
		FROM campaign_events
		%s
		GROUP BY channel
		ORDER BY sent DESC, channel
	`, countColumns(), q.dialect.CostSumExpr(), where)

	rows, err := q.db.QueryContext(ctx, sqlText, b.args...)
	if err != nil {
		return nil, fmt.Errorf("channel breakdown: %w", err)
	}
	defer rows.Close()

	var results []ChannelResult
	for rows.Next() {
		var r ChannelResult
		dest := append([]any{&r.Channel}, countDest(&r.Counts)...)
		if err := rows.Scan(append(dest, &r.Cost)...); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// FailureBreakdown returns the most frequent failure codes of Failed events.
// Events without a failure code are excluded.
func (q *Queries) FailureBreakdown(ctx context.Context, query analytics.Query, limit int) ([]FailureResult, error) {
	if limit <= 0 {
		limit = DefaultFailureLimit
	}

	b := q.binder()
	where := b.buildWhere(query,
		literal(eventTypeMatch(analytics.EventFailed)),
		literal("failure_code IS NOT NULL"),
	)

	sqlText := fmt.Sprintf(`
		SELECT failure_code, COALESCE(failure_reason, ''), COUNT(*) AS failures
		FROM campaign_events
		%s
		GROUP BY failure_code, failure_reason
		ORDER BY failures DESC, failure_code
		LIMIT %d
	`, where, limit)

	rows, err := q.db.QueryContext(ctx, sqlText, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failure breakdown: %w", err)
	}
	defer rows.Close()

	var results []FailureResult
	for rows.Next() {
		var r FailureResult
		if err := rows.Scan(&r.Code, &r.Reason, &r.Count); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// VariantBreakdown returns counts per ab_group. Events outside any group are excluded.
func (q *Queries) VariantBreakdown(ctx context.Context, query analytics.Query) ([]VariantResult, error) {
	b := q.binder()
	where := b.buildWhere(query, literal("ab_group IS NOT NULL"), literal("ab_group <> ''"))

	sqlText := fmt.Sprintf(`
		SELECT
			ab_group,
			%s,
			%s,
			COUNT(DISTINCT contact_id)
		FROM campaign_events
		%s
		GROUP BY ab_group
		ORDER BY ab_group
	`, countColumns(), q.dialect.CostSumExpr(), where)

	rows, err := q.db.QueryContext(ctx, sqlText, b.args...)
	if err != nil {
		return nil, fmt.Errorf("variant breakdown: %w", err)
	}
	defer rows.Close()

	var results []VariantResult
	for rows.Next() {
		var r VariantResult
		dest := append([]any{&r.ABGroup}, countDest(&r.Counts)...)
		if err := rows.Scan(append(dest, &r.Cost, &r.Recipients)...); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ChannelVariantBreakdown returns counts per (channel, ab_group) pair.
func (q *Queries) ChannelVariantBreakdown(ctx context.Context, query analytics.Query) ([]ChannelVariantResult, error) {
	b := q.binder()
	where := b.buildWhere(query, literal("ab_group IS NOT NULL"), literal("ab_group <> ''"))

	sqlText := fmt.Sprintf(`
		SELECT
			channel,
			ab_group,
			%s
		FROM campaign_events
		%s
		GROUP BY channel, ab_group
		ORDER BY channel, ab_group
	`, countColumns(), where)

	rows, err := q.db.QueryContext(ctx, sqlText, b.args...)
	if err != nil {
		return nil, fmt.Errorf("channel variant breakdown: %w", err)
	}
	defer rows.Close()

	var results []ChannelVariantResult
	for rows.Next() {
		var r ChannelVariantResult
		dest := append([]any{&r.Channel, &r.ABGroup}, countDest(&r.Counts)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// TimeBuckets returns sparse per-bucket counts for [From, To), truncated in
// the query's zone. Buckets without events are absent.
func (q *Queries) TimeBuckets(ctx context.Context, query analytics.TimeSeriesQuery) ([]analytics.BucketRow, error) {
	loc := query.Location
	if loc == nil {
		loc = time.UTC
	}

	b := q.binder()
	// the bucket expression precedes WHERE, so its zone argument binds first
	bucket := q.dialect.BucketExpr(query.Interval.Unit, b.bind(loc.String()))

	var extra []condition
	if len(query.EventTypes) > 0 {
		extra = append(extra, eventTypeIn(query.EventTypes))
	}
	where := b.buildWhere(query.Query, extra...)

	sqlText := fmt.Sprintf(`
		SELECT
			%s AS bucket,
			%s,
			%s
		FROM campaign_events
		%s
		GROUP BY bucket
		ORDER BY bucket
	`, bucket, countColumns(), q.dialect.CostSumExpr(), where)

	rows, err := q.db.QueryContext(ctx, sqlText, b.args...)
	if err != nil {
		return nil, fmt.Errorf("time buckets: %w", err)
	}
	defer rows.Close()

	var results []analytics.BucketRow
	for rows.Next() {
		var (
			epoch int64
			r     analytics.BucketRow
		)
		dest := append([]any{&epoch}, countDest(&r.Counts)...)
		if err := rows.Scan(append(dest, &r.Cost)...); err != nil {
			return nil, err
		}
		r.Start = time.Unix(epoch, 0).In(loc)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Usage returns sent volume and cost per channel for a tenant in [from, to),
// independent of campaign or group filters.
func (q *Queries) Usage(ctx context.Context, tenantID string, from, to time.Time) ([]UsageResult, error) {
	b := q.binder()
	where := b.buildWhere(analytics.Query{TenantID: tenantID, From: from, To: to})

	sqlText := fmt.Sprintf(`
		SELECT
			channel,
			COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0) AS sent,
			%s
		FROM campaign_events
		%s
		GROUP BY channel
		ORDER BY channel
	`, eventTypeMatch(analytics.EventSent), q.dialect.CostSumExpr(), where)

	rows, err := q.db.QueryContext(ctx, sqlText, b.args...)
	if err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}
	defer rows.Close()

	var results []UsageResult
	for rows.Next() {
		var r UsageResult
		if err := rows.Scan(&r.Channel, &r.Sent, &r.Cost); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CampaignOwned reports whether the tenant has any events for the campaign.
func (q *Queries) CampaignOwned(ctx context.Context, tenantID, campaignID string) (bool, error) {
	b := q.binder()
	sqlText := fmt.Sprintf(
		"SELECT 1 FROM campaign_events WHERE tenant_id = %s AND campaign_id = %s LIMIT 1",
		b.bind(tenantID), b.bind(campaignID),
	)

	var one int
	err := q.db.QueryRowContext(ctx, sqlText, b.args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("campaign lookup: %w", err)
	}
	return true, nil
}
