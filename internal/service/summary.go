package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/cache"
	"github.com/open-wander/tally/internal/store"
)

// SummaryResponse is the KPI summary of a tenant or campaign.
type SummaryResponse struct {
	Scope       analytics.Scope  `json:"scope"`
	CampaignID  string           `json:"campaign_id,omitempty"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Totals      analytics.Counts `json:"totals"`
	Rates       analytics.Rates  `json:"rates"`
	Cost        CostSummary      `json:"cost"`
	Campaigns   int64            `json:"campaigns"`
	Contacts    int64            `json:"contacts"`
	Channels    []ChannelSummary `json:"channels"`
	Failures    []FailureSummary `json:"failures"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// CostSummary is total spend with cost-per-outcome metrics.
type CostSummary struct {
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
	analytics.CostBreakdown
}

// ChannelSummary is one row of the channel breakdown.
type ChannelSummary struct {
	Channel   string           `json:"channel"`
	Counts    analytics.Counts `json:"counts"`
	Rates     analytics.Rates  `json:"rates"`
	TotalCost decimal.Decimal  `json:"total_cost"`
	SharePct  float64          `json:"share_pct"` // of all sent
}

// FailureSummary is one row of the failure breakdown.
type FailureSummary struct {
	Code     string  `json:"code"`
	Reason   string  `json:"reason"`
	Count    int64   `json:"count"`
	SharePct float64 `json:"share_pct"` // of all failed
}

// Summary returns totals, rates, cost, and the channel and failure breakdowns.
func (s *Service) Summary(ctx context.Context, rc analytics.RequestContext, raw analytics.RawQuery) (*SummaryResponse, error) {
	tenant := s.tenant(rc)
	q, err := analytics.ValidateQuery(rc, raw, tenant.Location)
	if err != nil {
		return nil, err
	}

	r := report{
		kind:   cache.KindSummary,
		key:    s.cache.Key(cache.KindSummary, q),
		ttl:    s.opts.SummaryTTL,
		fields: queryFields(cache.KindSummary, rc, q),
	}
	return cached(ctx, s, r, func(ctx context.Context) (*SummaryResponse, error) {
		totals, err := s.store.Totals(ctx, q)
		if err != nil {
			return nil, err
		}
		channels, err := s.store.ChannelBreakdown(ctx, q)
		if err != nil {
			return nil, err
		}
		failures, err := s.store.FailureBreakdown(ctx, q, store.DefaultFailureLimit)
		if err != nil {
			return nil, err
		}
		return buildSummary(q, tenant.Currency, totals, channels, failures, s.opts.Now()), nil
	})
}

func buildSummary(q analytics.Query, currency string, totals store.KPIResult, channels []store.ChannelResult, failures []store.FailureResult, now time.Time) *SummaryResponse {
	resp := &SummaryResponse{
		Scope:      q.Scope,
		CampaignID: q.CampaignID,
		From:       q.From,
		To:         q.To,
		Totals:     totals.Counts,
		Rates:      analytics.ComputeRates(totals.Counts),
		Cost: CostSummary{
			Total:         totals.Cost,
			Currency:      currency,
			CostBreakdown: analytics.ComputeCostBreakdown(totals.Cost, totals.Counts),
		},
		Campaigns:   totals.Campaigns,
		Contacts:    totals.Contacts,
		Channels:    make([]ChannelSummary, 0, len(channels)),
		Failures:    make([]FailureSummary, 0, len(failures)),
		GeneratedAt: now.UTC(),
	}

	for _, c := range channels {
		resp.Channels = append(resp.Channels, ChannelSummary{
			Channel:   c.Channel,
			Counts:    c.Counts,
			Rates:     analytics.ComputeRates(c.Counts),
			TotalCost: c.Cost,
			SharePct:  analytics.Round(analytics.Percent(c.Counts.Sent, totals.Counts.Sent), 2),
		})
	}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, FailureSummary{
			Code:     f.Code,
			Reason:   f.Reason,
			Count:    f.Count,
			SharePct: analytics.Round(analytics.Percent(f.Count, totals.Counts.Failed), 2),
		})
	}
	return resp
}
