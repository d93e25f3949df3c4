package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/cache"
)

// ABTestResponse compares the A/B groups of one campaign.
type ABTestResponse struct {
	CampaignID    string              `json:"campaign_id"`
	From          time.Time           `json:"from"`
	To            time.Time           `json:"to"`
	Variants      []analytics.Variant `json:"variants"`
	Control       string              `json:"control,omitempty"`
	Winner        string              `json:"winner,omitempty"`
	IsSignificant bool                `json:"is_significant"`
	MinSampleSize int                 `json:"min_sample_size"`
	TotalSent     int64               `json:"total_sent"`
	TotalCost     decimal.Decimal     `json:"total_cost"`
	Currency      string              `json:"currency"`
	GeneratedAt   time.Time           `json:"generated_at"`
}

// ABTest reports per-variant performance for a campaign the tenant owns.
// is_significant is a sample-size gate; each variant's p_value is advisory.
func (s *Service) ABTest(ctx context.Context, rc analytics.RequestContext, campaignID string, raw analytics.RawQuery) (*ABTestResponse, error) {
	tenant := s.tenant(rc)
	raw.Scope = string(analytics.ScopeCampaign)
	raw.CampaignID = campaignID
	q, err := analytics.ValidateQuery(rc, raw, tenant.Location)
	if err != nil {
		return nil, err
	}

	r := report{
		kind:   cache.KindABTest,
		key:    s.cache.Key(cache.KindABTest, q),
		ttl:    s.opts.SummaryTTL,
		fields: queryFields(cache.KindABTest, rc, q),
	}

	owned, err := s.campaigns.CampaignOwned(ctx, q.TenantID, q.CampaignID)
	if err != nil {
		return nil, s.fail(r, fmt.Errorf("campaign lookup: %w", err))
	}
	if !owned {
		return nil, fmt.Errorf("campaign %s: %w", q.CampaignID, analytics.ErrNotFound)
	}

	return cached(ctx, s, r, func(ctx context.Context) (*ABTestResponse, error) {
		rows, err := s.store.VariantBreakdown(ctx, q)
		if err != nil {
			return nil, err
		}

		vrows := make([]analytics.VariantRow, len(rows))
		resp := &ABTestResponse{
			CampaignID:    q.CampaignID,
			From:          q.From,
			To:            q.To,
			MinSampleSize: analytics.MinVariantSample,
			TotalCost:     decimal.Zero,
			Currency:      tenant.Currency,
			GeneratedAt:   s.opts.Now().UTC(),
		}
		for i, row := range rows {
			vrows[i] = analytics.VariantRow{Label: row.ABGroup, Counts: row.Counts, Cost: row.Cost, Recipients: row.Recipients}
			resp.TotalSent += row.Counts.Sent
			resp.TotalCost = resp.TotalCost.Add(row.Cost)
		}

		resp.Variants = analytics.BuildVariants(vrows)
		for _, v := range resp.Variants {
			if v.IsControl {
				resp.Control = v.Label
			}
		}
		resp.IsSignificant = analytics.IsSignificant(resp.Variants)
		resp.Winner = analytics.Winner(resp.Variants, resp.IsSignificant)
		return resp, nil
	})
}
