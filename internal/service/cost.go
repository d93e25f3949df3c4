package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/cache"
)

// CostQuotaResponse is month-to-date spend and send volume against the
// tenant's monthly quota, with a linear month-end projection.
type CostQuotaResponse struct {
	Currency      string          `json:"currency"`
	Timezone      string          `json:"timezone"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	DaysElapsed   int             `json:"days_elapsed"`
	DaysInMonth   int             `json:"days_in_month"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	Sent          int64           `json:"sent"`
	MonthlyQuota  int64           `json:"monthly_quota"`
	Remaining     int64           `json:"remaining"`
	UsagePct      float64         `json:"usage_pct"`
	ProjectedCost decimal.Decimal `json:"projected_cost"`
	ProjectedSent int64           `json:"projected_sent"`
	ProjectedPct  float64         `json:"projected_usage_pct"`
	OverQuotaRisk bool            `json:"over_quota_risk"`
	Channels      []ChannelCost   `json:"channels"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// ChannelCost is one channel's share of the month's spend.
type ChannelCost struct {
	Channel  string          `json:"channel"`
	Sent     int64           `json:"sent"`
	Cost     decimal.Decimal `json:"cost"`
	SharePct float64         `json:"share_pct"` // of total cost
}

// CostQuota reports the current calendar month in the tenant's zone.
func (s *Service) CostQuota(ctx context.Context, rc analytics.RequestContext) (*CostQuotaResponse, error) {
	if strings.TrimSpace(rc.TenantID) == "" {
		return nil, &analytics.ValidationError{Field: "tenant_id", Message: "tenant id is required"}
	}
	tenant := s.tenant(rc)

	now := s.opts.Now().In(tenant.Location)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, tenant.Location)
	end := start.AddDate(0, 1, 0)
	q := analytics.Query{
		TenantID: rc.TenantID,
		Scope:    analytics.ScopeGlobal,
		From:     start.UTC(),
		To:       now.UTC(),
	}

	r := report{
		kind:   cache.KindCost,
		key:    s.cache.Key(cache.KindCost, q, tenant.Location.String()),
		ttl:    s.opts.SummaryTTL,
		fields: queryFields(cache.KindCost, rc, q),
	}
	return cached(ctx, s, r, func(ctx context.Context) (*CostQuotaResponse, error) {
		usage, err := s.store.Usage(ctx, q.TenantID, q.From, q.To)
		if err != nil {
			return nil, err
		}

		resp := &CostQuotaResponse{
			Currency:     tenant.Currency,
			Timezone:     tenant.Location.String(),
			PeriodStart:  start,
			PeriodEnd:    end,
			DaysElapsed:  now.Day(),
			DaysInMonth:  end.AddDate(0, 0, -1).Day(),
			TotalCost:    decimal.Zero,
			MonthlyQuota: tenant.MonthlyQuota,
			Channels:     make([]ChannelCost, 0, len(usage)),
			GeneratedAt:  s.opts.Now().UTC(),
		}
		for _, u := range usage {
			resp.Sent += u.Sent
			resp.TotalCost = resp.TotalCost.Add(u.Cost)
		}
		for _, u := range usage {
			resp.Channels = append(resp.Channels, ChannelCost{
				Channel:  u.Channel,
				Sent:     u.Sent,
				Cost:     u.Cost,
				SharePct: sharePct(u.Cost, resp.TotalCost),
			})
		}

		resp.Remaining = resp.MonthlyQuota - resp.Sent
		if resp.Remaining < 0 {
			resp.Remaining = 0
		}
		resp.UsagePct = analytics.Round(analytics.Percent(resp.Sent, resp.MonthlyQuota), 2)

		// linear run rate over the calendar days touched so far
		elapsed := decimal.NewFromInt(int64(resp.DaysElapsed))
		days := decimal.NewFromInt(int64(resp.DaysInMonth))
		resp.ProjectedCost = resp.TotalCost.Div(elapsed).Mul(days).Round(2)
		resp.ProjectedSent = resp.Sent * int64(resp.DaysInMonth) / int64(resp.DaysElapsed)
		resp.ProjectedPct = analytics.Round(analytics.Percent(resp.ProjectedSent, resp.MonthlyQuota), 2)
		resp.OverQuotaRisk = resp.MonthlyQuota > 0 && resp.ProjectedSent > resp.MonthlyQuota
		return resp, nil
	})
}

func sharePct(part, total decimal.Decimal) float64 {
	if total.Sign() <= 0 {
		return 0
	}
	f, _ := part.Div(total).Mul(decimal.NewFromInt(100)).Float64()
	return analytics.Round(f, 2)
}
