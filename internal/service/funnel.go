package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/cache"
	"github.com/open-wander/tally/internal/store"
)

// FunnelRequest selects the funnel model and the optional breakdowns.
type FunnelRequest struct {
	analytics.RawQuery
	Model           string
	IncludeChannels bool
	IncludeVariants bool // only honored for campaign scope
}

// FunnelResponse is the sent -> clicked funnel with optional breakdowns.
type FunnelResponse struct {
	Model             analytics.ConversionModel            `json:"model"`
	Scope             analytics.Scope                      `json:"scope"`
	CampaignID        string                               `json:"campaign_id,omitempty"`
	From              time.Time                            `json:"from"`
	To                time.Time                            `json:"to"`
	Stages            []analytics.FunnelStage              `json:"stages"`
	OverallConversion float64                              `json:"overall_conversion"`
	Channels          []analytics.ChannelFunnel            `json:"channels,omitempty"`
	Variants          []analytics.VariantFunnel            `json:"variants,omitempty"`
	VariantsByChannel map[string][]analytics.VariantFunnel `json:"variants_by_channel,omitempty"`
	Insights          analytics.FunnelInsights             `json:"insights"`
	GeneratedAt       time.Time                            `json:"generated_at"`
}

// Funnel builds the main funnel and, on request, per-channel and per-variant
// funnels. The breakdown queries are independent and run concurrently.
func (s *Service) Funnel(ctx context.Context, rc analytics.RequestContext, req FunnelRequest) (*FunnelResponse, error) {
	tenant := s.tenant(rc)
	q, err := analytics.ValidateQuery(rc, req.RawQuery, tenant.Location)
	if err != nil {
		return nil, err
	}
	model, err := analytics.ParseConversionModel(req.Model)
	if err != nil {
		return nil, err
	}
	withChannels := req.IncludeChannels
	withVariants := req.IncludeVariants && q.Scope == analytics.ScopeCampaign

	r := report{
		kind: cache.KindFunnel,
		key:  s.cache.Key(cache.KindFunnel, q, string(model), flag("channels", withChannels), flag("variants", withVariants)),
		ttl:  s.opts.SummaryTTL,
		fields: append(queryFields(cache.KindFunnel, rc, q),
			zap.String("model", string(model)), zap.Bool("with_channels", withChannels), zap.Bool("with_variants", withVariants)),
	}
	return cached(ctx, s, r, func(ctx context.Context) (*FunnelResponse, error) {
		var (
			totals          store.KPIResult
			channels        []store.ChannelResult
			variants        []store.VariantResult
			channelVariants []store.ChannelVariantResult
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			totals, err = s.store.Totals(gctx, q)
			return err
		})
		if withChannels {
			g.Go(func() error {
				var err error
				channels, err = s.store.ChannelBreakdown(gctx, q)
				return err
			})
		}
		if withVariants {
			g.Go(func() error {
				var err error
				variants, err = s.store.VariantBreakdown(gctx, q)
				return err
			})
		}
		if withChannels && withVariants {
			g.Go(func() error {
				var err error
				channelVariants, err = s.store.ChannelVariantBreakdown(gctx, q)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		return buildFunnel(q, model, totals, channels, variants, channelVariants, s.opts.Now()), nil
	})
}

func buildFunnel(q analytics.Query, model analytics.ConversionModel, totals store.KPIResult,
	channels []store.ChannelResult, variants []store.VariantResult, channelVariants []store.ChannelVariantResult,
	now time.Time) *FunnelResponse {

	resp := &FunnelResponse{
		Model:             model,
		Scope:             q.Scope,
		CampaignID:        q.CampaignID,
		From:              q.From,
		To:                q.To,
		Stages:            analytics.BuildStages(totals.Counts, model),
		OverallConversion: analytics.Conversion(totals.Counts),
		GeneratedAt:       now.UTC(),
	}

	for _, c := range channels {
		resp.Channels = append(resp.Channels, analytics.BuildChannelFunnel(c.Channel, c.Counts, model))
	}

	if len(variants) > 0 {
		groups := make([]analytics.GroupCounts, len(variants))
		for i, v := range variants {
			groups[i] = analytics.GroupCounts{Label: v.ABGroup, Counts: v.Counts}
		}
		resp.Variants = analytics.BuildVariantFunnels(groups, model, totals.Counts.Sent)
	}

	if len(channelVariants) > 0 {
		byChannel := make(map[string][]analytics.GroupCounts)
		channelSent := make(map[string]int64)
		var order []string
		for _, cv := range channelVariants {
			if _, seen := byChannel[cv.Channel]; !seen {
				order = append(order, cv.Channel)
			}
			byChannel[cv.Channel] = append(byChannel[cv.Channel], analytics.GroupCounts{Label: cv.ABGroup, Counts: cv.Counts})
			channelSent[cv.Channel] += cv.Counts.Sent
		}
		resp.VariantsByChannel = make(map[string][]analytics.VariantFunnel, len(order))
		for _, ch := range order {
			resp.VariantsByChannel[ch] = analytics.BuildVariantFunnels(byChannel[ch], model, channelSent[ch])
		}
	}

	resp.Insights = analytics.DeriveInsights(resp.Stages, resp.Channels, resp.Variants)
	return resp
}

func flag(name string, on bool) string {
	if on {
		return name
	}
	return "no-" + name
}
