package analytics

import (
	"fmt"
	"strings"
)

// ConversionModel selects how a funnel stage's conversion rate is computed.
type ConversionModel string

const (
	// ModelAbsolute measures every stage against the first stage.
	ModelAbsolute ConversionModel = "absolute"
	// ModelStepwise measures every stage against the stage before it.
	ModelStepwise ConversionModel = "stepwise"
)

// ParseConversionModel defaults to the absolute model when s is empty.
func ParseConversionModel(s string) (ConversionModel, error) {
	switch ConversionModel(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModelAbsolute:
		return ModelAbsolute, nil
	case ModelStepwise:
		return ModelStepwise, nil
	default:
		return "", invalid("model", "unsupported conversion model %q (absolute or stepwise)", s)
	}
}

// FunnelStage is one step of the sent -> delivered -> opened -> clicked funnel.
type FunnelStage struct {
	Name           string  `json:"name"`
	DisplayName    string  `json:"display_name"`
	Count          int64   `json:"count"`
	ConversionRate float64 `json:"conversion_rate"`
	AbsoluteRate   float64 `json:"absolute_rate"`
	DropOffRate    float64 `json:"drop_off_rate"`
	DropOffCount   int64   `json:"drop_off_count"`
	Order          int     `json:"order"`
	Width          float64 `json:"width"`
}

type stageDef struct {
	name    string
	display string
	count   func(Counts) int64
}

var funnelStages = []stageDef{
	{"sent", "Sent", func(c Counts) int64 { return c.Sent }},
	{"delivered", "Delivered", func(c Counts) int64 { return c.Delivered }},
	{"opened", "Opened", func(c Counts) int64 { return c.Opened }},
	{"clicked", "Clicked", func(c Counts) int64 { return c.Clicked }},
}

// BuildStages constructs the ordered funnel for c. The first stage is 100%
// under both models. Drop-off is clamped at zero because raw event data is
// not guaranteed to be monotonic.
func BuildStages(c Counts, model ConversionModel) []FunnelStage {
	stages := make([]FunnelStage, len(funnelStages))
	first := funnelStages[0].count(c)

	var prev int64
	for i, def := range funnelStages {
		count := def.count(c)
		st := FunnelStage{
			Name:        def.name,
			DisplayName: def.display,
			Count:       count,
			Order:       i + 1,
			Width:       Round(Ratio(count, first), 4),
		}

		if i == 0 {
			st.ConversionRate = 100
			st.AbsoluteRate = 100
		} else {
			st.AbsoluteRate = Round(Percent(count, first), 2)
			if model == ModelStepwise {
				st.ConversionRate = Round(Percent(count, prev), 2)
			} else {
				st.ConversionRate = st.AbsoluteRate
			}

			drop := prev - count
			if drop < 0 {
				drop = 0
			}
			st.DropOffCount = drop
			st.DropOffRate = Round(Percent(drop, prev), 2)
		}

		stages[i] = st
		prev = count
	}
	return stages
}

// ChannelFunnel is a funnel restricted to a single channel.
type ChannelFunnel struct {
	Channel           string        `json:"channel"`
	Stages            []FunnelStage `json:"stages"`
	OverallConversion float64       `json:"overall_conversion"`
	BestStage         string        `json:"best_stage"`
	WorstStage        string        `json:"worst_stage"`
}

// BuildChannelFunnel builds the funnel for one channel and marks its best and
// worst stages by conversion rate, considering only stages after the first.
func BuildChannelFunnel(channel string, c Counts, model ConversionModel) ChannelFunnel {
	stages := BuildStages(c, model)
	cf := ChannelFunnel{
		Channel:           channel,
		Stages:            stages,
		OverallConversion: Conversion(c),
	}
	if len(stages) > 1 {
		best, worst := stages[1], stages[1]
		for _, st := range stages[2:] {
			if st.ConversionRate > best.ConversionRate {
				best = st
			}
			if st.ConversionRate < worst.ConversionRate {
				worst = st
			}
		}
		cf.BestStage = best.Name
		cf.WorstStage = worst.Name
	}
	return cf
}

// VariantFunnel is a funnel restricted to one A/B group.
type VariantFunnel struct {
	ABGroup           string        `json:"ab_group"`
	IsControl         bool          `json:"is_control"`
	Stages            []FunnelStage `json:"stages"`
	OverallConversion float64       `json:"overall_conversion"`
	AllocationPct     float64       `json:"allocation_pct"`
	Lift              float64       `json:"lift"`
}

// GroupCounts pairs a group label with its counters.
type GroupCounts struct {
	Label  string
	Counts Counts
}

// BuildVariantFunnels builds one funnel per A/B group, with lift against the
// control group and allocation against totalSent (the main funnel's sent count).
func BuildVariantFunnels(groups []GroupCounts, model ConversionModel, totalSent int64) []VariantFunnel {
	labels := make([]string, len(groups))
	for i, g := range groups {
		labels[i] = g.Label
	}
	control := ControlLabel(labels)

	var controlConv float64
	out := make([]VariantFunnel, len(groups))
	for i, g := range groups {
		out[i] = VariantFunnel{
			ABGroup:           g.Label,
			IsControl:         g.Label == control && control != "",
			Stages:            BuildStages(g.Counts, model),
			OverallConversion: Conversion(g.Counts),
			AllocationPct:     Round(Percent(g.Counts.Sent, totalSent), 2),
		}
		if out[i].IsControl {
			controlConv = out[i].OverallConversion
		}
	}
	for i := range out {
		if !out[i].IsControl {
			out[i].Lift = Lift(out[i].OverallConversion, controlConv)
		}
	}
	return out
}

// ControlLabel picks the control group: "Control" wins over "A"; matching is
// case-insensitive. It returns "" when neither label is present.
func ControlLabel(labels []string) string {
	var fallback string
	for _, l := range labels {
		if strings.EqualFold(l, "control") {
			return l
		}
		if fallback == "" && strings.EqualFold(l, "a") {
			fallback = l
		}
	}
	return fallback
}

// FunnelInsights is advisory, rule-based commentary on a funnel result.
type FunnelInsights struct {
	LargestDropOffStage   string   `json:"largest_drop_off_stage,omitempty"`
	LargestDropOffRate    float64  `json:"largest_drop_off_rate"`
	BestChannel           string   `json:"best_channel,omitempty"`
	BestChannelConversion float64  `json:"best_channel_conversion"`
	BestVariant           string   `json:"best_variant,omitempty"`
	BestVariantConversion float64  `json:"best_variant_conversion"`
	Recommendations       []string `json:"recommendations"`
}

const (
	dropOffAlertPct       = 50.0
	deliveryEfficiencyPct = 90.0
	engagementFloorPct    = 5.0
)

// DeriveInsights inspects the main, channel and variant funnels.
func DeriveInsights(main []FunnelStage, channels []ChannelFunnel, variants []VariantFunnel) FunnelInsights {
	ins := FunnelInsights{Recommendations: []string{}}

	if len(main) == 0 || main[0].Count == 0 {
		ins.Recommendations = append(ins.Recommendations, "No messages were sent in the selected range.")
		return ins
	}

	for _, st := range main[1:] {
		if st.DropOffRate > ins.LargestDropOffRate {
			ins.LargestDropOffRate = st.DropOffRate
			ins.LargestDropOffStage = st.Name
		}
		if st.DropOffRate > dropOffAlertPct {
			ins.Recommendations = append(ins.Recommendations,
				fmt.Sprintf("Drop-off over %.0f%% at stage %s (%.1f%%).", dropOffAlertPct, st.DisplayName, st.DropOffRate))
		}
	}

	for _, cf := range channels {
		if ins.BestChannel == "" || cf.OverallConversion > ins.BestChannelConversion {
			ins.BestChannel = cf.Channel
			ins.BestChannelConversion = cf.OverallConversion
		}
	}
	for _, vf := range variants {
		if ins.BestVariant == "" || vf.OverallConversion > ins.BestVariantConversion {
			ins.BestVariant = vf.ABGroup
			ins.BestVariantConversion = vf.OverallConversion
		}
	}

	if len(main) > 1 && main[1].AbsoluteRate < deliveryEfficiencyPct {
		ins.Recommendations = append(ins.Recommendations,
			fmt.Sprintf("Delivery efficiency below %.0f%% (%.1f%%): review recipient data quality and channel configuration.",
				deliveryEfficiencyPct, main[1].AbsoluteRate))
	}
	if last := main[len(main)-1]; last.AbsoluteRate < engagementFloorPct {
		ins.Recommendations = append(ins.Recommendations,
			fmt.Sprintf("Engagement below %.0f%% (%.1f%% of sent clicked): revisit message content and call to action.",
				engagementFloorPct, last.AbsoluteRate))
	}
	for _, vf := range variants {
		if !vf.IsControl && vf.Lift > 0 && vf.ABGroup == ins.BestVariant {
			ins.Recommendations = append(ins.Recommendations,
				fmt.Sprintf("Variant %s converts %.1f%% better than control.", vf.ABGroup, vf.Lift))
		}
	}
	return ins
}
