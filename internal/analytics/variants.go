package analytics

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// MinVariantSample is the minimum sent count each active variant needs
// before a comparison is reported as sufficient.
const MinVariantSample = 100

// VariantRow is the raw per-group aggregate for an A/B test.
type VariantRow struct {
	Label      string
	Counts     Counts
	Cost       decimal.Decimal
	Recipients int64
}

// Variant is the per-group comparison model of an A/B test.
type Variant struct {
	Label         string          `json:"label"`
	IsControl     bool            `json:"is_control"`
	Recipients    int64           `json:"recipients"`
	AllocationPct float64         `json:"allocation_pct"`
	Counts        Counts          `json:"counts"`
	Rates         Rates           `json:"rates"`
	Conversion    float64         `json:"conversion_rate"`
	Lift          float64         `json:"lift"`
	PValue        *float64        `json:"p_value,omitempty"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	Costs         CostBreakdown   `json:"costs"`
}

// BuildVariants turns per-group rows into comparable variants, sorted by
// label with the control group first.
func BuildVariants(rows []VariantRow) []Variant {
	labels := make([]string, len(rows))
	var totalSent int64
	for i, r := range rows {
		labels[i] = r.Label
		totalSent += r.Counts.Sent
	}
	control := ControlLabel(labels)

	variants := make([]Variant, len(rows))
	var ctrl *VariantRow
	for i := range rows {
		r := rows[i]
		variants[i] = Variant{
			Label:         r.Label,
			IsControl:     control != "" && r.Label == control,
			Recipients:    r.Recipients,
			AllocationPct: Round(Percent(r.Counts.Sent, totalSent), 2),
			Counts:        r.Counts,
			Rates:         ComputeRates(r.Counts),
			Conversion:    Conversion(r.Counts),
			TotalCost:     r.Cost,
			Costs:         ComputeCostBreakdown(r.Cost, r.Counts),
		}
		if variants[i].IsControl {
			ctrl = &rows[i]
		}
	}

	if ctrl != nil {
		controlConv := Conversion(ctrl.Counts)
		for i := range variants {
			if variants[i].IsControl {
				continue
			}
			variants[i].Lift = Lift(variants[i].Conversion, controlConv)
			if p, ok := TwoProportionPValue(variants[i].Counts.Clicked, variants[i].Counts.Sent, ctrl.Counts.Clicked, ctrl.Counts.Sent); ok {
				p = Round(p, 4)
				variants[i].PValue = &p
			}
		}
	}

	sort.SliceStable(variants, func(i, j int) bool {
		if variants[i].IsControl != variants[j].IsControl {
			return variants[i].IsControl
		}
		return variants[i].Label < variants[j].Label
	})
	return variants
}

// IsSignificant is a sample-size gate, not a hypothesis test: it holds when
// at least two variants have sent messages and each of them has sent at
// least MinVariantSample.
func IsSignificant(variants []Variant) bool {
	active := 0
	for _, v := range variants {
		if v.Counts.Sent == 0 {
			continue
		}
		if v.Counts.Sent < MinVariantSample {
			return false
		}
		active++
	}
	return active >= 2
}

// Winner returns the label with the highest conversion when the comparison
// is significant, or "" otherwise. Ties go to the earlier variant.
func Winner(variants []Variant, significant bool) string {
	if !significant {
		return ""
	}
	winner := ""
	best := -1.0
	for _, v := range variants {
		if v.Counts.Sent > 0 && v.Conversion > best {
			best = v.Conversion
			winner = v.Label
		}
	}
	return winner
}

// TwoProportionPValue runs a two-sided two-proportion z-test of x1/n1
// against x2/n2. ok is false when either sample is empty or the pooled
// proportion is degenerate.
func TwoProportionPValue(x1, n1, x2, n2 int64) (p float64, ok bool) {
	if n1 <= 0 || n2 <= 0 {
		return 0, false
	}
	p1 := float64(x1) / float64(n1)
	p2 := float64(x2) / float64(n2)
	pooled := float64(x1+x2) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 || math.IsNaN(se) {
		return 0, false
	}
	z := math.Abs(p1-p2) / se
	return math.Erfc(z / math.Sqrt2), true
}
