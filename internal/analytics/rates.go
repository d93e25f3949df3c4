package analytics

import (
	"math"

	"github.com/shopspring/decimal"
)

// Percent returns num/den on a 0-100 scale, or 0 when den is not positive.
// It never returns NaN or Inf.
func Percent(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) * 100 / float64(den)
}

// Ratio returns num/den, or 0 when den is not positive.
func Ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Rates are the derived percentages of a set of counts.
type Rates struct {
	DeliveryRate     float64 `json:"delivery_rate"`
	OpenRate         float64 `json:"open_rate"`
	ClickRate        float64 `json:"click_rate"`
	ClickThroughRate float64 `json:"click_through_rate"`
	FailureRate      float64 `json:"failure_rate"`
	BounceRate       float64 `json:"bounce_rate"`
	UnsubscribeRate  float64 `json:"unsubscribe_rate"`
	SpamRate         float64 `json:"spam_rate"`
}

// ComputeRates derives all rates from c, rounded to two decimals.
func ComputeRates(c Counts) Rates {
	return Rates{
		DeliveryRate:     Round(Percent(c.Delivered, c.Sent), 2),
		OpenRate:         Round(Percent(c.Opened, c.Delivered), 2),
		ClickRate:        Round(Percent(c.Clicked, c.Opened), 2),
		ClickThroughRate: Round(Percent(c.Clicked, c.Delivered), 2),
		FailureRate:      Round(Percent(c.Failed, c.Sent), 2),
		BounceRate:       Round(Percent(c.Bounced, c.Sent), 2),
		UnsubscribeRate:  Round(Percent(c.Unsubscribed, c.Delivered), 2),
		SpamRate:         Round(Percent(c.SpamReports, c.Delivered), 2),
	}
}

// Conversion is the overall sent-to-clicked conversion percentage.
func Conversion(c Counts) float64 {
	return Round(Percent(c.Clicked, c.Sent), 2)
}

// Lift is the relative improvement of variant over control, as a percentage
// of control. It is 0 when control is not positive.
func Lift(variant, control float64) float64 {
	if control <= 0 || math.IsNaN(control) || math.IsNaN(variant) {
		return 0
	}
	return Round((variant-control)*100/control, 2)
}

// CostPer divides a cost over n outcomes; zero outcomes cost zero.
func CostPer(cost decimal.Decimal, n int64) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	return cost.Div(decimal.NewFromInt(n)).Round(4)
}

// CostBreakdown holds cost-per-outcome metrics.
type CostBreakdown struct {
	PerSend     decimal.Decimal `json:"cost_per_send"`
	PerDelivery decimal.Decimal `json:"cost_per_delivery"`
	PerOpen     decimal.Decimal `json:"cost_per_open"`
	PerClick    decimal.Decimal `json:"cost_per_click"`
}

// ComputeCostBreakdown spreads cost over each outcome counter of c.
func ComputeCostBreakdown(cost decimal.Decimal, c Counts) CostBreakdown {
	return CostBreakdown{
		PerSend:     CostPer(cost, c.Sent),
		PerDelivery: CostPer(cost, c.Delivered),
		PerOpen:     CostPer(cost, c.Opened),
		PerClick:    CostPer(cost, c.Clicked),
	}
}
