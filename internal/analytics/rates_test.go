package analytics

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPercentZeroDenominator(t *testing.T) {
	tests := []struct {
		name string
		num  int64
		den  int64
	}{
		{"zero over zero", 0, 0},
		{"positive over zero", 42, 0},
		{"negative denominator", 5, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percent(tt.num, tt.den)
			assert.Equal(t, 0.0, got)
			assert.False(t, math.IsNaN(got))
			assert.False(t, math.IsInf(got, 0))
		})
	}
}

func TestComputeRatesAllZero(t *testing.T) {
	r := ComputeRates(Counts{})
	assert.Equal(t, Rates{}, r)
}

func TestComputeRatesZeroDenominatorsWithNumerators(t *testing.T) {
	// clicks without opens or deliveries must not divide by zero
	r := ComputeRates(Counts{Clicked: 10, Unsubscribed: 3, SpamReports: 2, Failed: 1})
	assert.Equal(t, 0.0, r.ClickRate)
	assert.Equal(t, 0.0, r.ClickThroughRate)
	assert.Equal(t, 0.0, r.UnsubscribeRate)
	assert.Equal(t, 0.0, r.SpamRate)
	assert.Equal(t, 0.0, r.FailureRate)
}

func TestComputeRatesScenario(t *testing.T) {
	c := Counts{Sent: 1000, Delivered: 900, Opened: 450, Clicked: 90, Failed: 100, Bounced: 20, Unsubscribed: 9, SpamReports: 18}
	r := ComputeRates(c)

	assert.InDelta(t, 90.0, r.DeliveryRate, 1e-9)
	assert.InDelta(t, 50.0, r.OpenRate, 1e-9)
	assert.InDelta(t, 20.0, r.ClickRate, 1e-9)
	assert.InDelta(t, 10.0, r.ClickThroughRate, 1e-9)
	assert.InDelta(t, 10.0, r.FailureRate, 1e-9)
	assert.InDelta(t, 2.0, r.BounceRate, 1e-9)
	assert.InDelta(t, 1.0, r.UnsubscribeRate, 1e-9)
	assert.InDelta(t, 2.0, r.SpamRate, 1e-9)
}

func TestLift(t *testing.T) {
	tests := []struct {
		name    string
		variant float64
		control float64
		want    float64
	}{
		{"variant beats control", 7.0, 5.0, 40.0},
		{"variant trails control", 4.0, 5.0, -20.0},
		{"equal", 5.0, 5.0, 0},
		{"zero control", 7.0, 0, 0},
		{"negative control", 7.0, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Lift(tt.variant, tt.control), 1e-9)
		})
	}
}

func TestCostPer(t *testing.T) {
	cost := decimal.RequireFromString("150.50")

	assert.True(t, CostPer(cost, 0).IsZero())
	assert.Equal(t, "1.505", CostPer(cost, 100).String())

	b := ComputeCostBreakdown(cost, Counts{Sent: 100, Delivered: 50})
	assert.Equal(t, "3.01", b.PerDelivery.String())
	assert.True(t, b.PerOpen.IsZero())
	assert.True(t, b.PerClick.IsZero())
}

func TestRoundHandlesNonFinite(t *testing.T) {
	assert.Equal(t, 0.0, Round(math.NaN(), 2))
	assert.Equal(t, 0.0, Round(math.Inf(1), 2))
	assert.Equal(t, 33.33, Round(100.0/3.0, 2))
}
