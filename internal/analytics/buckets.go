package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// BucketRow is one sparse aggregate row from the store, keyed by the
// truncated bucket start.
type BucketRow struct {
	Start  time.Time
	Counts Counts
	Cost   decimal.Decimal
}

// TimeBucket is one point of a dense time series.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`
	Label     string    `json:"label"`
	Counts
	TotalCost    decimal.Decimal `json:"total_cost"`
	DeliveryRate float64         `json:"delivery_rate"`
	OpenRate     float64         `json:"open_rate"`
	ClickRate    float64         `json:"click_rate"`
}

// BucketStarts returns the start of every bucket overlapping [from, to).
// The first start is from aligned down to its bucket boundary in loc.
func BucketStarts(from, to time.Time, iv Interval, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	var starts []time.Time
	for t := iv.Truncate(from, loc); t.Before(to); t = iv.Next(t, loc) {
		starts = append(starts, t)
	}
	return starts
}

// Reconcile left-joins sparse rows onto the dense bucket sequence for
// [from, to). Buckets without a row get zero counts; rows outside the
// sequence are ignored.
func Reconcile(from, to time.Time, iv Interval, loc *time.Location, rows []BucketRow) []TimeBucket {
	if loc == nil {
		loc = time.UTC
	}
	starts := BucketStarts(from, to, iv, loc)
	buckets := make([]TimeBucket, len(starts))
	index := make(map[int64]int, len(starts))
	for i, t := range starts {
		buckets[i] = TimeBucket{
			Timestamp: t,
			Label:     iv.Label(t, loc),
			TotalCost: decimal.Zero,
		}
		index[t.Unix()] = i
	}

	for _, row := range rows {
		i, ok := index[row.Start.Unix()]
		if !ok {
			continue
		}
		buckets[i].Counts.Add(row.Counts)
		buckets[i].TotalCost = buckets[i].TotalCost.Add(row.Cost)
	}

	for i := range buckets {
		c := buckets[i].Counts
		buckets[i].DeliveryRate = Round(Percent(c.Delivered, c.Sent), 2)
		buckets[i].OpenRate = Round(Percent(c.Opened, c.Delivered), 2)
		buckets[i].ClickRate = Round(Percent(c.Clicked, c.Opened), 2)
	}
	return buckets
}

// PeakBucket identifies the bucket with the highest sent count.
type PeakBucket struct {
	Timestamp time.Time `json:"timestamp"`
	Label     string    `json:"label"`
	Sent      int64     `json:"sent"`
}

// SeriesSummary aggregates a dense bucket array.
type SeriesSummary struct {
	Totals          Counts          `json:"totals"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	AvgDeliveryRate float64         `json:"avg_delivery_rate"`
	AvgOpenRate     float64         `json:"avg_open_rate"`
	AvgClickRate    float64         `json:"avg_click_rate"`
	Peak            *PeakBucket     `json:"peak,omitempty"`
}

// Summarize totals the buckets. Each average rate only covers buckets whose
// denominator is non-zero, so empty buckets do not drag averages down.
func Summarize(buckets []TimeBucket) SeriesSummary {
	s := SeriesSummary{TotalCost: decimal.Zero}

	var (
		deliverySum, openSum, clickSum float64
		deliveryN, openN, clickN       int
	)
	for _, b := range buckets {
		s.Totals.Add(b.Counts)
		s.TotalCost = s.TotalCost.Add(b.TotalCost)

		if b.Sent > 0 {
			deliverySum += b.DeliveryRate
			deliveryN++
		}
		if b.Delivered > 0 {
			openSum += b.OpenRate
			openN++
		}
		if b.Opened > 0 {
			clickSum += b.ClickRate
			clickN++
		}
		if b.Sent > 0 && (s.Peak == nil || b.Sent > s.Peak.Sent) {
			s.Peak = &PeakBucket{Timestamp: b.Timestamp, Label: b.Label, Sent: b.Sent}
		}
	}

	if deliveryN > 0 {
		s.AvgDeliveryRate = Round(deliverySum/float64(deliveryN), 2)
	}
	if openN > 0 {
		s.AvgOpenRate = Round(openSum/float64(openN), 2)
	}
	if clickN > 0 {
		s.AvgClickRate = Round(clickSum/float64(clickN), 2)
	}
	return s
}
