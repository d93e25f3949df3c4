package analytics

import "time"

// Interval describes a supported time-series bucket width.
type Interval struct {
	Name        string        // query parameter form: "5m", "1h", "1d"
	Step        time.Duration // nominal bucket width
	Unit        string        // truncation granularity understood by the store dialects
	LabelFormat string        // Go layout used for bucket labels
}

var (
	Interval5m = Interval{Name: "5m", Step: 5 * time.Minute, Unit: "5m", LabelFormat: "15:04"}
	Interval1h = Interval{Name: "1h", Step: time.Hour, Unit: "1h", LabelFormat: "01-02 15:00"}
	Interval1d = Interval{Name: "1d", Step: 24 * time.Hour, Unit: "1d", LabelFormat: "2006-01-02"}
)

var intervals = map[string]Interval{
	Interval5m.Name: Interval5m,
	Interval1h.Name: Interval1h,
	Interval1d.Name: Interval1d,
}

// ParseInterval maps the query parameter form to an Interval.
func ParseInterval(s string) (Interval, bool) {
	iv, ok := intervals[s]
	return iv, ok
}

// Truncate returns the start of the bucket containing t, in loc. Sub-day
// buckets step back from t by the local wall-clock remainder, so the
// repeated hour at a DST fall-back keeps its own offset and bucket.
func (iv Interval) Truncate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	within := time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
	switch iv.Unit {
	case "5m":
		return t.Add(-within - time.Duration(t.Minute()%5)*time.Minute)
	case "1h":
		return t.Add(-within - time.Duration(t.Minute())*time.Minute)
	default:
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// Next returns the start of the bucket following the one starting at t.
// Daily buckets advance by calendar day so they stay aligned to local midnight.
func (iv Interval) Next(t time.Time, loc *time.Location) time.Time {
	if iv.Unit == "1d" {
		return t.In(loc).AddDate(0, 0, 1)
	}
	return t.Add(iv.Step)
}

// Label formats a bucket start for display.
func (iv Interval) Label(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(iv.LabelFormat)
}
