package analytics

import (
	"sort"
	"strings"
	"time"
)

// MaxBuckets caps the number of buckets a single time-series request may produce.
const MaxBuckets = 5000

// maxABGroupLength guards against arbitrarily long labels reaching cache keys
const maxABGroupLength = 64

// RawQuery holds analytics parameters exactly as received from the caller.
type RawQuery struct {
	Scope      string
	CampaignID string
	From       string
	To         string
	Channels   []string
	ABGroup    string
}

// RawTimeSeriesQuery adds bucketing parameters to RawQuery.
type RawTimeSeriesQuery struct {
	RawQuery
	Interval   string
	Timezone   string
	EventTypes []string
}

// timeLayouts are tried in order when parsing from/to values
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an RFC3339 timestamp, or a zone-less timestamp/date
// interpreted in loc.
func ParseTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for i, layout := range timeLayouts {
		var (
			t   time.Time
			err error
		)
		if i == 0 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, loc)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValidateQuery validates raw parameters for the caller's tenant and returns
// a normalized Query. Zone-less dates are interpreted in loc.
func ValidateQuery(rc RequestContext, raw RawQuery, loc *time.Location) (Query, error) {
	if loc == nil {
		loc = time.UTC
	}
	tenantID := strings.TrimSpace(rc.TenantID)
	if tenantID == "" {
		return Query{}, invalid("tenant_id", "tenant id is required")
	}

	q := Query{TenantID: tenantID}

	switch Scope(strings.ToLower(strings.TrimSpace(raw.Scope))) {
	case ScopeGlobal:
		q.Scope = ScopeGlobal
	case ScopeCampaign:
		q.Scope = ScopeCampaign
		q.CampaignID = strings.TrimSpace(raw.CampaignID)
		if q.CampaignID == "" {
			return Query{}, invalid("campaign_id", "campaign_id is required when scope is campaign")
		}
	case "":
		return Query{}, invalid("scope", "scope is required (global or campaign)")
	default:
		return Query{}, invalid("scope", "unsupported scope %q (global or campaign)", raw.Scope)
	}

	if strings.TrimSpace(raw.From) == "" || strings.TrimSpace(raw.To) == "" {
		return Query{}, invalid("from", "from and to are required")
	}
	from, ok := ParseTime(raw.From, loc)
	if !ok {
		return Query{}, invalid("from", "invalid timestamp %q", raw.From)
	}
	to, ok := ParseTime(raw.To, loc)
	if !ok {
		return Query{}, invalid("to", "invalid timestamp %q", raw.To)
	}
	if !from.Before(to) {
		return Query{}, invalid("from", "from must be before to")
	}
	q.From = from.UTC()
	q.To = to.UTC()

	channels, err := normalizeChannels(raw.Channels)
	if err != nil {
		return Query{}, err
	}
	q.Channels = channels

	q.ABGroup = strings.TrimSpace(raw.ABGroup)
	if len(q.ABGroup) > maxABGroupLength {
		return Query{}, invalid("ab_group", "ab_group must be at most %d characters", maxABGroupLength)
	}

	return q, nil
}

// ValidateTimeSeries validates a time-series request. The range stays exact;
// a start inside a bucket yields a partial first bucket keyed by that
// bucket's aligned start in the requested timezone.
func ValidateTimeSeries(rc RequestContext, raw RawTimeSeriesQuery, defaultLoc *time.Location) (TimeSeriesQuery, error) {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	loc := defaultLoc
	if tz := strings.TrimSpace(raw.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return TimeSeriesQuery{}, invalid("timezone", "unknown timezone %q", tz)
		}
		loc = l
	}

	name := strings.TrimSpace(raw.Interval)
	if name == "" {
		name = Interval1h.Name
	}
	iv, ok := ParseInterval(name)
	if !ok {
		return TimeSeriesQuery{}, invalid("interval", "unsupported interval %q (5m, 1h or 1d)", raw.Interval)
	}

	q, err := ValidateQuery(rc, raw.RawQuery, loc)
	if err != nil {
		return TimeSeriesQuery{}, err
	}
	if n := int64(q.To.Sub(iv.Truncate(q.From, loc)) / iv.Step); n > MaxBuckets {
		return TimeSeriesQuery{}, invalid("interval", "range produces %d buckets, maximum is %d", n, MaxBuckets)
	}

	eventTypes, err := normalizeEventTypes(raw.EventTypes)
	if err != nil {
		return TimeSeriesQuery{}, err
	}

	return TimeSeriesQuery{
		Query:      q,
		Interval:   iv,
		Location:   loc,
		EventTypes: eventTypes,
	}, nil
}

// normalizeChannels lowercases, whitelists, deduplicates and sorts channels
func normalizeChannels(raw []string) ([]Channel, error) {
	seen := make(map[Channel]bool)
	var out []Channel
	for _, item := range splitList(raw) {
		ch := Channel(strings.ToLower(item))
		if !validChannels[ch] {
			return nil, invalid("channels", "unknown channel %q", item)
		}
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// normalizeEventTypes keeps the canonical reporting order
func normalizeEventTypes(raw []string) ([]EventType, error) {
	selected := make(map[EventType]bool)
	for _, item := range splitList(raw) {
		et, ok := ParseEventType(item)
		if !ok {
			return nil, invalid("event_types", "unknown event type %q", item)
		}
		selected[et] = true
	}
	if len(selected) == 0 {
		return nil, nil
	}
	var out []EventType
	for _, et := range AllEventTypes {
		if selected[et] {
			out = append(out, et)
		}
	}
	return out, nil
}

// splitList flattens repeated and comma-separated values, dropping blanks
func splitList(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
