package analytics

import (
	"strings"
	"time"
)

// EventType is the lifecycle stage recorded by a single campaign event row.
type EventType string

const (
	EventSent         EventType = "Sent"
	EventDelivered    EventType = "Delivered"
	EventOpened       EventType = "Opened"
	EventClicked      EventType = "Clicked"
	EventFailed       EventType = "Failed"
	EventUnsubscribed EventType = "Unsubscribed"
	EventBounced      EventType = "Bounced"
	EventSpamReport   EventType = "SpamReport"
)

// AllEventTypes lists every event type in reporting order.
var AllEventTypes = []EventType{
	EventSent,
	EventDelivered,
	EventOpened,
	EventClicked,
	EventFailed,
	EventUnsubscribed,
	EventBounced,
	EventSpamReport,
}

// Key returns the snake_case name used in JSON payloads and query parameters.
func (e EventType) Key() string {
	switch e {
	case EventSpamReport:
		return "spam_reports"
	default:
		b := []byte(e)
		if len(b) > 0 && b[0] >= 'A' && b[0] <= 'Z' {
			b[0] += 'a' - 'A'
		}
		return string(b)
	}
}

// Spellings returns the lowercase forms an event_type column value may take.
// Rows are written in the stored form ("SpamReport"), but ingestion paths
// that lowercase or hyphenate are still counted.
func (e EventType) Spellings() []string {
	s := strings.ToLower(string(e))
	if e == EventSpamReport {
		return []string{s, "spam_report", "spam-report"}
	}
	return []string{s}
}

// ParseEventType accepts the stored form ("SpamReport"), the key form
// ("spam_reports") or any other spelling, ignoring case.
func ParseEventType(s string) (EventType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, et := range AllEventTypes {
		if s == et.Key() {
			return et, true
		}
		for _, sp := range et.Spellings() {
			if s == sp {
				return et, true
			}
		}
	}
	return "", false
}

// Channel is an outbound delivery channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelLMS   Channel = "lms"
	ChannelMMS   Channel = "mms"
	ChannelKakao Channel = "kakao"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// validChannels is the channel whitelist accepted by the validator
var validChannels = map[Channel]bool{
	ChannelSMS:   true,
	ChannelLMS:   true,
	ChannelMMS:   true,
	ChannelKakao: true,
	ChannelEmail: true,
	ChannelPush:  true,
}

// Scope selects between tenant-wide and single-campaign analytics.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeCampaign Scope = "campaign"
)

// RequestContext carries the caller identity resolved by the authentication layer.
// It is passed by value and never mutated.
type RequestContext struct {
	TenantID  string
	UserID    string
	RequestID string
}

// Query is a validated, normalized analytics request.
type Query struct {
	TenantID   string
	Scope      Scope
	CampaignID string // empty unless Scope == ScopeCampaign
	From       time.Time
	To         time.Time // exclusive
	Channels   []Channel // sorted, deduplicated; empty = all channels
	ABGroup    string    // empty = all groups
}

// TimeSeriesQuery is a Query with bucketing parameters.
type TimeSeriesQuery struct {
	Query
	Interval   Interval
	Location   *time.Location
	EventTypes []EventType // empty = all event types
}

// Counts holds one counter per event type.
type Counts struct {
	Sent         int64 `json:"sent"`
	Delivered    int64 `json:"delivered"`
	Opened       int64 `json:"opened"`
	Clicked      int64 `json:"clicked"`
	Failed       int64 `json:"failed"`
	Unsubscribed int64 `json:"unsubscribed"`
	Bounced      int64 `json:"bounced"`
	SpamReports  int64 `json:"spam_reports"`
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.Sent += o.Sent
	c.Delivered += o.Delivered
	c.Opened += o.Opened
	c.Clicked += o.Clicked
	c.Failed += o.Failed
	c.Unsubscribed += o.Unsubscribed
	c.Bounced += o.Bounced
	c.SpamReports += o.SpamReports
}

// Get returns the counter for an event type.
func (c Counts) Get(e EventType) int64 {
	switch e {
	case EventSent:
		return c.Sent
	case EventDelivered:
		return c.Delivered
	case EventOpened:
		return c.Opened
	case EventClicked:
		return c.Clicked
	case EventFailed:
		return c.Failed
	case EventUnsubscribed:
		return c.Unsubscribed
	case EventBounced:
		return c.Bounced
	case EventSpamReport:
		return c.SpamReports
	}
	return 0
}
