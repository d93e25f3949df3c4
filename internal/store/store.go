package store

import (
	"fmt"
	"strings"

	"github.com/open-wander/tally/internal/analytics"
	"github.com/open-wander/tally/internal/db"
)

// Queries wraps event store access for aggregate analytics.
type Queries struct {
	db      *db.Store
	dialect db.Dialect
}

// New creates a query handler over an opened event store.
func New(s *db.Store) *Queries {
	return &Queries{db: s, dialect: s.Dialect}
}

// binder collects bind arguments in the order their placeholders appear in
// the rendered SQL.
type binder struct {
	d    db.Dialect
	args []any
}

func (q *Queries) binder() *binder {
	return &binder{d: q.dialect}
}

// bind appends v and returns its placeholder.
func (b *binder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

// bindList appends every value and returns a comma separated placeholder list.
func (b *binder) bindList(vs []string) string {
	ph := make([]string, len(vs))
	for i, v := range vs {
		ph[i] = b.bind(v)
	}
	return strings.Join(ph, ", ")
}

// condition renders one extra WHERE predicate. It is called after the fixed
// conditions are bound, so any argument it binds lands in SQL-text order.
type condition func(b *binder) string

// literal wraps a predicate that binds nothing.
func literal(sql string) condition {
	return func(*binder) string { return sql }
}

// eventTypeIn matches event_type against every spelling of the given types,
// ignoring case.
func eventTypeIn(types []analytics.EventType) condition {
	return func(b *binder) string {
		var spellings []string
		for _, et := range types {
			spellings = append(spellings, et.Spellings()...)
		}
		return "LOWER(event_type) IN (" + b.bindList(spellings) + ")"
	}
}

// buildWhere constructs the WHERE clause for a validated query. The tenant
// condition always comes first and is never optional.
func (b *binder) buildWhere(q analytics.Query, extra ...condition) string {
	conditions := []string{
		"tenant_id = " + b.bind(q.TenantID),
		"occurred_at >= " + b.bind(b.d.TimeArg(q.From)),
		"occurred_at < " + b.bind(b.d.TimeArg(q.To)),
	}

	if q.CampaignID != "" {
		conditions = append(conditions, "campaign_id = "+b.bind(q.CampaignID))
	}
	if len(q.Channels) > 0 {
		chans := make([]string, len(q.Channels))
		for i, c := range q.Channels {
			chans[i] = string(c)
		}
		conditions = append(conditions, "channel IN ("+b.bindList(chans)+")")
	}
	if q.ABGroup != "" {
		conditions = append(conditions, "ab_group = "+b.bind(q.ABGroup))
	}
	for _, c := range extra {
		conditions = append(conditions, c(b))
	}

	return "WHERE " + strings.Join(conditions, " AND ")
}

// eventTypeMatch is the literal form of eventTypeIn for select-list CASE
// expressions. Spellings come from the closed analytics enum.
func eventTypeMatch(et analytics.EventType) string {
	quoted := make([]string, 0, 2)
	for _, s := range et.Spellings() {
		quoted = append(quoted, "'"+s+"'")
	}
	return "LOWER(event_type) IN (" + strings.Join(quoted, ", ") + ")"
}

// countColumns renders one zero-safe counter per event type, aliased by key.
func countColumns() string {
	cols := make([]string, len(analytics.AllEventTypes))
	for i, et := range analytics.AllEventTypes {
		cols[i] = fmt.Sprintf("COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0) AS %s", eventTypeMatch(et), et.Key())
	}
	return strings.Join(cols, ",\n\t\t\t")
}

// countDest returns scan destinations matching countColumns.
func countDest(c *analytics.Counts) []any {
	return []any{
		&c.Sent,
		&c.Delivered,
		&c.Opened,
		&c.Clicked,
		&c.Failed,
		&c.Unsubscribed,
		&c.Bounced,
		&c.SpamReports,
	}
}
