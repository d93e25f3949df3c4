package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-wander/tally/internal/analytics"
	tallydb "github.com/open-wander/tally/internal/db"
)

func testStore(t *testing.T) *tallydb.Store {
	t.Helper()
	s, err := tallydb.Open(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type eventRow struct {
	Tenant      string
	Campaign    string
	Contact     string
	Channel     string
	Type        analytics.EventType
	At          time.Time
	ABGroup     string
	Cost        string
	FailureCode string
	Reason      string
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func seedEvents(t *testing.T, s *tallydb.Store, rows ...eventRow) {
	t.Helper()
	for _, r := range rows {
		cost := r.Cost
		if cost == "" {
			cost = "0"
		}
		_, err := s.Exec(
			`INSERT INTO campaign_events
				(tenant_id, campaign_id, contact_id, channel, event_type, occurred_at, ab_group, cost_amount, failure_code, failure_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Tenant, r.Campaign, r.Contact, r.Channel, string(r.Type), r.At.Unix(),
			nullable(r.ABGroup), cost, nullable(r.FailureCode), nullable(r.Reason),
		)
		if err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}
}

// seedFunnel writes one event per stage count, reusing contact ids so the
// first n contacts of each stage are the same people.
func seedFunnel(t *testing.T, s *tallydb.Store, base eventRow, prefix string, sent, delivered, opened, clicked int) {
	t.Helper()
	stages := []struct {
		et analytics.EventType
		n  int
	}{
		{analytics.EventSent, sent},
		{analytics.EventDelivered, delivered},
		{analytics.EventOpened, opened},
		{analytics.EventClicked, clicked},
	}
	for _, st := range stages {
		for i := 0; i < st.n; i++ {
			r := base
			r.Type = st.et
			r.Contact = fmt.Sprintf("%s-%d", prefix, i)
			if st.et != analytics.EventSent {
				r.Cost = "0"
			}
			seedEvents(t, s, r)
		}
	}
}

var (
	day0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day7 = day0.AddDate(0, 0, 7)
)

func weekQuery(tenant string) analytics.Query {
	return analytics.Query{TenantID: tenant, Scope: analytics.ScopeGlobal, From: day0, To: day7}
}

func TestTotalsEmpty(t *testing.T) {
	q := New(testStore(t))

	got, err := q.Totals(context.Background(), weekQuery("t1"))
	require.NoError(t, err)
	assert.Equal(t, analytics.Counts{}, got.Counts)
	assert.True(t, got.Cost.IsZero())
	assert.Zero(t, got.Campaigns)
	assert.Zero(t, got.Contacts)
}

func TestTotals(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(2 * time.Hour)

	seedEvents(t, s,
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: analytics.EventSent, At: at, Cost: "1.505"},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: analytics.EventDelivered, At: at},
		eventRow{Tenant: "t1", Campaign: "c2", Contact: "u2", Channel: "kakao", Type: analytics.EventSent, At: at, Cost: "1.505"},
		eventRow{Tenant: "t1", Campaign: "c2", Contact: "u2", Channel: "kakao", Type: analytics.EventSpamReport, At: at},
		// outside the range on both ends
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u3", Channel: "sms", Type: analytics.EventSent, At: day0.Add(-time.Second)},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u3", Channel: "sms", Type: analytics.EventSent, At: day7},
	)

	got, err := q.Totals(context.Background(), weekQuery("t1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Counts.Sent)
	assert.Equal(t, int64(1), got.Counts.Delivered)
	assert.Equal(t, int64(1), got.Counts.SpamReports)
	assert.Equal(t, "3.01", got.Cost.String())
	assert.Equal(t, int64(2), got.Campaigns)
	assert.Equal(t, int64(2), got.Contacts)
}

func TestTotalsFilters(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(time.Hour)

	seedEvents(t, s,
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: analytics.EventSent, At: at, ABGroup: "A"},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u2", Channel: "email", Type: analytics.EventSent, At: at, ABGroup: "B"},
		eventRow{Tenant: "t1", Campaign: "c2", Contact: "u3", Channel: "sms", Type: analytics.EventSent, At: at},
	)

	tests := []struct {
		name   string
		mutate func(*analytics.Query)
		want   int64
	}{
		{"no filter", func(*analytics.Query) {}, 3},
		{"campaign", func(f *analytics.Query) { f.Scope = analytics.ScopeCampaign; f.CampaignID = "c1" }, 2},
		{"one channel", func(f *analytics.Query) { f.Channels = []analytics.Channel{analytics.ChannelSMS} }, 2},
		{"two channels", func(f *analytics.Query) {
			f.Channels = []analytics.Channel{analytics.ChannelEmail, analytics.ChannelSMS}
		}, 3},
		{"ab group", func(f *analytics.Query) { f.ABGroup = "B" }, 1},
		{"combined", func(f *analytics.Query) {
			f.CampaignID = "c1"
			f.Channels = []analytics.Channel{analytics.ChannelSMS}
			f.ABGroup = "B"
		}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := weekQuery("t1")
			tt.mutate(&f)
			got, err := q.Totals(context.Background(), f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Counts.Sent)
		})
	}
}

func TestTenantIsolation(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(time.Hour)

	// identical campaign and contact ids under two tenants
	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		seedEvents(t, s,
			eventRow{Tenant: tenant, Campaign: "1", Contact: "1", Channel: "sms", Type: analytics.EventSent, At: at, ABGroup: "A", Cost: "10"},
			eventRow{Tenant: tenant, Campaign: "1", Contact: "1", Channel: "sms", Type: analytics.EventFailed, At: at, FailureCode: "E1"},
		)
	}
	seedEvents(t, s,
		eventRow{Tenant: "tenant-b", Campaign: "1", Contact: "2", Channel: "sms", Type: analytics.EventSent, At: at, ABGroup: "A", Cost: "10"},
	)

	f := weekQuery("tenant-a")
	f.Scope, f.CampaignID = analytics.ScopeCampaign, "1"
	ctx := context.Background()

	totals, err := q.Totals(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Counts.Sent)
	assert.Equal(t, "10", totals.Cost.String())

	channels, err := q.ChannelBreakdown(ctx, f)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, int64(1), channels[0].Counts.Sent)

	failures, err := q.FailureBreakdown(ctx, f, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, int64(1), failures[0].Count)

	variants, err := q.VariantBreakdown(ctx, f)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, int64(1), variants[0].Recipients)

	owned, err := q.CampaignOwned(ctx, "tenant-c", "1")
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestChannelBreakdownOrder(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(time.Hour)

	seedFunnel(t, s, eventRow{Tenant: "t1", Campaign: "c1", Channel: "email", At: at}, "e", 2, 1, 0, 0)
	seedFunnel(t, s, eventRow{Tenant: "t1", Campaign: "c1", Channel: "sms", At: at}, "s", 5, 4, 0, 0)
	seedFunnel(t, s, eventRow{Tenant: "t1", Campaign: "c1", Channel: "kakao", At: at}, "k", 2, 2, 1, 0)

	got, err := q.ChannelBreakdown(context.Background(), weekQuery("t1"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "sms", got[0].Channel)
	assert.Equal(t, int64(5), got[0].Counts.Sent)
	// ties broken by channel name
	assert.Equal(t, "email", got[1].Channel)
	assert.Equal(t, "kakao", got[2].Channel)
	assert.Equal(t, int64(1), got[2].Counts.Opened)
}

func TestFailureBreakdown(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(time.Hour)

	codes := []string{"E01", "E02", "E03", "E04", "E05", "E06", "E07", "E08", "E09", "E10", "E11", "E12"}
	for i, code := range codes {
		for n := 0; n <= i; n++ {
			seedEvents(t, s, eventRow{Tenant: "t1", Campaign: "c1", Contact: "u", Channel: "sms", Type: analytics.EventFailed, At: at, FailureCode: code, Reason: "reason " + code})
		}
	}
	seedEvents(t, s,
		// no code, excluded
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u", Channel: "sms", Type: analytics.EventFailed, At: at},
		// wrong type, excluded
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u", Channel: "sms", Type: analytics.EventBounced, At: at, FailureCode: "E99"},
	)

	got, err := q.FailureBreakdown(context.Background(), weekQuery("t1"), DefaultFailureLimit)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, FailureResult{Code: "E12", Reason: "reason E12", Count: 12}, got[0])
	assert.Equal(t, "E03", got[9].Code)
	for _, f := range got {
		assert.NotEqual(t, "E99", f.Code)
	}
}

func TestVariantBreakdown(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(time.Hour)

	seedFunnel(t, s, eventRow{Tenant: "t1", Campaign: "c1", Channel: "sms", At: at, ABGroup: "B", Cost: "2"}, "b", 4, 3, 2, 1)
	seedFunnel(t, s, eventRow{Tenant: "t1", Campaign: "c1", Channel: "sms", At: at, ABGroup: "A", Cost: "2"}, "a", 3, 3, 1, 0)
	seedFunnel(t, s, eventRow{Tenant: "t1", Campaign: "c1", Channel: "sms", At: at}, "n", 7, 0, 0, 0)

	got, err := q.VariantBreakdown(context.Background(), weekQuery("t1"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ABGroup)
	assert.Equal(t, int64(3), got[0].Counts.Sent)
	assert.Equal(t, "6", got[0].Cost.String())
	assert.Equal(t, "B", got[1].ABGroup)
	assert.Equal(t, int64(1), got[1].Counts.Clicked)
	assert.Equal(t, int64(4), got[1].Recipients)
}

func TestChannelVariantBreakdown(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(time.Hour)

	seedFunnel(t, s, eventRow{Tenant: "t1", Campaign: "c1", Channel: "sms", At: at, ABGroup: "A"}, "sa", 2, 1, 0, 0)
	seedFunnel(t, s, eventRow{Tenant: "t1", Campaign: "c1", Channel: "email", At: at, ABGroup: "A"}, "ea", 3, 0, 0, 0)
	seedFunnel(t, s, eventRow{Tenant: "t1", Campaign: "c1", Channel: "sms", At: at, ABGroup: "B"}, "sb", 1, 1, 1, 1)

	got, err := q.ChannelVariantBreakdown(context.Background(), weekQuery("t1"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "email", got[0].Channel)
	assert.Equal(t, "A", got[0].ABGroup)
	assert.Equal(t, int64(3), got[0].Counts.Sent)
	assert.Equal(t, "sms", got[2].Channel)
	assert.Equal(t, "B", got[2].ABGroup)
	assert.Equal(t, int64(1), got[2].Counts.Clicked)
}

func TestTimeBuckets(t *testing.T) {
	s := testStore(t)
	q := New(s)
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 2026-03-01 23:30 KST and 2026-03-02 00:10 KST fall on different local days
	late := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	early := time.Date(2026, 3, 1, 15, 10, 0, 0, time.UTC)
	seedEvents(t, s,
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: analytics.EventSent, At: late, Cost: "1.5"},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u2", Channel: "sms", Type: analytics.EventSent, At: early, Cost: "1.5"},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u2", Channel: "sms", Type: analytics.EventOpened, At: early},
	)

	tsq := analytics.TimeSeriesQuery{
		Query: analytics.Query{
			TenantID: "t1",
			Scope:    analytics.ScopeGlobal,
			From:     time.Date(2026, 2, 28, 15, 0, 0, 0, time.UTC),
			To:       time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC),
		},
		Interval: analytics.Interval1d,
		Location: seoul,
	}

	rows, err := q.TimeBuckets(context.Background(), tsq)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, seoul)))
	assert.True(t, rows[1].Start.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, seoul)))
	assert.Equal(t, int64(1), rows[1].Counts.Opened)
	assert.Equal(t, "1.5", rows[0].Cost.String())

	t.Run("event type filter", func(t *testing.T) {
		f := tsq
		f.EventTypes = []analytics.EventType{analytics.EventOpened}
		rows, err := q.TimeBuckets(context.Background(), f)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Zero(t, rows[0].Counts.Sent)
		assert.Equal(t, int64(1), rows[0].Counts.Opened)
	})

	t.Run("reconciles densely", func(t *testing.T) {
		buckets := analytics.Reconcile(tsq.From, tsq.To, tsq.Interval, seoul, rows)
		require.Len(t, buckets, 3)
		assert.Equal(t, "2026-03-01", buckets[0].Label)
		assert.Equal(t, int64(1), buckets[0].Sent)
		assert.Equal(t, int64(0), buckets[2].Sent)
	})
}

func TestTimeBucketsEventTypesWithFilters(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(90 * time.Minute)

	seedEvents(t, s,
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: analytics.EventSent, At: at, Cost: "2"},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: analytics.EventClicked, At: at},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u2", Channel: "email", Type: analytics.EventClicked, At: at},
		eventRow{Tenant: "t1", Campaign: "c2", Contact: "u3", Channel: "sms", Type: analytics.EventClicked, At: at},
	)

	tsq := analytics.TimeSeriesQuery{
		Query: analytics.Query{
			TenantID:   "t1",
			Scope:      analytics.ScopeCampaign,
			CampaignID: "c1",
			From:       day0,
			To:         day0.AddDate(0, 0, 1),
			Channels:   []analytics.Channel{analytics.ChannelSMS},
		},
		Interval:   analytics.Interval1h,
		Location:   time.UTC,
		EventTypes: []analytics.EventType{analytics.EventSent, analytics.EventClicked},
	}

	rows, err := q.TimeBuckets(context.Background(), tsq)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Start.Equal(day0.Add(time.Hour)))
	assert.Equal(t, int64(1), rows[0].Counts.Sent)
	assert.Equal(t, int64(1), rows[0].Counts.Clicked)
	assert.Equal(t, "2", rows[0].Cost.String())

	t.Run("ab group after channels", func(t *testing.T) {
		seedEvents(t, s,
			eventRow{Tenant: "t1", Campaign: "c1", Contact: "u4", Channel: "sms", Type: analytics.EventClicked, At: at, ABGroup: "B"},
		)
		f := tsq
		f.ABGroup = "B"
		f.EventTypes = []analytics.EventType{analytics.EventClicked}
		rows, err := q.TimeBuckets(context.Background(), f)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1), rows[0].Counts.Clicked)
	})
}

func TestEventTypeSpellingsCounted(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(time.Hour)

	seedEvents(t, s,
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: analytics.EventSent, At: at, Cost: "1"},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u2", Channel: "sms", Type: "sent", At: at, Cost: "1"},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u3", Channel: "sms", Type: "SENT", At: at, Cost: "1"},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: "spam-report", At: at},
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u2", Channel: "sms", Type: "failed", At: at, FailureCode: "E1"},
	)

	got, err := q.Totals(context.Background(), weekQuery("t1"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Counts.Sent)
	assert.Equal(t, int64(1), got.Counts.SpamReports)
	assert.Equal(t, int64(1), got.Counts.Failed)

	failures, err := q.FailureBreakdown(context.Background(), weekQuery("t1"), 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "E1", failures[0].Code)

	usage, err := q.Usage(context.Background(), "t1", day0, day7)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, int64(3), usage[0].Sent)

	tsq := analytics.TimeSeriesQuery{
		Query:      weekQuery("t1"),
		Interval:   analytics.Interval1d,
		Location:   time.UTC,
		EventTypes: []analytics.EventType{analytics.EventSpamReport},
	}
	rows, err := q.TimeBuckets(context.Background(), tsq)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Counts.SpamReports)
	assert.Zero(t, rows[0].Counts.Sent)
}

func TestUsage(t *testing.T) {
	s := testStore(t)
	q := New(s)
	at := day0.Add(time.Hour)

	seedEvents(t, s,
		eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: analytics.EventSent, At: at, Cost: "8.5"},
		eventRow{Tenant: "t1", Campaign: "c2", Contact: "u2", Channel: "sms", Type: analytics.EventSent, At: at, Cost: "8.5"},
		eventRow{Tenant: "t1", Campaign: "c2", Contact: "u2", Channel: "kakao", Type: analytics.EventSent, At: at, Cost: "6"},
		eventRow{Tenant: "t2", Campaign: "c2", Contact: "u2", Channel: "kakao", Type: analytics.EventSent, At: at, Cost: "6"},
	)

	got, err := q.Usage(context.Background(), "t1", day0, day7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "kakao", got[0].Channel)
	assert.Equal(t, int64(1), got[0].Sent)
	assert.Equal(t, "sms", got[1].Channel)
	assert.Equal(t, int64(2), got[1].Sent)
	assert.Equal(t, "17", got[1].Cost.String())
}

func TestCampaignOwned(t *testing.T) {
	s := testStore(t)
	q := New(s)
	seedEvents(t, s, eventRow{Tenant: "t1", Campaign: "c1", Contact: "u1", Channel: "sms", Type: analytics.EventSent, At: day0})

	ok, err := q.CampaignOwned(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.CampaignOwned(context.Background(), "t1", "c2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueriesHonorCancellation(t *testing.T) {
	q := New(testStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Totals(ctx, weekQuery("t1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
