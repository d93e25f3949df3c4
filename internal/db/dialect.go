package db

import (
	"fmt"
	"strconv"
	"time"
)

// Dialect hides the SQL differences between supported event stores.
type Dialect interface {
	// Name returns the driver name ("sqlite", "postgres", "clickhouse").
	Name() string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// TimeArg encodes a timestamp for comparison against occurred_at.
	TimeArg(t time.Time) any
	// BucketExpr renders an expression truncating occurred_at to unit
	// ("5m", "1h", "1d") in the zone bound at tzPlaceholder. The result is
	// the bucket start as unix seconds.
	BucketExpr(unit, tzPlaceholder string) string
	// CostSumExpr renders a zero-safe SUM(cost_amount) scannable into a decimal.
	CostSumExpr() string
	// Schema returns the DDL statements creating the event table.
	Schema() []string
}

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "":
		return SQLite{}, nil
	case "postgres":
		return Postgres{}, nil
	case "clickhouse":
		return ClickHouse{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// SQLite stores occurred_at as unix seconds and truncates through the
// tz_trunc scalar function registered by this package.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }
func (SQLite) Placeholder(int) string { return "?" }
func (SQLite) TimeArg(t time.Time) any { return t.Unix() }
func (SQLite) CostSumExpr() string { return "COALESCE(decimal_sum(cost_amount), '0')" }
func (SQLite) Schema() []string { return sqliteSchema }
func (SQLite) BucketExpr(unit, tz string) string {
	return fmt.Sprintf("tz_trunc(occurred_at, %s, '%s')", tz, unit)
}

// Postgres uses timestamptz columns and native zone conversion.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (Postgres) TimeArg(t time.Time) any { return t.UTC() }
func (Postgres) CostSumExpr() string { return "COALESCE(SUM(cost_amount), 0)::text" }
func (Postgres) Schema() []string { return postgresSchema }
func (Postgres) BucketExpr(unit, tz string) string {
	var trunc string
	switch unit {
	case "5m":
		trunc = fmt.Sprintf(
			"date_trunc('hour', occurred_at, %s) + floor(extract(minute from occurred_at AT TIME ZONE %s) / 5) * interval '5 minutes'",
			tz, tz)
	case "1h":
		trunc = fmt.Sprintf("date_trunc('hour', occurred_at, %s)", tz)
	default:
		trunc = fmt.Sprintf("date_trunc('day', occurred_at, %s)", tz)
	}
	return fmt.Sprintf("extract(epoch from %s)::bigint", trunc)
}

// ClickHouse uses DateTime64 columns and toTimeZone conversion.
type ClickHouse struct{}

func (ClickHouse) Name() string { return "clickhouse" }
func (ClickHouse) Placeholder(int) string { return "?" }
func (ClickHouse) TimeArg(t time.Time) any { return t.UTC() }
func (ClickHouse) CostSumExpr() string { return "toString(SUM(cost_amount))" }
func (ClickHouse) Schema() []string { return clickhouseSchema }
func (ClickHouse) BucketExpr(unit, tz string) string {
	fn := "toStartOfDay"
	switch unit {
	case "5m":
		fn = "toStartOfFiveMinutes"
	case "1h":
		fn = "toStartOfHour"
	}
	return fmt.Sprintf("toUnixTimestamp(%s(toTimeZone(occurred_at, %s)))", fn, tz)
}
