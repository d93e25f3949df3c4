package db

import (
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"

	"github.com/open-wander/tally/internal/analytics"
)

var (
	registerOnce sync.Once
	registerErr  error

	locMu    sync.RWMutex
	locCache = map[string]*time.Location{}
)

// registerSQLiteFuncs installs tz_trunc(epoch, tz, unit) and decimal_sum(x)
// for every SQLite connection opened afterwards. SQLite has no timezone
// database, so the truncation runs in Go with full DST rules.
func registerSQLiteFuncs() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction("tz_trunc", 3, tzTrunc)
		if registerErr != nil {
			return
		}
		registerErr = sqlite.RegisterFunction("decimal_sum", &sqlite.FunctionImpl{
			NArgs:         1,
			Deterministic: true,
			MakeAggregate: newDecimalSum,
		})
	})
	return registerErr
}

func tzTrunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	var epoch int64
	switch v := args[0].(type) {
	case int64:
		epoch = v
	case float64:
		epoch = int64(v)
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("tz_trunc: unsupported epoch type %T", v)
	}

	tz, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("tz_trunc: timezone must be text")
	}
	unit, ok := args[2].(string)
	if !ok {
		return nil, fmt.Errorf("tz_trunc: unit must be text")
	}

	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}
	return TruncateEpoch(time.Unix(epoch, 0), unit, loc), nil
}

// TruncateEpoch truncates t to unit in loc and returns the bucket start as
// unix seconds. Unknown units truncate to the day.
func TruncateEpoch(t time.Time, unit string, loc *time.Location) int64 {
	iv, ok := analytics.ParseInterval(unit)
	if !ok {
		iv = analytics.Interval1d
	}
	return iv.Truncate(t, loc).Unix()
}

func loadLocation(name string) (*time.Location, error) {
	locMu.RLock()
	loc, ok := locCache[name]
	locMu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("tz_trunc: %w", err)
	}
	locMu.Lock()
	locCache[name] = loc
	locMu.Unlock()
	return loc, nil
}
