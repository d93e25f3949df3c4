package db

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
)

// decimalSum is the decimal_sum(x) aggregate. NUMERIC affinity hands
// fractional costs over as REAL, so each value is taken at its shortest
// decimal form before adding. The result is text with no fixed scale.
type decimalSum struct {
	sum decimal.Decimal
}

func newDecimalSum(sqlite.FunctionContext) (sqlite.AggregateFunction, error) {
	return &decimalSum{sum: decimal.Zero}, nil
}

func toDecimal(v driver.Value) (decimal.Decimal, bool, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false, nil
	case int64:
		return decimal.NewFromInt(x), true, nil
	case float64:
		return decimal.NewFromFloat(x), true, nil
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil, err
	case []byte:
		d, err := decimal.NewFromString(string(x))
		return d, err == nil, err
	default:
		return decimal.Zero, false, fmt.Errorf("decimal_sum: unsupported value type %T", v)
	}
}

func (s *decimalSum) Step(_ *sqlite.FunctionContext, args []driver.Value) error {
	d, ok, err := toDecimal(args[0])
	if err != nil {
		return err
	}
	if ok {
		s.sum = s.sum.Add(d)
	}
	return nil
}

func (s *decimalSum) WindowInverse(_ *sqlite.FunctionContext, args []driver.Value) error {
	d, ok, err := toDecimal(args[0])
	if err != nil {
		return err
	}
	if ok {
		s.sum = s.sum.Sub(d)
	}
	return nil
}

func (s *decimalSum) WindowValue(*sqlite.FunctionContext) (driver.Value, error) {
	return s.sum.String(), nil
}

func (s *decimalSum) Final(*sqlite.FunctionContext) {}
