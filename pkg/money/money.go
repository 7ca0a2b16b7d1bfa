package money

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Unit is the fixed-point denomination an integer amount is expressed in.
type Unit string

const (
	UnitWholeCurrency Unit = "WHOLE_CURRENCY"
	UnitWholeCent     Unit = "WHOLE_CENT"
	UnitHundredthCent Unit = "HUNDREDTH_CENT"
)

// subunitsPerCurrency maps a unit to how many of it make one whole currency.
var subunitsPerCurrency = map[Unit]int64{
	UnitWholeCurrency: 1,
	UnitWholeCent:     100,
	UnitHundredthCent: 10000,
}

var currencySymbols = map[string]string{
	"USD": "$",
	"ZAR": "R",
	"EUR": "€",
	"GBP": "£",
}

// Amount is an integer amount in a given unit and currency.
type Amount struct {
	Value    int64  `json:"amount"`
	Unit     Unit   `json:"unit"`
	Currency string `json:"currency"`
}

// IsZero reports whether the amount has no value.
func (a Amount) IsZero() bool { return a.Value == 0 }

func (a Amount) String() string {
	return fmt.Sprintf("%d::%s::%s", a.Value, a.Unit, a.Currency)
}

// Valid reports whether the unit is one of the known denominations.
func (u Unit) Valid() bool {
	_, ok := subunitsPerCurrency[u]
	return ok
}

// Parse parses the wire form "value::unit::currency". Older condition strings
// used single ':' or ',' separators, both are still accepted.
func Parse(raw string) (Amount, error) {
	parts := splitArgs(raw)
	if len(parts) != 3 {
		return Amount{}, fmt.Errorf("money: malformed amount %q", raw)
	}

	value, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("money: malformed amount value %q: %w", parts[0], err)
	}

	unit := Unit(strings.TrimSpace(parts[1]))
	if !unit.Valid() {
		return Amount{}, fmt.Errorf("money: unknown unit %q", parts[1])
	}

	return Amount{Value: value, Unit: unit, Currency: strings.TrimSpace(parts[2])}, nil
}

func splitArgs(raw string) []string {
	switch {
	case strings.Contains(raw, "::"):
		return strings.Split(raw, "::")
	case strings.Contains(raw, ":"):
		return strings.Split(raw, ":")
	default:
		return strings.Split(raw, ",")
	}
}

// ConvertTo re-expresses the amount in the target unit, truncating toward zero
// when the target is coarser.
func (a Amount) ConvertTo(target Unit) Amount {
	if a.Unit == target {
		return a
	}

	from := decimal.NewFromInt(subunitsPerCurrency[a.Unit])
	to := decimal.NewFromInt(subunitsPerCurrency[target])
	value := decimal.NewFromInt(a.Value).Mul(to).Div(from).Truncate(0)

	return Amount{Value: value.IntPart(), Unit: target, Currency: a.Currency}
}

// Compare returns -1, 0 or 1 comparing a against b after normalising both to
// the finest common unit.
func (a Amount) Compare(b Amount) int {
	an := a.ConvertTo(UnitHundredthCent)
	bn := b.ConvertTo(UnitHundredthCent)
	switch {
	case an.Value < bn.Value:
		return -1
	case an.Value > bn.Value:
		return 1
	default:
		return 0
	}
}

// Display renders the amount as a user-facing whole-currency string, e.g.
// "$20.50". Used as a message template parameter.
func (a Amount) Display() string {
	subunits := decimal.NewFromInt(subunitsPerCurrency[a.Unit])
	whole := decimal.NewFromInt(a.Value).Div(subunits)

	symbol, ok := currencySymbols[a.Currency]
	if !ok {
		symbol = a.Currency + " "
	}

	if whole.Equal(whole.Truncate(0)) {
		return symbol + whole.StringFixed(0)
	}
	return symbol + whole.StringFixed(2)
}

// FloorToMultiple rounds the value down to the nearest non-negative multiple
// of granularity. A zero or negative granularity leaves the value unchanged.
func FloorToMultiple(value, granularity int64) int64 {
	if granularity <= 0 {
		return value
	}
	if value < 0 {
		return 0
	}
	return value - value%granularity
}
