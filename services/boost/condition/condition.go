package condition

import (
	"strconv"
	"strings"

	"boostplane/pkg/errutil"
	"boostplane/pkg/money"
)

// Kind identifies the predicate a condition string names.
type Kind string

const (
	SaveEventGreaterThan     Kind = "save_event_greater_than"
	SaveCompletedBy          Kind = "save_completed_by"
	FirstSaveBy              Kind = "first_save_by"
	NumberTapsGreaterThan    Kind = "number_taps_greater_than"
	NumberTapsInFirstN       Kind = "number_taps_in_first_n"
	PercentDestroyedAbove    Kind = "percent_destroyed_above"
	PercentDestroyedInFirstN Kind = "percent_destroyed_in_first_n"
	RandomlyChosenFirstN     Kind = "randomly_chosen_first_n"
	StatusAtExpiry           Kind = "status_at_expiry"
	EventOccurs              Kind = "event_occurs"
)

// Condition is the parsed form of a DSL string such as
// "save_event_greater_than #{100000::HUNDREDTH_CENT::USD}".
// Strings are parsed once at boost load, never on each evaluation.
type Condition struct {
	Kind Kind
	Raw  string

	// Amount is set for the save-amount predicates.
	Amount *money.Amount
	// FirstN is set for the *_in_first_N and randomly_chosen predicates.
	FirstN int64
	// Threshold is set for number_taps_greater_than and percent_destroyed_above.
	Threshold float64
	// Literal carries an account id (save_completed_by, first_save_by),
	// an event type (event_occurs) or a status name (status_at_expiry).
	Literal string
	// Status is the parsed Literal for status_at_expiry.
	Status Status
}

// NeedsGameContext reports whether evaluating the condition requires the
// ranked participant view built at expiry.
func (c Condition) NeedsGameContext() bool {
	switch c.Kind {
	case NumberTapsGreaterThan, NumberTapsInFirstN,
		PercentDestroyedAbove, PercentDestroyedInFirstN,
		RandomlyChosenFirstN:
		return true
	}
	return false
}

// splitArgs tolerates the three observed delimiter styles: "::", ":" and ",".
func splitArgs(raw string) []string {
	var parts []string
	switch {
	case strings.Contains(raw, "::"):
		parts = strings.Split(raw, "::")
	case strings.Contains(raw, ":"):
		parts = strings.Split(raw, ":")
	default:
		parts = strings.Split(raw, ",")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse turns one condition string into its structured form.
func Parse(raw string) (Condition, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Condition{}, errutil.BadRequest("empty condition string")
	}

	name := trimmed
	var argBlock string
	if idx := strings.Index(trimmed, "#{"); idx >= 0 {
		if !strings.HasSuffix(trimmed, "}") {
			return Condition{}, errutil.BadRequest("unterminated condition arguments: " + raw)
		}
		name = strings.TrimSpace(trimmed[:idx])
		argBlock = trimmed[idx+2 : len(trimmed)-1]
	}

	cond := Condition{
		Kind: Kind(strings.ToLower(name)),
		Raw:  trimmed,
	}
	args := splitArgs(argBlock)

	switch cond.Kind {
	case SaveEventGreaterThan:
		amount, err := money.Parse(argBlock)
		if err != nil {
			return Condition{}, errutil.BadRequest("invalid amount in condition: " + raw)
		}
		cond.Amount = &amount

	case SaveCompletedBy, FirstSaveBy:
		if len(args) < 1 {
			return Condition{}, errutil.BadRequest("condition requires an account id: " + raw)
		}
		cond.Literal = args[0]

	case NumberTapsInFirstN, PercentDestroyedInFirstN, RandomlyChosenFirstN:
		if len(args) < 1 {
			return Condition{}, errutil.BadRequest("condition requires a winner count: " + raw)
		}
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || n < 1 {
			return Condition{}, errutil.BadRequest("invalid winner count in condition: " + raw)
		}
		cond.FirstN = n

	case NumberTapsGreaterThan, PercentDestroyedAbove:
		if len(args) < 1 {
			return Condition{}, errutil.BadRequest("condition requires a threshold: " + raw)
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return Condition{}, errutil.BadRequest("invalid threshold in condition: " + raw)
		}
		cond.Threshold = v

	case StatusAtExpiry:
		if len(args) < 1 {
			return Condition{}, errutil.BadRequest("condition requires a status: " + raw)
		}
		status := Status(strings.ToUpper(args[0]))
		if !status.Valid() {
			return Condition{}, errutil.BadRequest("unknown status in condition: " + raw)
		}
		cond.Literal = args[0]
		cond.Status = status

	case EventOccurs:
		if len(args) < 1 {
			return Condition{}, errutil.BadRequest("condition requires an event type: " + raw)
		}
		cond.Literal = args[0]

	default:
		return Condition{}, errutil.BadRequest("unknown condition predicate: " + name)
	}

	return cond, nil
}

// ParseAll parses a status's full condition list.
func ParseAll(raws []string) ([]Condition, error) {
	out := make([]Condition, 0, len(raws))
	for _, raw := range raws {
		cond, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}
