package condition

import (
	"testing"

	"boostplane/pkg/money"

	"github.com/stretchr/testify/require"
)

func TestParseToleratesDelimiterStyles(t *testing.T) {
	for _, raw := range []string{
		"save_event_greater_than #{100000::HUNDREDTH_CENT::USD}",
		"save_event_greater_than #{100000:HUNDREDTH_CENT:USD}",
		"save_event_greater_than #{100000,HUNDREDTH_CENT,USD}",
	} {
		cond, err := Parse(raw)
		require.NoError(t, err, raw)
		require.Equal(t, SaveEventGreaterThan, cond.Kind)
		require.NotNil(t, cond.Amount)
		require.Equal(t, int64(100000), cond.Amount.Value)
		require.Equal(t, money.UnitHundredthCent, cond.Amount.Unit)
		require.Equal(t, "USD", cond.Amount.Currency)
	}
}

func TestParseFirstN(t *testing.T) {
	cond, err := Parse("number_taps_in_first_N #{2::10000}")
	require.NoError(t, err)
	require.Equal(t, NumberTapsInFirstN, cond.Kind)
	require.Equal(t, int64(2), cond.FirstN)
}

func TestParseStatusAtExpiry(t *testing.T) {
	cond, err := Parse("status_at_expiry #{PENDING}")
	require.NoError(t, err)
	require.Equal(t, StatusAtExpiry, cond.Kind)
	require.Equal(t, StatusPending, cond.Status)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"no_such_predicate #{1}",
		"save_event_greater_than #{abc::HUNDREDTH_CENT::USD}",
		"number_taps_in_first_N #{0::10000}",
		"status_at_expiry #{WINNING}",
		"save_event_greater_than #{100000::HUNDREDTH_CENT::USD",
	} {
		_, err := Parse(raw)
		require.Error(t, err, raw)
	}
}

func savedTrigger(value int64) Trigger {
	return Trigger{
		AccountID: "acc-1",
		EventType: "SAVING_EVENT_COMPLETED",
		SavedAmount: &money.Amount{
			Value:    value,
			Unit:     money.UnitHundredthCent,
			Currency: "USD",
		},
	}
}

func TestEvaluateSaveEventGreaterThan(t *testing.T) {
	cond, err := Parse("save_event_greater_than #{200000::HUNDREDTH_CENT::USD}")
	require.NoError(t, err)

	ok, err := Evaluate(cond, savedTrigger(5000000))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate(cond, savedTrigger(200000))
	require.NoError(t, err)
	require.False(t, ok, "equal amount is not greater")

	ok, err = Evaluate(cond, Trigger{EventType: "SAVING_EVENT_COMPLETED"})
	require.NoError(t, err)
	require.False(t, ok, "no amount on event")
}

func TestEvaluateCrossUnitComparison(t *testing.T) {
	cond, err := Parse("save_event_greater_than #{200000::HUNDREDTH_CENT::USD}")
	require.NoError(t, err)

	trig := Trigger{
		AccountID:   "acc-1",
		SavedAmount: &money.Amount{Value: 21, Unit: money.UnitWholeCurrency, Currency: "USD"},
	}
	ok, err := Evaluate(cond, trig)
	require.NoError(t, err)
	require.True(t, ok, "21 whole currency exceeds 20 whole currency")
}

func TestEvaluateInFirstN(t *testing.T) {
	cond, err := Parse("number_taps_in_first_N #{2::10000}")
	require.NoError(t, err)

	ok, err := Evaluate(cond, Trigger{Game: &GameContext{Played: true, Rank: 1}})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate(cond, Trigger{Game: &GameContext{Played: true, Rank: 3}})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = Evaluate(cond, Trigger{Game: &GameContext{Played: false}})
	require.NoError(t, err)
	require.False(t, ok, "non-players never place")

	ok, err = Evaluate(cond, Trigger{})
	require.NoError(t, err)
	require.False(t, ok, "no game context outside expiry")
}

func TestEvaluateEventOccurs(t *testing.T) {
	cond, err := Parse("event_occurs #{USER_CREATED_ACCOUNT}")
	require.NoError(t, err)

	ok, err := Evaluate(cond, Trigger{EventType: "USER_CREATED_ACCOUNT"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate(cond, Trigger{EventType: "SAVING_EVENT_COMPLETED"})
	require.NoError(t, err)
	require.False(t, ok)
}

func mustRules(t *testing.T, statusConditions map[string][]string) []StatusRule {
	t.Helper()
	rules, err := ParseRules(statusConditions)
	require.NoError(t, err)
	return rules
}

func TestNextStatusSimpleRedeem(t *testing.T) {
	rules := mustRules(t, map[string][]string{
		"REDEEMED": {"save_event_greater_than #{200000::HUNDREDTH_CENT::USD}"},
	})

	next, ok, err := NextStatus(rules, StatusPending, savedTrigger(5000000))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusRedeemed, next)
}

func TestNextStatusTerminalIsNoOp(t *testing.T) {
	rules := mustRules(t, map[string][]string{
		"REDEEMED": {"save_event_greater_than #{1::HUNDREDTH_CENT::USD}"},
	})

	for _, terminal := range []Status{StatusRedeemed, StatusConsoled, StatusExpired, StatusRevoked, StatusFailed} {
		next, ok, err := NextStatus(rules, terminal, savedTrigger(5000000))
		require.NoError(t, err)
		require.False(t, ok, string(terminal))
		require.Equal(t, Status(""), next)
	}
}

func TestNextStatusHighestActivatedWins(t *testing.T) {
	rules := mustRules(t, map[string][]string{
		"UNLOCKED": {"save_event_greater_than #{100000::HUNDREDTH_CENT::USD}"},
		"REDEEMED": {"save_event_greater_than #{200000::HUNDREDTH_CENT::USD}"},
	})

	next, ok, err := NextStatus(rules, StatusOffered, savedTrigger(5000000))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusRedeemed, next)

	// only the lower threshold clears
	next, ok, err = NextStatus(rules, StatusOffered, savedTrigger(150000))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusUnlocked, next)
}

func TestNextStatusAllConditionsMustHold(t *testing.T) {
	rules := mustRules(t, map[string][]string{
		"REDEEMED": {
			"save_event_greater_than #{100000::HUNDREDTH_CENT::USD}",
			"save_completed_by #{acc-2}",
		},
	})

	// amount clears but the account does not match
	next, ok, err := NextStatus(rules, StatusPending, savedTrigger(5000000))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, Status(""), next)
}

func TestNextStatusNeverMovesBackwards(t *testing.T) {
	rules := mustRules(t, map[string][]string{
		"UNLOCKED": {"save_event_greater_than #{100000::HUNDREDTH_CENT::USD}"},
	})

	// already PENDING, UNLOCKED is behind it
	next, ok, err := NextStatus(rules, StatusPending, savedTrigger(5000000))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, Status(""), next)
}

func TestNextStatusExpiryConsolation(t *testing.T) {
	rules := mustRules(t, map[string][]string{
		"REDEEMED": {"number_taps_in_first_N #{1::10000}"},
		"CONSOLED": {"status_at_expiry #{PENDING}"},
	})

	winner := Trigger{Game: &GameContext{Played: true, Rank: 1}}
	next, ok, err := NextStatus(rules, StatusPending, winner)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusRedeemed, next)

	loser := Trigger{Game: &GameContext{Played: true, Rank: 2}}
	next, ok, err = NextStatus(rules, StatusPending, loser)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusConsoled, next)
}
