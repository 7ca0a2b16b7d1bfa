package condition

import (
	"boostplane/pkg/errutil"
	"boostplane/pkg/money"
)

// GameContext is one account's view of the ranked participant list, built by
// the tournament engine at expiry. Rank is 1-based and dense; Played is false
// for accounts that never submitted a response.
type GameContext struct {
	Played           bool
	Rank             int64
	NumberTaps       int64
	PercentDestroyed float64
	RandomlySelected bool
}

// Trigger is the evaluation context for one (account, condition) pair.
type Trigger struct {
	AccountID    string
	EventType    string
	TimeInMillis int64
	// SavedAmount is set for savings events.
	SavedAmount *money.Amount
	// FirstSave marks the event as the account's first ever save.
	FirstSave bool
	// CurrentStatus is the account's status at evaluation time.
	CurrentStatus Status
	// Game is nil outside expiry processing.
	Game *GameContext
}

// Evaluate reports whether the condition holds for the trigger.
// Predicates that need game context evaluate false when none is present.
func Evaluate(cond Condition, trig Trigger) (bool, error) {
	switch cond.Kind {
	case SaveEventGreaterThan:
		if trig.SavedAmount == nil {
			return false, nil
		}
		if trig.SavedAmount.Currency != cond.Amount.Currency {
			return false, nil
		}
		return trig.SavedAmount.Compare(*cond.Amount) > 0, nil

	case SaveCompletedBy:
		return trig.SavedAmount != nil && trig.AccountID == cond.Literal, nil

	case FirstSaveBy:
		return trig.SavedAmount != nil && trig.FirstSave && trig.AccountID == cond.Literal, nil

	case EventOccurs:
		return trig.EventType == cond.Literal, nil

	case StatusAtExpiry:
		return trig.CurrentStatus == cond.Status, nil

	case NumberTapsGreaterThan:
		if trig.Game == nil || !trig.Game.Played {
			return false, nil
		}
		return float64(trig.Game.NumberTaps) > cond.Threshold, nil

	case PercentDestroyedAbove:
		if trig.Game == nil || !trig.Game.Played {
			return false, nil
		}
		return trig.Game.PercentDestroyed > cond.Threshold, nil

	case NumberTapsInFirstN, PercentDestroyedInFirstN:
		if trig.Game == nil || !trig.Game.Played {
			return false, nil
		}
		return trig.Game.Rank >= 1 && trig.Game.Rank <= cond.FirstN, nil

	case RandomlyChosenFirstN:
		if trig.Game == nil {
			return false, nil
		}
		return trig.Game.RandomlySelected, nil
	}

	return false, errutil.BadRequest("cannot evaluate condition: " + cond.Raw)
}
