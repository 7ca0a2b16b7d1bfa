package redemption

import (
	"context"

	"boostplane/pkg/events"
	"boostplane/pkg/money"
	"boostplane/services/boost/condition"
	"boostplane/services/ledger"
	"boostplane/services/reward"
)

// TransferClient is the ledger capability the orchestrator depends on. The
// call is awaited; its transaction ids feed every downstream notification.
type TransferClient interface {
	Transfer(ctx context.Context, instructions []ledger.TransferInstruction) (map[string]ledger.TransferResult, error)
}

// EventPublisher fans user events out to the event stream. Fire and forget.
type EventPublisher interface {
	PublishBoostEvent(ctx context.Context, ev events.BoostEvent) error
}

// MessageClient triggers templated user messaging. Fire and forget.
type MessageClient interface {
	SendTemplateMessage(ctx context.Context, accountID, template string, params map[string]string) error
}

// StatusUpdate is one batched write: every account in the group moves to the
// same new status with one update statement and one log batch.
type StatusUpdate struct {
	BoostID    string
	NewStatus  condition.Status
	AccountIDs []string
	Context    map[string]any
}

// StatusStore persists batched status flips and their STATUS_CHANGE logs.
type StatusStore interface {
	ApplyStatusUpdates(ctx context.Context, updates []StatusUpdate) error
}

// AffectedAccount is one account flipping status under a boost.
type AffectedAccount struct {
	AccountID string
	UserID    string
	NewStatus condition.Status
}

// TriggerEvent is the inbound event that caused the redemption, carried into
// published user events for context.
type TriggerEvent struct {
	AccountID    string
	EventType    string
	TimeInMillis int64
	Context      map[string]any
}

// BoostRef is the slice of a boost the orchestrator needs, flattened to
// plain data so the package stays independent of the boost store.
type BoostRef struct {
	BoostID  string
	Type     string
	Category string
	Label    string

	Amount   int64
	Unit     money.Unit
	Currency string

	FromBonusPoolID string
	FromFloatID     string
	ClientID        string

	RewardParams    reward.Parameters
	ClientCaps      reward.ClientCaps
	RemainingBudget int64

	RedeemAllAtOnce     bool
	MessageInstructions []MessageInstruction
}

type MessageInstruction struct {
	InstructionID string
	Template      string
	ForStatus     string
}

// Instruction is the full input to one RedeemOrRevoke invocation.
type Instruction struct {
	RedemptionBoosts []BoostRef
	RevocationBoosts []BoostRef
	// AffectedAccounts maps boost id to the accounts flipping status.
	AffectedAccounts map[string][]AffectedAccount
	Event            *TriggerEvent
	// PooledContributions maps boost id to the contributor account ids
	// funding its pot.
	PooledContributions map[string][]string
}

// Result is the per-boost outcome: the allocation merged with the transfer
// result. Boosts whose computed amount was zero are absent from the result
// map entirely.
type Result struct {
	BoostAmount     int64 `json:"boostAmount"`
	AmountFromBonus int64 `json:"amountFromBonus,omitempty"`
	AmountToBonus   int64 `json:"amountToBonus,omitempty"`
	// RedeemedCount is how many winners were actually paid after the
	// budget cap; the budget drawdown multiplies by this, not by the
	// number of accounts submitted.
	RedeemedCount int64                 `json:"redeemedCount,omitempty"`
	Unit          money.Unit            `json:"unit"`
	Currency      string                `json:"currency"`
	Transfer      ledger.TransferResult `json:"transfer"`
}
