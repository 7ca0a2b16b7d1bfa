package boost

import (
	"encoding/json"
	"time"

	"boostplane/pkg/errutil"
	"boostplane/pkg/money"
	"boostplane/services/boost/condition"

	"gorm.io/datatypes"
)

// ENUM-LIKE constants
type Type string
type LogType string
type Flag string

const (
	TypeSimple       Type = "SIMPLE"
	TypeGame         Type = "GAME"
	TypeReferral     Type = "REFERRAL"
	TypeSocial       Type = "SOCIAL"
	TypeMLDetermined Type = "ML_DETERMINED"
	TypeEventDriven  Type = "EVENT_DRIVEN"

	LogStatusChange     LogType = "STATUS_CHANGE"
	LogGameResponse     LogType = "GAME_RESPONSE"
	LogGameOutcome      LogType = "GAME_OUTCOME"
	LogBoostAltered     LogType = "BOOST_ALTERED"
	LogBoostDeactivated LogType = "BOOST_DEACTIVATED"
	LogUserStatusChange LogType = "USER_STATUS_CHANGE"

	FlagRedeemAllAtOnce      Flag = "REDEEM_ALL_AT_ONCE"
	FlagIndividualizedExpiry Flag = "INDIVIDUALIZED_EXPIRY"
	FlagRandomSelection      Flag = "RANDOM_SELECTION"
)

func validType(t Type) bool {
	switch t {
	case TypeSimple, TypeGame, TypeReferral, TypeSocial, TypeMLDetermined, TypeEventDriven:
		return true
	}
	return false
}

// Boost is a promotional campaign. Core terms are immutable after creation;
// alteration only attaches message instructions, deactivation only clears
// Active. Rows are never deleted.
type Boost struct {
	BoostID  string `gorm:"column:boost_id;primaryKey"`
	ClientID string `gorm:"column:client_id;index;not null"`
	Label    string `gorm:"column:label;type:varchar(255)"`
	Type     Type   `gorm:"column:type;type:varchar(32);not null"`
	Category string `gorm:"column:category;type:varchar(64)"`

	Amount   int64      `gorm:"column:amount;not null"`
	Unit     money.Unit `gorm:"column:unit;type:varchar(32);not null"`
	Currency string     `gorm:"column:currency;type:varchar(8);not null"`
	// Budget caps total payout; RemainingBudget is drawn down on redemption.
	Budget          int64 `gorm:"column:budget"`
	RemainingBudget int64 `gorm:"column:remaining_budget"`

	FromBonusPoolID string `gorm:"column:from_bonus_pool_id"`
	FromFloatID     string `gorm:"column:from_float_id"`

	AudienceSelection string `gorm:"column:audience_selection;type:text"`

	StatusConditions    datatypes.JSON `gorm:"column:status_conditions"`
	RewardParameters    datatypes.JSON `gorm:"column:reward_parameters"`
	Flags               datatypes.JSON `gorm:"column:flags"`
	MessageInstructions datatypes.JSON `gorm:"column:message_instructions"`
	GameParams          datatypes.JSON `gorm:"column:game_params"`
	ExpiryParameters    datatypes.JSON `gorm:"column:expiry_parameters"`

	DefaultStatus condition.Status `gorm:"column:default_status;type:varchar(32)"`

	StartTime time.Time `gorm:"column:start_time"`
	EndTime   time.Time `gorm:"column:end_time;index"`
	Active    bool      `gorm:"column:active;index"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Rules parses the boost's statusConditions column into ordered rules.
func (b *Boost) Rules() ([]condition.StatusRule, error) {
	if len(b.StatusConditions) == 0 {
		return nil, nil
	}
	var raw map[string][]string
	if err := json.Unmarshal(b.StatusConditions, &raw); err != nil {
		return nil, errutil.BadRequest("invalid status conditions", errutil.WithErr(err))
	}
	return condition.ParseRules(raw)
}

func (b *Boost) FlagList() []Flag {
	if len(b.Flags) == 0 {
		return nil
	}
	var flags []Flag
	if err := json.Unmarshal(b.Flags, &flags); err != nil {
		return nil
	}
	return flags
}

func (b *Boost) HasFlag(flag Flag) bool {
	for _, f := range b.FlagList() {
		if f == flag {
			return true
		}
	}
	return false
}

// IsLive reports whether the boost accepts triggers at the given time.
func (b *Boost) IsLive(now time.Time) bool {
	if !b.Active {
		return false
	}
	if !b.StartTime.IsZero() && now.Before(b.StartTime) {
		return false
	}
	if !b.EndTime.IsZero() && now.After(b.EndTime) {
		return false
	}
	return true
}

// GameParameters is the decoded gameParams column.
type GameParameters struct {
	Game            string `json:"game"`
	ScoreField      string `json:"scoreField"`
	TimeLimitMillis int64  `json:"timeLimitMillis"`
}

func (b *Boost) GameParameters() (GameParameters, error) {
	var p GameParameters
	if len(b.GameParams) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(b.GameParams, &p); err != nil {
		return p, errutil.BadRequest("invalid game parameters", errutil.WithErr(err))
	}
	return p, nil
}

// AccountStatus is the join row between a boost and an end-user account.
// Exactly one row per (boost, account); statuses only move forward and
// terminal statuses are never left. Rows are never deleted.
type AccountStatus struct {
	ID        string           `gorm:"column:id;primaryKey"`
	BoostID   string           `gorm:"column:boost_id;uniqueIndex:idx_boost_account;not null"`
	AccountID string           `gorm:"column:account_id;uniqueIndex:idx_boost_account;not null"`
	UserID    string           `gorm:"column:user_id;index"`
	Status    condition.Status `gorm:"column:status;type:varchar(32);index;not null"`
	// ExpiryTime overrides the boost-level end time when individualized
	// expiry is in play.
	ExpiryTime *time.Time `gorm:"column:expiry_time"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Log is the append-only audit record for everything that happens to a boost.
type Log struct {
	ID        string         `gorm:"column:id;primaryKey"`
	BoostID   string         `gorm:"column:boost_id;index;not null"`
	AccountID string         `gorm:"column:account_id;index"`
	LogType   LogType        `gorm:"column:log_type;type:varchar(32);index;not null"`
	Context   datatypes.JSON `gorm:"column:context"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// GameResponsePayload is the context of a GAME_RESPONSE log row.
type GameResponsePayload struct {
	NumberTaps       int64   `json:"numberTaps,omitempty"`
	PercentDestroyed float64 `json:"percentDestroyed,omitempty"`
	CorrectAnswers   int64   `json:"correctAnswers,omitempty"`
	TimeTakenMillis  int64   `json:"timeTakenMillis,omitempty"`
}

// Score returns the payload's score under the boost's configured field name.
func (p GameResponsePayload) Score(scoreField string) float64 {
	switch scoreField {
	case "percentDestroyed":
		return p.PercentDestroyed
	case "correctAnswers":
		return float64(p.CorrectAnswers)
	default:
		return float64(p.NumberTaps)
	}
}

// GameOutcomePayload is the context of a GAME_OUTCOME log row.
type GameOutcomePayload struct {
	Rank         int64   `json:"rank"`
	AccountScore float64 `json:"accountScore"`
	ScoreType    string  `json:"scoreType"`
	TopScore     float64 `json:"topScore"`
	// ScoreField preserves the raw score under its original name.
	ScoreField string  `json:"scoreField"`
	RawScore   float64 `json:"rawScore"`
}

// MessageInstruction is one attached notification template reference.
type MessageInstruction struct {
	InstructionID string `json:"instructionId"`
	Template      string `json:"template"`
	Status        string `json:"status"`
}

func (b *Boost) MessageInstructionList() []MessageInstruction {
	if len(b.MessageInstructions) == 0 {
		return nil
	}
	var out []MessageInstruction
	if err := json.Unmarshal(b.MessageInstructions, &out); err != nil {
		return nil
	}
	return out
}

// ExpiryParametersPayload is the decoded expiryParameters column.
type ExpiryParametersPayload struct {
	IndividualizedExpiryMillis int64 `json:"individualizedExpiryMillis"`
	// RandomWinnerCount drives randomly_chosen_first_N selection at expiry.
	RandomWinnerCount int64 `json:"randomWinnerCount"`
}

func (b *Boost) ExpiryParams() (ExpiryParametersPayload, error) {
	var p ExpiryParametersPayload
	if len(b.ExpiryParameters) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(b.ExpiryParameters, &p); err != nil {
		return p, errutil.BadRequest("invalid expiry parameters", errutil.WithErr(err))
	}
	return p, nil
}
