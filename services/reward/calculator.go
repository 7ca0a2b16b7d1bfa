package reward

import (
	"encoding/json"

	"boostplane/pkg/errutil"
	"boostplane/pkg/money"
	"boostplane/pkg/random"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/datatypes"
)

var Module = fx.Module("reward",
	fx.Provide(NewCalculator),
)

// Type selects the payout variant.
type Type string

const (
	TypeSimple      Type = "SIMPLE"
	TypeRandom      Type = "RANDOM"
	TypePooled      Type = "POOLED"
	TypeConsolation Type = "CONSOLATION"
)

// ClientFloatContribution describes the optional client top-up on a pooled pot.
type ClientFloatContribution struct {
	Type            string          `json:"type"`
	Value           decimal.Decimal `json:"value"`
	RequiredFriends int64           `json:"requiredFriends"`
}

const (
	ContributionNone          = "NONE"
	ContributionPercentOfPool = "PERCENT_OF_POOL"
)

// Parameters is a boost's rewardParameters payload. A zero value (absent
// JSON) behaves as SIMPLE.
type Parameters struct {
	RewardType                     Type                     `json:"rewardType"`
	MinBoostAmountPerUser          int64                    `json:"minBoostAmountPerUser"`
	RealizedRewardModuloZeroTarget int64                    `json:"realizedRewardModuloZeroTarget"`
	PoolContributionPerUser        int64                    `json:"poolContributionPerUser"`
	PercentPoolAsReward            decimal.Decimal          `json:"percentPoolAsReward"`
	ClientFloatContribution        *ClientFloatContribution `json:"clientFloatContribution"`
	ConsolationAmount              int64                    `json:"consolationAmount"`
	// ReferenceAmounts tracks cost already covered elsewhere, subtracted
	// from the bonus-pool charge for consolation payouts.
	ReferenceAmounts map[string]int64 `json:"referenceAmounts"`
}

// ParseParameters decodes a boost's rewardParameters column.
func ParseParameters(raw datatypes.JSON) (Parameters, error) {
	var p Parameters
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errutil.BadRequest("invalid reward parameters", errutil.WithErr(err))
	}
	return p, nil
}

// ClientCaps bound the client top-up leg of a pooled reward.
type ClientCaps struct {
	MaxPoolEntry   int64
	MaxPoolPercent decimal.Decimal
}

// Context carries the per-invocation inputs the variants need.
type Context struct {
	// PooledContributors funds the pot; may exclude the winner.
	PooledContributors []string
	ClientCaps         ClientCaps
	// RemainingBudget caps the awarded amount when positive.
	RemainingBudget int64
}

// PoolLeg is one contributing account's funding movement into the bonus pool.
type PoolLeg struct {
	AccountID string
	Amount    int64
}

// Allocation is the per-recipient payout instruction. BoostAmount is what
// the user sees; AmountFromBonus is what the bonus pool is charged, and the
// two differ for pooled and consolation payouts.
type Allocation struct {
	BoostAmount     int64
	AmountFromBonus int64
	Unit            money.Unit
	Currency        string
	// PoolLegs are the contributor movements that fund a pooled reward.
	// They are executed before the reward leg is paid out.
	PoolLegs []PoolLeg
	// Empty marks a short-circuit: no transfer, no notification.
	Empty bool
}

type Calculator struct {
	src random.Source
}

type CalculatorParams struct {
	fx.In
	Src random.Source
}

func NewCalculator(p CalculatorParams) *Calculator {
	return &Calculator{src: p.Src}
}

// Calculate computes the payout for one winning account of the boost.
func (c *Calculator) Calculate(boostAmount int64, unit money.Unit, currency string, params Parameters, ctx Context) (Allocation, error) {
	alloc := Allocation{Unit: unit, Currency: currency}

	switch params.RewardType {
	case TypeSimple, Type(""):
		alloc.BoostAmount = boostAmount
		alloc.AmountFromBonus = boostAmount

	case TypeRandom:
		alloc = c.calculateRandom(boostAmount, params, alloc)

	case TypePooled:
		var err error
		alloc, err = calculatePooled(params, ctx, alloc)
		if err != nil {
			return Allocation{}, err
		}

	case TypeConsolation:
		alloc = calculateConsolation(params, alloc)

	default:
		return Allocation{}, errutil.BadRequest("unknown reward type: " + string(params.RewardType))
	}

	if alloc.Empty {
		return alloc, nil
	}

	if ctx.RemainingBudget > 0 && alloc.BoostAmount > ctx.RemainingBudget {
		alloc.BoostAmount = ctx.RemainingBudget
		if alloc.AmountFromBonus > alloc.BoostAmount {
			alloc.AmountFromBonus = alloc.BoostAmount
		}
	}

	return alloc, nil
}

func (c *Calculator) calculateRandom(boostAmount int64, params Parameters, alloc Allocation) Allocation {
	min := params.MinBoostAmountPerUser
	if min < 0 {
		min = 0
	}
	max := boostAmount
	if max < min {
		max = min
	}

	drawn := min
	if span := max - min; span > 0 {
		drawn = min + c.src.Int63n(span+1)
	}

	if params.RealizedRewardModuloZeroTarget > 0 {
		drawn = money.FloorToMultiple(drawn, params.RealizedRewardModuloZeroTarget)
	}

	alloc.BoostAmount = drawn
	alloc.AmountFromBonus = drawn
	return alloc
}

func calculatePooled(params Parameters, ctx Context, alloc Allocation) (Allocation, error) {
	n := int64(len(ctx.PooledContributors))
	if n <= 1 {
		// a pool of one funds nothing; the whole operation short-circuits
		return Allocation{Empty: true, Unit: alloc.Unit, Currency: alloc.Currency}, nil
	}
	if params.PoolContributionPerUser <= 0 {
		return Allocation{}, errutil.BadRequest("pooled reward requires a positive contribution per user")
	}

	ratio := params.PercentPoolAsReward
	contribution := decimal.NewFromInt(params.PoolContributionPerUser)
	peerPot := contribution.Mul(decimal.NewFromInt(n))

	// per-contributor leg, floored so the peer legs sum exactly to the
	// peer-funded portion of the reward
	perLeg := contribution.Mul(ratio).Truncate(0).IntPart()
	peerPortion := perLeg * n

	clientTopUp := clientContribution(params, ctx, peerPot, n)
	bonusPortion := clientTopUp.Mul(ratio).Truncate(0).IntPart()

	alloc.BoostAmount = peerPortion + bonusPortion
	alloc.AmountFromBonus = bonusPortion
	alloc.PoolLegs = make([]PoolLeg, 0, n)
	for _, accountID := range ctx.PooledContributors {
		alloc.PoolLegs = append(alloc.PoolLegs, PoolLeg{AccountID: accountID, Amount: perLeg})
	}

	if alloc.BoostAmount == 0 {
		return Allocation{Empty: true, Unit: alloc.Unit, Currency: alloc.Currency}, nil
	}
	return alloc, nil
}

func clientContribution(params Parameters, ctx Context, peerPot decimal.Decimal, n int64) decimal.Decimal {
	cfc := params.ClientFloatContribution
	if cfc == nil || cfc.Type == ContributionNone || cfc.Type == "" {
		return decimal.Zero
	}
	if cfc.Type != ContributionPercentOfPool {
		return decimal.Zero
	}
	if cfc.RequiredFriends > 0 && n < cfc.RequiredFriends {
		return decimal.Zero
	}

	topUp := peerPot.Mul(cfc.Value)

	if ctx.ClientCaps.MaxPoolPercent.IsPositive() {
		cap := peerPot.Mul(ctx.ClientCaps.MaxPoolPercent)
		if topUp.GreaterThan(cap) {
			topUp = cap
		}
	}
	if ctx.ClientCaps.MaxPoolEntry > 0 {
		cap := decimal.NewFromInt(ctx.ClientCaps.MaxPoolEntry)
		if topUp.GreaterThan(cap) {
			topUp = cap
		}
	}
	return topUp
}

func calculateConsolation(params Parameters, alloc Allocation) Allocation {
	alloc.BoostAmount = params.ConsolationAmount

	covered := int64(0)
	for _, v := range params.ReferenceAmounts {
		covered += v
	}
	fromBonus := params.ConsolationAmount - covered
	if fromBonus < 0 {
		fromBonus = 0
	}
	alloc.AmountFromBonus = fromBonus
	return alloc
}
