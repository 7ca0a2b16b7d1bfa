package reward

import (
	"testing"

	"boostplane/pkg/money"
	"boostplane/pkg/random"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newCalculator(src random.Source) *Calculator {
	return NewCalculator(CalculatorParams{Src: src})
}

func TestCalculateSimple(t *testing.T) {
	calc := newCalculator(random.Fixed())

	alloc, err := calc.Calculate(100000, money.UnitHundredthCent, "USD", Parameters{}, Context{})
	require.NoError(t, err)
	require.Equal(t, int64(100000), alloc.BoostAmount)
	require.Equal(t, int64(100000), alloc.AmountFromBonus)
	require.False(t, alloc.Empty)
}

func TestCalculateRandomGranularityAndBounds(t *testing.T) {
	params := Parameters{
		RewardType:                     TypeRandom,
		MinBoostAmountPerUser:          10000,
		RealizedRewardModuloZeroTarget: 5000,
	}

	// drawn values chosen to land between granularity steps
	calc := newCalculator(random.Fixed(12345, 0, 89999))
	for i := 0; i < 3; i++ {
		alloc, err := calc.Calculate(100000, money.UnitHundredthCent, "USD", params, Context{})
		require.NoError(t, err)
		require.GreaterOrEqual(t, alloc.BoostAmount, int64(0))
		require.LessOrEqual(t, alloc.BoostAmount, int64(100000))
		require.Zero(t, alloc.BoostAmount%5000, "amount must be a granularity multiple")
		require.Equal(t, alloc.BoostAmount, alloc.AmountFromBonus)
	}
}

func TestCalculateRandomWithoutMinimum(t *testing.T) {
	calc := newCalculator(random.Fixed(42000))

	alloc, err := calc.Calculate(100000, money.UnitHundredthCent, "USD", Parameters{
		RewardType:                     TypeRandom,
		RealizedRewardModuloZeroTarget: 5000,
	}, Context{})
	require.NoError(t, err)
	require.Equal(t, int64(40000), alloc.BoostAmount)
}

func TestCalculatePooledConservation(t *testing.T) {
	params := Parameters{
		RewardType:              TypePooled,
		PoolContributionPerUser: 10000,
		PercentPoolAsReward:     decimal.NewFromFloat(0.5),
	}
	ctx := Context{PooledContributors: []string{"acc-1", "acc-2", "acc-3", "acc-4"}}

	calc := newCalculator(random.Fixed())
	alloc, err := calc.Calculate(0, money.UnitHundredthCent, "USD", params, ctx)
	require.NoError(t, err)

	// pot = 4 x 10000, reward = pot x 0.5
	require.Equal(t, int64(20000), alloc.BoostAmount)
	require.Zero(t, alloc.AmountFromBonus, "no client top-up means no bonus-pool cost")

	require.Len(t, alloc.PoolLegs, 4)
	var funded int64
	for _, leg := range alloc.PoolLegs {
		require.Equal(t, int64(5000), leg.Amount)
		funded += leg.Amount
	}
	require.Equal(t, alloc.BoostAmount, funded, "contributor legs fund the full reward")
}

func TestCalculatePooledClientTopUp(t *testing.T) {
	params := Parameters{
		RewardType:              TypePooled,
		PoolContributionPerUser: 10000,
		PercentPoolAsReward:     decimal.NewFromFloat(0.5),
		ClientFloatContribution: &ClientFloatContribution{
			Type:            ContributionPercentOfPool,
			Value:           decimal.NewFromFloat(0.2),
			RequiredFriends: 3,
		},
	}
	ctx := Context{PooledContributors: []string{"acc-1", "acc-2", "acc-3", "acc-4"}}

	calc := newCalculator(random.Fixed())
	alloc, err := calc.Calculate(0, money.UnitHundredthCent, "USD", params, ctx)
	require.NoError(t, err)

	// peer pot 40000, top-up 8000; reward = (40000 + 8000) x 0.5
	require.Equal(t, int64(24000), alloc.BoostAmount)
	// only the client-funded slice is charged to the bonus pool
	require.Equal(t, int64(4000), alloc.AmountFromBonus)
}

func TestCalculatePooledTopUpGatedOnRequiredFriends(t *testing.T) {
	params := Parameters{
		RewardType:              TypePooled,
		PoolContributionPerUser: 10000,
		PercentPoolAsReward:     decimal.NewFromFloat(0.5),
		ClientFloatContribution: &ClientFloatContribution{
			Type:            ContributionPercentOfPool,
			Value:           decimal.NewFromFloat(0.2),
			RequiredFriends: 5,
		},
	}
	ctx := Context{PooledContributors: []string{"acc-1", "acc-2", "acc-3"}}

	calc := newCalculator(random.Fixed())
	alloc, err := calc.Calculate(0, money.UnitHundredthCent, "USD", params, ctx)
	require.NoError(t, err)
	require.Equal(t, int64(15000), alloc.BoostAmount)
	require.Zero(t, alloc.AmountFromBonus)
}

func TestCalculatePooledTopUpCaps(t *testing.T) {
	params := Parameters{
		RewardType:              TypePooled,
		PoolContributionPerUser: 10000,
		PercentPoolAsReward:     decimal.NewFromFloat(0.5),
		ClientFloatContribution: &ClientFloatContribution{
			Type:  ContributionPercentOfPool,
			Value: decimal.NewFromFloat(0.5),
		},
	}
	ctx := Context{
		PooledContributors: []string{"acc-1", "acc-2"},
		ClientCaps: ClientCaps{
			MaxPoolEntry:   2000,
			MaxPoolPercent: decimal.NewFromFloat(0.25),
		},
	}

	calc := newCalculator(random.Fixed())
	alloc, err := calc.Calculate(0, money.UnitHundredthCent, "USD", params, ctx)
	require.NoError(t, err)

	// uncapped top-up would be 10000; percent cap brings it to 5000, then
	// the entry cap brings it to 2000
	require.Equal(t, int64(1000), alloc.AmountFromBonus)
	require.Equal(t, int64(11000), alloc.BoostAmount)
}

func TestCalculatePooledSingleContributorShortCircuits(t *testing.T) {
	params := Parameters{
		RewardType:              TypePooled,
		PoolContributionPerUser: 10000,
		PercentPoolAsReward:     decimal.NewFromFloat(0.5),
	}

	calc := newCalculator(random.Fixed())
	alloc, err := calc.Calculate(0, money.UnitHundredthCent, "USD", params, Context{
		PooledContributors: []string{"acc-1"},
	})
	require.NoError(t, err)
	require.True(t, alloc.Empty)
	require.Zero(t, alloc.BoostAmount)
	require.Empty(t, alloc.PoolLegs)
}

func TestCalculateConsolation(t *testing.T) {
	calc := newCalculator(random.Fixed())

	alloc, err := calc.Calculate(100000, money.UnitHundredthCent, "USD", Parameters{
		RewardType:        TypeConsolation,
		ConsolationAmount: 5000,
		ReferenceAmounts:  map[string]int64{"boostAmount": 2000},
	}, Context{})
	require.NoError(t, err)

	// user sees the full consolation amount, the pool is only charged the
	// uncovered remainder
	require.Equal(t, int64(5000), alloc.BoostAmount)
	require.Equal(t, int64(3000), alloc.AmountFromBonus)
}

func TestCalculateBudgetCap(t *testing.T) {
	calc := newCalculator(random.Fixed())

	alloc, err := calc.Calculate(100000, money.UnitHundredthCent, "USD", Parameters{}, Context{
		RemainingBudget: 60000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(60000), alloc.BoostAmount)
	require.Equal(t, int64(60000), alloc.AmountFromBonus)
}

func TestCalculateUnknownType(t *testing.T) {
	calc := newCalculator(random.Fixed())

	_, err := calc.Calculate(100000, money.UnitHundredthCent, "USD", Parameters{
		RewardType: Type("JACKPOT"),
	}, Context{})
	require.Error(t, err)
}
