package redemption

import (
	"context"
	"errors"
	"testing"

	"boostplane/pkg/events"
	"boostplane/pkg/money"
	"boostplane/pkg/random"
	"boostplane/services/boost/condition"
	"boostplane/services/ledger"
	"boostplane/services/reward"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeTransferClient struct {
	calls   [][]ledger.TransferInstruction
	failFor map[string]error
}

func (f *fakeTransferClient) Transfer(ctx context.Context, instructions []ledger.TransferInstruction) (map[string]ledger.TransferResult, error) {
	for _, instr := range instructions {
		if err, ok := f.failFor[instr.Identifier]; ok {
			return nil, err
		}
	}
	f.calls = append(f.calls, instructions)

	results := make(map[string]ledger.TransferResult, len(instructions))
	for _, instr := range instructions {
		result := ledger.TransferResult{
			Result:       ledger.TransferSuccess,
			FloatTxIDs:   []string{"ftx-" + instr.Identifier},
			AccountTxIDs: make(map[string]string, len(instr.Recipients)),
		}
		for _, r := range instr.Recipients {
			result.AccountTxIDs[r.RecipientID] = "tx-" + instr.Identifier + "-" + r.RecipientID
		}
		results[instr.Identifier] = result
	}
	return results, nil
}

type fakePublisher struct {
	published []events.BoostEvent
}

func (f *fakePublisher) PublishBoostEvent(ctx context.Context, ev events.BoostEvent) error {
	f.published = append(f.published, ev)
	return nil
}

type fakeMessages struct {
	sent []map[string]string
}

func (f *fakeMessages) SendTemplateMessage(ctx context.Context, accountID, template string, params map[string]string) error {
	merged := map[string]string{"accountId": accountID, "template": template}
	for k, v := range params {
		merged[k] = v
	}
	f.sent = append(f.sent, merged)
	return nil
}

type fakeStatusStore struct {
	updates []StatusUpdate
}

func (f *fakeStatusStore) ApplyStatusUpdates(ctx context.Context, updates []StatusUpdate) error {
	f.updates = append(f.updates, updates...)
	return nil
}

type fixture struct {
	svc       *Service
	transfers *fakeTransferClient
	publisher *fakePublisher
	messages  *fakeMessages
	statuses  *fakeStatusStore
}

func newFixture() *fixture {
	transfers := &fakeTransferClient{failFor: map[string]error{}}
	publisher := &fakePublisher{}
	messages := &fakeMessages{}
	statuses := &fakeStatusStore{}

	svc := NewService(ServiceParams{
		Calculator: reward.NewCalculator(reward.CalculatorParams{Src: random.Fixed()}),
		Transfers:  transfers,
		Statuses:   statuses,
		Publisher:  publisher,
		Messages:   messages,
	})

	return &fixture{svc: svc, transfers: transfers, publisher: publisher, messages: messages, statuses: statuses}
}

func simpleBoost(id string) BoostRef {
	return BoostRef{
		BoostID:         id,
		Type:            "SIMPLE",
		Category:        "TIME_LIMITED",
		Amount:          100000,
		Unit:            money.UnitHundredthCent,
		Currency:        "USD",
		FromBonusPoolID: "pool-1",
		FromFloatID:     "float-1",
	}
}

func TestRedeemSimpleBoost(t *testing.T) {
	f := newFixture()

	results := f.svc.RedeemOrRevoke(context.Background(), Instruction{
		RedemptionBoosts: []BoostRef{simpleBoost("boost-1")},
		AffectedAccounts: map[string][]AffectedAccount{
			"boost-1": {{AccountID: "acc-1", UserID: "user-1", NewStatus: condition.StatusRedeemed}},
		},
		Event: &TriggerEvent{AccountID: "acc-1", EventType: "SAVING_EVENT_COMPLETED"},
	})

	require.Len(t, results, 1)
	result := results["boost-1"]
	require.Equal(t, int64(100000), result.BoostAmount)
	require.Equal(t, int64(100000), result.AmountFromBonus)

	// one instruction, recipient amount equals the boost amount
	require.Len(t, f.transfers.calls, 1)
	instr := f.transfers.calls[0][0]
	require.Equal(t, "boost-1", instr.Identifier)
	require.Equal(t, "pool-1", instr.FromID)
	require.Len(t, instr.Recipients, 1)
	require.Equal(t, int64(100000), instr.Recipients[0].Amount)

	// one SIMPLE_REDEEMED event per affected account
	require.Len(t, f.publisher.published, 1)
	require.Equal(t, "SIMPLE_REDEEMED", f.publisher.published[0].EventType)
	require.Equal(t, "acc-1", f.publisher.published[0].AccountID)
}

func TestTransferResultReachesNotification(t *testing.T) {
	f := newFixture()

	f.svc.RedeemOrRevoke(context.Background(), Instruction{
		RedemptionBoosts: []BoostRef{simpleBoost("boost-1")},
		AffectedAccounts: map[string][]AffectedAccount{
			"boost-1": {{AccountID: "acc-1", NewStatus: condition.StatusRedeemed}},
		},
	})

	require.Len(t, f.publisher.published, 1)
	// the published payload must carry the exact transaction id the
	// transfer returned
	require.Equal(t, "tx-boost-1-acc-1", f.publisher.published[0].Metadata["transferId"])

	require.Len(t, f.statuses.updates, 1)
	txIDs, ok := f.statuses.updates[0].Context["transactionIds"].(map[string]string)
	require.True(t, ok)
	require.Equal(t, "tx-boost-1-acc-1", txIDs["acc-1"])
}

func TestStatusUpdatesAreBatchedPerStatus(t *testing.T) {
	f := newFixture()
	boost := simpleBoost("boost-1")
	boost.RewardParams.ConsolationAmount = 5000

	f.svc.RedeemOrRevoke(context.Background(), Instruction{
		RedemptionBoosts: []BoostRef{boost},
		AffectedAccounts: map[string][]AffectedAccount{
			"boost-1": {
				{AccountID: "acc-1", NewStatus: condition.StatusRedeemed},
				{AccountID: "acc-2", NewStatus: condition.StatusRedeemed},
				{AccountID: "acc-3", NewStatus: condition.StatusConsoled},
			},
		},
	})

	require.Len(t, f.statuses.updates, 2)
	require.Equal(t, condition.StatusRedeemed, f.statuses.updates[0].NewStatus)
	require.ElementsMatch(t, []string{"acc-1", "acc-2"}, f.statuses.updates[0].AccountIDs)
	require.Equal(t, condition.StatusConsoled, f.statuses.updates[1].NewStatus)
	require.Equal(t, []string{"acc-3"}, f.statuses.updates[1].AccountIDs)
}

func TestBudgetCapsWinnerCount(t *testing.T) {
	f := newFixture()
	boost := simpleBoost("boost-1")
	boost.Amount = 50000
	boost.RemainingBudget = 60000

	results := f.svc.RedeemOrRevoke(context.Background(), Instruction{
		RedemptionBoosts: []BoostRef{boost},
		AffectedAccounts: map[string][]AffectedAccount{
			"boost-1": {
				{AccountID: "acc-1", NewStatus: condition.StatusRedeemed},
				{AccountID: "acc-2", NewStatus: condition.StatusRedeemed},
			},
		},
	})

	result := results["boost-1"]
	require.Equal(t, int64(50000), result.BoostAmount)
	require.Equal(t, int64(1), result.RedeemedCount)

	// only one winner fits in the budget, so the batch pays exactly one
	require.Len(t, f.transfers.calls, 1)
	instr := f.transfers.calls[0][0]
	require.Len(t, instr.Recipients, 1)
	require.Equal(t, "acc-1", instr.Recipients[0].RecipientID)

	// the unfunded winner fails rather than redeeming without a payout
	require.Len(t, f.statuses.updates, 2)
	require.Equal(t, condition.StatusRedeemed, f.statuses.updates[0].NewStatus)
	require.Equal(t, []string{"acc-1"}, f.statuses.updates[0].AccountIDs)
	require.Equal(t, condition.StatusFailed, f.statuses.updates[1].NewStatus)
	require.Equal(t, []string{"acc-2"}, f.statuses.updates[1].AccountIDs)

	// only the paid winner is notified
	require.Len(t, f.publisher.published, 1)
	require.Equal(t, "acc-1", f.publisher.published[0].AccountID)
}

func TestSinglePooledContributorReturnsEmpty(t *testing.T) {
	f := newFixture()

	boost := simpleBoost("boost-1")
	boost.RewardParams = reward.Parameters{
		RewardType:              reward.TypePooled,
		PoolContributionPerUser: 10000,
		PercentPoolAsReward:     decimal.NewFromFloat(0.5),
	}

	results := f.svc.RedeemOrRevoke(context.Background(), Instruction{
		RedemptionBoosts: []BoostRef{boost},
		AffectedAccounts: map[string][]AffectedAccount{
			"boost-1": {{AccountID: "acc-1", NewStatus: condition.StatusRedeemed}},
		},
		PooledContributions: map[string][]string{"boost-1": {"acc-1"}},
	})

	require.Empty(t, results, "zero-amount boost must be absent, not zero-valued")
	require.Empty(t, f.transfers.calls)
	require.Empty(t, f.publisher.published)
	require.Empty(t, f.messages.sent)
	require.Empty(t, f.statuses.updates)
}

func TestPooledFundingLegPrecedesRewardLeg(t *testing.T) {
	f := newFixture()

	boost := simpleBoost("boost-1")
	boost.RewardParams = reward.Parameters{
		RewardType:              reward.TypePooled,
		PoolContributionPerUser: 10000,
		PercentPoolAsReward:     decimal.NewFromFloat(0.5),
	}

	results := f.svc.RedeemOrRevoke(context.Background(), Instruction{
		RedemptionBoosts: []BoostRef{boost},
		AffectedAccounts: map[string][]AffectedAccount{
			"boost-1": {{AccountID: "acc-1", NewStatus: condition.StatusRedeemed}},
		},
		PooledContributions: map[string][]string{"boost-1": {"acc-1", "acc-2", "acc-3"}},
	})

	require.Len(t, results, 1)
	require.Equal(t, int64(15000), results["boost-1"].BoostAmount)

	require.Len(t, f.transfers.calls, 1)
	instructions := f.transfers.calls[0]
	require.Len(t, instructions, 2)
	require.Equal(t, "boost-1:funding", instructions[0].Identifier)
	require.Equal(t, ledger.AccountTypeBonusPool, instructions[0].ToType)
	require.Len(t, instructions[0].Recipients, 3)
	require.Equal(t, "boost-1", instructions[1].Identifier)
}

func TestFailingBoostDoesNotAbortOthers(t *testing.T) {
	f := newFixture()
	f.transfers.failFor["boost-bad"] = errors.New("transfer backend down")

	results := f.svc.RedeemOrRevoke(context.Background(), Instruction{
		RedemptionBoosts: []BoostRef{simpleBoost("boost-bad"), simpleBoost("boost-good")},
		AffectedAccounts: map[string][]AffectedAccount{
			"boost-bad":  {{AccountID: "acc-1", NewStatus: condition.StatusRedeemed}},
			"boost-good": {{AccountID: "acc-2", NewStatus: condition.StatusRedeemed}},
		},
	})

	require.Len(t, results, 1)
	require.Contains(t, results, "boost-good")
	require.NotContains(t, results, "boost-bad")

	// the failed boost left no partial state
	for _, update := range f.statuses.updates {
		require.Equal(t, "boost-good", update.BoostID)
	}
	for _, ev := range f.publisher.published {
		require.Equal(t, "boost-good", ev.BoostID)
	}
}

func TestRedeemAllAtOnceTriggersMessages(t *testing.T) {
	f := newFixture()

	boost := simpleBoost("boost-1")
	boost.RedeemAllAtOnce = true
	boost.MessageInstructions = []MessageInstruction{
		{InstructionID: "mi-1", Template: "BOOST_WON", ForStatus: "REDEEMED"},
	}

	f.svc.RedeemOrRevoke(context.Background(), Instruction{
		RedemptionBoosts: []BoostRef{boost},
		AffectedAccounts: map[string][]AffectedAccount{
			"boost-1": {{AccountID: "acc-1", NewStatus: condition.StatusRedeemed}},
		},
	})

	require.Len(t, f.messages.sent, 1)
	msg := f.messages.sent[0]
	require.Equal(t, "acc-1", msg["accountId"])
	require.Equal(t, "BOOST_WON", msg["template"])
	// 100000 hundredth-cents is a whole 10 dollars
	require.Equal(t, "$10", msg["boostAmount"])
}

func TestRevocationPullsFundsBack(t *testing.T) {
	f := newFixture()

	results := f.svc.RedeemOrRevoke(context.Background(), Instruction{
		RevocationBoosts: []BoostRef{simpleBoost("boost-1")},
		AffectedAccounts: map[string][]AffectedAccount{
			"boost-1": {
				{AccountID: "acc-1", NewStatus: condition.StatusRevoked},
				{AccountID: "acc-2", NewStatus: condition.StatusRevoked},
			},
		},
	})

	require.Len(t, results, 1)
	require.Equal(t, int64(200000), results["boost-1"].AmountToBonus)

	require.Len(t, f.transfers.calls, 1)
	instr := f.transfers.calls[0][0]
	require.Equal(t, ledger.AccountTypeBonusPool, instr.ToType)
	require.Len(t, instr.Recipients, 2)

	require.Len(t, f.publisher.published, 2)
	require.Equal(t, "BOOST_REVOKED", f.publisher.published[0].EventType)
}
