package redemption

import (
	"context"
	"fmt"

	"boostplane/pkg/events"
	"boostplane/pkg/money"
	"boostplane/services/boost/condition"
	"boostplane/services/ledger"
	"boostplane/services/reward"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service coordinates redemption and revocation for a batch of boosts. Each
// boost is processed independently: a failure is logged and its slot omitted
// from the result, never aborting the other boosts.
type Service struct {
	calculator *reward.Calculator
	transfers  TransferClient
	statuses   StatusStore
	publisher  EventPublisher
	messages   MessageClient
}

type ServiceParams struct {
	fx.In
	Calculator *reward.Calculator
	Transfers  TransferClient
	Statuses   StatusStore
	Publisher  EventPublisher
	Messages   MessageClient
}

func NewService(p ServiceParams) *Service {
	return &Service{
		calculator: p.Calculator,
		transfers:  p.Transfers,
		statuses:   p.Statuses,
		publisher:  p.Publisher,
		messages:   p.Messages,
	}
}

// RedeemOrRevoke runs the full awarding pipeline for every boost in the
// instruction. Within one boost the ordering is strict: reward calculation,
// then the awaited transfer, then the batched status writes, then
// notifications carrying the transfer's transaction ids.
func (s *Service) RedeemOrRevoke(ctx context.Context, instr Instruction) map[string]Result {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	logFields := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}

	results := make(map[string]Result)

	for _, boost := range instr.RedemptionBoosts {
		result, ok, err := s.redeemBoost(ctx, boost, instr)
		if err != nil {
			zap.L().With(logFields...).Error("boost redemption failed",
				zap.String("boost_id", boost.BoostID), zap.Error(err))
			continue
		}
		if ok {
			results[boost.BoostID] = result
		}
	}

	for _, boost := range instr.RevocationBoosts {
		result, ok, err := s.revokeBoost(ctx, boost, instr)
		if err != nil {
			zap.L().With(logFields...).Error("boost revocation failed",
				zap.String("boost_id", boost.BoostID), zap.Error(err))
			continue
		}
		if ok {
			results[boost.BoostID] = result
		}
	}

	return results
}

func (s *Service) redeemBoost(ctx context.Context, boost BoostRef, instr Instruction) (Result, bool, error) {
	accounts := instr.AffectedAccounts[boost.BoostID]
	if len(accounts) == 0 {
		return Result{}, false, nil
	}

	redeemed := filterByStatus(accounts, condition.StatusRedeemed)
	consoled := filterByStatus(accounts, condition.StatusConsoled)
	if len(redeemed) == 0 && len(consoled) == 0 {
		return Result{}, false, nil
	}

	alloc, err := s.calculator.Calculate(boost.Amount, boost.Unit, boost.Currency, boost.RewardParams, reward.Context{
		PooledContributors: instr.PooledContributions[boost.BoostID],
		ClientCaps:         boost.ClientCaps,
		RemainingBudget:    boost.RemainingBudget,
	})
	if err != nil {
		return Result{}, false, err
	}
	if alloc.Empty {
		// zero computed amount: no transfer, no status change here, no
		// notification, and the boost is absent from the result map
		return Result{}, false, nil
	}

	consolationAlloc, err := s.consolationAllocation(boost, consoled)
	if err != nil {
		return Result{}, false, err
	}

	// the calculator caps the per-account amount; the winner count is capped
	// here so the batch payout as a whole stays inside the remaining budget
	payable := redeemed
	if boost.RemainingBudget > 0 && alloc.BoostAmount > 0 {
		if max := boost.RemainingBudget / alloc.BoostAmount; int64(len(payable)) > max {
			payable = payable[:max]
		}
	}
	settled := accounts
	if len(payable) < len(redeemed) {
		zap.L().Warn("budget exhausted before all winners were paid",
			zap.String("boost_id", boost.BoostID),
			zap.Int("winners", len(redeemed)),
			zap.Int("paid", len(payable)))
		paid := make(map[string]bool, len(payable))
		for _, a := range payable {
			paid[a.AccountID] = true
		}
		settled = make([]AffectedAccount, 0, len(accounts))
		for _, a := range accounts {
			if a.NewStatus == condition.StatusRedeemed && !paid[a.AccountID] {
				a.NewStatus = condition.StatusFailed
			}
			settled = append(settled, a)
		}
	}

	instructions := buildTransferInstructions(boost, alloc, consolationAlloc, payable, consoled)

	transferResults, err := s.transfers.Transfer(ctx, instructions)
	if err != nil {
		// no partial state: statuses untouched, nothing published
		return Result{}, false, err
	}
	transferResult := mergeTransferResults(boost.BoostID, transferResults)

	if err := s.statuses.ApplyStatusUpdates(ctx, statusUpdates(boost.BoostID, settled, map[string]any{
		"boostAmount":     alloc.BoostAmount,
		"amountFromBonus": alloc.AmountFromBonus,
		"unit":            string(alloc.Unit),
		"transactionIds":  transferResult.AccountTxIDs,
	})); err != nil {
		return Result{}, false, err
	}

	s.notifyRedeemed(ctx, boost, alloc, consolationAlloc, payable, consoled, transferResult, instr.Event)

	return Result{
		BoostAmount:     alloc.BoostAmount,
		AmountFromBonus: alloc.AmountFromBonus,
		RedeemedCount:   int64(len(payable)),
		Unit:            alloc.Unit,
		Currency:        alloc.Currency,
		Transfer:        transferResult,
	}, true, nil
}

func (s *Service) consolationAllocation(boost BoostRef, consoled []AffectedAccount) (*reward.Allocation, error) {
	if len(consoled) == 0 || boost.RewardParams.ConsolationAmount <= 0 {
		return nil, nil
	}

	params := boost.RewardParams
	params.RewardType = reward.TypeConsolation
	alloc, err := s.calculator.Calculate(boost.Amount, boost.Unit, boost.Currency, params, reward.Context{})
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

// buildTransferInstructions returns the ordered legs for one boost: the
// pooled funding leg first, then the reward leg. The ledger executes them
// in order.
func buildTransferInstructions(boost BoostRef, alloc reward.Allocation, consolationAlloc *reward.Allocation, redeemed, consoled []AffectedAccount) []ledger.TransferInstruction {
	var instructions []ledger.TransferInstruction

	if len(alloc.PoolLegs) > 0 {
		funding := ledger.TransferInstruction{
			Identifier: boost.BoostID + ":funding",
			FloatID:    boost.FromFloatID,
			FromID:     boost.FromBonusPoolID,
			FromType:   ledger.AccountTypeBonusPool,
			ToType:     ledger.AccountTypeBonusPool,
			Currency:   boost.Currency,
			Unit:       alloc.Unit,
		}
		for _, leg := range alloc.PoolLegs {
			funding.Recipients = append(funding.Recipients, ledger.Recipient{
				RecipientID:   leg.AccountID,
				Amount:        leg.Amount,
				RecipientType: ledger.AccountTypeEndUser,
			})
		}
		instructions = append(instructions, funding)
	}

	rewardLeg := ledger.TransferInstruction{
		Identifier: boost.BoostID,
		FloatID:    boost.FromFloatID,
		FromID:     boost.FromBonusPoolID,
		FromType:   ledger.AccountTypeBonusPool,
		ToType:     ledger.AccountTypeEndUser,
		Currency:   boost.Currency,
		Unit:       alloc.Unit,
		ReferenceAmounts: map[string]int64{
			"boostAmount":     alloc.BoostAmount,
			"amountFromBonus": alloc.AmountFromBonus,
		},
	}
	for _, account := range redeemed {
		rewardLeg.Recipients = append(rewardLeg.Recipients, ledger.Recipient{
			RecipientID:   account.AccountID,
			Amount:        alloc.BoostAmount,
			RecipientType: ledger.AccountTypeEndUser,
		})
	}
	if consolationAlloc != nil {
		for _, account := range consoled {
			rewardLeg.Recipients = append(rewardLeg.Recipients, ledger.Recipient{
				RecipientID:   account.AccountID,
				Amount:        consolationAlloc.BoostAmount,
				RecipientType: ledger.AccountTypeEndUser,
			})
		}
		rewardLeg.ReferenceAmounts["consolationAmount"] = consolationAlloc.BoostAmount
		rewardLeg.ReferenceAmounts["consolationFromBonus"] = consolationAlloc.AmountFromBonus
	}

	return append(instructions, rewardLeg)
}

// mergeTransferResults folds the funding leg's ids into the reward leg's
// result so callers see one result per boost.
func mergeTransferResults(boostID string, results map[string]ledger.TransferResult) ledger.TransferResult {
	merged := results[boostID]
	if funding, ok := results[boostID+":funding"]; ok {
		merged.FloatTxIDs = append(merged.FloatTxIDs, funding.FloatTxIDs...)
	}
	return merged
}

func (s *Service) notifyRedeemed(ctx context.Context, boost BoostRef, alloc reward.Allocation, consolationAlloc *reward.Allocation, redeemed, consoled []AffectedAccount, transferResult ledger.TransferResult, trigger *TriggerEvent) {
	eventType := fmt.Sprintf("%s_REDEEMED", boost.Type)

	for _, account := range redeemed {
		s.publishOutcome(ctx, boost, account, eventType, condition.StatusRedeemed, alloc.BoostAmount, transferResult, trigger)
	}
	if consolationAlloc != nil {
		for _, account := range consoled {
			s.publishOutcome(ctx, boost, account, fmt.Sprintf("%s_CONSOLED", boost.Type), condition.StatusConsoled, consolationAlloc.BoostAmount, transferResult, trigger)
		}
	}

	if boost.RedeemAllAtOnce && len(boost.MessageInstructions) > 0 {
		display := money.Amount{Value: alloc.BoostAmount, Unit: alloc.Unit, Currency: alloc.Currency}.Display()
		for _, mi := range boost.MessageInstructions {
			for _, account := range redeemed {
				// fire and forget: a messaging failure never unwinds the
				// completed redemption
				if err := s.messages.SendTemplateMessage(ctx, account.AccountID, mi.Template, map[string]string{
					"boostAmount": display,
					"boostId":     boost.BoostID,
				}); err != nil {
					zap.L().Warn("failed to trigger boost message",
						zap.String("boost_id", boost.BoostID),
						zap.String("account_id", account.AccountID),
						zap.Error(err))
				}
			}
		}
	}
}

func (s *Service) publishOutcome(ctx context.Context, boost BoostRef, account AffectedAccount, eventType string, status condition.Status, amount int64, transferResult ledger.TransferResult, trigger *TriggerEvent) {
	metadata := map[string]string{
		"boostType":     boost.Type,
		"boostCategory": boost.Category,
		"transferId":    transferResult.AccountTxIDs[account.AccountID],
	}
	if trigger != nil {
		metadata["triggeringEventType"] = trigger.EventType
	}

	if err := s.publisher.PublishBoostEvent(ctx, events.BoostEvent{
		EventType: eventType,
		BoostID:   boost.BoostID,
		AccountID: account.AccountID,
		Status:    string(status),
		Amount: &events.EventAmount{
			Value:    amount,
			Unit:     string(boost.Unit),
			Currency: boost.Currency,
		},
		Metadata: metadata,
	}); err != nil {
		zap.L().Warn("failed to publish boost event",
			zap.String("boost_id", boost.BoostID),
			zap.String("account_id", account.AccountID),
			zap.Error(err))
	}
}

func (s *Service) revokeBoost(ctx context.Context, boost BoostRef, instr Instruction) (Result, bool, error) {
	accounts := filterByStatus(instr.AffectedAccounts[boost.BoostID], condition.StatusRevoked)
	if len(accounts) == 0 {
		return Result{}, false, nil
	}

	// revocation reverses a prior redemption: every affected account pays
	// the boost amount back into the bonus pool
	instruction := ledger.TransferInstruction{
		Identifier: boost.BoostID,
		FloatID:    boost.FromFloatID,
		FromID:     boost.FromBonusPoolID,
		FromType:   ledger.AccountTypeBonusPool,
		ToType:     ledger.AccountTypeBonusPool,
		Currency:   boost.Currency,
		Unit:       boost.Unit,
		ReferenceAmounts: map[string]int64{
			"boostAmount":   boost.Amount,
			"amountToBonus": boost.Amount * int64(len(accounts)),
		},
	}
	for _, account := range accounts {
		instruction.Recipients = append(instruction.Recipients, ledger.Recipient{
			RecipientID:   account.AccountID,
			Amount:        boost.Amount,
			RecipientType: ledger.AccountTypeEndUser,
		})
	}

	transferResults, err := s.transfers.Transfer(ctx, []ledger.TransferInstruction{instruction})
	if err != nil {
		return Result{}, false, err
	}
	transferResult := transferResults[boost.BoostID]

	if err := s.statuses.ApplyStatusUpdates(ctx, statusUpdates(boost.BoostID, accounts, map[string]any{
		"amountToBonus": boost.Amount * int64(len(accounts)),
		"unit":          string(boost.Unit),
	})); err != nil {
		return Result{}, false, err
	}

	for _, account := range accounts {
		s.publishOutcome(ctx, boost, account, "BOOST_REVOKED", condition.StatusRevoked, boost.Amount, transferResult, instr.Event)
	}

	return Result{
		BoostAmount:   boost.Amount,
		AmountToBonus: boost.Amount * int64(len(accounts)),
		Unit:          boost.Unit,
		Currency:      boost.Currency,
		Transfer:      transferResult,
	}, true, nil
}

func filterByStatus(accounts []AffectedAccount, status condition.Status) []AffectedAccount {
	var out []AffectedAccount
	for _, a := range accounts {
		if a.NewStatus == status {
			out = append(out, a)
		}
	}
	return out
}

// statusUpdates groups accounts by their new status so every group becomes
// one batched write.
func statusUpdates(boostID string, accounts []AffectedAccount, logContext map[string]any) []StatusUpdate {
	grouped := make(map[condition.Status][]string)
	order := make([]condition.Status, 0, 2)
	for _, a := range accounts {
		if _, seen := grouped[a.NewStatus]; !seen {
			order = append(order, a.NewStatus)
		}
		grouped[a.NewStatus] = append(grouped[a.NewStatus], a.AccountID)
	}

	updates := make([]StatusUpdate, 0, len(order))
	for _, status := range order {
		updates = append(updates, StatusUpdate{
			BoostID:    boostID,
			NewStatus:  status,
			AccountIDs: grouped[status],
			Context:    logContext,
		})
	}
	return updates
}
