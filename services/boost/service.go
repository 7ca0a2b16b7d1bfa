package boost

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"boostplane/pkg/config"
	"boostplane/pkg/db/option"
	"boostplane/pkg/db/pagination"
	"boostplane/pkg/errutil"
	"boostplane/pkg/events"
	"boostplane/pkg/money"
	"boostplane/pkg/random"
	"boostplane/pkg/repository"
	"boostplane/services/audience"
	"boostplane/services/boost/condition"
	"boostplane/services/redemption"
	"boostplane/services/reward"
	"boostplane/services/tournament"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AudienceClient resolves an audience selection into its member accounts.
type AudienceClient interface {
	ResolveMembers(ctx context.Context, clientID, selection string) ([]audience.Member, error)
}

// Redeemer is the redemption orchestrator capability.
type Redeemer interface {
	RedeemOrRevoke(ctx context.Context, instr redemption.Instruction) map[string]redemption.Result
}

// EventPublisher fans boost lifecycle events out to the event stream.
type EventPublisher interface {
	PublishBoostEvent(ctx context.Context, ev events.BoostEvent) error
}

// MessageClient triggers templated user messaging.
type MessageClient interface {
	SendTemplateMessage(ctx context.Context, accountID, template string, params map[string]string) error
}

// Service owns the boost lifecycle: creation, audience seeding, inbound
// trigger processing, game response recording and the expiry pipeline.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      *config.Config
	src      random.Source
	boosts   repository.Repository[Boost]
	statuses repository.Repository[AccountStatus]
	logs     repository.Repository[Log]
	store    *Store
	audience AudienceClient
	redeemer Redeemer

	publisher EventPublisher
	messages  MessageClient
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Src      random.Source
	Store    *Store
	Audience AudienceClient
	Redeemer Redeemer

	Publisher EventPublisher
	Messages  MessageClient
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		cfg:       p.Config,
		src:       p.Src,
		boosts:    repository.ProvideStore[Boost](p.DB),
		statuses:  repository.ProvideStore[AccountStatus](p.DB),
		logs:      repository.ProvideStore[Log](p.DB),
		store:     p.Store,
		audience:  p.Audience,
		redeemer:  p.Redeemer,
		publisher: p.Publisher,
		messages:  p.Messages,
	}
}

// CreateBoostParams is the validated input to CreateBoost.
type CreateBoostParams struct {
	ClientID string     `json:"clientId"`
	Label    string     `json:"label"`
	Type     Type       `json:"type"`
	Category string     `json:"category"`
	Amount   int64      `json:"amount"`
	Unit     money.Unit `json:"unit"`
	Currency string     `json:"currency"`
	Budget   int64      `json:"budget"`

	FromBonusPoolID string `json:"fromBonusPoolId"`
	FromFloatID     string `json:"fromFloatId"`

	AudienceSelection string              `json:"audienceSelection"`
	StatusConditions  map[string][]string `json:"statusConditions"`
	RewardParameters  datatypes.JSON      `json:"rewardParameters"`
	Flags             []Flag              `json:"flags"`
	GameParams        datatypes.JSON      `json:"gameParams"`
	ExpiryParameters  datatypes.JSON      `json:"expiryParameters"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

func (p CreateBoostParams) validate() []errutil.Detail {
	var details []errutil.Detail
	if !validType(p.Type) {
		details = append(details, errutil.Detail{Field: "type", Message: "unknown boost type"})
	}
	if p.Amount <= 0 {
		details = append(details, errutil.Detail{Field: "amount", Message: "amount must be positive"})
	}
	if !p.Unit.Valid() {
		details = append(details, errutil.Detail{Field: "unit", Message: "unknown amount unit"})
	}
	if p.Currency == "" {
		details = append(details, errutil.Detail{Field: "currency", Message: "currency is required"})
	}
	if p.Budget < p.Amount {
		details = append(details, errutil.Detail{Field: "budget", Message: "budget must cover at least one award"})
	}
	if len(p.StatusConditions) == 0 {
		details = append(details, errutil.Detail{Field: "statusConditions", Message: "at least one status condition is required"})
	}
	if _, err := condition.ParseRules(p.StatusConditions); err != nil {
		details = append(details, errutil.Detail{Field: "statusConditions", Message: err.Error()})
	}
	if _, err := reward.ParseParameters(p.RewardParameters); err != nil {
		details = append(details, errutil.Detail{Field: "rewardParameters", Message: err.Error()})
	}
	if p.Type == TypeGame {
		var gp GameParameters
		if len(p.GameParams) == 0 {
			details = append(details, errutil.Detail{Field: "gameParams", Message: "game boost requires game parameters"})
		} else if err := json.Unmarshal(p.GameParams, &gp); err != nil {
			details = append(details, errutil.Detail{Field: "gameParams", Message: "invalid game parameters"})
		} else if gp.ScoreField == "" {
			details = append(details, errutil.Detail{Field: "gameParams", Message: "game parameters require a score field"})
		}
	}
	if !p.EndTime.IsZero() && !p.StartTime.IsZero() && p.EndTime.Before(p.StartTime) {
		details = append(details, errutil.Detail{Field: "endTime", Message: "end time precedes start time"})
	}
	return details
}

// CreateBoost validates and persists a boost, then seeds account statuses
// from the audience selection. EVENT_DRIVEN and ML_DETERMINED boosts are not
// seeded at creation: their accounts join when the event fires or when
// offers are created.
func (s *Service) CreateBoost(ctx context.Context, params CreateBoostParams) (*Boost, error) {
	if details := params.validate(); len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid boost", errutil.WithDetails(details...))
	}

	conditions, err := json.Marshal(params.StatusConditions)
	if err != nil {
		return nil, err
	}
	flags, err := json.Marshal(params.Flags)
	if err != nil {
		return nil, err
	}

	b := &Boost{
		BoostID:           s.node.Generate().String(),
		ClientID:          params.ClientID,
		Label:             params.Label,
		Type:              params.Type,
		Category:          params.Category,
		Amount:            params.Amount,
		Unit:              params.Unit,
		Currency:          params.Currency,
		Budget:            params.Budget,
		RemainingBudget:   params.Budget,
		FromBonusPoolID:   params.FromBonusPoolID,
		FromFloatID:       params.FromFloatID,
		AudienceSelection: params.AudienceSelection,
		StatusConditions:  conditions,
		RewardParameters:  params.RewardParameters,
		Flags:             flags,
		GameParams:        params.GameParams,
		ExpiryParameters:  params.ExpiryParameters,
		DefaultStatus:     defaultStatusFor(params.Type),
		StartTime:         params.StartTime,
		EndTime:           params.EndTime,
		Active:            true,
	}
	if b.FromBonusPoolID == "" {
		b.FromBonusPoolID = s.cfg.Boost.BonusPoolID
	}
	if b.FromFloatID == "" {
		b.FromFloatID = s.cfg.Boost.FloatID
	}

	if err := s.boosts.Create(ctx, b); err != nil {
		return nil, err
	}

	if seedsAtCreation(b.Type) {
		members, err := s.audience.ResolveMembers(ctx, b.ClientID, b.AudienceSelection)
		if err != nil {
			return nil, err
		}
		if err := s.seedAccounts(ctx, b, members, b.DefaultStatus); err != nil {
			return nil, err
		}
	}

	zap.L().Info("boost created",
		zap.String("boost_id", b.BoostID),
		zap.String("type", string(b.Type)),
		zap.Int64("amount", b.Amount))
	return b, nil
}

func defaultStatusFor(t Type) condition.Status {
	if t == TypeEventDriven || t == TypeMLDetermined {
		return condition.StatusCreated
	}
	return condition.StatusOffered
}

func seedsAtCreation(t Type) bool {
	return t != TypeEventDriven && t != TypeMLDetermined
}

func (s *Service) seedAccounts(ctx context.Context, b *Boost, members []audience.Member, status condition.Status) error {
	if len(members) == 0 {
		return nil
	}

	var expiry *time.Time
	if b.HasFlag(FlagIndividualizedExpiry) {
		ep, err := b.ExpiryParams()
		if err != nil {
			return err
		}
		if ep.IndividualizedExpiryMillis > 0 {
			t := time.Now().Add(time.Duration(ep.IndividualizedExpiryMillis) * time.Millisecond)
			expiry = &t
		}
	}

	rows := make([]*AccountStatus, 0, len(members))
	for _, m := range members {
		rows = append(rows, &AccountStatus{
			ID:         s.node.Generate().String(),
			BoostID:    b.BoostID,
			AccountID:  m.AccountID,
			UserID:     m.UserID,
			Status:     status,
			ExpiryTime: expiry,
		})
	}
	return s.statuses.BatchCreate(ctx, rows)
}

// CreateOffers seeds OFFERED rows for accounts an ML model selected after
// creation. Accounts already holding a row are skipped.
func (s *Service) CreateOffers(ctx context.Context, boostID string, members []audience.Member) error {
	b, err := s.getBoost(ctx, boostID)
	if err != nil {
		return err
	}
	if !b.Active {
		return errutil.Conflict("boost is no longer active")
	}

	fresh := make([]audience.Member, 0, len(members))
	for _, m := range members {
		row, err := s.statuses.FindOne(ctx, &AccountStatus{BoostID: boostID, AccountID: m.AccountID})
		if err != nil {
			return err
		}
		if row == nil {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := s.seedAccounts(ctx, b, fresh, condition.StatusOffered); err != nil {
		return err
	}

	logContext, _ := json.Marshal(map[string]any{"newStatus": string(condition.StatusOffered), "offered": len(fresh)})
	logs := make([]*Log, 0, len(fresh))
	for _, m := range fresh {
		logs = append(logs, &Log{
			ID:        s.node.Generate().String(),
			BoostID:   boostID,
			AccountID: m.AccountID,
			LogType:   LogUserStatusChange,
			Context:   logContext,
		})
	}
	return s.logs.BatchCreate(ctx, logs)
}

// AlterBoost attaches message instructions to a live boost. Core terms are
// immutable; alteration only touches the messaging attachment.
func (s *Service) AlterBoost(ctx context.Context, boostID string, instructions []MessageInstruction) (*Boost, error) {
	b, err := s.getBoost(ctx, boostID)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(instructions)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&Boost{}).
		Where("boost_id = ?", boostID).
		Update("message_instructions", datatypes.JSON(raw)).Error; err != nil {
		return nil, err
	}
	b.MessageInstructions = raw

	logContext, _ := json.Marshal(map[string]any{"messageInstructions": len(instructions)})
	if err := s.logs.Create(ctx, &Log{
		ID:      s.node.Generate().String(),
		BoostID: boostID,
		LogType: LogBoostAltered,
		Context: logContext,
	}); err != nil {
		return nil, err
	}
	return b, nil
}

// DeactivateBoost stops a boost accepting triggers. Status rows and logs are
// retained.
func (s *Service) DeactivateBoost(ctx context.Context, boostID string) error {
	if _, err := s.getBoost(ctx, boostID); err != nil {
		return err
	}
	return s.deactivate(ctx, boostID, "admin request")
}

func (s *Service) deactivate(ctx context.Context, boostID, reason string) error {
	if err := s.db.WithContext(ctx).Model(&Boost{}).
		Where("boost_id = ?", boostID).
		Update("active", false).Error; err != nil {
		return err
	}
	logContext, _ := json.Marshal(map[string]any{"reason": reason})
	return s.logs.Create(ctx, &Log{
		ID:      s.node.Generate().String(),
		BoostID: boostID,
		LogType: LogBoostDeactivated,
		Context: logContext,
	})
}

// GetBoost loads one boost by id.
func (s *Service) GetBoost(ctx context.Context, boostID string) (*Boost, error) {
	return s.getBoost(ctx, boostID)
}

func (s *Service) getBoost(ctx context.Context, boostID string) (*Boost, error) {
	b, err := s.boosts.FindOne(ctx, &Boost{BoostID: boostID})
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errutil.NotFound("boost not found")
	}
	return b, nil
}

// ListBoosts returns a client's boosts newest first, one cursor page at a
// time.
func (s *Service) ListBoosts(ctx context.Context, clientID string, page pagination.Pagination) ([]*Boost, *pagination.PageInfo, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 10
	}

	boosts, err := s.boosts.Find(ctx, &Boost{ClientID: clientID},
		option.ApplyPagination(page),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "DESC"}),
	)
	if err != nil {
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(boosts, int32(limit), func(b *Boost) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: b.CreatedAt.Format(time.RFC3339Nano),
			ID:        b.BoostID,
		})
		return cursor
	})
	if len(boosts) > limit {
		boosts = boosts[:limit]
	}
	return boosts, info, nil
}

// Event is one inbound trigger delivered by the event stream.
type Event struct {
	AccountID    string         `json:"accountId"`
	EventType    string         `json:"eventType"`
	TimeInMillis int64          `json:"timeInMillis"`
	Context      map[string]any `json:"context"`
}

func (e Event) trigger() (condition.Trigger, error) {
	trig := condition.Trigger{
		AccountID:    e.AccountID,
		EventType:    e.EventType,
		TimeInMillis: e.TimeInMillis,
	}
	if raw, ok := e.Context["savedAmount"].(string); ok && raw != "" {
		amount, err := money.Parse(raw)
		if err != nil {
			return trig, errutil.BadRequest("invalid saved amount", errutil.WithErr(err))
		}
		trig.SavedAmount = &amount
	}
	if first, ok := e.Context["firstSave"].(bool); ok {
		trig.FirstSave = first
	}
	return trig, nil
}

// ProcessEvent evaluates the event against every live boost and applies the
// resulting transitions. Boosts are processed independently: one failing
// boost is logged and skipped, never aborting the rest. Redelivery of an
// already-processed event is a no-op because terminal statuses never
// transition again.
func (s *Service) ProcessEvent(ctx context.Context, ev Event) (map[string]redemption.Result, error) {
	span := trace.SpanFromContext(ctx)
	logFields := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("account_id", ev.AccountID),
		zap.String("event_type", ev.EventType),
	}

	trig, err := ev.trigger()
	if err != nil {
		return nil, err
	}

	live, err := s.liveBoosts(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	trigger := &redemption.TriggerEvent{
		AccountID:    ev.AccountID,
		EventType:    ev.EventType,
		TimeInMillis: ev.TimeInMillis,
		Context:      ev.Context,
	}

	// boosts are independent of each other; a failure is logged and its
	// boost skipped
	var mu sync.Mutex
	results := make(map[string]redemption.Result)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, b := range live {
		b := b
		g.Go(func() error {
			res, err := s.processEventForBoost(gctx, b, trig, trigger)
			if err != nil {
				zap.L().With(logFields...).Error("event processing failed for boost",
					zap.String("boost_id", b.BoostID), zap.Error(err))
				return nil
			}
			mu.Lock()
			for id, r := range res {
				results[id] = r
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (s *Service) processEventForBoost(ctx context.Context, b *Boost, trig condition.Trigger, trigger *redemption.TriggerEvent) (map[string]redemption.Result, error) {
	rules, err := b.Rules()
	if err != nil {
		return nil, err
	}

	row, err := s.statuses.FindOne(ctx, &AccountStatus{BoostID: b.BoostID, AccountID: trig.AccountID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		if b.Type != TypeEventDriven {
			// not in the boost's audience
			return nil, nil
		}
		row = &AccountStatus{
			ID:        s.node.Generate().String(),
			BoostID:   b.BoostID,
			AccountID: trig.AccountID,
			Status:    b.DefaultStatus,
		}
		if err := s.statuses.Create(ctx, row); err != nil {
			return nil, err
		}
	}

	next, ok, err := condition.NextStatus(rules, row.Status, trig)
	if err != nil || !ok {
		return nil, err
	}
	return s.applyTransition(ctx, b, row, next, trigger)
}

// applyTransition moves one account to its new status. Wins and revocations
// route through the redemption orchestrator; everything else is a direct
// batched write plus a lifecycle event.
func (s *Service) applyTransition(ctx context.Context, b *Boost, row *AccountStatus, next condition.Status, trigger *redemption.TriggerEvent) (map[string]redemption.Result, error) {
	affected := redemption.AffectedAccount{AccountID: row.AccountID, UserID: row.UserID, NewStatus: next}

	switch next {
	case condition.StatusRedeemed, condition.StatusConsoled:
		return s.redeem(ctx, b, []redemption.AffectedAccount{affected}, trigger)

	case condition.StatusRevoked:
		return s.revoke(ctx, b, []redemption.AffectedAccount{affected}, trigger)

	default:
		logContext := map[string]any{}
		if trigger != nil {
			logContext["triggeringEventType"] = trigger.EventType
		}
		if err := s.store.ApplyStatusUpdates(ctx, []redemption.StatusUpdate{{
			BoostID:    b.BoostID,
			NewStatus:  next,
			AccountIDs: []string{row.AccountID},
			Context:    logContext,
		}}); err != nil {
			return nil, err
		}
		s.publishStatusEvent(ctx, b, row.AccountID, next)
		s.sendStatusMessages(ctx, b, row.AccountID, next)
		return nil, nil
	}
}

func (s *Service) redeem(ctx context.Context, b *Boost, accounts []redemption.AffectedAccount, trigger *redemption.TriggerEvent) (map[string]redemption.Result, error) {
	ref, err := s.boostRef(b)
	if err != nil {
		return nil, err
	}

	instr := redemption.Instruction{
		RedemptionBoosts: []redemption.BoostRef{ref},
		AffectedAccounts: map[string][]redemption.AffectedAccount{b.BoostID: accounts},
		Event:            trigger,
	}
	if ref.RewardParams.RewardType == reward.TypePooled {
		contributors, err := s.contributorIDs(ctx, b.BoostID)
		if err != nil {
			return nil, err
		}
		instr.PooledContributions = map[string][]string{b.BoostID: contributors}
	}

	results := s.redeemer.RedeemOrRevoke(ctx, instr)
	if res, ok := results[b.BoostID]; ok {
		if err := s.settleRedemption(ctx, b, res); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *Service) revoke(ctx context.Context, b *Boost, accounts []redemption.AffectedAccount, trigger *redemption.TriggerEvent) (map[string]redemption.Result, error) {
	ref, err := s.boostRef(b)
	if err != nil {
		return nil, err
	}

	results := s.redeemer.RedeemOrRevoke(ctx, redemption.Instruction{
		RevocationBoosts: []redemption.BoostRef{ref},
		AffectedAccounts: map[string][]redemption.AffectedAccount{b.BoostID: accounts},
		Event:            trigger,
	})
	if res, ok := results[b.BoostID]; ok {
		// pulled funds restore budget headroom
		if err := s.adjustBudget(ctx, b.BoostID, res.AmountToBonus); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// settleRedemption draws the paid amount down from the boost's budget and
// deactivates a redeem-all-at-once boost once no open accounts remain.
func (s *Service) settleRedemption(ctx context.Context, b *Boost, res redemption.Result) error {
	if spent := res.BoostAmount * res.RedeemedCount; spent > 0 {
		if err := s.adjustBudget(ctx, b.BoostID, -spent); err != nil {
			return err
		}
	}
	if b.HasFlag(FlagRedeemAllAtOnce) {
		open, err := s.store.CountByStatus(ctx, b.BoostID,
			string(condition.StatusCreated), string(condition.StatusOffered),
			string(condition.StatusUnlocked), string(condition.StatusPending))
		if err != nil {
			return err
		}
		if open == 0 {
			return s.deactivate(ctx, b.BoostID, "fully redeemed")
		}
	}
	return nil
}

func (s *Service) adjustBudget(ctx context.Context, boostID string, delta int64) error {
	return s.db.WithContext(ctx).Model(&Boost{}).
		Where("boost_id = ?", boostID).
		UpdateColumn("remaining_budget", gorm.Expr("remaining_budget + ?", delta)).Error
}

// ProcessGameResponse records one game submission and applies any immediate
// transition its score unlocks. Submissions after the account reached a
// terminal status are ignored.
func (s *Service) ProcessGameResponse(ctx context.Context, boostID, accountID string, payload GameResponsePayload) error {
	b, err := s.getBoost(ctx, boostID)
	if err != nil {
		return err
	}
	if b.Type != TypeGame {
		return errutil.BadRequest("boost does not carry a game")
	}
	if !b.IsLive(time.Now()) {
		return errutil.Conflict("boost is not accepting responses")
	}

	row, err := s.statuses.FindOne(ctx, &AccountStatus{BoostID: boostID, AccountID: accountID})
	if err != nil {
		return err
	}
	if row == nil {
		return errutil.NotFound("account was not offered this boost")
	}
	if row.Status.IsTerminal() {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := s.logs.Create(ctx, &Log{
		ID:        s.node.Generate().String(),
		BoostID:   boostID,
		AccountID: accountID,
		LogType:   LogGameResponse,
		Context:   raw,
	}); err != nil {
		return err
	}

	rules, err := b.Rules()
	if err != nil {
		return err
	}

	// immediate predicates only; rank-based ones wait for the tournament end
	trig := condition.Trigger{
		AccountID: accountID,
		EventType: "GAME_RESPONSE",
		Game: &condition.GameContext{
			Played:           true,
			NumberTaps:       payload.NumberTaps,
			PercentDestroyed: payload.PercentDestroyed,
		},
	}
	next, ok, err := condition.NextStatus(rules, row.Status, trig)
	if err != nil || !ok {
		return err
	}
	_, err = s.applyTransition(ctx, b, row, next, &redemption.TriggerEvent{
		AccountID: accountID,
		EventType: "GAME_RESPONSE",
	})
	return err
}

// ExpireBoost runs the full end-of-life pipeline for one boost: rank the
// recorded game responses, write GAME_OUTCOME logs, move winners and
// consolation recipients through the orchestrator, expire everyone else,
// then deactivate the boost.
func (s *Service) ExpireBoost(ctx context.Context, boostID string) error {
	b, err := s.getBoost(ctx, boostID)
	if err != nil {
		return err
	}

	rows, err := s.statuses.Find(ctx, &AccountStatus{BoostID: b.BoostID})
	if err != nil {
		return err
	}
	open := openRows(rows)

	if len(open) > 0 {
		contexts, err := s.gameContexts(ctx, b)
		if err != nil {
			return err
		}
		if err := s.expireAccounts(ctx, b, open, contexts); err != nil {
			return err
		}
	}

	return s.deactivate(ctx, b.BoostID, "boost expired")
}

func openRows(rows []*AccountStatus) []*AccountStatus {
	var open []*AccountStatus
	for _, r := range rows {
		if !r.Status.IsTerminal() {
			open = append(open, r)
		}
	}
	return open
}

// gameContexts ranks the boost's GAME_RESPONSE logs and returns the
// per-account view the expiry conditions evaluate against. Nil for non-game
// boosts and when nobody played.
func (s *Service) gameContexts(ctx context.Context, b *Boost) (map[string]condition.GameContext, error) {
	if b.Type != TypeGame {
		return nil, nil
	}

	gp, err := b.GameParameters()
	if err != nil {
		return nil, err
	}

	responses, err := s.logs.Find(ctx, &Log{BoostID: b.BoostID, LogType: LogGameResponse}, func(tx *gorm.DB) *gorm.DB {
		return tx.Order("created_at ASC, id ASC")
	})
	if err != nil {
		return nil, err
	}
	if len(responses) == 0 {
		return nil, nil
	}

	// one entry per account; a resubmission replaces the score but keeps
	// the original submission order for tie breaking
	seq := make(map[string]int64, len(responses))
	entries := make(map[string]tournament.Entry, len(responses))
	for i, lg := range responses {
		var payload GameResponsePayload
		if err := json.Unmarshal(lg.Context, &payload); err != nil {
			zap.L().Warn("skipping malformed game response",
				zap.String("boost_id", b.BoostID),
				zap.String("account_id", lg.AccountID),
				zap.Error(err))
			continue
		}
		if _, seen := seq[lg.AccountID]; !seen {
			seq[lg.AccountID] = int64(i)
		}
		entries[lg.AccountID] = tournament.Entry{
			AccountID:       lg.AccountID,
			ScoreField:      gp.ScoreField,
			Score:           payload.Score(gp.ScoreField),
			TimeTakenMillis: payload.TimeTakenMillis,
			Seq:             seq[lg.AccountID],
		}
	}

	flat := make([]tournament.Entry, 0, len(entries))
	for _, e := range entries {
		flat = append(flat, e)
	}
	ranked := tournament.Rank(flat)

	if err := s.recordOutcomes(ctx, b, ranked); err != nil {
		return nil, err
	}

	selected := map[string]bool{}
	if b.HasFlag(FlagRandomSelection) {
		ep, err := b.ExpiryParams()
		if err != nil {
			return nil, err
		}
		selected = tournament.SelectRandom(ranked, ep.RandomWinnerCount, s.src)
	}

	return tournament.Contexts(ranked, selected), nil
}

func (s *Service) recordOutcomes(ctx context.Context, b *Boost, ranked []tournament.RankedEntry) error {
	logs := make([]*Log, 0, len(ranked))
	for _, e := range ranked {
		payload, err := json.Marshal(GameOutcomePayload{
			Rank:         e.Rank,
			AccountScore: e.Score,
			ScoreType:    string(e.ScoreType),
			TopScore:     e.TopScore,
			ScoreField:   e.ScoreField,
			RawScore:     e.Score,
		})
		if err != nil {
			return err
		}
		logs = append(logs, &Log{
			ID:        s.node.Generate().String(),
			BoostID:   b.BoostID,
			AccountID: e.AccountID,
			LogType:   LogGameOutcome,
			Context:   payload,
		})
	}
	return s.logs.BatchCreate(ctx, logs)
}

// expireAccounts applies the end-of-life transition to the given open rows.
// Winners and consolation recipients are routed through the orchestrator in
// one batch; everyone else falls through to EXPIRED.
func (s *Service) expireAccounts(ctx context.Context, b *Boost, open []*AccountStatus, contexts map[string]condition.GameContext) error {
	rules, err := b.Rules()
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	var winners []redemption.AffectedAccount
	var expired []string

	for _, row := range open {
		trig := condition.Trigger{
			AccountID:    row.AccountID,
			EventType:    "BOOST_EXPIRED",
			TimeInMillis: now,
		}
		if g, ok := contexts[row.AccountID]; ok {
			game := g
			trig.Game = &game
		}

		next, ok, err := condition.NextStatus(rules, row.Status, trig)
		if err != nil {
			return err
		}
		switch {
		case ok && (next == condition.StatusRedeemed || next == condition.StatusConsoled):
			winners = append(winners, redemption.AffectedAccount{
				AccountID: row.AccountID,
				UserID:    row.UserID,
				NewStatus: next,
			})
		default:
			expired = append(expired, row.AccountID)
		}
	}

	if len(winners) > 0 {
		// pay in rank order so a budget shortfall drops the lowest ranks
		if contexts != nil {
			sort.SliceStable(winners, func(i, j int) bool {
				return contexts[winners[i].AccountID].Rank < contexts[winners[j].AccountID].Rank
			})
		}
		trigger := &redemption.TriggerEvent{EventType: "BOOST_EXPIRED", TimeInMillis: now}
		if _, err := s.redeem(ctx, b, winners, trigger); err != nil {
			return err
		}
	}

	if len(expired) > 0 {
		if err := s.store.ApplyStatusUpdates(ctx, []redemption.StatusUpdate{{
			BoostID:    b.BoostID,
			NewStatus:  condition.StatusExpired,
			AccountIDs: expired,
			Context:    map[string]any{"reason": "boost expired"},
		}}); err != nil {
			return err
		}
		for _, accountID := range expired {
			s.publishStatusEvent(ctx, b, accountID, condition.StatusExpired)
		}
	}
	return nil
}

// ExpireDueBoosts ends every non-game boost past its end time and applies
// individualized per-account expiry to boosts still running. Each boost is
// processed independently.
func (s *Service) ExpireDueBoosts(ctx context.Context) error {
	now := time.Now()
	live, err := s.liveOrDue(ctx)
	if err != nil {
		return err
	}

	for _, b := range live {
		if b.Type == TypeGame {
			continue
		}
		if !b.EndTime.IsZero() && b.EndTime.Before(now) {
			if err := s.ExpireBoost(ctx, b.BoostID); err != nil {
				zap.L().Error("boost expiry failed",
					zap.String("boost_id", b.BoostID), zap.Error(err))
			}
			continue
		}
		if b.HasFlag(FlagIndividualizedExpiry) {
			if err := s.expireDueAccounts(ctx, b, now); err != nil {
				zap.L().Error("individualized expiry failed",
					zap.String("boost_id", b.BoostID), zap.Error(err))
			}
		}
	}
	return nil
}

// EndFinishedTournaments runs the expiry pipeline for game boosts whose
// window has closed.
func (s *Service) EndFinishedTournaments(ctx context.Context) error {
	now := time.Now()
	live, err := s.liveOrDue(ctx)
	if err != nil {
		return err
	}

	for _, b := range live {
		if b.Type != TypeGame {
			continue
		}
		if b.EndTime.IsZero() || b.EndTime.After(now) {
			continue
		}
		if err := s.ExpireBoost(ctx, b.BoostID); err != nil {
			zap.L().Error("tournament end failed",
				zap.String("boost_id", b.BoostID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) expireDueAccounts(ctx context.Context, b *Boost, now time.Time) error {
	rows, err := s.statuses.Find(ctx, &AccountStatus{BoostID: b.BoostID}, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("expiry_time IS NOT NULL AND expiry_time <= ?", now)
	})
	if err != nil {
		return err
	}
	open := openRows(rows)
	if len(open) == 0 {
		return nil
	}
	return s.expireAccounts(ctx, b, open, nil)
}

func (s *Service) liveBoosts(ctx context.Context, now time.Time) ([]*Boost, error) {
	all, err := s.boosts.Find(ctx, &Boost{Active: true})
	if err != nil {
		return nil, err
	}
	live := make([]*Boost, 0, len(all))
	for _, b := range all {
		if b.IsLive(now) {
			live = append(live, b)
		}
	}
	return live, nil
}

// liveOrDue returns every active boost, including those already past their
// end time; the sweep decides which to end.
func (s *Service) liveOrDue(ctx context.Context) ([]*Boost, error) {
	return s.boosts.Find(ctx, &Boost{Active: true})
}

// boostRef flattens a boost into the orchestrator's view, filling pool and
// float defaults from configuration.
func (s *Service) boostRef(b *Boost) (redemption.BoostRef, error) {
	params, err := reward.ParseParameters(b.RewardParameters)
	if err != nil {
		return redemption.BoostRef{}, err
	}

	ref := redemption.BoostRef{
		BoostID:         b.BoostID,
		Type:            string(b.Type),
		Category:        b.Category,
		Label:           b.Label,
		Amount:          b.Amount,
		Unit:            b.Unit,
		Currency:        b.Currency,
		FromBonusPoolID: b.FromBonusPoolID,
		FromFloatID:     b.FromFloatID,
		ClientID:        b.ClientID,
		RewardParams:    params,
		ClientCaps: reward.ClientCaps{
			MaxPoolEntry:   s.cfg.Boost.MaxPoolEntry,
			MaxPoolPercent: decimal.NewFromFloat(s.cfg.Boost.MaxPoolPercent),
		},
		RemainingBudget: b.RemainingBudget,
		RedeemAllAtOnce: b.HasFlag(FlagRedeemAllAtOnce),
	}
	if ref.FromBonusPoolID == "" {
		ref.FromBonusPoolID = s.cfg.Boost.BonusPoolID
	}
	if ref.FromFloatID == "" {
		ref.FromFloatID = s.cfg.Boost.FloatID
	}
	for _, mi := range b.MessageInstructionList() {
		ref.MessageInstructions = append(ref.MessageInstructions, redemption.MessageInstruction{
			InstructionID: mi.InstructionID,
			Template:      mi.Template,
			ForStatus:     mi.Status,
		})
	}
	return ref, nil
}

// contributorIDs returns every account holding a row under the boost; the
// pooled pot is funded by the full offered set.
func (s *Service) contributorIDs(ctx context.Context, boostID string) ([]string, error) {
	rows, err := s.statuses.Find(ctx, &AccountStatus{BoostID: boostID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.AccountID)
	}
	return ids, nil
}

func (s *Service) publishStatusEvent(ctx context.Context, b *Boost, accountID string, status condition.Status) {
	if err := s.publisher.PublishBoostEvent(ctx, events.BoostEvent{
		EventType: fmt.Sprintf("BOOST_%s", status),
		BoostID:   b.BoostID,
		AccountID: accountID,
		Status:    string(status),
		Metadata: map[string]string{
			"boostType":     string(b.Type),
			"boostCategory": b.Category,
		},
	}); err != nil {
		zap.L().Warn("failed to publish status event",
			zap.String("boost_id", b.BoostID),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}

func (s *Service) sendStatusMessages(ctx context.Context, b *Boost, accountID string, status condition.Status) {
	for _, mi := range b.MessageInstructionList() {
		if mi.Status != string(status) {
			continue
		}
		if err := s.messages.SendTemplateMessage(ctx, accountID, mi.Template, map[string]string{
			"boostId": b.BoostID,
			"status":  string(status),
		}); err != nil {
			zap.L().Warn("failed to trigger status message",
				zap.String("boost_id", b.BoostID),
				zap.String("account_id", accountID),
				zap.Error(err))
		}
	}
}
