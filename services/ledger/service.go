package ledger

import (
	"context"
	"encoding/json"
	"time"

	"boostplane/pkg/db/option"
	"boostplane/pkg/errutil"
	"boostplane/pkg/money"
	"boostplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	ledger  repository.Repository[LedgerEntry]
	balance repository.Repository[Balance]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		ledger:  repository.ProvideStore[LedgerEntry](p.DB),
		balance: repository.ProvideStore[Balance](p.DB),
	}
}

// Transfer executes each instruction in its own transaction. A failing
// instruction rolls back completely and aborts the call; results for
// instructions processed before the failure are discarded, so callers can
// retry the whole operation safely.
func (s *Service) Transfer(ctx context.Context, instructions []TransferInstruction) (map[string]TransferResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}

	results := make(map[string]TransferResult, len(instructions))
	for _, instr := range instructions {
		result, err := s.processInstruction(ctx, instr)
		if err != nil {
			zap.L().With(opts...).Error("transfer instruction failed",
				zap.String("identifier", instr.Identifier),
				zap.Error(err))
			return nil, err
		}
		results[instr.Identifier] = result
	}

	return results, nil
}

func (s *Service) processInstruction(ctx context.Context, instr TransferInstruction) (TransferResult, error) {
	if instr.Identifier == "" {
		return TransferResult{}, errutil.BadRequest("transfer instruction requires an identifier")
	}
	if len(instr.Recipients) == 0 {
		return TransferResult{}, errutil.BadRequest("transfer instruction requires recipients")
	}

	var total int64
	for _, r := range instr.Recipients {
		if r.Amount < 0 {
			return TransferResult{}, errutil.BadRequest("negative recipient amount")
		}
		total += r.Amount
	}

	transactionID, err := GenerateTransactionID()
	if err != nil {
		return TransferResult{}, err
	}

	metaBytes, _ := json.Marshal(instr.ReferenceAmounts)

	result := TransferResult{
		Result:       TransferSuccess,
		AccountTxIDs: make(map[string]string, len(instr.Recipients)),
	}

	// recipients pointing at the bonus pool invert the flow: recipients are
	// debited and the pool account named by FromID receives the total
	// (revocations and pooled funding legs)
	inbound := instr.ToType == AccountTypeBonusPool

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		for _, r := range instr.Recipients {
			entryType := EntryCredit
			if inbound {
				entryType = EntryDebit
			}
			entry, err := s.appendEntry(ctx, tx, EntryParams{
				AccountID:     r.RecipientID,
				AccountType:   r.RecipientType,
				Type:          entryType,
				Amount:        r.Amount,
				Unit:          instr.Unit,
				Currency:      instr.Currency,
				TransactionID: transactionID,
				ReferenceID:   instr.Identifier,
				Metadata:      datatypes.JSON(metaBytes),
			})
			if err != nil {
				return err
			}
			result.AccountTxIDs[r.RecipientID] = entry.ID
		}

		sourceType := EntryDebit
		if inbound {
			sourceType = EntryCredit
		}
		sourceEntry, err := s.appendEntry(ctx, tx, EntryParams{
			AccountID:     instr.FromID,
			AccountType:   instr.FromType,
			Type:          sourceType,
			Amount:        total,
			Unit:          instr.Unit,
			Currency:      instr.Currency,
			TransactionID: transactionID,
			ReferenceID:   instr.Identifier,
			Metadata:      datatypes.JSON(metaBytes),
		})
		if err != nil {
			return err
		}
		result.FloatTxIDs = append(result.FloatTxIDs, sourceEntry.ID)

		return nil
	}); err != nil {
		return TransferResult{}, err
	}

	return result, nil
}

// appendEntry writes one hash-chained entry and maintains the account's
// balance row. Must run inside a locked transaction.
func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, p EntryParams) (*LedgerEntry, error) {
	ledgerTx := s.ledger.WithTrx(tx)
	balanceTx := s.balance.WithTrx(tx)

	lastEntry, err := ledgerTx.FindOne(ctx, &LedgerEntry{AccountID: p.AccountID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, err
	}

	previousHash := "GENESIS"
	if lastEntry != nil {
		previousHash = lastEntry.Hash
	}

	p.EntryID = s.node.Generate().String()
	p.PreviousHash = previousHash
	entry := NewEntry(p)
	entry.CreatedAt = time.Now()
	entry.Hash = entry.GenerateHash()

	if err := ledgerTx.Create(ctx, entry); err != nil {
		return nil, err
	}

	delta := entry.Amount
	if entry.Type == EntryDebit {
		delta = -delta
	}

	balance, err := balanceTx.FindOne(ctx, &Balance{AccountID: p.AccountID})
	if err != nil {
		return nil, err
	}

	if balance == nil {
		if err := balanceTx.Create(ctx, &Balance{
			ID:        s.node.Generate().String(),
			AccountID: p.AccountID,
			Balance:   delta,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}); err != nil {
			return nil, err
		}
		return entry, nil
	}

	updates := map[string]any{
		"balance":    gorm.Expr("balance + ?", delta),
		"updated_at": time.Now(),
	}
	if err := balanceTx.Update(ctx, balance.ID, &updates); err != nil {
		return nil, err
	}

	return entry, nil
}

// Deposit credits an account directly, outside any transfer instruction.
// Used to fund the bonus pool and client floats.
func (s *Service) Deposit(ctx context.Context, accountID string, accountType AccountType, amount int64, unit money.Unit, currency, reference string) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, errutil.BadRequest("deposit amount must be > 0")
	}

	transactionID, err := GenerateTransactionID()
	if err != nil {
		return nil, err
	}

	var entry *LedgerEntry
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)
		entry, err = s.appendEntry(ctx, tx, EntryParams{
			AccountID:     accountID,
			AccountType:   accountType,
			Type:          EntryCredit,
			Amount:        amount,
			Unit:          unit,
			Currency:      currency,
			TransactionID: transactionID,
			ReferenceID:   reference,
		})
		return err
	}); err != nil {
		return nil, err
	}

	return entry, nil
}

// GetBalance returns the current balance for an account, zero when the
// account has never moved funds.
func (s *Service) GetBalance(ctx context.Context, accountID string) (int64, error) {
	balance, err := s.balance.FindOne(ctx, &Balance{AccountID: accountID})
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Balance, nil
}
