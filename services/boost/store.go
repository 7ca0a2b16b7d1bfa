package boost

import (
	"context"
	"encoding/json"

	"boostplane/pkg/repository"
	"boostplane/services/redemption"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store persists batched per-account status flips and their STATUS_CHANGE
// logs. Every StatusUpdate becomes one update statement and one log batch;
// both happen inside a single transaction per invocation.
type Store struct {
	db   *gorm.DB
	node *snowflake.Node
	logs repository.Repository[Log]
}

type StoreParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewStore(p StoreParams) *Store {
	return &Store{
		db:   p.DB,
		node: p.Node,
		logs: repository.ProvideStore[Log](p.DB),
	}
}

func (s *Store) ApplyStatusUpdates(ctx context.Context, updates []redemption.StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if len(u.AccountIDs) == 0 {
				continue
			}

			if err := tx.Model(&AccountStatus{}).
				Where("boost_id = ? AND account_id IN ?", u.BoostID, u.AccountIDs).
				Update("status", u.NewStatus).Error; err != nil {
				return err
			}

			logs, err := s.statusChangeLogs(u)
			if err != nil {
				return err
			}
			if err := s.logs.WithTrx(tx).BatchCreate(ctx, logs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) statusChangeLogs(u redemption.StatusUpdate) ([]*Log, error) {
	logContext := make(map[string]any, len(u.Context)+1)
	for k, v := range u.Context {
		logContext[k] = v
	}
	logContext["newStatus"] = string(u.NewStatus)

	b, err := json.Marshal(logContext)
	if err != nil {
		return nil, err
	}

	logs := make([]*Log, 0, len(u.AccountIDs))
	for _, accountID := range u.AccountIDs {
		logs = append(logs, &Log{
			ID:        s.node.Generate().String(),
			BoostID:   u.BoostID,
			AccountID: accountID,
			LogType:   LogStatusChange,
			Context:   b,
		})
	}
	return logs, nil
}

// CountByStatus returns how many accounts sit at the given status under a
// boost. Used by the deactivation check after full redemption.
func (s *Store) CountByStatus(ctx context.Context, boostID string, statuses ...string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AccountStatus{}).
		Where("boost_id = ? AND status IN ?", boostID, statuses).
		Count(&count).Error
	if err != nil {
		zap.L().Error("failed to count account statuses",
			zap.String("boost_id", boostID), zap.Error(err))
		return 0, err
	}
	return count, nil
}
