package repository

import (
	"context"
	"errors"

	"boostplane/pkg/db/option"

	"gorm.io/gorm"
)

// Repository is the shared persistence surface for a single gorm model.
// Find returns an empty slice when nothing matches; FindOne returns (nil, nil).
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID string, resource any) error
	BatchCreate(ctx context.Context, resources []*T) error
	BatchUpdate(ctx context.Context, resources []*T) error
	Count(ctx context.Context, query *T) (int64, error)
}

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return s
	}
	return &store[T]{db: tx}
}

func (s *store[T]) apply(tx *gorm.DB, opts []option.QueryOption) *gorm.DB {
	for _, opt := range opts {
		tx = opt(tx)
	}
	return tx
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var out []*T
	tx := s.apply(s.db.WithContext(ctx).Where(query), opts)
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var out T
	tx := s.apply(s.db.WithContext(ctx).Where(query), opts)
	if err := tx.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (s *store[T]) Create(ctx context.Context, resource *T) error {
	return s.db.WithContext(ctx).Create(resource).Error
}

// Update filters on the model's primary key column, whatever gorm resolved
// it to, so stores over models without an "id" column behave the same.
func (s *store[T]) Update(ctx context.Context, resourceID string, resource any) error {
	var model T
	tx := s.db.WithContext(ctx).Model(&model)
	if err := tx.Statement.Parse(&model); err != nil {
		return err
	}
	key := "id"
	if field := tx.Statement.Schema.PrioritizedPrimaryField; field != nil {
		key = field.DBName
	}
	return tx.Where(key+" = ?", resourceID).Updates(resource).Error
}

func (s *store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(resources, 100).Error
}

func (s *store[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	for _, r := range resources {
		if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *store[T]) Count(ctx context.Context, query *T) (int64, error) {
	var model T
	var count int64
	if err := s.db.WithContext(ctx).Model(&model).Where(query).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
