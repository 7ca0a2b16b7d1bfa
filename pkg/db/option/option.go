package option

import (
	"fmt"
	"strings"

	"boostplane/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before it is executed.
type QueryOption func(tx *gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

func ApplyOperator(cond Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			column = "created_at"
		}

		order := strings.ToUpper(sort.OrderBy)
		if order != "ASC" && order != "DESC" {
			order = "DESC"
		}

		return tx.Order(fmt.Sprintf("%s %s", column, order))
	}
}

func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}

		if p.Cursor != "" {
			cursor, err := pagination.DecodeCursor(p.Cursor)
			if err == nil && cursor.CreatedAt != "" {
				tx = tx.Where("created_at < ?", cursor.CreatedAt)
			}
		}

		// fetch one extra row so callers can detect has_more
		return tx.Limit(limit + 1)
	}
}

// WithLockingUpdate adds FOR UPDATE to the query. Only meaningful inside a
// transaction. SQLite has no row locks, so the clause is skipped there.
func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate is the scope form of WithLockingUpdate, for tx.Scopes.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
