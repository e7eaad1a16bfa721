package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Query narrows a listing. Zero fields are ignored.
type Query struct {
	Where   map[string]any
	OrderBy string
	Limit   int
}

// Repository is the read side of a journal table.
type Repository[T any] interface {
	Find(ctx context.Context, q Query) ([]*T, error)
	Count(ctx context.Context, where map[string]any) (int64, error)
}

// GormRepository implements Repository using Gorm
type GormRepository[T any] struct {
	db *gorm.DB
}

func NewGormRepository[T any](db *gorm.DB) *GormRepository[T] {
	return &GormRepository[T]{db: db}
}

// DB returns the underlying database connection for specialized queries
func (repository *GormRepository[T]) DB() *gorm.DB {
	return repository.db
}

func (repository *GormRepository[T]) Find(ctx context.Context, q Query) ([]*T, error) {
	tx := repository.db.WithContext(ctx)
	for field, value := range q.Where {
		tx = tx.Where(fmt.Sprintf("%s = ?", field), value)
	}
	if q.OrderBy != "" {
		tx = tx.Order(q.OrderBy)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var entities []*T
	if err := tx.Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return entities, nil
}

func (repository *GormRepository[T]) Count(ctx context.Context, where map[string]any) (int64, error) {
	var entity T
	tx := repository.db.WithContext(ctx).Model(&entity)
	for field, value := range where {
		tx = tx.Where(fmt.Sprintf("%s = ?", field), value)
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
