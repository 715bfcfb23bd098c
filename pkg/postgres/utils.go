package postgres

import (
	"context"

	"gorm.io/gorm"
)

// DB returns the underlying GORM DB client
// This is for cases where direct access to GORM is needed
func (p *Postgres) DB() *gorm.DB {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// Create inserts value and returns the translated error.
func (p *Postgres) Create(ctx context.Context, value interface{}) error {
	return TranslateError(p.DB().WithContext(ctx).Create(value).Error)
}

// Find loads every row matching conditions into dest, newest first when
// order is empty.
func (p *Postgres) Find(ctx context.Context, dest interface{}, order string, limit int, conditions ...interface{}) error {
	q := p.DB().WithContext(ctx)
	if order != "" {
		q = q.Order(order)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return TranslateError(q.Find(dest, conditions...).Error)
}

// Count returns the number of rows of model matching conditions.
func (p *Postgres) Count(ctx context.Context, model interface{}, conditions ...interface{}) (int64, error) {
	var count int64
	q := p.DB().WithContext(ctx).Model(model)
	if len(conditions) > 0 {
		q = q.Where(conditions[0], conditions[1:]...)
	}
	err := q.Count(&count).Error
	return count, TranslateError(err)
}

// AutoMigrate creates or updates the tables of models.
func (p *Postgres) AutoMigrate(ctx context.Context, models ...interface{}) error {
	return p.DB().WithContext(ctx).AutoMigrate(models...)
}
