package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletd/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type secureBlobModel struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     []byte    `gorm:"type:bytea;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (secureBlobModel) TableName() string {
	return "secure_blobs"
}

// Postgres is the durable store backend. Values are already encrypted and
// integrity-protected by the layers above; the database only sees blobs.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := gdb.AutoMigrate(&secureBlobModel{}); err != nil {
		return nil, fmt.Errorf("migrate secure_blobs: %w", err)
	}
	return &Postgres{db: gdb}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var model secureBlobModel
	err := p.db.WithContext(ctx).First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.Value, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	model := secureBlobModel{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model).Error
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	return p.db.WithContext(ctx).Delete(&secureBlobModel{}, "key = ?", key).Error
}

var _ Store = (*Postgres)(nil)
