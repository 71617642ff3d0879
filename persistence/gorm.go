package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcriess/lightspeed-versus/config"
	"github.com/tcriess/lightspeed-versus/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case TypeGormPostgres:
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case TypeGormSQLite:
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.Migrator().AutoMigrate(&types.Match{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (p *GormPersist) RecordMatch(ctx context.Context, match *types.Match) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(match).Error
}

func (p *GormPersist) GetMatch(ctx context.Context, id string) (*types.Match, error) {
	match := &types.Match{}
	err := p.db.WithContext(ctx).First(match, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (p *GormPersist) GetMatches(ctx context.Context, offset, limit int) ([]*types.Match, error) {
	matches := make([]*types.Match, 0)
	err := p.db.WithContext(ctx).Order("created_at DESC").Offset(offset).Limit(clampLimit(limit)).Find(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (p *GormPersist) DeleteMatch(ctx context.Context, id string) error {
	res := p.db.WithContext(ctx).Delete(&types.Match{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *GormPersist) Close() error {
	db, err := p.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
