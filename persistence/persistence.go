package persistence

import (
	"fmt"

	"github.com/tcriess/lightspeed-versus/config"
)

const (
	TypeGormPostgres = "gorm-postgres"
	TypeGormSQLite   = "gorm-sqlite"
	TypePostgres     = "postgres"
	TypeSQLite       = "sqlite"
	TypeBuntDB       = "buntdb"
	TypeRedis        = "redis"
)

// NewPersister creates the persister selected by cfg.PersistenceConfig.Type. It returns nil, nil if no persistence
// is configured.
func NewPersister(cfg *config.Config) (Persister, error) {
	pc := cfg.PersistenceConfig
	if pc.Type == "" {
		return nil, nil
	}
	if pc.DSN == "" {
		return nil, fmt.Errorf("persistence type %q requires a dsn", pc.Type)
	}
	switch pc.Type {
	case TypeGormPostgres, TypeGormSQLite:
		return NewGormPersister(cfg)

	case TypePostgres, TypeSQLite:
		return NewSQLPersister(cfg)

	case TypeBuntDB:
		return NewBuntPersister(cfg)

	case TypeRedis:
		return NewRedisPersister(cfg)
	}
	return nil, fmt.Errorf("invalid persistence type %q", pc.Type)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}
