package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tcriess/lightspeed-versus/config"
	"github.com/tcriess/lightspeed-versus/types"
	"gorm.io/datatypes"
)

// SQLPersist stores matches through database/sql, either in PostgreSQL (lib/pq) or SQLite (go-sqlite3). Both
// drivers accept $n placeholders, so the queries are shared.
type SQLPersist struct {
	db *sql.DB
	sync.RWMutex
}

func NewSQLPersister(cfg *config.Config) (Persister, error) {
	db, err := setupSQLDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	return &SQLPersist{db: db}, nil
}

func setupSQLDB(cfg *config.Config) (*sql.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	var driverName string
	switch cfg.PersistenceConfig.Type {
	case TypePostgres:
		driverName = "postgres"
	case TypeSQLite:
		driverName = "sqlite3"
	default:
		return nil, fmt.Errorf("invalid sql configuration")
	}
	db, err := sql.Open(driverName, cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	query := `CREATE TABLE IF NOT EXISTS matches (
id TEXT PRIMARY KEY,
room_id TEXT NOT NULL,
player1_id TEXT NOT NULL,
player1_score DOUBLE PRECISION DEFAULT 0 NOT NULL,
player2_id TEXT NOT NULL,
player2_score DOUBLE PRECISION DEFAULT 0 NOT NULL,
winner TEXT DEFAULT '' NOT NULL,
scores TEXT DEFAULT '{}' NOT NULL,
created BIGINT DEFAULT 0 NOT NULL
);`
	_, err = db.Exec(query)
	if err != nil {
		db.Close()
		return nil, err
	}
	query = `CREATE INDEX IF NOT EXISTS matches_created_idx ON matches (created);`
	_, err = db.Exec(query)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (p *SQLPersist) RecordMatch(ctx context.Context, match *types.Match) error {
	p.Lock()
	defer p.Unlock()
	query := `INSERT INTO matches (id,room_id,player1_id,player1_score,player2_id,player2_score,winner,scores,created) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT (id) DO NOTHING;`
	_, err := p.db.ExecContext(ctx, query, match.Id, match.RoomId, match.Player1Id, match.Player1Score, match.Player2Id,
		match.Player2Score, match.Winner, string(match.Scores), match.CreatedAt.UnixNano())
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*types.Match, error) {
	var match types.Match
	var scores string
	var created int64
	err := row.Scan(&match.Id, &match.RoomId, &match.Player1Id, &match.Player1Score, &match.Player2Id,
		&match.Player2Score, &match.Winner, &scores, &created)
	if err != nil {
		return nil, err
	}
	match.Scores = datatypes.JSON(scores)
	match.CreatedAt = time.Unix(0, created).In(time.UTC)
	return &match, nil
}

func (p *SQLPersist) GetMatch(ctx context.Context, id string) (*types.Match, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,room_id,player1_id,player1_score,player2_id,player2_score,winner,scores,created FROM matches WHERE id=$1;`
	match, err := scanMatch(p.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (p *SQLPersist) GetMatches(ctx context.Context, offset, limit int) ([]*types.Match, error) {
	p.RLock()
	defer p.RUnlock()
	matches := make([]*types.Match, 0)
	query := `SELECT id,room_id,player1_id,player1_score,player2_id,player2_score,winner,scores,created FROM matches ORDER BY created DESC LIMIT $1 OFFSET $2;`
	rows, err := p.db.QueryContext(ctx, query, clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

func (p *SQLPersist) DeleteMatch(ctx context.Context, id string) error {
	p.Lock()
	defer p.Unlock()
	res, err := p.db.ExecContext(ctx, `DELETE FROM matches WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *SQLPersist) Close() error {
	return p.db.Close()
}
