package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/tcriess/lightspeed-versus/config"
	"github.com/tcriess/lightspeed-versus/globals"
	"github.com/tcriess/lightspeed-versus/types"
	"github.com/tidwall/buntdb"
)

const (
	buntMatchPrefix = "match:"
	buntMatchIndex  = "matchts"
	buntMemory      = ":memory:"
)

// buntMatch is the stored document. Created duplicates CreatedAt as a number so the index orders correctly.
type buntMatch struct {
	*types.Match
	Created int64 `json:"created"`
}

type BuntDBPersist struct {
	db   *buntdb.DB
	lock *flock.Flock
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	db, lock, err := setupBuntDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	return &BuntDBPersist{db: db, lock: lock}, nil
}

// setupBuntDB opens the database file. Since buntdb is not safe for use by several processes, the file is guarded
// by an advisory lock (flock_path, or the database file name with a .lock suffix).
func setupBuntDB(cfg *config.Config) (*buntdb.DB, *flock.Flock, error) {
	fileName := cfg.PersistenceConfig.DSN
	if fileName == "" {
		return nil, nil, nil
	}
	var lock *flock.Flock
	if fileName != buntMemory {
		lockPath := cfg.PersistenceConfig.FlockPath
		if lockPath == "" {
			lockPath = fileName + ".lock"
		}
		lock = flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, nil, err
		}
		if !locked {
			return nil, nil, fmt.Errorf("buntdb file %s is locked by another process", fileName)
		}
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		unlock(lock)
		return nil, nil, err
	}
	err = db.CreateIndex(buntMatchIndex, buntMatchPrefix+"*", buntdb.IndexJSON("created"))
	if err != nil {
		db.Close()
		unlock(lock)
		return nil, nil, err
	}
	return db, lock, nil
}

func unlock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		globals.AppLogger.Error("could not release buntdb lock", "path", lock.Path(), "error", err)
	}
}

func (p *BuntDBPersist) RecordMatch(_ context.Context, match *types.Match) error {
	m, err := json.Marshal(buntMatch{Match: match, Created: match.CreatedAt.UnixNano()})
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(buntMatchPrefix+match.Id, string(m), nil)
		return err
	})
}

func (p *BuntDBPersist) GetMatch(_ context.Context, id string) (*types.Match, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	match := &types.Match{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		m, err := tx.Get(buntMatchPrefix + id)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(m), match)
	})
	if err == buntdb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (p *BuntDBPersist) GetMatches(_ context.Context, offset, limit int) ([]*types.Match, error) {
	limit = clampLimit(limit)
	matches := make([]*types.Match, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		currentNo := -1
		return tx.Descend(buntMatchIndex, func(key, val string) bool {
			currentNo++
			if currentNo < offset {
				return true
			}
			match := &types.Match{}
			if err := json.Unmarshal([]byte(val), match); err == nil {
				matches = append(matches, match)
			} else {
				globals.AppLogger.Warn("skipping unreadable match", "key", key, "error", err)
			}
			return len(matches) < limit
		})
	})
	return matches, err
}

func (p *BuntDBPersist) DeleteMatch(_ context.Context, id string) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(buntMatchPrefix + id)
		return err
	})
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (p *BuntDBPersist) Close() error {
	defer unlock(p.lock)
	return p.db.Close()
}
