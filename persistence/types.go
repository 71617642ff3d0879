package persistence

import (
	"context"
	"errors"

	"github.com/tcriess/lightspeed-versus/types"
)

var ErrNotFound = errors.New("match not found")

// Persister stores finished matches. RecordMatch is idempotent for a given match id.
type Persister interface {
	RecordMatch(context.Context, *types.Match) error
	GetMatch(ctx context.Context, id string) (*types.Match, error)
	// GetMatches returns up to limit matches, newest first, skipping the first offset ones.
	GetMatches(ctx context.Context, offset, limit int) ([]*types.Match, error)
	DeleteMatch(ctx context.Context, id string) error
	Close() error
}
