package poll

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when no poll matches.
var ErrNotFound = errors.New("poll not found")

// Store is the persistence port the coordinator consumes. Implementations
// are simple record storage; all lifecycle rules live in Lifecycle.
type Store interface {
	Create(ctx context.Context, p *Poll) error
	Get(ctx context.Context, id string) (*Poll, error)
	// FindActive returns the most recently created poll with the active flag
	// set, or ErrNotFound.
	FindActive(ctx context.Context) (*Poll, error)
	Save(ctx context.Context, p *Poll) error
	ListRecent(ctx context.Context, limit int) ([]*Poll, error)
}
