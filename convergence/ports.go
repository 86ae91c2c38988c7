package convergence

import (
	"context"

	"virtops"
)

// Store holds the current and desired records of every identity.
type Store interface {
	// GetStates returns (nil, nil) exactly when id needs no further work.
	GetStates(ctx context.Context, id virtops.Identity) (current, desired *virtops.Record, err error)
	// SetCurrent replaces the current record of id atomically. A nil record
	// forgets it.
	SetCurrent(ctx context.Context, id virtops.Identity, current *virtops.Record) error
}

// Locker is implemented by stores that can keep other processes from
// converging the same identity.
type Locker interface {
	Lock(ctx context.Context, id virtops.Identity) (unlock func(), err error)
}
