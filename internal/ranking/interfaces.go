package ranking

import (
	"context"
	"time"
)

// Store persists ranking collections and reads the most recent one back.
type Store interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Latest(ctx context.Context) (Snapshot, error)
}

// Publisher pushes run-complete notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
