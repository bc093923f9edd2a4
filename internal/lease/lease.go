// Package lease provides TTL-bounded ownership tokens. A holder that crashes
// without releasing simply lets the lease expire.
package lease

import (
	"context"
	"time"
)

// Lease coordinates exclusive runs.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// DefaultTTL bounds how long a crashed holder can block the next run.
const DefaultTTL = 5 * time.Minute
