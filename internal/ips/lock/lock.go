package lock

import "context"

// Locker provides mutual exclusion around a switch.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}
