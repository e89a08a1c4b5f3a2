package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// One engine invocation owns the workspace at a time. Checksum records and
// the journal tolerate readers, so dry runs take the lock shared; anything
// that writes outputs takes it exclusive.
const (
	lockRetries    = 50
	lockRetryDelay = 10 * time.Millisecond
)

// ErrWorkspaceLocked means another harvest process holds the workspace lock.
var ErrWorkspaceLocked = errors.New("another harvest process holds the workspace lock")

// Lock is a held workspace lock. Release it when the invocation ends.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the exclusive workspace lock, retrying briefly before
// giving up with ErrWorkspaceLocked.
func AcquireLock(workspace string) (*Lock, error) {
	return acquire(workspace, (*flock.Flock).TryLock)
}

// AcquireSharedLock takes the workspace lock shared, for invocations that
// only read the workspace. Shared holders coexist with each other but not
// with an exclusive holder.
func AcquireSharedLock(workspace string) (*Lock, error) {
	return acquire(workspace, (*flock.Flock).TryRLock)
}

func acquire(workspace string, try func(*flock.Flock) (bool, error)) (*Lock, error) {
	if err := EnsureHouse(workspace); err != nil {
		return nil, err
	}

	fl := flock.New(LockPath(workspace))
	for i := 0; i < lockRetries; i++ {
		locked, err := try(fl)
		if err != nil {
			return nil, fmt.Errorf("acquire workspace lock: %w", err)
		}
		if locked {
			return &Lock{fl: fl}, nil
		}
		time.Sleep(lockRetryDelay)
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkspaceLocked, LockPath(workspace))
}

// Release drops the lock. Releasing twice is an error from the underlying
// flock; callers release exactly once.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release workspace lock: %w", err)
	}
	return nil
}
