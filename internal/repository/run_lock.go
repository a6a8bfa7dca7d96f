package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/gofrs/flock"
)

// LockRetryInterval defines the interval between lock retry attempts
const LockRetryInterval = 100 * time.Millisecond

// RunLock keeps two runs in the same workspace from building the same tags concurrently.
type RunLock interface {
	// Acquire takes the lock and returns the function releasing it.
	Acquire(ctx context.Context) (release func() error, err error)
}

type fileRunLock struct {
	path    string
	timeout time.Duration
}

// NewFileRunLock creates a RunLock backed by an flock on path.
// A zero timeout tries once instead of waiting.
func NewFileRunLock(path string, timeout time.Duration) RunLock {
	return &fileRunLock{path: path, timeout: timeout}
}

func (l *fileRunLock) Acquire(ctx context.Context) (func() error, error) {
	lock := flock.New(l.path)
	var (
		locked bool
		err    error
	)
	if l.timeout <= 0 {
		locked, err = lock.TryLock()
	} else {
		lockCtx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		locked, err = acquireLockWithContext(lockCtx, lock)
		if lockCtx.Err() != nil && ctx.Err() == nil {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock %s: %w", l.path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s is held by another run", domain.ErrRunInProgress, l.path)
	}
	return lock.Unlock, nil
}

// acquireLockWithContext attempts to acquire an exclusive lock until the context ends
func acquireLockWithContext(ctx context.Context, lock *flock.Flock) (bool, error) {
	ticker := time.NewTicker(LockRetryInterval)
	defer ticker.Stop()
	for {
		locked, err := lock.TryLock()
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
