// Package lifecycle provides the single lock that serializes every mutating operation on
// server instances and their backups.
package lifecycle

import (
	"context"
	"time"

	"github.com/gofrs/flock"
	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds how long a caller waits to acquire the lock.
const DefaultTimeout = 5 * time.Minute

const fileRetryDelay = 250 * time.Millisecond

// Lock is a process-wide mutual exclusion with a bounded acquire wait. When a lock file is
// configured it also holds an exclusive flock so processes on the same host exclude each other.
type Lock struct {
	sem     chan struct{}
	timeout time.Duration
	file    *flock.Flock
}

// New returns a Lock. A zero timeout selects DefaultTimeout; an empty lockFile disables the
// host-wide file lock.
func New(timeout time.Duration, lockFile string) *Lock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &Lock{
		sem:     make(chan struct{}, 1),
		timeout: timeout,
	}
	if lockFile != "" {
		l.file = flock.New(lockFile)
	}
	return l
}

// Acquire blocks until the lock is held, ctx is done, or the timeout elapses. The returned
// release function must be called exactly once.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	select {
	case l.sem <- struct{}{}:
	case <-waitCtx.Done():
		return nil, l.timeoutError(ctx)
	}

	if l.file != nil {
		locked, err := l.file.TryLockContext(waitCtx, fileRetryDelay)
		if err != nil || !locked {
			<-l.sem
			if err != nil && waitCtx.Err() == nil {
				return nil, apperr.Upstream(err, "lock file %s", l.file.Path())
			}
			return nil, l.timeoutError(ctx)
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		if l.file != nil {
			if err := l.file.Unlock(); err != nil {
				log.Error().Err(err).Str("lock_file", l.file.Path()).Msg("Failed to release lock file")
			}
		}
		<-l.sem
	}, nil
}

func (l *Lock) timeoutError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindLockTimeout, err, "lifecycle lock not acquired")
	}
	return apperr.New(apperr.KindLockTimeout, "lifecycle lock not acquired within %s", l.timeout)
}

// Do runs fn while holding the lock. Once acquired, fn runs on a context detached from the
// caller's cancellation; the lock is released however fn returns, including by panic.
func (l *Lock) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(context.WithoutCancel(ctx))
}
