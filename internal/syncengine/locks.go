package syncengine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// lockPollInterval bounds how long a Lock call can overshoot ctx
// cancellation while waiting for a contended corpus mutex.
const lockPollInterval = 10 * time.Millisecond

// CorpusLocks serializes sessions against the same corpus id on the server
// side (§5 "Inter-session"). A sync.Map of *sync.Mutex keyed by corpus id,
// same pattern as the teacher's per-drive lock registry in orchestrator.go.
type CorpusLocks struct {
	mu sync.Map // corpusID string -> *sync.Mutex
}

// NewCorpusLocks returns an empty lock registry, ready to use.
func NewCorpusLocks() *CorpusLocks {
	return &CorpusLocks{}
}

func (l *CorpusLocks) lockFor(corpusID string) *sync.Mutex {
	v, _ := l.mu.LoadOrStore(corpusID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Lock blocks until the corpus's mutex is acquired or ctx is cancelled. It
// polls TryLock rather than blocking on Lock in a background goroutine, so
// a cancelled caller can walk away cleanly instead of leaving a goroutine
// that eventually wins the mutex with nobody left to call release — that
// would wedge every future Lock against corpusID for the life of the
// process. The returned func releases it; callers must call it exactly
// once.
func (l *CorpusLocks) Lock(ctx context.Context, corpusID string) (func(), error) {
	m := l.lockFor(corpusID)

	if m.TryLock() {
		return m.Unlock, nil
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if m.TryLock() {
				return m.Unlock, nil
			}
		}
	}
}

// readAhead runs fns concurrently, bounded by limit, returning the first
// error encountered. Used by the sanity checker to fetch its nine counts
// in parallel instead of nine sequential round trips (§5 errgroup wiring).
func readAhead(ctx context.Context, limit int, fns ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, fn := range fns {
		g.Go(func() error { return fn(ctx) })
	}

	return g.Wait()
}
