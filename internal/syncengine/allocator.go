// Package syncengine implements the six cooperating components of the
// incremental synchronization core: the USN allocator, the change
// extractor, the change merger, the chunk streamer, the sanity checker,
// and the session driver that orchestrates them (distilled spec §2).
package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardsync/cardsync/internal/corpus"
)

// Allocator tracks the corpus's monotonic USN and performs the finalize
// step's metadata rewrite (distilled spec §2 "USN allocator & gravestones",
// §4.1 "Finalize").
type Allocator struct {
	store  *corpus.Store
	logger *slog.Logger
}

// NewAllocator creates an Allocator over store.
func NewAllocator(store *corpus.Store, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Allocator{store: store, logger: logger}
}

// CurrentMeta returns the corpus's current (mod, scm, usn) triple, the
// values both Meta() (server) and the client's own locally-computed
// meta (§4.1 Step 1) are built from.
func (a *Allocator) CurrentMeta(ctx context.Context) (corpus.Meta, error) {
	m, err := a.store.GetMeta(ctx)
	if err != nil {
		return corpus.Meta{}, fmt.Errorf("syncengine: allocator read meta: %w", err)
	}

	return m, nil
}

// Finalize commits the corpus's post-session metadata: ls = mod,
// usn = maxUsn + 1, mod = mod (distilled spec §4.1 "Finalize", §3
// "Lifecycle"). Must run inside the same write transaction as every other
// mutation of the session (§5 "Cancellation").
func (a *Allocator) Finalize(ctx context.Context, maxUsn int32, mod int64) error {
	meta, err := a.store.GetMeta(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: allocator finalize read: %w", err)
	}

	meta.Mod = mod
	meta.LS = mod
	meta.Usn = maxUsn + 1

	if err := a.store.SetMeta(ctx, meta); err != nil {
		return fmt.Errorf("syncengine: allocator finalize write: %w", err)
	}

	a.logger.Info("corpus finalized",
		slog.Int64("mod", mod),
		slog.Int("new_usn", int(meta.Usn)),
	)

	return nil
}
