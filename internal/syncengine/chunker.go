package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncproto"
)

// defaultChunkSize is the row budget per chunk() call when the caller
// passes no configured size (distilled spec §4.5, §9 glossary).
const defaultChunkSize = 5000

// pendingTable is one of the three large tables still owed by the stream,
// in the fixed order prescribed by §4.1's prepareToChunk.
type pendingTable int

const (
	pendingRevlog pendingTable = iota
	pendingCards
	pendingFacts
)

// Chunker streams the three large tables in bounded batches, in either
// direction (distilled spec §4.5). One Chunker instance is armed per
// outbound stream (steps 3 and 4 each get their own producer-side
// instance; Apply is stateless and lives on the same type for symmetry).
type Chunker struct {
	store     *corpus.Store
	logger    *slog.Logger
	chunkSize int

	tablesLeft []pendingTable
	cursor     int64 // last id fetched from the current head of tablesLeft
}

// NewChunker creates a Chunker over store, budgeting chunkSize rows per
// Next call (config's sync.chunk_size). A non-positive chunkSize falls
// back to defaultChunkSize, so tests and callers that don't care about the
// knob can pass 0.
func NewChunker(store *corpus.Store, logger *slog.Logger, chunkSize int) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}

	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &Chunker{store: store, logger: logger, chunkSize: chunkSize}
}

// Prepare arms the chunker with the pending-table list, called by both
// sides after merging the step-2 change set (§4.1 "prepareToChunk").
func (c *Chunker) Prepare() {
	c.tablesLeft = []pendingTable{pendingRevlog, pendingCards, pendingFacts}
	c.cursor = 0
}

// Next produces one chunk: up to c.chunkSize rows total, drawn from however
// many of the remaining tables fit in the budget, advancing to the next
// table the moment the current one runs dry (§4.5).
func (c *Chunker) Next(ctx context.Context, role syncproto.Role, params syncproto.SessionParams) (*syncproto.Chunk, error) {
	chunk := &syncproto.Chunk{}
	remaining := c.chunkSize

	for len(c.tablesLeft) > 0 && remaining > 0 {
		cur := c.tablesLeft[0]

		fetched, err := c.fetchInto(ctx, chunk, cur, role, params, remaining)
		if err != nil {
			return nil, err
		}

		if fetched < remaining {
			if ackErr := c.acknowledge(ctx, role, cur, params.MaxUsn); ackErr != nil {
				return nil, ackErr
			}

			c.tablesLeft = c.tablesLeft[1:]
			c.cursor = 0
		}

		remaining -= fetched
	}

	chunk.Done = len(c.tablesLeft) == 0

	return chunk, nil
}

func (c *Chunker) fetchInto(ctx context.Context, chunk *syncproto.Chunk, t pendingTable, role syncproto.Role, params syncproto.SessionParams, limit int) (int, error) {
	switch t {
	case pendingRevlog:
		rows, err := c.store.FetchRevlogPage(ctx, role, params.MinUsn, c.cursor, limit)
		if err != nil {
			return 0, fmt.Errorf("syncengine: fetch revlog chunk: %w", err)
		}

		for i := range rows {
			rows[i].USN = params.MaxUsn
		}

		chunk.Revlog = append(chunk.Revlog, rows...)

		if len(rows) > 0 {
			c.cursor = rows[len(rows)-1].ID
		}

		return len(rows), nil

	case pendingCards:
		rows, err := c.store.FetchCardsPage(ctx, role, params.MinUsn, c.cursor, limit)
		if err != nil {
			return 0, fmt.Errorf("syncengine: fetch cards chunk: %w", err)
		}

		for i := range rows {
			rows[i].USN = params.MaxUsn
		}

		chunk.Cards = append(chunk.Cards, rows...)

		if len(rows) > 0 {
			c.cursor = rows[len(rows)-1].ID
		}

		return len(rows), nil

	case pendingFacts:
		rows, err := c.store.FetchFactsPage(ctx, role, params.MinUsn, c.cursor, limit)
		if err != nil {
			return 0, fmt.Errorf("syncengine: fetch facts chunk: %w", err)
		}

		for i := range rows {
			rows[i].USN = params.MaxUsn
			rows[i].SFld = "" // recomputed on the receiving side, §4.5
		}

		chunk.Facts = append(chunk.Facts, rows...)

		if len(rows) > 0 {
			c.cursor = rows[len(rows)-1].ID
		}

		return len(rows), nil
	}

	return 0, fmt.Errorf("syncengine: unknown pending table %d", t)
}

// acknowledge rewrites usn = maxUsn on every dirty row of t. Only the
// client owns rows with usn = -1, so the server side of the stream is a
// no-op (§4.5).
func (c *Chunker) acknowledge(ctx context.Context, role syncproto.Role, t pendingTable, maxUsn int32) error {
	if role == syncproto.RoleServer {
		return nil
	}

	switch t {
	case pendingRevlog:
		return c.store.MarkRevlogAcknowledged(ctx, maxUsn)
	case pendingCards:
		return c.store.MarkCardsAcknowledged(ctx, maxUsn)
	case pendingFacts:
		return c.store.MarkFactsAcknowledged(ctx, maxUsn)
	}

	return nil
}

// Apply merges a received chunk into the local corpus (§4.5 "applyChunk").
// Revlog rows are deduped on primary key only. Cards and facts are compared
// only against local rows that match the receiver's USN predicate: such a
// local row is replaced only when the incoming mod is strictly newer, and an
// incoming row with no predicate-matching local copy is written as is. Sort
// fields are refreshed only for the fact ids actually retained, not the whole
// batch.
func (c *Chunker) Apply(ctx context.Context, role syncproto.Role, params syncproto.SessionParams, chunk *syncproto.Chunk) error {
	if len(chunk.Revlog) > 0 {
		if err := c.store.InsertIgnoreRevlog(ctx, chunk.Revlog); err != nil {
			return fmt.Errorf("syncengine: apply revlog chunk: %w", err)
		}
	}

	if len(chunk.Cards) > 0 {
		kept, err := c.filterNewerCards(ctx, role, params.MinUsn, chunk.Cards)
		if err != nil {
			return fmt.Errorf("syncengine: filter cards chunk: %w", err)
		}

		if err := c.store.UpsertCards(ctx, kept); err != nil {
			return fmt.Errorf("syncengine: apply cards chunk: %w", err)
		}
	}

	if len(chunk.Facts) > 0 {
		kept, err := c.filterNewerFacts(ctx, role, params.MinUsn, chunk.Facts)
		if err != nil {
			return fmt.Errorf("syncengine: filter facts chunk: %w", err)
		}

		if err := c.store.UpsertFacts(ctx, kept); err != nil {
			return fmt.Errorf("syncengine: apply facts chunk: %w", err)
		}

		ids := make([]int64, len(kept))
		for i, r := range kept {
			ids[i] = r.ID
		}

		if err := c.store.RefreshSortFields(ctx, ids); err != nil {
			return fmt.Errorf("syncengine: refresh sort fields: %w", err)
		}
	}

	return nil
}

func (c *Chunker) filterNewerCards(ctx context.Context, role syncproto.Role, minUsn int32, incoming []syncproto.CardRow) ([]syncproto.CardRow, error) {
	ids := make([]int64, len(incoming))
	for i, r := range incoming {
		ids[i] = r.ID
	}

	local, err := c.store.NewerCardMods(ctx, role, minUsn, ids)
	if err != nil {
		return nil, err
	}

	kept := incoming[:0:0]

	for _, r := range incoming {
		if localMod, found := local[r.ID]; !found || localMod < r.Mod {
			kept = append(kept, r)
		}
	}

	return kept, nil
}

func (c *Chunker) filterNewerFacts(ctx context.Context, role syncproto.Role, minUsn int32, incoming []syncproto.FactRow) ([]syncproto.FactRow, error) {
	ids := make([]int64, len(incoming))
	for i, r := range incoming {
		ids[i] = r.ID
	}

	local, err := c.store.NewerFactMods(ctx, role, minUsn, ids)
	if err != nil {
		return nil, err
	}

	kept := incoming[:0:0]

	for _, r := range incoming {
		if localMod, found := local[r.ID]; !found || localMod < r.Mod {
			kept = append(kept, r)
		}
	}

	return kept, nil
}
