package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncproto"
)

// Peer is the six wire operations of §6, implemented either by a remote
// transport.Client or by another in-process Session (used for tests and
// for a local-to-local run with no network, mirroring the original
// implementation's LocalServer/RemoteServer proxy split).
type Peer interface {
	Meta(ctx context.Context) (syncproto.MetaResult, error)
	ApplyChanges(ctx context.Context, minUsn int32, lnewer bool, cs *syncproto.ChangeSet) (*syncproto.ChangeSet, error)
	Chunk(ctx context.Context) (*syncproto.Chunk, error)
	ApplyChunk(ctx context.Context, c *syncproto.Chunk) error
	SanityCheck(ctx context.Context) (syncproto.SanityVector, error)
	Finish(ctx context.Context, mod int64) (int64, error)
}

// Session drives or serves the five-step protocol (distilled spec §4.1).
// One implementation plays both roles; only Role and which side calls
// Run versus exposes itself as a Peer differ.
type Session struct {
	ID   string
	role syncproto.Role

	store   *corpus.Store
	alloc   *Allocator
	extract *Extractor
	merge   *Merger
	chunker *Chunker
	sanity  *SanityChecker
	logger  *slog.Logger

	params syncproto.SessionParams
}

// NewSession wires the six components around a single corpus store. id,
// when empty, is minted with uuid.NewString() — the same correlation-id
// pattern the teacher stamps on every sync cycle. chunkSize is the
// configured sync.chunk_size row budget (0 falls back to the chunker's
// own default).
func NewSession(role syncproto.Role, store *corpus.Store, logger *slog.Logger, id string, chunkSize int) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	if id == "" {
		id = uuid.NewString()
	}

	return &Session{
		ID:      id,
		role:    role,
		store:   store,
		alloc:   NewAllocator(store, logger),
		extract: NewExtractor(store, logger),
		merge:   NewMerger(store, logger),
		chunker: NewChunker(store, logger, chunkSize),
		sanity:  NewSanityChecker(store, logger),
		logger:  logger.With(slog.String("session_id", id), slog.String("role", role.String())),
	}
}

// Meta is wire step 1's server half: the corpus's current (mod, scm, usn).
func (s *Session) Meta(ctx context.Context) (syncproto.MetaResult, error) {
	m, err := s.alloc.CurrentMeta(ctx)
	if err != nil {
		return syncproto.MetaResult{}, s.wrap("meta", err)
	}

	return syncproto.MetaResult{Mod: m.Mod, Scm: m.Scm, Usn: m.Usn}, nil
}

// ApplyChanges is wire step 2's server half: store parameters, build our
// own change set under them, merge the peer's set, then hand ours back.
// The ordering in the doc comment matters: it is what makes the server
// record client-origin rows at maxUsn while still treating its own
// outbound rows as "newer than minUsn" (§4.1 step 2). This opens the
// server's single session write transaction, held until Finish commits it
// or an error path rolls it back (§5 "one write transaction per side").
func (s *Session) ApplyChanges(ctx context.Context, minUsn int32, peerLNewer bool, peerCS *syncproto.ChangeSet) (*syncproto.ChangeSet, error) {
	if err := s.store.Begin(ctx); err != nil {
		return nil, s.wrap("applyChanges", err)
	}

	meta, err := s.alloc.CurrentMeta(ctx)
	if err != nil {
		s.abort()
		return nil, s.wrap("applyChanges", err)
	}

	s.params = syncproto.SessionParams{
		MinUsn: minUsn,
		MaxUsn: meta.Usn,
		LNewer: !peerLNewer,
	}

	ours, err := s.extract.Build(ctx, s.role, s.params)
	if err != nil {
		s.abort()
		return nil, s.wrap("applyChanges", err)
	}

	if err := s.merge.Apply(ctx, s.params, peerCS); err != nil {
		s.abort()
		return nil, s.wrap("applyChanges", err)
	}

	s.chunker.Prepare()

	return ours, nil
}

// Chunk is wire step 3/4's producer half.
func (s *Session) Chunk(ctx context.Context) (*syncproto.Chunk, error) {
	c, err := s.chunker.Next(ctx, s.role, s.params)
	if err != nil {
		s.abort()
		return nil, s.wrap("chunk", err)
	}

	return c, nil
}

// ApplyChunk is wire step 3/4's receiver half.
func (s *Session) ApplyChunk(ctx context.Context, c *syncproto.Chunk) error {
	if err := s.chunker.Apply(ctx, s.role, s.params, c); err != nil {
		s.abort()
		return s.wrap("applyChunk", err)
	}

	return nil
}

// SanityCheck is wire step 5.
func (s *Session) SanityCheck(ctx context.Context) (syncproto.SanityVector, error) {
	v, err := s.sanity.Check(ctx)
	if err != nil {
		s.abort()
		return syncproto.SanityVector{}, s.wrap("sanityCheck", err)
	}

	return v, nil
}

// Finish commits the session's metadata and its write transaction. The
// server decides mod when called with mod == 0 (it owns the wall-clock
// decision, §4.1 "Finalize"); the client receives the server's choice and
// must pass the same value back through its own Finish call.
func (s *Session) Finish(ctx context.Context, mod int64) (int64, error) {
	if mod == 0 {
		mod = time.Now().UnixMilli()
	}

	if err := s.alloc.Finalize(ctx, s.params.MaxUsn, mod); err != nil {
		s.abort()
		return 0, s.wrap("finish", err)
	}

	if err := s.store.Commit(); err != nil {
		return 0, s.wrap("finish", err)
	}

	return mod, nil
}

// abort rolls back the session's write transaction on any error path
// reached before Finish commits it. Logged rather than returned since it
// always runs alongside a more specific error the caller already reports.
func (s *Session) abort() {
	if err := s.store.Rollback(); err != nil {
		s.logger.Warn("rollback session transaction", slog.Any("error", err))
	}
}

// Run drives the full five-step protocol against peer, playing the
// client role throughout. It is the counterpart to exposing a Session
// itself as a Peer on the server side (via internal/transport.Handler).
func (s *Session) Run(ctx context.Context, peer Peer, ourMeta syncproto.MetaResult) (syncproto.Outcome, error) {
	remote, err := peer.Meta(ctx)
	if err != nil {
		return syncproto.OutcomeNoChanges, s.wrap("meta", err)
	}

	if ourMeta.Mod == remote.Mod {
		return syncproto.OutcomeNoChanges, nil
	}

	if ourMeta.Scm != remote.Scm {
		return syncproto.OutcomeFullSync, nil
	}

	lnewer := ourMeta.Mod > remote.Mod
	s.params = syncproto.SessionParams{MinUsn: ourMeta.Usn, MaxUsn: remote.Usn, LNewer: lnewer}

	if err := s.store.Begin(ctx); err != nil {
		return syncproto.OutcomeNoChanges, s.wrap("run", err)
	}

	ours, err := s.extract.Build(ctx, s.role, s.params)
	if err != nil {
		s.abort()
		return syncproto.OutcomeNoChanges, s.wrap("run", err)
	}

	theirs, err := peer.ApplyChanges(ctx, ourMeta.Usn, lnewer, ours)
	if err != nil {
		s.abort()
		return syncproto.OutcomeNoChanges, s.wrap("applyChanges", err)
	}

	if err := s.merge.Apply(ctx, s.params, theirs); err != nil {
		s.abort()
		return syncproto.OutcomeNoChanges, s.wrap("run", err)
	}

	s.chunker.Prepare()

	if err := s.streamFromPeer(ctx, peer); err != nil {
		s.abort()
		return syncproto.OutcomeNoChanges, err
	}

	if err := s.streamToPeer(ctx, peer); err != nil {
		s.abort()
		return syncproto.OutcomeNoChanges, err
	}

	if err := s.reconcile(ctx, peer); err != nil {
		return syncproto.OutcomeNoChanges, err
	}

	finalMod, err := peer.Finish(ctx, 0)
	if err != nil {
		s.abort()
		return syncproto.OutcomeNoChanges, s.wrap("finish", err)
	}

	if _, err := s.Finish(ctx, finalMod); err != nil {
		return syncproto.OutcomeNoChanges, err
	}

	return syncproto.OutcomeSuccess, nil
}

// streamFromPeer is step 3: pull chunks from the server and apply them
// locally until the peer reports done.
func (s *Session) streamFromPeer(ctx context.Context, peer Peer) error {
	for {
		c, err := peer.Chunk(ctx)
		if err != nil {
			return s.wrap("chunk", err)
		}

		if err := s.chunker.Apply(ctx, s.role, s.params, c); err != nil {
			return s.wrap("applyChunk", err)
		}

		if c.Done {
			return nil
		}
	}
}

// streamToPeer is step 4: produce local chunks and push them to the
// server until our own streamer reports done. Reuses s.chunker, whose
// tablesLeft cursor was armed by Prepare() in Run() and left untouched by
// streamFromPeer (Apply is stateless, Next is the only state mutator).
func (s *Session) streamToPeer(ctx context.Context, peer Peer) error {
	for {
		c, err := s.chunker.Next(ctx, s.role, s.params)
		if err != nil {
			return s.wrap("chunk", err)
		}

		if err := peer.ApplyChunk(ctx, c); err != nil {
			return s.wrap("applyChunk", err)
		}

		if c.Done {
			return nil
		}
	}
}

// reconcile is step 5: compare the locally computed sanity vector against
// the peer's, surfacing ErrSanityMismatch on disagreement (§4.6). Any
// failure here aborts the session transaction rather than committing a
// corpus the two sides disagree about.
func (s *Session) reconcile(ctx context.Context, peer Peer) error {
	local, err := s.sanity.Check(ctx)
	if err != nil {
		s.abort()
		return s.wrap("sanityCheck", err)
	}

	remote, err := peer.SanityCheck(ctx)
	if err != nil {
		s.abort()
		return s.wrap("sanityCheck", err)
	}

	if !local.Equal(remote) {
		s.sanity.DumpMismatch(s.role, local, remote, time.Now())

		s.abort()

		return s.wrap("sanityCheck", fmt.Errorf("%w: local %+v != remote %+v", syncproto.ErrSanityMismatch, local, remote))
	}

	return nil
}

func (s *Session) wrap(step string, err error) error {
	if err == nil {
		return nil
	}

	return &syncproto.SyncError{SessionID: s.ID, Step: step, Role: s.role, Err: err}
}
