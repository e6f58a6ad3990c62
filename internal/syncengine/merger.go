package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncproto"
)

// Merger applies a received change set using the four-step procedure of
// the distilled spec's §4.4: graves first (facts, then cards, then
// groups), then models/groups/group-configs by strict mod comparison,
// then tag union, then conf replacement.
type Merger struct {
	store  *corpus.Store
	logger *slog.Logger
}

// NewMerger creates a Merger over store.
func NewMerger(store *corpus.Store, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Merger{store: store, logger: logger}
}

// Apply merges cs into the local corpus. params.MaxUsn is the usn stamped
// on every tag registered during the merge (§4.4 step 3).
func (m *Merger) Apply(ctx context.Context, params syncproto.SessionParams, cs *syncproto.ChangeSet) error {
	if err := m.applyGraves(ctx, cs.Graves); err != nil {
		return fmt.Errorf("syncengine: merge graves: %w", err)
	}

	if err := m.applyNamed(ctx, corpus.TableModels, cs.Models); err != nil {
		return fmt.Errorf("syncengine: merge models: %w", err)
	}

	if err := m.applyNamed(ctx, corpus.TableGroups, cs.Groups.Groups); err != nil {
		return fmt.Errorf("syncengine: merge groups: %w", err)
	}

	if err := m.applyNamed(ctx, corpus.TableGConf, cs.Groups.Configs); err != nil {
		return fmt.Errorf("syncengine: merge group-configs: %w", err)
	}

	for name := range cs.Tags {
		if err := m.store.RegisterTag(ctx, name, params.MaxUsn); err != nil {
			return fmt.Errorf("syncengine: merge tag %q: %w", name, err)
		}
	}

	if cs.HasConf {
		meta, err := m.store.GetMeta(ctx)
		if err != nil {
			return fmt.Errorf("syncengine: merge conf read: %w", err)
		}

		meta.Conf = cs.Conf

		if err := m.store.SetMeta(ctx, meta); err != nil {
			return fmt.Errorf("syncengine: merge conf write: %w", err)
		}
	}

	m.logger.Debug("change set merged",
		slog.Int("models", len(cs.Models)),
		slog.Int("groups", len(cs.Groups.Groups)),
		slog.Int("tags", len(cs.Tags)),
		slog.Int("graves_facts", len(cs.Graves.Facts)),
		slog.Int("graves_cards", len(cs.Graves.Cards)),
		slog.Int("graves_groups", len(cs.Graves.Groups)),
	)

	return nil
}

// applyGraves removes facts (cascading their cards), then standalone
// cards, then groups — facts-first ordering prevents re-creating
// gravestones for cards whose fact is about to be erased (§4.4 step 1,
// §3 "Facts carry an implicit rule").
func (m *Merger) applyGraves(ctx context.Context, g syncproto.Graves) error {
	for _, fid := range g.Facts {
		if _, err := m.store.DeleteCardsByFact(ctx, fid); err != nil {
			return fmt.Errorf("cascade cards for fact %d: %w", fid, err)
		}

		if err := m.store.DeleteFact(ctx, fid); err != nil {
			return fmt.Errorf("delete fact %d: %w", fid, err)
		}
	}

	for _, cid := range g.Cards {
		if err := m.store.DeleteCard(ctx, cid); err != nil {
			return fmt.Errorf("delete card %d: %w", cid, err)
		}
	}

	for _, gid := range g.Groups {
		if err := m.store.DeleteSmallObject(ctx, corpus.TableGroups, gid); err != nil {
			return fmt.Errorf("delete group %d: %w", gid, err)
		}
	}

	return nil
}

// applyNamed inserts rows absent locally, or overwrites the local copy
// iff the incoming mod is strictly greater — equal mods leave the local
// copy untouched (§4.4 step 2).
func (m *Merger) applyNamed(ctx context.Context, t corpus.SmallObjectTable, rows []syncproto.NamedRow) error {
	for _, r := range rows {
		local, found, err := m.store.GetSmallObject(ctx, t, r.ID)
		if err != nil {
			return fmt.Errorf("read local %s %d: %w", t, r.ID, err)
		}

		if found && r.Mod <= local.Mod {
			continue
		}

		if err := m.store.UpsertSmallObject(ctx, t, r); err != nil {
			return fmt.Errorf("write %s %d: %w", t, r.ID, err)
		}
	}

	return nil
}
