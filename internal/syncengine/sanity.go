package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncproto"
)

// SanityChecker computes the post-merge fingerprint and the integrity
// invariants both sides must hold before trusting that fingerprint
// (distilled spec §4.6).
type SanityChecker struct {
	store  *corpus.Store
	logger *slog.Logger

	// ForensicDir, when non-empty, receives a YAML snapshot of both the local
	// and the peer vectors on a sanity mismatch, so a human can diff the two sides after
	// the fact (SPEC_FULL.md "sanity disagreement recovery").
	ForensicDir string
}

// NewSanityChecker creates a SanityChecker over store.
func NewSanityChecker(store *corpus.Store, logger *slog.Logger) *SanityChecker {
	if logger == nil {
		logger = slog.Default()
	}

	return &SanityChecker{store: store, logger: logger}
}

// Check verifies the four integrity invariants and then computes the
// sanity vector. Integrity failures are reported before the vector is even
// built, since a vector computed over a broken corpus is meaningless.
func (c *SanityChecker) Check(ctx context.Context) (syncproto.SanityVector, error) {
	if err := c.checkIntegrity(ctx); err != nil {
		return syncproto.SanityVector{}, err
	}

	return c.compute(ctx)
}

func (c *SanityChecker) checkIntegrity(ctx context.Context) error {
	orphanCards, err := c.store.CountCardsWithoutFact(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: integrity check: %w", err)
	}

	if orphanCards > 0 {
		return fmt.Errorf("%w: %w", syncproto.ErrIntegrity, syncproto.IntegrityViolation{
			Rule: "every card has a fact", Detail: fmt.Sprintf("%d orphan cards", orphanCards),
		})
	}

	orphanFacts, err := c.store.CountFactsWithoutCards(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: integrity check: %w", err)
	}

	if orphanFacts > 0 {
		return fmt.Errorf("%w: %w", syncproto.ErrIntegrity, syncproto.IntegrityViolation{
			Rule: "every fact has at least one card", Detail: fmt.Sprintf("%d orphan facts", orphanFacts),
		})
	}

	dirty, err := c.dirtyCounts(ctx)
	if err != nil {
		return err
	}

	for name, n := range dirty {
		if n > 0 {
			return fmt.Errorf("%w: %w", syncproto.ErrIntegrity, syncproto.IntegrityViolation{
				Rule: "no unacknowledged rows before sanity check", Detail: fmt.Sprintf("%s: %d rows at usn = -1", name, n),
			})
		}
	}

	return nil
}

func (c *SanityChecker) dirtyCounts(ctx context.Context) (map[string]int64, error) {
	cards, err := c.store.CountCardsDirty(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: count dirty cards: %w", err)
	}

	facts, err := c.store.CountFactsDirty(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: count dirty facts: %w", err)
	}

	revlog, err := c.store.CountRevlogDirty(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: count dirty revlog: %w", err)
	}

	graves, err := c.store.CountGravesDirty(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: count dirty graves: %w", err)
	}

	models, err := c.store.CountSmallObjectsDirty(ctx, corpus.TableModels)
	if err != nil {
		return nil, fmt.Errorf("syncengine: count dirty models: %w", err)
	}

	groups, err := c.store.CountSmallObjectsDirty(ctx, corpus.TableGroups)
	if err != nil {
		return nil, fmt.Errorf("syncengine: count dirty groups: %w", err)
	}

	gconf, err := c.store.CountSmallObjectsDirty(ctx, corpus.TableGConf)
	if err != nil {
		return nil, fmt.Errorf("syncengine: count dirty group-configs: %w", err)
	}

	tags, err := c.store.CountTagsDirty(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: count dirty tags: %w", err)
	}

	return map[string]int64{
		"cards":          cards,
		"facts":          facts,
		"revlog":         revlog,
		"graves":         graves,
		"models":         models,
		"groups":         groups,
		"group-configs":  gconf,
		"tags":           tags,
	}, nil
}

// compute fetches the nine sanity counts concurrently over the shared
// connection pool — independent read-only queries, no ordering
// requirement between them (§5 errgroup wiring).
func (c *SanityChecker) compute(ctx context.Context) (syncproto.SanityVector, error) {
	var v syncproto.SanityVector

	err := readAhead(ctx, 9,
		func(ctx context.Context) (err error) { v.Cards, err = c.store.CountCards(ctx); return },
		func(ctx context.Context) (err error) { v.Facts, err = c.store.CountFacts(ctx); return },
		func(ctx context.Context) (err error) { v.Revlog, err = c.store.CountRevlog(ctx); return },
		func(ctx context.Context) (err error) { v.FieldSum, err = c.store.SumFieldLengths(ctx); return },
		func(ctx context.Context) (err error) { v.Graves, err = c.store.CountGraves(ctx); return },
		func(ctx context.Context) (err error) {
			v.Models, err = c.store.CountSmallObjects(ctx, corpus.TableModels)
			return
		},
		func(ctx context.Context) (err error) { v.Tags, err = c.store.CountTags(ctx); return },
		func(ctx context.Context) (err error) {
			v.Groups, err = c.store.CountSmallObjects(ctx, corpus.TableGroups)
			return
		},
		func(ctx context.Context) (err error) {
			v.GroupConfigs, err = c.store.CountSmallObjects(ctx, corpus.TableGConf)
			return
		},
	)
	if err != nil {
		return syncproto.SanityVector{}, fmt.Errorf("syncengine: sanity: %w", err)
	}

	return v, nil
}

// forensicSnapshot is the YAML shape written to ForensicDir on a mismatch.
type forensicSnapshot struct {
	Role  string               `yaml:"role"`
	Local syncproto.SanityVector `yaml:"local"`
	Peer  syncproto.SanityVector `yaml:"peer"`
}

// DumpMismatch writes a forensic snapshot comparing local and peer vectors
// when they disagree. Best-effort: a write failure is logged, not returned,
// since the caller already has a harder error (ErrSanityMismatch) to report.
func (c *SanityChecker) DumpMismatch(role syncproto.Role, local, peer syncproto.SanityVector, now time.Time) {
	if c.ForensicDir == "" {
		return
	}

	snap := forensicSnapshot{Role: role.String(), Local: local, Peer: peer}

	out, err := yaml.Marshal(snap)
	if err != nil {
		c.logger.Error("marshal forensic snapshot", slog.Any("error", err))
		return
	}

	name := fmt.Sprintf("sanity-mismatch-%s-%d.yaml", role, now.UnixNano())
	path := filepath.Join(c.ForensicDir, name)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		c.logger.Error("write forensic snapshot", slog.String("path", path), slog.Any("error", err))
		return
	}

	c.logger.Warn("sanity mismatch, snapshot written", slog.String("path", path))
}
