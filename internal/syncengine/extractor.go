package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncproto"
)

// Extractor builds the "small objects + deletions" change set sent in
// step 2 of the session protocol (distilled spec §4.3).
type Extractor struct {
	store  *corpus.Store
	logger *slog.Logger
}

// NewExtractor creates an Extractor over store.
func NewExtractor(store *corpus.Store, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Extractor{store: store, logger: logger}
}

// Build selects every row matching the USN predicate for role, mutates the
// client's usn = -1 rows to maxUsn in memory and on disk (they are about
// to be acknowledged), and includes conf only if params.LNewer is true
// (§4.3).
func (e *Extractor) Build(ctx context.Context, role syncproto.Role, params syncproto.SessionParams) (*syncproto.ChangeSet, error) {
	cs := &syncproto.ChangeSet{}

	var err error

	if cs.Models, err = e.extractNamed(ctx, corpus.TableModels, role, params); err != nil {
		return nil, err
	}

	if cs.Groups.Groups, err = e.extractNamed(ctx, corpus.TableGroups, role, params); err != nil {
		return nil, err
	}

	if cs.Groups.Configs, err = e.extractNamed(ctx, corpus.TableGConf, role, params); err != nil {
		return nil, err
	}

	if cs.Tags, err = e.store.SelectChangedTags(ctx, role, params.MinUsn); err != nil {
		return nil, fmt.Errorf("syncengine: extract tags: %w", err)
	}

	if markErr := e.store.MarkTagsAcknowledged(ctx, role, params.MaxUsn); markErr != nil {
		return nil, fmt.Errorf("syncengine: ack tags: %w", markErr)
	}

	for name := range cs.Tags {
		cs.Tags[name] = params.MaxUsn
	}

	if cs.Graves, err = e.extractGraves(ctx, role, params); err != nil {
		return nil, err
	}

	if params.LNewer {
		meta, metaErr := e.store.GetMeta(ctx)
		if metaErr != nil {
			return nil, fmt.Errorf("syncengine: extract conf: %w", metaErr)
		}

		cs.Conf = meta.Conf
		cs.HasConf = true
	}

	e.logger.Debug("change set extracted",
		slog.String("role", role.String()),
		slog.Int("models", len(cs.Models)),
		slog.Int("groups", len(cs.Groups.Groups)),
		slog.Int("gconf", len(cs.Groups.Configs)),
		slog.Int("tags", len(cs.Tags)),
		slog.Bool("conf", cs.HasConf),
	)

	return cs, nil
}

func (e *Extractor) extractNamed(ctx context.Context, t corpus.SmallObjectTable, role syncproto.Role, params syncproto.SessionParams) ([]syncproto.NamedRow, error) {
	rows, err := e.store.SelectChanged(ctx, t, role, params.MinUsn)
	if err != nil {
		return nil, fmt.Errorf("syncengine: extract %s: %w", t, err)
	}

	if err := e.store.MarkAcknowledged(ctx, t, role, params.MinUsn, params.MaxUsn); err != nil {
		return nil, fmt.Errorf("syncengine: ack %s: %w", t, err)
	}

	for i := range rows {
		rows[i].USN = params.MaxUsn
	}

	return rows, nil
}

func (e *Extractor) extractGraves(ctx context.Context, role syncproto.Role, params syncproto.SessionParams) (syncproto.Graves, error) {
	graves, err := e.store.SelectChangedGraves(ctx, role, params.MinUsn)
	if err != nil {
		return syncproto.Graves{}, fmt.Errorf("syncengine: extract graves: %w", err)
	}

	if err := e.store.MarkGravesAcknowledged(ctx, role, params.MaxUsn); err != nil {
		return syncproto.Graves{}, fmt.Errorf("syncengine: ack graves: %w", err)
	}

	return graves, nil
}
