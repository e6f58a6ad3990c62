package corpus

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cardsync/cardsync/internal/syncproto"
)

const factColumns = `id, guid, mid, gid, mod, usn, tags, flds, sfld, flags, data`

func scanFactRow(scan func(dest ...any) error) (syncproto.FactRow, error) {
	var r syncproto.FactRow

	err := scan(&r.ID, &r.GUID, &r.ModelID, &r.GroupID, &r.Mod, &r.USN, &r.Tags, &r.Flds, &r.SFld, &r.Flags, &r.Data)

	return r, err
}

// FetchFactsPage fetches up to limit rows matching the USN predicate,
// ordered by id, starting strictly after afterID. SFld is blanked on the
// wire by the caller, not here (§4.5).
func (s *Store) FetchFactsPage(ctx context.Context, role syncproto.Role, minUsn int32, afterID int64, limit int) ([]syncproto.FactRow, error) {
	clause, args := predicateClause(role, minUsn)
	query := `SELECT ` + factColumns + ` FROM facts WHERE (` + clause + `) AND id > ? ORDER BY id LIMIT ?`
	args = append(args, afterID, limit)

	rows, err := s.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("corpus: fetch facts page: %w", err)
	}
	defer rows.Close()

	var out []syncproto.FactRow

	for rows.Next() {
		r, scanErr := scanFactRow(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("corpus: scan fact row: %w", scanErr)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// MarkFactsAcknowledged rewrites usn = maxUsn on every dirty fact, called
// once the cursor is exhausted (client only, §4.5).
func (s *Store) MarkFactsAcknowledged(ctx context.Context, maxUsn int32) error {
	if _, err := s.exec().ExecContext(ctx, `UPDATE facts SET usn = ? WHERE usn = -1`, maxUsn); err != nil {
		return fmt.Errorf("corpus: mark facts acknowledged: %w", err)
	}

	return nil
}

// NewerFactMods fetches (id, mod) restricted to the receiver's USN predicate.
func (s *Store) NewerFactMods(ctx context.Context, role syncproto.Role, minUsn int32, ids []int64) (map[int64]int64, error) {
	if len(ids) == 0 {
		return map[int64]int64{}, nil
	}

	clause, args := predicateClause(role, minUsn)
	placeholders, idArgs := inPlaceholders(ids)
	query := `SELECT id, mod FROM facts WHERE id IN (` + placeholders + `) AND (` + clause + `)`

	rows, err := s.exec().QueryContext(ctx, query, append(idArgs, args...)...)
	if err != nil {
		return nil, fmt.Errorf("corpus: fetch newer fact mods: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int64, len(ids))

	for rows.Next() {
		var id, mod int64
		if scanErr := rows.Scan(&id, &mod); scanErr != nil {
			return nil, fmt.Errorf("corpus: scan fact mod: %w", scanErr)
		}

		out[id] = mod
	}

	return out, rows.Err()
}

// UpsertFacts inserts-or-replaces a batch of facts. SFld is recomputed by
// the caller (RefreshSortFields) after the batch lands, per §4.5.
func (s *Store) UpsertFacts(ctx context.Context, rows []syncproto.FactRow) error {
	for _, r := range rows {
		_, err := s.exec().ExecContext(ctx,
			`INSERT INTO facts (`+factColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				guid = excluded.guid, mid = excluded.mid, gid = excluded.gid, mod = excluded.mod,
				usn = excluded.usn, tags = excluded.tags, flds = excluded.flds, sfld = excluded.sfld,
				flags = excluded.flags, data = excluded.data`,
			r.ID, r.GUID, r.ModelID, r.GroupID, r.Mod, r.USN, r.Tags, r.Flds, r.SFld, r.Flags, r.Data,
		)
		if err != nil {
			return fmt.Errorf("corpus: upsert fact %d: %w", r.ID, err)
		}
	}

	return nil
}

// RefreshSortFields recomputes the denormalized sfld cache for exactly the
// given fact ids, the field-cache repair step of §4.5. sortFieldOf extracts
// the first field from the flds blob (fields are stored \x1f-separated, the
// convention carried over from the original implementation).
func (s *Store) RefreshSortFields(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		var flds string
		if err := s.exec().QueryRowContext(ctx, `SELECT flds FROM facts WHERE id = ?`, id).Scan(&flds); err != nil {
			return fmt.Errorf("corpus: read fields for fact %d: %w", id, err)
		}

		sfld := sortFieldOf(flds)
		if _, err := s.exec().ExecContext(ctx, `UPDATE facts SET sfld = ? WHERE id = ?`, sfld, id); err != nil {
			return fmt.Errorf("corpus: refresh sort field for fact %d: %w", id, err)
		}
	}

	return nil
}

// sortFieldOf returns the first field of a \x1f-joined field blob.
func sortFieldOf(flds string) string {
	for i := 0; i < len(flds); i++ {
		if flds[i] == '\x1f' {
			return flds[:i]
		}
	}

	return flds
}

// DeleteFact removes a single fact by id (cards must already be gone —
// callers use DeleteCardsByFact first, per the cascade ordering in §4.4).
func (s *Store) DeleteFact(ctx context.Context, id int64) error {
	if _, err := s.exec().ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("corpus: delete fact %d: %w", id, err)
	}

	return nil
}

// CountFacts returns the total row count (sanity §4.6).
func (s *Store) CountFacts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count facts: %w", err)
	}

	return n, nil
}

// CountFactsDirty returns the count of facts with usn = -1.
func (s *Store) CountFactsDirty(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM facts WHERE usn = -1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count dirty facts: %w", err)
	}

	return n, nil
}

// CountFactsWithoutCards counts facts with zero referencing cards — the
// second sanity invariant of §4.6.
func (s *Store) CountFactsWithoutCards(ctx context.Context) (int64, error) {
	var n int64

	query := `SELECT COUNT(*) FROM facts WHERE id NOT IN (SELECT DISTINCT fid FROM cards)`
	if err := s.exec().QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count facts without cards: %w", err)
	}

	return n, nil
}

// SumFieldLengths sums the byte length of every fact's flds column, the
// sanity vector's FieldSum element (§4.6) — a cheap structural fingerprint.
func (s *Store) SumFieldLengths(ctx context.Context) (int64, error) {
	var n sql.NullInt64

	if err := s.exec().QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(flds)), 0) FROM facts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: sum field lengths: %w", err)
	}

	return n.Int64, nil
}
