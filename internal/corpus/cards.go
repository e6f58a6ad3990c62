package corpus

import (
	"context"
	"fmt"

	"github.com/cardsync/cardsync/internal/syncproto"
)

const cardColumns = `id, fid, gid, ord, mod, usn, ctype, queue, due, ivl, factor, reps, lapses, left, edue, flags, data`

func scanCardRow(scan func(dest ...any) error) (syncproto.CardRow, error) {
	var r syncproto.CardRow

	err := scan(&r.ID, &r.FactID, &r.GroupID, &r.Ord, &r.Mod, &r.USN, &r.Type, &r.Queue,
		&r.Due, &r.Ivl, &r.Factor, &r.Reps, &r.Lapses, &r.Left, &r.EDue, &r.Flags, &r.Data)

	return r, err
}

// FetchCardsPage fetches up to limit rows matching the USN predicate,
// ordered by id, starting strictly after afterID (chunk streamer cursor,
// §4.5). The wire row's usn column is rewritten to maxUsn by the caller
// before it is put on the wire, not here — this returns the stored value.
func (s *Store) FetchCardsPage(ctx context.Context, role syncproto.Role, minUsn int32, afterID int64, limit int) ([]syncproto.CardRow, error) {
	clause, args := predicateClause(role, minUsn)
	query := `SELECT ` + cardColumns + ` FROM cards WHERE (` + clause + `) AND id > ? ORDER BY id LIMIT ?`
	args = append(args, afterID, limit)

	rows, err := s.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("corpus: fetch cards page: %w", err)
	}
	defer rows.Close()

	var out []syncproto.CardRow

	for rows.Next() {
		r, scanErr := scanCardRow(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("corpus: scan card row: %w", scanErr)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// MarkCardsAcknowledged rewrites usn = maxUsn on every dirty card, called
// once a table's cursor is exhausted (client only, §4.5 "mark them
// acknowledged"). By the time a table is exhausted every usn = -1 row has
// already been streamed, so a blanket rewrite is exactly the sent set.
func (s *Store) MarkCardsAcknowledged(ctx context.Context, maxUsn int32) error {
	if _, err := s.exec().ExecContext(ctx, `UPDATE cards SET usn = ? WHERE usn = -1`, maxUsn); err != nil {
		return fmt.Errorf("corpus: mark cards acknowledged: %w", err)
	}

	return nil
}

// NewerCardMods fetches (id, mod) for the given ids, restricted to rows
// matching the receiver's USN predicate (§4.5 "newerRows" / "Why the USN
// predicate is reapplied during merge").
func (s *Store) NewerCardMods(ctx context.Context, role syncproto.Role, minUsn int32, ids []int64) (map[int64]int64, error) {
	if len(ids) == 0 {
		return map[int64]int64{}, nil
	}

	clause, args := predicateClause(role, minUsn)
	placeholders, idArgs := inPlaceholders(ids)
	query := `SELECT id, mod FROM cards WHERE id IN (` + placeholders + `) AND (` + clause + `)`

	rows, err := s.exec().QueryContext(ctx, query, append(idArgs, args...)...)
	if err != nil {
		return nil, fmt.Errorf("corpus: fetch newer card mods: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int64, len(ids))

	for rows.Next() {
		var id, mod int64
		if scanErr := rows.Scan(&id, &mod); scanErr != nil {
			return nil, fmt.Errorf("corpus: scan card mod: %w", scanErr)
		}

		out[id] = mod
	}

	return out, rows.Err()
}

// UpsertCards inserts-or-replaces a batch of cards inside the caller's
// transaction. Used by applyChunk (§4.5) after newerRows filtering.
func (s *Store) UpsertCards(ctx context.Context, rows []syncproto.CardRow) error {
	for _, r := range rows {
		_, err := s.exec().ExecContext(ctx,
			`INSERT INTO cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				fid = excluded.fid, gid = excluded.gid, ord = excluded.ord, mod = excluded.mod,
				usn = excluded.usn, ctype = excluded.ctype, queue = excluded.queue, due = excluded.due,
				ivl = excluded.ivl, factor = excluded.factor, reps = excluded.reps, lapses = excluded.lapses,
				left = excluded.left, edue = excluded.edue, flags = excluded.flags, data = excluded.data`,
			r.ID, r.FactID, r.GroupID, r.Ord, r.Mod, r.USN, r.Type, r.Queue, r.Due, r.Ivl,
			r.Factor, r.Reps, r.Lapses, r.Left, r.EDue, r.Flags, r.Data,
		)
		if err != nil {
			return fmt.Errorf("corpus: upsert card %d: %w", r.ID, err)
		}
	}

	return nil
}

// DeleteCard removes a single card by id.
func (s *Store) DeleteCard(ctx context.Context, id int64) error {
	if _, err := s.exec().ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id); err != nil {
		return fmt.Errorf("corpus: delete card %d: %w", id, err)
	}

	return nil
}

// DeleteCardsByFact removes every card belonging to factID — the cascade
// a fact deletion implies (§3 "Gravestones", §4.4 step 1). Returns the ids
// deleted so the caller can grave them.
func (s *Store) DeleteCardsByFact(ctx context.Context, factID int64) ([]int64, error) {
	rows, err := s.exec().QueryContext(ctx, `SELECT id FROM cards WHERE fid = ?`, factID)
	if err != nil {
		return nil, fmt.Errorf("corpus: list cards for fact %d: %w", factID, err)
	}

	var ids []int64

	for rows.Next() {
		var id int64
		if scanErr := rows.Scan(&id); scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("corpus: scan card id: %w", scanErr)
		}

		ids = append(ids, id)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.exec().ExecContext(ctx, `DELETE FROM cards WHERE fid = ?`, factID); err != nil {
		return nil, fmt.Errorf("corpus: delete cards for fact %d: %w", factID, err)
	}

	return ids, nil
}

// CountCards returns the total row count (sanity §4.6).
func (s *Store) CountCards(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count cards: %w", err)
	}

	return n, nil
}

// CountCardsDirty returns the count of cards with usn = -1.
func (s *Store) CountCardsDirty(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE usn = -1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count dirty cards: %w", err)
	}

	return n, nil
}

// CountCardsWithoutFact counts cards whose fid has no matching fact row —
// the first sanity invariant of §4.6.
func (s *Store) CountCardsWithoutFact(ctx context.Context) (int64, error) {
	var n int64

	query := `SELECT COUNT(*) FROM cards WHERE fid NOT IN (SELECT id FROM facts)`
	if err := s.exec().QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count cards without fact: %w", err)
	}

	return n, nil
}

func inPlaceholders(ids []int64) (string, []any) {
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))

	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}

		placeholders = append(placeholders, '?')
		args[i] = id
	}

	return string(placeholders), args
}
