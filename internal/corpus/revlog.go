package corpus

import (
	"context"
	"fmt"

	"github.com/cardsync/cardsync/internal/syncproto"
)

const revlogColumns = `id, cid, usn, ease, ivl, lastIvl, factor, time, rtype`

func scanRevlogRow(scan func(dest ...any) error) (syncproto.RevlogRow, error) {
	var r syncproto.RevlogRow

	err := scan(&r.ID, &r.CardID, &r.USN, &r.Ease, &r.Ivl, &r.LastIvl, &r.Factor, &r.ElapsedMS, &r.Type)

	return r, err
}

// FetchRevlogPage fetches up to limit rows matching the USN predicate,
// ordered by id (the event timestamp, §3), starting strictly after afterID.
func (s *Store) FetchRevlogPage(ctx context.Context, role syncproto.Role, minUsn int32, afterID int64, limit int) ([]syncproto.RevlogRow, error) {
	clause, args := predicateClause(role, minUsn)
	query := `SELECT ` + revlogColumns + ` FROM revlog WHERE (` + clause + `) AND id > ? ORDER BY id LIMIT ?`
	args = append(args, afterID, limit)

	rows, err := s.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("corpus: fetch revlog page: %w", err)
	}
	defer rows.Close()

	var out []syncproto.RevlogRow

	for rows.Next() {
		r, scanErr := scanRevlogRow(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("corpus: scan revlog row: %w", scanErr)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// MarkRevlogAcknowledged rewrites usn = maxUsn on every dirty revlog row,
// called once the cursor is exhausted (client only, §4.5).
func (s *Store) MarkRevlogAcknowledged(ctx context.Context, maxUsn int32) error {
	if _, err := s.exec().ExecContext(ctx, `UPDATE revlog SET usn = ? WHERE usn = -1`, maxUsn); err != nil {
		return fmt.Errorf("corpus: mark revlog acknowledged: %w", err)
	}

	return nil
}

// InsertIgnoreRevlog bulk inserts revlog rows, silently dropping rows whose
// id (primary key, the event timestamp) already exists — the log is
// append-only and idempotent on duplicates (§4.5 "applyChunk").
func (s *Store) InsertIgnoreRevlog(ctx context.Context, rows []syncproto.RevlogRow) error {
	for _, r := range rows {
		_, err := s.exec().ExecContext(ctx,
			`INSERT OR IGNORE INTO revlog (`+revlogColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CardID, r.USN, r.Ease, r.Ivl, r.LastIvl, r.Factor, r.ElapsedMS, r.Type,
		)
		if err != nil {
			return fmt.Errorf("corpus: insert-ignore revlog %d: %w", r.ID, err)
		}
	}

	return nil
}

// CountRevlog returns the total row count (sanity §4.6).
func (s *Store) CountRevlog(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM revlog`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count revlog: %w", err)
	}

	return n, nil
}

// CountRevlogDirty returns the count of revlog rows with usn = -1.
func (s *Store) CountRevlogDirty(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM revlog WHERE usn = -1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count dirty revlog: %w", err)
	}

	return n, nil
}
