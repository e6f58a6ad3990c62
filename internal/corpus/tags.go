package corpus

import (
	"context"
	"fmt"

	"github.com/cardsync/cardsync/internal/syncproto"
)

// SelectChangedTags returns tag -> usn pairs matching the USN predicate.
func (s *Store) SelectChangedTags(ctx context.Context, role syncproto.Role, minUsn int32) (syncproto.TagSet, error) {
	clause, args := predicateClause(role, minUsn)
	query := `SELECT tag, usn FROM tags WHERE ` + clause

	rows, err := s.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("corpus: select changed tags: %w", err)
	}
	defer rows.Close()

	out := syncproto.TagSet{}

	for rows.Next() {
		var name string
		var usn int32

		if scanErr := rows.Scan(&name, &usn); scanErr != nil {
			return nil, fmt.Errorf("corpus: scan tag row: %w", scanErr)
		}

		out[name] = usn
	}

	return out, rows.Err()
}

// MarkTagsAcknowledged rewrites usn = maxUsn on every dirty client-side tag.
func (s *Store) MarkTagsAcknowledged(ctx context.Context, role syncproto.Role, maxUsn int32) error {
	if role == syncproto.RoleServer {
		return nil
	}

	if _, err := s.exec().ExecContext(ctx, `UPDATE tags SET usn = ? WHERE usn = -1`, maxUsn); err != nil {
		return fmt.Errorf("corpus: mark tags acknowledged: %w", err)
	}

	return nil
}

// RegisterTag upserts a tag name at the given usn (union-semantics merge,
// §4.4 step 3 — no mod comparison).
func (s *Store) RegisterTag(ctx context.Context, name string, usn int32) error {
	_, err := s.exec().ExecContext(ctx,
		`INSERT INTO tags (tag, usn) VALUES (?, ?) ON CONFLICT(tag) DO UPDATE SET usn = excluded.usn`,
		name, usn,
	)
	if err != nil {
		return fmt.Errorf("corpus: register tag %q: %w", name, err)
	}

	return nil
}

// CountTags returns the total number of distinct tags (sanity §4.6).
func (s *Store) CountTags(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM tags`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count tags: %w", err)
	}

	return n, nil
}

// CountTagsDirty returns the count of tags with usn = -1.
func (s *Store) CountTagsDirty(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM tags WHERE usn = -1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count dirty tags: %w", err)
	}

	return n, nil
}
