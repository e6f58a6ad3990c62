package corpus

import (
	"context"
	"fmt"

	"github.com/cardsync/cardsync/internal/syncproto"
)

// RecordGrave inserts a tombstone at the corpus's current usn (distilled
// spec §3 "Gravestones"). On the client this is -1 like any other dirty
// row until acknowledged.
func (s *Store) RecordGrave(ctx context.Context, oid int64, t syncproto.GraveType, usn int32) error {
	_, err := s.exec().ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (?, ?, ?)`, usn, oid, int(t))
	if err != nil {
		return fmt.Errorf("corpus: record grave: %w", err)
	}

	return nil
}

// SelectChangedGraves returns (oid, type) pairs matching the USN predicate,
// partitioned into §4.3's cards/facts/groups shape.
func (s *Store) SelectChangedGraves(ctx context.Context, role syncproto.Role, minUsn int32) (syncproto.Graves, error) {
	clause, args := predicateClause(role, minUsn)
	query := `SELECT oid, type FROM graves WHERE ` + clause

	rows, err := s.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return syncproto.Graves{}, fmt.Errorf("corpus: select changed graves: %w", err)
	}
	defer rows.Close()

	var out syncproto.Graves

	for rows.Next() {
		var oid int64
		var typ int

		if scanErr := rows.Scan(&oid, &typ); scanErr != nil {
			return syncproto.Graves{}, fmt.Errorf("corpus: scan grave row: %w", scanErr)
		}

		switch syncproto.GraveType(typ) {
		case syncproto.GraveCard:
			out.Cards = append(out.Cards, oid)
		case syncproto.GraveFact:
			out.Facts = append(out.Facts, oid)
		case syncproto.GraveGroup:
			out.Groups = append(out.Groups, oid)
		}
	}

	return out, rows.Err()
}

// MarkGravesAcknowledged rewrites usn = maxUsn on dirty client-side graves.
func (s *Store) MarkGravesAcknowledged(ctx context.Context, role syncproto.Role, maxUsn int32) error {
	if role == syncproto.RoleServer {
		return nil
	}

	if _, err := s.exec().ExecContext(ctx, `UPDATE graves SET usn = ? WHERE usn = -1`, maxUsn); err != nil {
		return fmt.Errorf("corpus: mark graves acknowledged: %w", err)
	}

	return nil
}

// CountGraves returns the total number of gravestone rows (sanity §4.6).
func (s *Store) CountGraves(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM graves`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count graves: %w", err)
	}

	return n, nil
}

// CountGravesDirty returns the count of graves with usn = -1.
func (s *Store) CountGravesDirty(ctx context.Context) (int64, error) {
	var n int64
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM graves WHERE usn = -1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count dirty graves: %w", err)
	}

	return n, nil
}
