package corpus

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cardsync/cardsync/internal/syncproto"
)

// SmallObjectTable names the three identically-shaped metadata tables
// (id, mod, usn, payload). Models, groups, and group-configs share one
// implementation; only the table name differs.
type SmallObjectTable string

const (
	TableModels SmallObjectTable = "models"
	TableGroups SmallObjectTable = "groups"
	TableGConf  SmallObjectTable = "gconf"
)

// SelectChanged returns the rows of t matching the USN predicate for role.
func (s *Store) SelectChanged(ctx context.Context, t SmallObjectTable, role syncproto.Role, minUsn int32) ([]syncproto.NamedRow, error) {
	clause, args := predicateClause(role, minUsn)

	//nolint:gosec // G201: t is one of three constant table names, never user input.
	query := fmt.Sprintf(`SELECT id, mod, usn, payload FROM %s WHERE %s ORDER BY id`, t, clause)

	rows, err := s.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("corpus: select changed %s: %w", t, err)
	}
	defer rows.Close()

	var out []syncproto.NamedRow

	for rows.Next() {
		var r syncproto.NamedRow
		if scanErr := rows.Scan(&r.ID, &r.Mod, &r.USN, &r.Payload); scanErr != nil {
			return nil, fmt.Errorf("corpus: scan %s row: %w", t, scanErr)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// MarkAcknowledged rewrites usn = maxUsn on every row of t matching the
// predicate — the client-side "about to be acknowledged" bookkeeping in
// §4.3. A no-op that still succeeds on the server (it never rewrites its
// own rows mid-session).
func (s *Store) MarkAcknowledged(ctx context.Context, t SmallObjectTable, role syncproto.Role, minUsn, maxUsn int32) error {
	if role == syncproto.RoleServer {
		return nil
	}

	//nolint:gosec // G201: t is one of three constant table names.
	query := fmt.Sprintf(`UPDATE %s SET usn = ? WHERE usn = -1`, t)
	if _, err := s.exec().ExecContext(ctx, query, maxUsn); err != nil {
		return fmt.Errorf("corpus: mark %s acknowledged: %w", t, err)
	}

	return nil
}

// GetSmallObject fetches one row of t by id, or (zero, false) if absent.
func (s *Store) GetSmallObject(ctx context.Context, t SmallObjectTable, id int64) (syncproto.NamedRow, bool, error) {
	//nolint:gosec // G201: t is one of three constant table names.
	query := fmt.Sprintf(`SELECT id, mod, usn, payload FROM %s WHERE id = ?`, t)

	var r syncproto.NamedRow

	err := s.exec().QueryRowContext(ctx, query, id).Scan(&r.ID, &r.Mod, &r.USN, &r.Payload)
	if err == sql.ErrNoRows {
		return syncproto.NamedRow{}, false, nil
	}

	if err != nil {
		return syncproto.NamedRow{}, false, fmt.Errorf("corpus: get %s: %w", t, err)
	}

	return r, true, nil
}

// UpsertSmallObject inserts r if absent, or overwrites it unconditionally.
// The merger (§4.4) is responsible for the "iff r.mod > l.mod" gate; by the
// time this is called the decision to write has already been made.
func (s *Store) UpsertSmallObject(ctx context.Context, t SmallObjectTable, r syncproto.NamedRow) error {
	//nolint:gosec // G201: t is one of three constant table names.
	query := fmt.Sprintf(`INSERT INTO %s (id, mod, usn, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET mod = excluded.mod, usn = excluded.usn, payload = excluded.payload`, t)

	if _, err := s.exec().ExecContext(ctx, query, r.ID, r.Mod, r.USN, r.Payload); err != nil {
		return fmt.Errorf("corpus: upsert %s: %w", t, err)
	}

	return nil
}

// DeleteSmallObject removes a row of t by id (used by grave application).
func (s *Store) DeleteSmallObject(ctx context.Context, t SmallObjectTable, id int64) error {
	//nolint:gosec // G201: t is one of three constant table names.
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t)
	if _, err := s.exec().ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("corpus: delete %s: %w", t, err)
	}

	return nil
}

// CountSmallObjects returns the total row count of t (sanity checker §4.6).
func (s *Store) CountSmallObjects(ctx context.Context, t SmallObjectTable) (int64, error) {
	//nolint:gosec // G201: t is one of three constant table names.
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t)

	var n int64
	if err := s.exec().QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count %s: %w", t, err)
	}

	return n, nil
}

// CountSmallObjectsDirty returns the count of t rows with usn = -1, used by
// the sanity checker's "no row ... carries usn = -1" invariant (§4.6).
func (s *Store) CountSmallObjectsDirty(ctx context.Context, t SmallObjectTable) (int64, error) {
	//nolint:gosec // G201: t is one of three constant table names.
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE usn = -1`, t)

	var n int64
	if err := s.exec().QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("corpus: count dirty %s: %w", t, err)
	}

	return n, nil
}
