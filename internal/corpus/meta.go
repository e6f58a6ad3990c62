package corpus

import (
	"context"
	"fmt"
)

// Meta is the corpus-wide metadata row (§3 "Corpus metadata").
type Meta struct {
	Mod  int64
	Scm  int64
	Usn  int32
	LS   int64
	Conf []byte
}

// GetMeta reads the single corpusmeta row.
func (s *Store) GetMeta(ctx context.Context) (Meta, error) {
	var m Meta

	row := s.exec().QueryRowContext(ctx, `SELECT mod, scm, usn, ls, conf FROM corpusmeta WHERE id = 1`)
	if err := row.Scan(&m.Mod, &m.Scm, &m.Usn, &m.LS, &m.Conf); err != nil {
		return Meta{}, fmt.Errorf("corpus: get meta: %w", err)
	}

	return m, nil
}

// SetMeta overwrites the single corpusmeta row. Called inside the caller's
// transaction at Finish (distilled spec §4.1 "Finalize").
func (s *Store) SetMeta(ctx context.Context, m Meta) error {
	_, err := s.exec().ExecContext(ctx,
		`UPDATE corpusmeta SET mod = ?, scm = ?, usn = ?, ls = ?, conf = ? WHERE id = 1`,
		m.Mod, m.Scm, m.Usn, m.LS, m.Conf,
	)
	if err != nil {
		return fmt.Errorf("corpus: set meta: %w", err)
	}

	return nil
}

// BumpUsn advances the corpus USN to newUsn, the last step of a successful
// session (distilled spec §3 "Lifecycle").
func (s *Store) BumpUsn(ctx context.Context, newUsn int32) error {
	if _, err := s.exec().ExecContext(ctx, `UPDATE corpusmeta SET usn = ? WHERE id = 1`, newUsn); err != nil {
		return fmt.Errorf("corpus: bump usn: %w", err)
	}

	return nil
}
