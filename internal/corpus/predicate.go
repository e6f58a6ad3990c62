package corpus

import "github.com/cardsync/cardsync/internal/syncproto"

// predicateClause builds the USN discriminator used by every "what changed"
// query (distilled spec §4.2): usn >= minUsn on the server, usn = -1 on the
// client. Returned as a SQL fragment plus its positional argument(s).
func predicateClause(role syncproto.Role, minUsn int32) (string, []any) {
	if role == syncproto.RoleServer {
		return "usn >= ?", []any{minUsn}
	}

	return "usn = -1", nil
}
