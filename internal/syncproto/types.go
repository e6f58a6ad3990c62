// Package syncproto defines the wire-level shapes and typed outcomes of the
// sync protocol: change sets, chunks, the sanity vector, and the role that
// parameterizes every component between client and server. Nothing in this
// package touches the database or the network; it is pure data.
package syncproto

// Role distinguishes the two sides of a session. The core uses a single
// implementation for both; Role only changes the USN predicate and whether
// usn = -1 rows get rewritten to maxUsn.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}

	return "client"
}

// GraveType identifies what kind of object a gravestone refers to.
type GraveType int

const (
	GraveCard GraveType = iota
	GraveFact
	GraveGroup
)

// Grave is a tombstone: an object id paired with the class it belonged to.
type Grave struct {
	OID  int64
	Type GraveType
}

// Graves partitions gravestones by object class, the shape the wire
// protocol and the merger both expect.
type Graves struct {
	Cards  []int64
	Facts  []int64
	Groups []int64
}

// NamedRow is a small metadata row shared by models, groups, and
// group-configs: identity, modification time, USN, and an opaque
// application payload this core never interprets.
type NamedRow struct {
	ID      int64
	Mod     int64
	USN     int32
	Payload []byte
}

// GroupSet bundles a group list with its configuration list. The distilled
// wire shape models this as a positional pair; the merger treats the two
// lists as independently id-keyed collections (see SPEC_FULL.md §3).
type GroupSet struct {
	Groups  []NamedRow
	Configs []NamedRow
}

// TagSet is a name -> usn map, Tags are union-semantics: no mod comparison.
type TagSet map[string]int32

// ChangeSet is the "small objects + deletions" bundle exchanged in step 2
// of the session protocol (distilled spec §4.1, §4.3).
type ChangeSet struct {
	Models []NamedRow
	Groups GroupSet
	Tags   TagSet
	Graves Graves

	// Conf is the freeform deck-wide configuration blob. Present only when
	// the side producing the change set has LNewer = true (§4.3).
	Conf    []byte
	HasConf bool
}

// CardRow is the 17-column wire representation of a cards row (§3, §6).
type CardRow struct {
	ID     int64
	FactID int64
	GroupID int64
	Ord    int32
	Mod    int64
	USN    int32
	Type   int32
	Queue  int32
	Due    int64
	Ivl    int32
	Factor int32
	Reps   int32
	Lapses int32
	Left   int32
	EDue   int64
	Flags  int32
	Data   []byte
}

// FactRow is the 11-column wire representation of a facts row (§3, §6).
// SFld (the sort-field cache) carries an empty placeholder on the wire;
// receivers recompute it locally after applying a batch (§4.5).
type FactRow struct {
	ID      int64
	GUID    string
	ModelID int64
	GroupID int64
	Mod     int64
	USN     int32
	Tags    string
	Flds    string
	SFld    string
	Flags   int32
	Data    []byte
}

// RevlogRow is the 9-column wire representation of a revlog row (§3, §6).
type RevlogRow struct {
	ID        int64
	CardID    int64
	USN       int32
	Ease      int32
	Ivl       int32
	LastIvl   int32
	Factor    int32
	ElapsedMS int32
	Type      int32
}

// Chunk is one bounded batch of large-table rows, streamed in either
// direction during steps 3 and 4 (§4.5, §6). Absent slices mean "nothing
// from that table in this chunk".
type Chunk struct {
	Done   bool
	Revlog []RevlogRow
	Cards  []CardRow
	Facts  []FactRow
}

// SanityVector is the fixed-shape post-merge fingerprint both sides must
// agree on exactly (§4.6). Field order is part of the contract: it is
// compared element-by-element, not just by hash.
type SanityVector struct {
	Cards       int64
	Facts       int64
	Revlog      int64
	FieldSum    int64
	Graves      int64
	Models      int64
	Tags        int64
	Groups      int64
	GroupConfigs int64
}

// Equal reports whether two sanity vectors match on all nine integers.
func (v SanityVector) Equal(o SanityVector) bool {
	return v == o
}

// Outcome is the result of running a full session, mirroring the three
// string results of the distilled spec's Step 1 / final return (§4.1).
type Outcome int

const (
	OutcomeNoChanges Outcome = iota
	OutcomeFullSync
	OutcomeSuccess
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoChanges:
		return "noChanges"
	case OutcomeFullSync:
		return "fullSync"
	case OutcomeSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MetaResult is the response to the Meta wire operation (§6).
type MetaResult struct {
	Mod int64
	Scm int64
	Usn int32
}

// SessionParams are the parameters established after the Meta handshake
// and threaded through every subsequent step (§3 "Derived values").
type SessionParams struct {
	MinUsn int32 // server: client's prior usn; client: own prior usn
	MaxUsn int32 // the usn this session will stamp on acknowledged rows
	LNewer bool  // true if the side building a change set has the newer mod
}
