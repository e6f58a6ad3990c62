// Package transport supplies the reference HTTP transport for the sync
// protocol: a Client (role=client, talks to a remote Session over HTTP)
// and a Handler (role=server, dispatches the six wire operations to a
// local Session). Modeled on the teacher's internal/graph retry and
// error-classification shape (distilled spec §6).
package transport

import "github.com/cardsync/cardsync/internal/syncproto"

// SessionHeader carries the client-minted session id on every wire
// request, letting a server multiplex concurrent sync sessions onto
// distinct Session/Store pairs instead of one process-wide singleton.
const SessionHeader = "X-Cardsync-Session"

// changesRequest, finishRequest, finishResponse and errorResponse are the
// JSON envelopes of the wire operations that need one. Field names are lowerCamel to match the
// distilled spec's own operation-name casing (hostKey, applyChanges,
// applyChunk, sanityCheck).

type changesRequest struct {
	MinUsn int32                `json:"minUsn"`
	LNewer bool                 `json:"lnewer"`
	Set    *syncproto.ChangeSet `json:"changes"`
}

type finishRequest struct {
	Mod int64 `json:"mod"`
}

type finishResponse struct {
	Mod int64 `json:"mod"`
}

type errorResponse struct {
	Error string `json:"error"`
}
