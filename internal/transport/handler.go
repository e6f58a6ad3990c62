package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cardsync/cardsync/internal/syncengine"
	"github.com/cardsync/cardsync/internal/syncproto"
)

// SessionFactory opens (or reuses) the server-side Session a request
// belongs to, serialized by the caller's corpus lock. serve.go keys it by
// the client's SessionHeader value, so every request of one client
// exchange reaches the same Session.
type SessionFactory func(r *http.Request) (*syncengine.Session, error)

// Handler dispatches the six wire operations of §6 to a local Session,
// the server half of the protocol. One Handler serves every corpus; the
// factory resolves which corpus a request belongs to.
type Handler struct {
	factory SessionFactory
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewHandler builds the routed http.Handler for the six sync operations.
func NewHandler(factory SessionFactory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{factory: factory, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /meta", h.handleMeta)
	h.mux.HandleFunc("POST /applyChanges", h.handleApplyChanges)
	h.mux.HandleFunc("POST /chunk", h.handleChunk)
	h.mux.HandleFunc("POST /applyChunk", h.handleApplyChunk)
	h.mux.HandleFunc("POST /sanityCheck", h.handleSanityCheck)
	h.mux.HandleFunc("POST /finish", h.handleFinish)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleMeta(w http.ResponseWriter, r *http.Request) {
	sess, err := h.factory(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := sess.Meta(r.Context())
	h.respond(w, result, err)
}

func (h *Handler) handleApplyChanges(w http.ResponseWriter, r *http.Request) {
	sess, err := h.factory(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req changesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := sess.ApplyChanges(r.Context(), req.MinUsn, req.LNewer, req.Set)
	h.respond(w, result, err)
}

func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	sess, err := h.factory(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := sess.Chunk(r.Context())
	h.respond(w, result, err)
}

func (h *Handler) handleApplyChunk(w http.ResponseWriter, r *http.Request) {
	sess, err := h.factory(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var chunk syncproto.Chunk
	if err := json.NewDecoder(r.Body).Decode(&chunk); err != nil {
		h.writeError(w, err)
		return
	}

	err = sess.ApplyChunk(r.Context(), &chunk)
	h.respond(w, struct{}{}, err)
}

func (h *Handler) handleSanityCheck(w http.ResponseWriter, r *http.Request) {
	sess, err := h.factory(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := sess.SanityCheck(r.Context())
	h.respond(w, result, err)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	sess, err := h.factory(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req finishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}

	mod, err := sess.Finish(r.Context(), req.Mod)
	h.respond(w, finishResponse{Mod: mod}, err)
}

func (h *Handler) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		h.logger.Error("encode response", slog.Any("error", encErr))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, syncproto.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, syncproto.ErrSanityMismatch), errors.Is(err, syncproto.ErrIntegrity):
		status = http.StatusConflict
	case errors.Is(err, syncproto.ErrTransport):
		status = http.StatusBadGateway
	}

	h.logger.Warn("sync request failed", slog.Int("status", status), slog.Any("error", err))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if encErr := json.NewEncoder(w).Encode(errorResponse{Error: err.Error()}); encErr != nil {
		h.logger.Error("encode error response", slog.Any("error", encErr))
	}
}
