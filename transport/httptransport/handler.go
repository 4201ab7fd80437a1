package httptransport

import (
	"compress/gzip"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/logging"
)

// Backend is what a Handler serves. A batch-less backend answers
// /moves/batch with 405.
type Backend interface {
	coordinator.Authority
	coordinator.SnapshotSource
}

// Handler serves the mutation authority API:
//
//	POST /moves                         MoveRequest -> MoveResponse
//	POST /moves/batch                   BatchMoveRequest -> BatchMoveResponse
//	GET  /containers/{id}/items         SnapshotResponse
type Handler struct {
	backend Backend
	batch   coordinator.BatchAuthority
	options *ServerOptions
	logger  *logging.Logger
	mux     *http.ServeMux
}

// NewHandler creates a handler in front of backend.
func NewHandler(backend Backend, logger *logging.Logger, opts ...ServerOption) *Handler {
	h := &Handler{
		backend: backend,
		options: applyServerOptions(opts...),
		logger:  logging.OrDiscard(logger).WithComponent(logging.Component("http-handler")),
		mux:     http.NewServeMux(),
	}
	if b, ok := backend.(coordinator.BatchAuthority); ok {
		h.batch = b
	}
	h.mux.HandleFunc("POST /moves", h.handleMove)
	h.mux.HandleFunc("POST /moves/batch", h.handleBatch)
	h.mux.HandleFunc("GET /containers/{id}/items", h.handleSnapshot)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.backend.Move(r.Context(), fromMoveRequest(req))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, r, http.StatusOK, MoveResponse{Item: item})
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	if h.batch == nil {
		respondWithStatus(w, http.StatusMethodNotAllowed, "batch moves are not supported", kiterr.KindMethodNotAllowed)
		return
	}
	var req BatchMoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmds := make([]coordinator.Command, len(req.Moves))
	for i, m := range req.Moves {
		cmds[i] = fromMoveRequest(m)
	}
	items, err := h.batch.MoveBatch(r.Context(), cmds)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if items == nil {
		items = []board.Item{}
	}
	h.respondWithJSON(w, r, http.StatusOK, BatchMoveResponse{Items: items})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	items, err := h.backend.Snapshot(r.Context(), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if items == nil {
		items = []board.Item{}
	}
	h.respondWithJSON(w, r, http.StatusOK, SnapshotResponse{ContainerID: id, Items: items})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	reader, cleanup, err := createSafeRequestReader(w, r, h.options)
	defer cleanup()
	if err == nil {
		err = json.NewDecoder(reader).Decode(v)
	}
	if err != nil {
		status := requestStatus(err)
		h.logger.WarnContext(r.Context(), "rejected request body",
			slog.String("path", r.URL.Path), slog.Int("status", status), slog.String("error", err.Error()))
		respondWithStatus(w, status, err.Error(), kiterr.KindInvalid)
		return false
	}
	return true
}

func fromMoveRequest(m MoveRequest) coordinator.Command {
	return coordinator.Command{
		MoveID:            m.MoveID,
		ItemID:            m.ItemID,
		TargetContainerID: m.TargetContainerID,
		Key:               m.Key,
		ValidateOrdering:  m.ValidateOrdering,
	}
}

// errorStatus maps a backend error to an HTTP status. It is the inverse of
// the client's classification: transient failures become 503, terminal
// failures a 4xx chosen by kind.
func errorStatus(err error) int {
	switch kiterr.KindOf(err) {
	case kiterr.KindInvalid:
		return http.StatusUnprocessableEntity
	case kiterr.KindNotFound:
		return http.StatusNotFound
	case kiterr.KindConflict:
		return http.StatusConflict
	case kiterr.KindRejected:
		return http.StatusForbidden
	case kiterr.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case kiterr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	switch {
	case kiterr.IsTransient(err):
		return http.StatusServiceUnavailable
	case kiterr.HasCode(err, kiterr.ErrCodeValidation), kiterr.IsOrdering(err):
		return http.StatusUnprocessableEntity
	case kiterr.IsTerminal(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= 500 {
		h.logger.LogError(r.Context(), err, "backend failure", slog.String("path", r.URL.Path))
	}
	respondWithStatus(w, status, err.Error(), kiterr.KindOf(err))
}

func respondWithStatus(w http.ResponseWriter, code int, message string, kind kiterr.Kind) {
	response, _ := json.Marshal(ErrorResponse{Error: message, Kind: string(kind)})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		respondWithStatus(w, http.StatusInternalServerError, "failed to encode response", kiterr.KindInternal)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if h.options.CompressionEnabled &&
		int64(len(response)) >= h.options.CompressionThreshold &&
		strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")
		w.WriteHeader(code)
		gz := gzip.NewWriter(w)
		gz.Write(response)
		gz.Close()
		return
	}
	w.WriteHeader(code)
	w.Write(response)
}
