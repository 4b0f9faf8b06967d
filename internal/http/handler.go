package httpapp

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/cesargomez89/stripedl/internal/app"
	"github.com/cesargomez89/stripedl/internal/catalog"
	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/http/dto"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/queue"
)

type Handler struct {
	Service *app.QueueService
	Logger  *logger.Logger
}

func NewHandler(svc *app.QueueService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{Service: svc, Logger: log.WithComponent("http")}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeValidation(w http.ResponseWriter, errs []dto.ValidationError) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: dto.ToResponse(errs), Fields: dto.ToMap(errs)})
}

// writeError maps domain and provider errors onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var perr *catalog.ProviderError
	switch {
	case errors.Is(err, queue.ErrItemNotFound), errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidState), errors.Is(err, queue.ErrDuplicateItem):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.As(err, &perr):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("Request failed", "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"queue":          h.Service.Queue.Len(),
		"max_concurrent": h.Service.Concurrency(),
	})
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, dto.NewQueueResponse(h.Service.List()))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto.NewItemResponse(entry, true))
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	itemType, err := domain.ParseItemType(chi.URLParam(r, "type"))
	if err != nil {
		h.writeValidation(w, []dto.ValidationError{{Field: "type", Message: err.Error()}})
		return
	}
	providerID := chi.URLParam(r, "providerID")

	item, created, err := h.Service.Enqueue(r.Context(), itemType, providerID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entry, err := h.Service.Get(item.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, dto.NewItemResponse(entry, false))
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Remove(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// itemAction wraps a per-item operation that answers with the item's new state.
func (h *Handler) itemAction(action func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := action(id); err != nil {
			h.writeError(w, err)
			return
		}
		entry, err := h.Service.Get(id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, dto.NewItemResponse(entry, false))
	}
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]int{"retried": h.Service.RetryFailed()})
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	states, errs := dto.ParseStates(r.URL.Query()["state"])
	if len(errs) > 0 {
		h.writeValidation(w, errs)
		return
	}
	removed := h.Service.Clear(states...)
	if removed == nil {
		removed = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"removed": removed})
}

func (h *Handler) SetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req dto.ConcurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeValidation(w, []dto.ValidationError{{Field: "body", Message: "invalid JSON"}})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.writeValidation(w, errs)
		return
	}
	applied := h.Service.SetConcurrency(*req.MaxConcurrent)
	h.writeJSON(w, http.StatusOK, map[string]int{"max_concurrent": applied})
}

func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeValidation(w, []dto.ValidationError{{Field: "limit", Message: "must be a positive number"}})
			return
		}
		limit = n
	}
	downloads, err := h.Service.Downloads(limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto.NewDownloadList(downloads))
}
