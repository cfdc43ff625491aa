package counting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/internal/platform/httpx"
	"github.com/stocktrail/stocktrail/internal/scan"
	"github.com/stocktrail/stocktrail/internal/shared"
)

// ScanMetrics counts accepted scan entries.
type ScanMetrics interface {
	ScanRecorded(kind string)
}

// Handler wires count sessions to HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   ScanMetrics
	validator *validator.Validate
}

// NewHandler constructs the counting handler. Metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics ScanMetrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics, validator: validator.New()}
}

// MountRoutes registers count session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sessions", h.handleList)
	r.Post("/sessions", h.handleOpen)
	r.Get("/sessions/{id}", h.handleGet)
	r.Post("/sessions/{id}/scan", h.handleScan)
	r.Post("/sessions/{id}/finalize", h.handleFinalize)
}

type openForm struct {
	WarehouseCode string `json:"warehouse_code" validate:"required,max=32"`
	Note          string `json:"note" validate:"max=512"`
}

type scanForm struct {
	Barcode string  `json:"barcode" validate:"required,max=128"`
	Batch   string  `json:"batch" validate:"max=64"`
	Serial  string  `json:"serial" validate:"max=64"`
	Qty     float64 `json:"qty" validate:"min=0"`
}

type finalizeForm struct {
	Apply bool `json:"apply"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var form openForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	session, err := h.service.Open(r.Context(), form.WarehouseCode, form.Note, identity.ID)
	if err != nil {
		h.respondDomainError(w, "open count session", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, session)
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var form scanForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.Scan(r.Context(), chi.URLParam(r, "id"), form.Barcode, form.Batch, form.Serial, form.Qty, identity.ID)
	if err != nil {
		h.respondDomainError(w, "scan count entry", err)
		return
	}
	if h.metrics != nil {
		h.metrics.ScanRecorded("count")
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var form finalizeForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	result, err := h.service.Finalize(r.Context(), chi.URLParam(r, "id"), form.Apply, identity.ID)
	if err != nil {
		h.respondDomainError(w, "finalize count session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, entries, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondDomainError(w, "get count session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"session": session,
		"entries": entries,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}
	sessions, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list count sessions", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}
	httpx.JSON(w, http.StatusOK, sessions)
}

func (h *Handler) respondDomainError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSessionClosed):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, scan.ErrUnknownBarcode),
		errors.Is(err, inventory.ErrWarehouseRequired),
		errors.Is(err, inventory.ErrBatchRequired),
		errors.Is(err, inventory.ErrSerialRequired),
		errors.Is(err, inventory.ErrActorRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, inventory.ErrWarehouseNotFound), errors.Is(err, inventory.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
