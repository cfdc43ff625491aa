package items

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocktrail/stocktrail/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the item master.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the items handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers item master routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{code}", h.handleGet)
	r.Post("/", h.handleSave)
	r.Put("/{code}", h.handleSave)
}

type itemForm struct {
	Code     string `json:"item_code" validate:"required,max=64"`
	Name     string `json:"item_name" validate:"required,max=255"`
	UOM      string `json:"uom" validate:"max=16"`
	Tracking string `json:"tracking_mode" validate:"omitempty,oneof=NONE BATCH SERIAL"`
	Active   *bool  `json:"active"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Search: q.Get("q")}
	if v := q.Get("active"); v != "" {
		active := v == "true" || v == "1"
		filter.Active = &active
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = v
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list items", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if list == nil {
		list = []Item{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	it, err := h.service.Lookup(r.Context(), code)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown item "+code)
			return
		}
		h.logger.Error("get item", slog.String("item_code", code), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var form itemForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if code := chi.URLParam(r, "code"); code != "" {
		form.Code = code
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	active := true
	if form.Active != nil {
		active = *form.Active
	}
	saved, err := h.service.Save(r.Context(), Item{
		Code:     form.Code,
		Name:     form.Name,
		UOM:      form.UOM,
		Tracking: TrackingMode(form.Tracking),
		Active:   active,
	})
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}
