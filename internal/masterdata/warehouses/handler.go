package warehouses

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocktrail/stocktrail/internal/platform/httpx"
)

// Handler wires HTTP endpoints for warehouse reference data.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the warehouses handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers warehouse routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{code}", h.handleGet)
	r.Post("/", h.handleSave)
}

type warehouseForm struct {
	Code string `json:"code" validate:"required,max=32"`
	Name string `json:"name" validate:"required,max=255"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list warehouses", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if list == nil {
		list = []Warehouse{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	wh, err := h.service.Get(r.Context(), code)
	if err != nil {
		if errors.Is(err, ErrWarehouseNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown warehouse "+code)
			return
		}
		h.logger.Error("get warehouse", slog.String("code", code), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, wh)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var form warehouseForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	saved, err := h.service.Save(r.Context(), Warehouse{Code: form.Code, Name: form.Name})
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}
