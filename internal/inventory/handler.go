package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stocktrail/stocktrail/internal/platform/httpx"
	"github.com/stocktrail/stocktrail/internal/shared"
)

// HeaderIdempotencyKey deduplicates retried mutating requests.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler wires the movement engine to HTTP.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	validator   *validator.Validate
}

// NewHandler constructs the inventory handler. The idempotency store may be
// nil, in which case Idempotency-Key headers are ignored.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		validator:   validator.New(),
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handlePostMovement)
	r.Get("/movements", h.handleListMovements)
	r.Get("/balances", h.handleListBalances)
	r.Post("/receipts", h.handlePostReceipt)
	r.Post("/adjustments", h.handlePostAdjustments)
}

type movementForm struct {
	Type          string  `json:"type" validate:"required,oneof=INBOUND OUTBOUND TRANSFER RETURN ADJUST"`
	ItemCode      string  `json:"item_code" validate:"required,max=64"`
	Qty           float64 `json:"qty" validate:"required"`
	UOM           string  `json:"uom" validate:"max=16"`
	WarehouseFrom string  `json:"warehouse_from" validate:"max=32"`
	WarehouseTo   string  `json:"warehouse_to" validate:"max=32"`
	Batch         string  `json:"batch" validate:"max=64"`
	Serial        string  `json:"serial" validate:"max=64"`
	Reference     string  `json:"reference" validate:"max=128"`
	Note          string  `json:"note" validate:"max=512"`
}

func (f movementForm) toInput(actorID string) MovementInput {
	return MovementInput{
		Type:          MovementType(strings.ToUpper(f.Type)),
		ItemCode:      f.ItemCode,
		Qty:           f.Qty,
		UOM:           f.UOM,
		WarehouseFrom: f.WarehouseFrom,
		WarehouseTo:   f.WarehouseTo,
		Batch:         f.Batch,
		Serial:        f.Serial,
		Reference:     f.Reference,
		Note:          f.Note,
		ActorID:       actorID,
	}
}

type receiptForm struct {
	WarehouseTo string        `json:"warehouse_to" validate:"required,max=32"`
	Reference   string        `json:"reference" validate:"max=128"`
	Note        string        `json:"note" validate:"max=512"`
	Lines       []receiptLine `json:"lines" validate:"required,min=1,max=500,dive"`
}

type receiptLine struct {
	ItemCode string  `json:"item_code" validate:"required,max=64"`
	Qty      float64 `json:"qty" validate:"required,gt=0"`
	UOM      string  `json:"uom" validate:"max=16"`
	Batch    string  `json:"batch" validate:"max=64"`
	Serial   string  `json:"serial" validate:"max=64"`
}

type adjustmentForm struct {
	WarehouseTo string           `json:"warehouse_to" validate:"required,max=32"`
	Reference   string           `json:"reference" validate:"max=128"`
	Note        string           `json:"note" validate:"max=512"`
	Lines       []adjustmentLine `json:"lines" validate:"required,min=1,max=500,dive"`
}

type adjustmentLine struct {
	ItemCode string  `json:"item_code" validate:"required,max=64"`
	Qty      float64 `json:"qty" validate:"required"`
	Batch    string  `json:"batch" validate:"max=64"`
	Serial   string  `json:"serial" validate:"max=64"`
}

func (h *Handler) handlePostMovement(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var form movementForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	release, err := h.claimIdempotency(r, "inventory.movements")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	movement, err := h.service.RecordMovement(r.Context(), form.toInput(identity.ID))
	if err != nil {
		release()
		h.respondDomainError(w, "post movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handlePostReceipt(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var form receiptForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	receiptID := uuid.NewString()
	reference := form.Reference
	if reference == "" {
		reference = "RCPT-" + receiptID[:8]
	}
	inputs := make([]MovementInput, 0, len(form.Lines))
	for _, line := range form.Lines {
		inputs = append(inputs, MovementInput{
			Type:        MovementInbound,
			ItemCode:    line.ItemCode,
			Qty:         line.Qty,
			UOM:         line.UOM,
			WarehouseTo: form.WarehouseTo,
			Batch:       line.Batch,
			Serial:      line.Serial,
			Reference:   reference,
			Note:        form.Note,
			ActorID:     identity.ID,
		})
	}

	release, err := h.claimIdempotency(r, "inventory.receipts")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	movements, err := h.service.RecordBatch(r.Context(), inputs)
	if err != nil {
		release()
		h.respondDomainError(w, "post receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"receipt_id":  receiptID,
		"reference":   reference,
		"lines_count": len(movements),
		"movements":   movements,
	})
}

func (h *Handler) handlePostAdjustments(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var form adjustmentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inputs := make([]MovementInput, 0, len(form.Lines))
	for _, line := range form.Lines {
		inputs = append(inputs, MovementInput{
			Type:        MovementAdjust,
			ItemCode:    line.ItemCode,
			Qty:         line.Qty,
			WarehouseTo: form.WarehouseTo,
			Batch:       line.Batch,
			Serial:      line.Serial,
			Reference:   form.Reference,
			Note:        form.Note,
			ActorID:     identity.ID,
		})
	}

	release, err := h.claimIdempotency(r, "inventory.adjustments")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	movements, err := h.service.RecordBatch(r.Context(), inputs)
	if err != nil {
		release()
		h.respondDomainError(w, "post adjustments", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"lines_count": len(movements),
		"movements":   movements,
	})
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	filter := BalanceFilter{
		ItemCode:      r.URL.Query().Get("item_code"),
		WarehouseCode: r.URL.Query().Get("warehouse_code"),
	}
	balances, err := h.service.Balances(r.Context(), filter)
	if err != nil {
		h.logger.Error("list balances", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if balances == nil {
		balances = []Balance{}
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}
	movements, err := h.service.Movements(r.Context(), limit)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, movements)
}

// claimIdempotency reserves the request's Idempotency-Key, if present. The
// returned release func removes the reservation when processing fails so the
// client may retry with the same key.
func (h *Handler) claimIdempotency(r *http.Request, module string) (func(), error) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || h.idempotency == nil {
		return func() {}, nil
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil, httpx.ErrConflict
		}
		h.logger.Error("idempotency check", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}
	ctx := r.Context()
	return func() {
		if err := h.idempotency.Delete(ctx, key); err != nil {
			h.logger.Warn("idempotency release", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func (h *Handler) respondDomainError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrWarehouseNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnknownMovementType),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrWarehouseRequired),
		errors.Is(err, ErrSameWarehouse),
		errors.Is(err, ErrBatchRequired),
		errors.Is(err, ErrSerialRequired),
		errors.Is(err, ErrActorRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
