package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stocktrail/stocktrail/internal/counting"
	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/internal/masterdata/items"
	"github.com/stocktrail/stocktrail/internal/masterdata/warehouses"
	"github.com/stocktrail/stocktrail/internal/observability"
	"github.com/stocktrail/stocktrail/internal/outbound"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	InventoryHandler  *inventory.Handler
	CountingHandler   *counting.Handler
	OutboundHandler   *outbound.Handler
	ItemsHandler      *items.Handler
	WarehousesHandler *warehouses.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/inventory", params.InventoryHandler.MountRoutes)
	r.Route("/count", params.CountingHandler.MountRoutes)
	r.Route("/outbound", params.OutboundHandler.MountRoutes)
	if params.ItemsHandler != nil {
		r.Route("/masterdata/items", params.ItemsHandler.MountRoutes)
	}
	if params.WarehousesHandler != nil {
		r.Route("/masterdata/warehouses", params.WarehousesHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
