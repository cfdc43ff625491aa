package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stocktrail/stocktrail/internal/app"
	"github.com/stocktrail/stocktrail/internal/counting"
	"github.com/stocktrail/stocktrail/internal/integration"
	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/internal/masterdata/items"
	"github.com/stocktrail/stocktrail/internal/masterdata/warehouses"
	"github.com/stocktrail/stocktrail/internal/observability"
	"github.com/stocktrail/stocktrail/internal/outbound"
	"github.com/stocktrail/stocktrail/internal/platform/cache"
	"github.com/stocktrail/stocktrail/internal/platform/db"
	"github.com/stocktrail/stocktrail/internal/scan"
	"github.com/stocktrail/stocktrail/internal/shared"
	"github.com/stocktrail/stocktrail/jobs"
)

type itemCatalog struct {
	items *items.Service
}

func (c itemCatalog) Lookup(ctx context.Context, code string) (inventory.CatalogItem, error) {
	it, err := c.items.Lookup(ctx, code)
	if err != nil {
		return inventory.CatalogItem{}, err
	}
	return inventory.CatalogItem{
		Code:     it.Code,
		Name:     it.Name,
		UOM:      it.UOM,
		Tracking: string(it.Tracking),
	}, nil
}

type itemChecker struct {
	items *items.Service
}

func (c itemChecker) Exists(ctx context.Context, code string) (bool, error) {
	_, err := c.items.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, items.ErrItemNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, item cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	itemsRepo := items.NewRepository(pool)
	itemsCache := items.NewCache(redisClient, cfg.ItemCacheTTL)
	itemsService := items.NewService(itemsRepo, itemsCache, logger)
	itemsHandler := items.NewHandler(logger, itemsService)

	warehousesRepo := warehouses.NewRepository(pool)
	warehousesService := warehouses.NewService(warehousesRepo)
	warehousesHandler := warehouses.NewHandler(logger, warehousesService)

	hooks := integration.NewHooks(jobClient, logger)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(
		inventoryRepo,
		itemCatalog{items: itemsService},
		warehousesService,
		auditLogger,
		hooks,
		metrics,
		logger,
		inventory.ServiceConfig{AllowNegativeStock: cfg.StockAllowNegative},
	)
	inventoryHandler := inventory.NewHandler(logger, inventoryService, idempotency)

	resolver := scan.NewItemCodeResolver(itemChecker{items: itemsService})

	countingRepo := counting.NewRepository(pool, inventoryRepo)
	countingService := counting.NewService(countingRepo, inventoryService, resolver, itemCatalog{items: itemsService}, warehousesService, logger)
	countingHandler := counting.NewHandler(logger, countingService, metrics)

	outboundRepo := outbound.NewRepository(pool, inventoryRepo)
	outboundService := outbound.NewService(outboundRepo, inventoryService, resolver, warehousesService, logger)
	outboundHandler := outbound.NewHandler(logger, outboundService, metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InventoryHandler:  inventoryHandler,
		CountingHandler:   countingHandler,
		OutboundHandler:   outboundHandler,
		ItemsHandler:      itemsHandler,
		WarehousesHandler: warehousesHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
