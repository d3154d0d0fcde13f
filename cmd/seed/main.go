package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/flicky/storefront/internal/app"
	"github.com/flicky/storefront/internal/cache"
	"github.com/flicky/storefront/internal/config"
	"github.com/flicky/storefront/internal/repository"
	"github.com/flicky/storefront/internal/seed"
)

func main() {
	file := flag.String("file", "catalog.yaml", "YAML catalog fixture to load")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	f, err := os.Open(*file)
	if err != nil {
		log.Error("open fixture", "file", *file, "error", err)
		os.Exit(1)
	}
	fixture, err := seed.Decode(f)
	f.Close()
	if err != nil {
		log.Error("read fixture", "file", *file, "error", err)
		os.Exit(1)
	}

	redisClient := app.NewRedisClient(cfg.Redis)
	defer redisClient.Close()

	store, closeStore, err := app.OpenStore(ctx, cfg, redisClient, log)
	if err != nil {
		log.Error("open document store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	products := repository.NewProductRepository(store)
	categories := repository.NewCategoryRepository(store)

	n, err := seed.Apply(ctx, fixture, products, categories)
	if err != nil {
		log.Error("seed catalog", "written", n, "error", err)
		os.Exit(1)
	}

	catalogCache := cache.NewCatalogCache(repository.Catalog{Products: products, Categories: categories}, redisClient, cfg.Cache.CatalogTTL, log)
	if err := catalogCache.Invalidate(ctx); err != nil {
		log.Warn("invalidate catalog cache", "error", err)
	}

	log.Info("catalog seeded", "file", *file, "documents", n)
}
