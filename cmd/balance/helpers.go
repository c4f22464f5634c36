package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/evidence"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
	"github.com/Veraticus/the-books-must-balance/internal/service"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

// loadConfig reads the typed configuration from the global viper instance.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// initStorage opens the database at the configured path and runs migrations.
func initStorage(ctx context.Context, cfg *config.Config) (service.Storage, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	store.SetAmountTolerance(cfg.Reconcile.AmountTolerance)

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func closeStorage(store service.Storage) {
	if err := store.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}
}

// app bundles everything a command needs to run the two engines.
type app struct {
	cfg        *config.Config
	store      service.Storage
	evidence   *evidence.Source
	reconciler *reconcile.Engine
	classifier *classify.Engine
}

// newApp loads config, opens storage and builds both engines.
// The caller must call close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	source, err := evidence.New(ctx, cfg.Evidence)
	if err != nil {
		closeStorage(store)
		return nil, fmt.Errorf("failed to initialize evidence provider: %w", err)
	}

	reconciler, err := reconcile.NewEngine(store, cfg.Reconcile)
	if err != nil {
		closeStorage(store)
		_ = source.Close()
		return nil, err
	}

	classifier, err := classify.NewEngine(store, store, source.Retriever, cfg.Classify)
	if err != nil {
		closeStorage(store)
		_ = source.Close()
		return nil, err
	}
	if source.Learner != nil {
		classifier.SetLearner(source.Learner)
	}

	return &app{
		cfg:        cfg,
		store:      store,
		evidence:   source,
		reconciler: reconciler,
		classifier: classifier,
	}, nil
}

func (a *app) close() {
	if err := a.evidence.Close(); err != nil {
		slog.Error("failed to close evidence provider", "error", err)
	}
	closeStorage(a.store)
}

// tenantsFromFlags resolves --tenant / --all into a list of tenants.
func tenantsFromFlags(ctx context.Context, store service.Storage, tenant string, all bool) ([]string, error) {
	switch {
	case tenant != "" && all:
		return nil, fmt.Errorf("--tenant and --all are mutually exclusive")
	case tenant != "":
		return []string{tenant}, nil
	case all:
		tenants, err := store.ListTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tenants: %w", err)
		}
		return tenants, nil
	default:
		return nil, fmt.Errorf("either --tenant or --all is required")
	}
}
