package cli

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/vbonduro/critterkeep/internal/backup"
	"github.com/vbonduro/critterkeep/internal/catalog"
	"github.com/vbonduro/critterkeep/internal/config"
	"github.com/vbonduro/critterkeep/internal/db"
	"github.com/vbonduro/critterkeep/internal/imagecache"
	"github.com/vbonduro/critterkeep/internal/photostore/local"
	"github.com/vbonduro/critterkeep/internal/service"
	"github.com/vbonduro/critterkeep/internal/store"
	"github.com/vbonduro/critterkeep/internal/syncer"
)

// app holds the wired components a command runs against.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	families   *store.FamilyStore
	settings   *store.SettingsStore
	catalog    *catalog.Client
	searcher   *catalog.Searcher
	images     *imagecache.Cache
	syncer     *syncer.Coordinator
	backup     *backup.Engine
	collection *service.CollectionService
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a, err := wire(cfg, logger, database)
	if err != nil {
		if cerr := database.Close(); cerr != nil {
			logger.Error("failed to close database", "error", cerr)
		}
		return nil, err
	}
	return a, nil
}

func wire(cfg *config.Config, logger *slog.Logger, database *sql.DB) (*app, error) {
	itemStore := store.NewItemStore(database)
	photoStore := store.NewPhotoStore(database)
	familyStore := store.NewFamilyStore(database)
	settingsStore := store.NewSettingsStore(database)

	photoStg, err := local.NewLocalPhotoStore(cfg.PhotoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize photo store: %w", err)
	}

	client, err := catalog.NewClient(catalog.Config{
		BaseURL:           cfg.CatalogBaseURL(),
		RequestTimeout:    cfg.CatalogRequestTimeout,
		ResourceTimeout:   cfg.CatalogResourceTimeout,
		MaxRetries:        cfg.CatalogMaxRetries,
		BackoffBase:       cfg.CatalogBackoffBase,
		RequestsPerSecond: cfg.CatalogRPS,
		UserAgent:         "critterkeep/" + cfg.AppVersion,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog client: %w", err)
	}

	images, err := imagecache.New(cfg.ImageCachePath, cfg.ImageCacheMaxBytes, client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image cache: %w", err)
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         database,
		families:   familyStore,
		settings:   settingsStore,
		catalog:    client,
		searcher:   catalog.NewSearcher(client),
		images:     images,
		syncer:     syncer.NewCoordinator(client, familyStore, settingsStore, cfg.SyncInterval(), logger),
		backup:     backup.NewEngine(itemStore, photoStore, photoStg, settingsStore, cfg.AppVersion, logger),
		collection: service.NewCollectionService(itemStore, photoStore, photoStg, client, logger),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}
