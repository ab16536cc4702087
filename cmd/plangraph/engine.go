package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/planwell/plangraph/internal/config"
	"github.com/planwell/plangraph/internal/conflict"
	"github.com/planwell/plangraph/internal/extract"
	"github.com/planwell/plangraph/internal/notify"
	"github.com/planwell/plangraph/internal/resolver"
	"github.com/planwell/plangraph/internal/retrieval"
	"github.com/planwell/plangraph/internal/similarity"
	"github.com/planwell/plangraph/internal/slogutil"
	"github.com/planwell/plangraph/internal/storage"
)

// engine bundles the wired components a command needs. Commands open it,
// use what they need, and Close it.
type engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *storage.DB
	store     *storage.Store
	resolver  *resolver.Resolver
	detector  *conflict.Detector
	notifier  *notify.Notifier
	retriever *retrieval.Retriever
	registry  *retrieval.Registry
	extractor *extract.Extractor
	logCloser io.Closer
}

func resolveRoot() (string, error) {
	if rootFlag != "" {
		return rootFlag, nil
	}
	return os.Getwd()
}

// openEngine loads config, opens the store, and wires everything together.
// The embedding capability is absent in the CLI; semantic scoring degrades
// to zero everywhere.
func openEngine() (*engine, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	var logger *slog.Logger
	var logCloser io.Closer
	if cfg.Logging.File != "" {
		path := cfg.Logging.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		logger, logCloser, err = slogutil.NewFileLoggerWithRotation(
			path, slogutil.LevelFromString(level), cfg.Logging.MaxSize, cfg.Logging.MaxBackups)
		if err != nil {
			return nil, err
		}
	} else {
		logger = slogutil.NewLogger(os.Stderr, slogutil.LevelFromString(level))
	}

	dbPath := cfg.Store.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(root, dbPath)
	}
	db, err := storage.OpenAt(dbPath, logger)
	if err != nil {
		return nil, err
	}

	store := storage.NewStore(db, logger)

	var embeddings *similarity.EmbeddingStore
	thresholds := similarity.DefaultThresholds()
	thresholds.Similar = cfg.Resolver.SimilarThreshold
	thresholds.Related = cfg.Resolver.RelatedThreshold
	thresholds.Duplicate = cfg.Resolver.DuplicateThreshold

	res := resolver.New(store, embeddings, thresholds, logger)
	det := conflict.New(store, res, time.Duration(cfg.Conflicts.StaleWipHours)*time.Hour, logger)

	registry := retrieval.NewRegistry()
	retriever := retrieval.New(store, embeddings, retrieval.NewRouter(registry), cfg.Retrieval.RRFConstant, logger)

	return &engine{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     store,
		resolver:  res,
		detector:  det,
		notifier:  buildNotifier(cfg, logger),
		retriever: retriever,
		registry:  registry,
		extractor: extract.New(logger),
		logCloser: logCloser,
	}, nil
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var channels []notify.Channel
	for _, name := range cfg.Notify.Channels {
		switch name {
		case "log":
			channels = append(channels, notify.NewLogChannel(logger))
		case "file":
			channels = append(channels, notify.NewFileChannel(cfg.Notify.FilePath))
		case "webhook":
			channels = append(channels, notify.NewWebhookChannel(
				cfg.Notify.WebhookURL,
				time.Duration(cfg.Notify.WebhookTimeoutMs)*time.Millisecond))
		}
	}
	return notify.New(logger, channels...)
}

func (e *engine) Close() error {
	err := e.db.Close()
	if e.logCloser != nil {
		e.logCloser.Close()
	}
	return err
}
