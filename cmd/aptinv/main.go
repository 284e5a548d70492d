package main

import (
	"fmt"
	"log"
	"log/slog"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/commit"
	"github.com/vbonduro/aptinv/internal/config"
	"github.com/vbonduro/aptinv/internal/crop"
	"github.com/vbonduro/aptinv/internal/db"
	"github.com/vbonduro/aptinv/internal/inventory"
	"github.com/vbonduro/aptinv/internal/logging"
	"github.com/vbonduro/aptinv/internal/notify"
	"github.com/vbonduro/aptinv/internal/photostore/local"
	"github.com/vbonduro/aptinv/internal/service"
	"github.com/vbonduro/aptinv/internal/store"
	"github.com/vbonduro/aptinv/internal/vision"
	claudevision "github.com/vbonduro/aptinv/internal/vision/claude"
	ollamavision "github.com/vbonduro/aptinv/internal/vision/ollama"
	"github.com/vbonduro/aptinv/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	photoStg, err := local.NewLocalPhotoStore(cfg.PhotoPath)
	if err != nil {
		logger.Error("failed to initialize photo store", "error", err)
		return
	}

	detector, err := newDetector(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize vision backend", "error", err)
		return
	}

	notifier := notify.NewLogNotifier(logger)
	format := crop.ParseFormat(cfg.CropFormat)
	cropper := crop.New(format, cfg.CropQuality)

	inv := inventory.NewService(store.NewItemStore(database), store.NewPhotoStore(database), photoStg, logger)
	workflow := commit.NewWorkflow(inv, cropper, logger,
		commit.WithLabelSource(inv),
		commit.WithNotifier(notifier),
		commit.WithCondition(cfg.DefaultCondition),
	)
	sessions := service.NewService(detector, workflow, cropper, notifier, logger, service.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		SelectionMode:  annotation.SelectionMode(cfg.SelectionMode),
		CropMimeType:   format.MimeType(),
	})

	server := web.NewServer(sessions, inv, cfg.MaxUploadBytes, logger)
	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
	}
}

func newDetector(cfg *config.Config, logger *slog.Logger) (vision.Detector, error) {
	switch cfg.VisionBackend {
	case "claude":
		logger.Info("using Claude vision backend", "model", cfg.ClaudeModel)
		return claudevision.NewClaudeDetector(cfg.ClaudeAPIKey, cfg.ClaudeModel), nil
	case "ollama":
		logger.Info("using Ollama vision backend", "model", cfg.OllamaModel)
		return ollamavision.NewOllamaDetector(cfg.OllamaHost, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown vision backend %q", cfg.VisionBackend)
	}
}
