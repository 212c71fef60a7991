// certhubd is the certificate pipeline daemon: HTTP API, dispatchers, the
// state owner, and the render toolchain glue.
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

	"certhub/internal/common"
	"certhub/internal/dispatch"
	"certhub/internal/export"
	"certhub/internal/inference"
	"certhub/internal/manager"
	"certhub/internal/pipeline"
	"certhub/internal/server"
	"certhub/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewMinioStore(cfg.Storage, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}

	uploads := dispatch.New("upload", logger,
		dispatch.WithCapacity(cfg.Dispatch.UploadSlots),
		dispatch.WithJobTimeout(cfg.Dispatch.JobTimeout))
	extracts := dispatch.New("extract", logger,
		dispatch.WithCapacity(cfg.Dispatch.ExtractSlots),
		dispatch.WithJobTimeout(cfg.Dispatch.JobTimeout))
	renders := dispatch.New("render", logger,
		dispatch.WithCapacity(cfg.Dispatch.RenderSlots),
		dispatch.WithJobTimeout(cfg.Dispatch.JobTimeout))

	runner := pipeline.ExecRunner{Logger: logger}
	mgr := manager.New(store, manager.Deps{
		Uploads:             uploads,
		Extracts:            extracts,
		Renders:             renders,
		Uploader:            pipeline.NewUploader(store, logger),
		Extractor:           pipeline.NewExtractor(inference.NewClient(cfg.Inference.Timeout, logger), logger),
		Renderer:            pipeline.NewCertRenderer(store, runner, cfg.Render, logger),
		DefaultInferenceURL: cfg.Inference.BaseURL,
	}, logger)

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := mgr.Load(loadCtx); err != nil {
		cancel()
		logger.Error("snapshot load failed", "error", err)
		os.Exit(1)
	}
	cancel()
	mgr.Start()

	srv := server.New(mgr, store, export.NewService(logger), cfg.Server, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http.listening", "addr", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown.signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http.shutdown_interrupted", "error", err)
	}

	uploads.Shutdown(shutdownCtx)
	extracts.Shutdown(shutdownCtx)
	renders.Shutdown(shutdownCtx)
	mgr.Stop()

	logger.Info("shutdown.complete")
}
