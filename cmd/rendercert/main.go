// rendercert renders one profile's certificate from a local snapshot file,
// using the same toolchain as the daemon. Operator tool for debugging
// template or layout changes without going through the API.
//
// Usage: rendercert -snapshot manager_state.json -id <profile-id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"certhub/internal/common"
	"certhub/internal/pipeline"
	"certhub/internal/profile"
	"certhub/internal/storage"
)

func main() {
	snapshotPath := flag.String("snapshot", "manager_state.json", "path to a snapshot JSON file")
	id := flag.String("id", "", "profile id to render")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "usage: rendercert -snapshot <file> -id <profile-id>")
		os.Exit(2)
	}

	if err := run(*snapshotPath, *id, logger); err != nil {
		logger.Error("render failed", "error", err)
		os.Exit(1)
	}
}

func run(snapshotPath, id string, logger *slog.Logger) error {
	f, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := profile.DecodeSnapshot(f)
	if err != nil {
		return err
	}
	p := snap.Find(id)
	if p == nil {
		return fmt.Errorf("profile %s not in snapshot: %w", id, common.ErrNotFound)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	store, err := storage.NewMinioStore(cfg.Storage, logger)
	if err != nil {
		return err
	}

	renderer := pipeline.NewCertRenderer(store, pipeline.ExecRunner{Logger: logger}, cfg.Render, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Render.Timeout)
	defer cancel()

	res := renderer.Render(ctx, p, snap.Config)
	if res.Err != nil {
		return fmt.Errorf("step %s: %w", res.Step, res.Err)
	}

	logger.Info("render ok", "id", id)
	return nil
}
