package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"certhub/constants"
	"certhub/internal/imaging"
	"certhub/internal/profile"
	"certhub/internal/storage"
)

// Derivative bounds for the compressed copy stored next to each raw image.
const (
	derivativeMaxEdge = 1600
	derivativeQuality = 80
)

// Uploader turns a staged upload into a stored image pair and a new profile.
type Uploader struct {
	store  storage.Store
	logger *slog.Logger

	// suffix generates collision fallbacks; injectable for deterministic
	// tests.
	suffix func() string
}

func NewUploader(store storage.Store, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{store: store, logger: logger}
}

// WithSuffix overrides the collision-suffix generator.
func (u *Uploader) WithSuffix(fn func() string) *Uploader {
	u.suffix = fn
	return u
}

// Run executes one upload job: hash the staged bytes into a candidate id,
// disambiguate against known ids, store the raw image and its compressed
// derivative, and emit the new profile. The staged file is removed whether
// or not the job succeeds.
func (u *Uploader) Run(ctx context.Context, tmpPath string, known map[string]struct{}) UploadResult {
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			u.logger.Warn("upload.tmp_remove_failed", "path", tmpPath, "error", err)
		}
	}()

	raw, err := os.ReadFile(tmpPath)
	if err != nil {
		return UploadResult{Err: fmt.Errorf("read staged upload: %w", err)}
	}

	candidate, err := profile.HashID(bytes.NewReader(raw))
	if err != nil {
		return UploadResult{Err: err}
	}
	id := profile.UniqueID(candidate, known, u.suffix)
	if id != candidate {
		u.logger.Info("upload.id_collision", "candidate", candidate, "id", id)
	}

	derivative, err := imaging.ResizeJPEG(raw, derivativeMaxEdge, derivativeQuality)
	if err != nil {
		return UploadResult{Err: fmt.Errorf("build derivative: %w", err)}
	}

	if err := u.store.Put(ctx, constants.RawImageKey(id), bytes.NewReader(raw), int64(len(raw)), "image/jpeg"); err != nil {
		return UploadResult{Err: err}
	}
	if err := u.store.Put(ctx, constants.CompressedKey(id), bytes.NewReader(derivative), int64(len(derivative)), "image/jpeg"); err != nil {
		return UploadResult{Err: err}
	}

	u.logger.Info("upload.stored",
		"id", id,
		"raw_bytes", len(raw),
		"derivative_bytes", len(derivative),
	)
	return UploadResult{Profile: &profile.Profile{
		ID:     id,
		Status: constants.StatusUploaded,
	}}
}
