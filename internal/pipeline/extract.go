package pipeline

import (
	"context"
	"log/slog"

	"certhub/internal/inference"
	"certhub/internal/profile"
)

// Extractor runs the inference stage for one profile.
type Extractor struct {
	client *inference.Client
	logger *slog.Logger
}

func NewExtractor(client *inference.Client, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, logger: logger}
}

// Run issues the inference call and normalizes whatever came back: the
// romanized name is folded into "Family, Given" form and unparsable dates
// are discarded as empty. On failure nothing is applied, so the caller can
// safely retry the same profile later.
func (e *Extractor) Run(ctx context.Context, id, baseURL string) ExtractResult {
	fields, err := e.client.Extract(ctx, baseURL, id+".jpg")
	if err != nil {
		e.logger.Error("pipeline.extract.failed", "id", id, "error", err)
		return ExtractResult{ID: id, Err: err}
	}

	res := ExtractResult{
		ID:          id,
		NameCN:      fields.NameCN,
		NamePinyin:  profile.NormalizePinyin(fields.NamePinyin),
		Birthday:    profile.ParseDate(fields.Birthday),
		BaptismDate: profile.ParseDate(fields.BaptismDate),
	}
	e.logger.Info("pipeline.extract.ok",
		"id", id,
		"has_birthday", res.Birthday != nil,
		"has_baptism_date", res.BaptismDate != nil,
	)
	return res
}
