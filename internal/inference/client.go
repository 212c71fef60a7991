// Package inference wraps the external extraction service. One call per
// profile: POST {base}/extract with the stored image's filename, returning
// the structured fields the OCR+LLM stage produced.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"certhub/internal/common"
)

// ExtractionFields is the normalized payload of a successful extraction.
// Absent or null upstream values come through as empty strings.
type ExtractionFields struct {
	NameCN      string
	NamePinyin  string
	Birthday    string
	BaptismDate string
}

type extractRequest struct {
	Filename string `json:"filename"`
}

type extractEnvelope struct {
	ParseOCRResult struct {
		NameCN      *string `json:"name_cn"`
		NamePinyin  *string `json:"name_pinyin"`
		Birthday    *string `json:"birthday"`
		BaptismDate *string `json:"baptism_date"`
	} `json:"parse_ocr_result"`
}

// Client calls the inference endpoint.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient builds a client with the given receive timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: client, logger: logger}
}

// Extract issues one inference call. Network or non-200 failures come back
// as ErrInference; a body that does not match the expected shape comes back
// as ErrMalformed. The caller's profile state is untouched either way, so
// the operation is safely retryable.
func (c *Client) Extract(ctx context.Context, baseURL, filename string) (ExtractionFields, error) {
	start := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(extractRequest{Filename: filename}).
		Post(baseURL + "/extract")
	if err != nil {
		c.logger.Error("inference.extract.send_error", "filename", filename, "error", err)
		return ExtractionFields{}, fmt.Errorf("extract %s: %v: %w", filename, err, common.ErrInference)
	}

	c.logger.Info("inference.extract.response",
		"filename", filename,
		"status", resp.StatusCode(),
		"bytes", len(resp.Body()),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode() != 200 {
		return ExtractionFields{}, fmt.Errorf("extract %s: status %d: %w", filename, resp.StatusCode(), common.ErrInference)
	}

	raw := resp.Body()
	if err := ValidateJSONAgainstSchema(extractResponseSchema(), raw); err != nil {
		c.logger.Error("inference.extract.malformed", "filename", filename, "error", err)
		return ExtractionFields{}, fmt.Errorf("extract %s: %v: %w", filename, err, common.ErrMalformed)
	}

	var env extractEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ExtractionFields{}, fmt.Errorf("extract %s: decode: %v: %w", filename, err, common.ErrMalformed)
	}

	return ExtractionFields{
		NameCN:      deref(env.ParseOCRResult.NameCN),
		NamePinyin:  deref(env.ParseOCRResult.NamePinyin),
		Birthday:    deref(env.ParseOCRResult.Birthday),
		BaptismDate: deref(env.ParseOCRResult.BaptismDate),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
