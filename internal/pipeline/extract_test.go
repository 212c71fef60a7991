package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"certhub/internal/common"
	"certhub/internal/inference"
	"certhub/internal/pipeline"
)

func TestExtractorNormalizesFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"parse_ocr_result": {
			"name_cn": "孙建芬",
			"name_pinyin": "Sun Jian Fen",
			"birthday": "1948-03-05",
			"baptism_date": "not-a-date"
		}}`))
	}))
	defer srv.Close()

	e := pipeline.NewExtractor(inference.NewClient(5*time.Second, nil), nil)
	res := e.Run(context.Background(), "2cf24dba", srv.URL)

	require.NoError(t, res.Err)
	require.Equal(t, "2cf24dba", res.ID)
	require.Equal(t, "Sun, JianFen", res.NamePinyin)
	require.Equal(t, "孙建芬", res.NameCN)
	require.NotNil(t, res.Birthday)
	require.Equal(t, "1948-03-05", res.Birthday.String())
	// Unparsable dates are discarded as empty, not errors.
	require.Nil(t, res.BaptismDate)
}

func TestExtractorPropagatesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := pipeline.NewExtractor(inference.NewClient(5*time.Second, nil), nil)
	res := e.Run(context.Background(), "2cf24dba", srv.URL)
	require.ErrorIs(t, res.Err, common.ErrInference)
}
