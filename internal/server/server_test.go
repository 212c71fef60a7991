package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"certhub/constants"
	"certhub/internal/common"
	"certhub/internal/dispatch"
	"certhub/internal/export"
	"certhub/internal/manager"
	"certhub/internal/pipeline"
	"certhub/internal/profile"
	"certhub/internal/storage"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// newTestServer builds a server around a manager preloaded with the given
// snapshot. Only the upload dispatcher is wired; tests exercising the other
// pipelines live with the manager.
func newTestServer(t *testing.T, store *storage.MemStore, seed profile.Snapshot) (*Server, *manager.Manager) {
	t.Helper()

	if len(seed.Profiles) > 0 || seed.Config.InferenceURL != "" {
		b, err := profile.EncodeSnapshot(seed)
		require.NoError(t, err)
		require.NoError(t, store.Put(context.Background(), constants.SnapshotKey, bytes.NewReader(b), int64(len(b)), "application/json"))
	}

	m := manager.New(store, manager.Deps{
		Uploads:  dispatch.New("upload", testLogger, dispatch.WithCapacity(3)),
		Uploader: pipeline.NewUploader(store, testLogger),
	}, testLogger)
	require.NoError(t, m.Load(context.Background()))
	m.Start()
	t.Cleanup(m.Stop)

	srv := New(m, store, export.NewService(testLogger), common.ServerConfig{
		RequestTimeout: 5 * time.Second,
		UploadTmpDir:   t.TempDir(),
	}, testLogger)
	return srv, m
}

func seedSnapshot() profile.Snapshot {
	return profile.Snapshot{Profiles: []*profile.Profile{
		{ID: "aaaa1111", NameCN: "孙建芬", NamePinyin: "Sun, JianFen", Status: constants.StatusExtracted},
		{ID: "bbbb2222", Status: constants.StatusGenerated},
	}}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListAndGetProfiles(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemStore(), seedSnapshot())
	h := srv.Router()

	rec := doJSON(t, h, http.MethodGet, "/api/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []profile.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	require.Equal(t, "aaaa1111", list[0].ID)

	rec = doJSON(t, h, http.MethodGet, "/api/profiles/aaaa1111", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p profile.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, "孙建芬", p.NameCN)

	rec = doJSON(t, h, http.MethodGet, "/api/profiles/missing1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateProfileHandler(t *testing.T) {
	srv, m := newTestServer(t, storage.NewMemStore(), seedSnapshot())
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPatch, "/api/profiles/aaaa1111",
		`{"name_pinyin":"li wei ming","birthday":"1990-07-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	p := m.Snapshot().Find("aaaa1111")
	require.Equal(t, "li, weiming", p.NamePinyin)
	require.Equal(t, "1990-07-01", p.Birthday.Format("2006-01-02"))

	rec = doJSON(t, h, http.MethodPatch, "/api/profiles/aaaa1111", `{"birthday":"not a date"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/api/profiles/missing1", `{"name_cn":"x"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/api/profiles/aaaa1111", `{bad json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteProfileHandler(t *testing.T) {
	store := storage.NewMemStore()
	require.NoError(t, store.Put(context.Background(), constants.RawImageKey("aaaa1111"), strings.NewReader("img"), 3, "image/jpeg"))
	srv, m := newTestServer(t, store, seedSnapshot())
	h := srv.Router()

	rec := doJSON(t, h, http.MethodDelete, "/api/profiles/aaaa1111", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, m.Snapshot().Find("aaaa1111"))
	_, ok := store.Object(constants.RawImageKey("aaaa1111"))
	require.False(t, ok)

	rec = doJSON(t, h, http.MethodDelete, "/api/profiles/aaaa1111", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewBatchHandlers(t *testing.T) {
	srv, m := newTestServer(t, storage.NewMemStore(), seedSnapshot())
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/profiles/review", `{"ids":["aaaa1111","bbbb2222","missing1"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Accepted []string `json:"accepted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"bbbb2222"}, resp.Accepted)
	require.Equal(t, constants.StatusReviewed, m.Snapshot().Find("bbbb2222").Status)

	rec = doJSON(t, h, http.MethodPost, "/api/profiles/unreview", `{"ids":["bbbb2222"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, constants.StatusGenerated, m.Snapshot().Find("bbbb2222").Status)

	rec = doJSON(t, h, http.MethodPost, "/api/profiles/review", `{"ids":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Nothing eligible still answers with an empty accepted list.
	rec = doJSON(t, h, http.MethodPost, "/api/profiles/review", `{"ids":["aaaa1111"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Accepted)
}

func TestUploadHandler(t *testing.T) {
	store := storage.NewMemStore()
	srv, m := newTestServer(t, store, profile.Snapshot{})
	h := srv.Router()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/profiles", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return len(m.Snapshot().Profiles) == 1
	}, 5*time.Second, 20*time.Millisecond)
	p := m.Snapshot().Profiles[0]
	require.Equal(t, constants.StatusUploaded, p.Status)
	_, ok := store.Object(constants.RawImageKey(p.ID))
	require.True(t, ok)
}

func TestUploadHandlerRejectsBadExtension(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemStore(), profile.Snapshot{})
	h := srv.Router()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/profiles", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing image field entirely.
	var buf2 bytes.Buffer
	mw2 := multipart.NewWriter(&buf2)
	require.NoError(t, mw2.WriteField("other", "x"))
	require.NoError(t, mw2.Close())
	req = httptest.NewRequest(http.MethodPost, "/api/profiles", &buf2)
	req.Header.Set("Content-Type", mw2.FormDataContentType())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArtifactRedirects(t *testing.T) {
	store := storage.NewMemStore()
	require.NoError(t, store.Put(context.Background(), constants.CertificateKey("bbbb2222"), strings.NewReader("deck"), 4, "application/octet-stream"))
	srv, _ := newTestServer(t, store, seedSnapshot())
	h := srv.Router()

	rec := doJSON(t, h, http.MethodGet, "/api/profiles/bbbb2222/certificate", "")
	require.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	require.Contains(t, loc, "certificates/bbbb2222.pptx")
	require.Contains(t, loc, "disposition=inline")

	rec = doJSON(t, h, http.MethodGet, "/api/profiles/bbbb2222/certificate?download=1", "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "disposition=attachment")

	// Profile exists but the artifact does not.
	rec = doJSON(t, h, http.MethodGet, "/api/profiles/bbbb2222/preview", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/profiles/missing1/certificate", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigHandlers(t *testing.T) {
	srv, m := newTestServer(t, storage.NewMemStore(), profile.Snapshot{})
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPut, "/api/config",
		`{"inference_url":"http://infer.local","certificate_config":{"sign_date_value":"2024-01-01"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := m.GetConfig()
	require.Equal(t, "http://infer.local", cfg.InferenceURL)
	require.Equal(t, "2024-01-01", cfg.CertificateConfig[profile.SignDateKey])

	rec = doJSON(t, h, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got profile.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "http://infer.local", got.InferenceURL)
}

func TestRosterHandler(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemStore(), seedSnapshot())
	h := srv.Router()

	rec := doJSON(t, h, http.MethodGet, "/api/export/roster", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Body.Bytes())
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemStore(), profile.Snapshot{})
	h := srv.Router()

	rec := doJSON(t, h, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"storage":"up"`)

	rec = doJSON(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemStore(), profile.Snapshot{})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "certhub_dispatch")
}

func TestCombineHandlerRejectsIneligible(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemStore(), profile.Snapshot{Profiles: []*profile.Profile{
		{ID: "up000000", Status: constants.StatusUploaded},
	}})
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/certificates/combine", `{"ids":["up000000"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/certificates/combine", `{"ids":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, storage.NewMemStore(), profile.Snapshot{})
	h := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = doJSON(t, h, http.MethodGet, "/health/live", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
