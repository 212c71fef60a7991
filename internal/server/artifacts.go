package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"certhub/constants"
	"certhub/internal/common"
	"certhub/internal/manager"
	"certhub/internal/profile"
	"certhub/internal/storage"
)

// artifactKind names one of the per-profile stored objects.
type artifactKind int

const (
	artifactImage artifactKind = iota
	artifactHeadshot
	artifactCertificate
	artifactPreview
)

func (k artifactKind) key(id string) string {
	switch k {
	case artifactImage:
		return constants.RawImageKey(id)
	case artifactHeadshot:
		return constants.HeadshotKey(id)
	case artifactCertificate:
		return constants.CertificateKey(id)
	default:
		return constants.PreviewKey(id)
	}
}

// filename is the download name offered when the client forces attachment.
func (k artifactKind) filename(id string) string {
	switch k {
	case artifactImage:
		return id + ".jpg"
	case artifactHeadshot:
		return id + "_headshot.jpg"
	case artifactCertificate:
		return id + ".pptx"
	default:
		return id + "_preview.png"
	}
}

// handleArtifact redirects to a presigned URL for the requested object.
// ?download=1 switches the disposition to attachment.
func (s *Server) handleArtifact(kind artifactKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if s.manager.Snapshot().Find(id) == nil {
			writeError(w, fmt.Errorf("profile %s: %w", id, common.ErrNotFound))
			return
		}

		key := kind.key(id)
		exists, err := s.store.Exists(r.Context(), key)
		if err != nil {
			writeError(w, common.WrapError(err, "check artifact"))
			return
		}
		if !exists {
			writeError(w, fmt.Errorf("artifact %s: %w", key, common.ErrNotFound))
			return
		}

		d := storage.Disposition{}
		if r.URL.Query().Get("download") == "1" {
			d = storage.Disposition{Attachment: true, Filename: kind.filename(id)}
		}
		url, err := s.store.PresignGet(r.Context(), key, presignExpiry, d)
		if err != nil {
			writeError(w, common.WrapError(err, "presign artifact"))
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}

func (s *Server) handleCombine(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decode body: %v: %w", err, common.ErrInvalidInput))
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, fmt.Errorf("ids is required: %w", common.ErrInvalidInput))
		return
	}

	merged, err := s.manager.CombineCertificates(r.Context(), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.presentationml.presentation")
	w.Header().Set("Content-Disposition", `attachment; filename="certificates_combined.pptx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(merged)
}

func (s *Server) handleRoster(w http.ResponseWriter, _ *http.Request) {
	b, err := s.export.RosterXLSX(s.manager.Snapshot())
	if err != nil {
		writeError(w, common.WrapError(err, "export roster"))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="roster.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetConfig())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg profile.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, fmt.Errorf("decode body: %v: %w", err, common.ErrInvalidInput))
		return
	}
	s.manager.UpdateConfig(cfg)
	writeJSON(w, http.StatusOK, s.manager.GetConfig())
}

// handleEvents streams manager events as SSE. Registering replaces any
// previous subscriber; the connection staying open is what keeps the slot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported: %w", common.ErrInternal))
		return
	}

	events := make(chan manager.Event, 16)
	s.manager.Subscribe(events)
	defer s.manager.Unsubscribe(events)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("events.encode_failed", "op", ev.Op, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Op, data)
			flusher.Flush()
		}
	}
}

// ---- health ----

type healthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Timestamp     string            `json:"timestamp"`
	Checks        map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "alive"})
}

// handleReadiness verifies the object store answers before declaring ready.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ready", Checks: map[string]string{}}
	status := http.StatusOK

	if _, err := s.store.Exists(r.Context(), constants.SnapshotKey); err != nil {
		resp.Status = "not_ready"
		resp.Checks["storage"] = "down: " + err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["storage"] = "up"
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}
