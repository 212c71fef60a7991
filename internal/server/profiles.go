package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"certhub/constants"
	"certhub/internal/common"
	"certhub/internal/manager"
	"certhub/internal/profile"
)

// maxUploadBytes caps a single multipart upload.
const maxUploadBytes = 32 << 20

// handleUpload stages the multipart image to a temp file and admits it to
// the upload pipeline. The response is a 202: the profile id only exists
// once the content hash is computed, and that happens off this request.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("parse multipart form: %v: %w", err, common.ErrInvalidInput))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, fmt.Errorf("missing image field: %w", common.ErrInvalidInput))
		return
	}
	defer file.Close()

	ext := constants.NormalizeExt(filepath.Ext(header.Filename))
	if !constants.AllowedExt(ext) {
		writeError(w, fmt.Errorf("extension %q not allowed: %w", ext, common.ErrInvalidInput))
		return
	}

	tmpPath := filepath.Join(s.cfg.UploadTmpDir, "upload_"+uuid.New().String()+"."+ext)
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, common.WrapError(err, "stage upload"))
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		writeError(w, common.WrapError(err, "stage upload"))
		return
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		writeError(w, common.WrapError(err, "stage upload"))
		return
	}

	s.manager.SubmitUpload(tmpPath)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	snap := s.manager.Snapshot()
	if snap.Profiles == nil {
		snap.Profiles = []*profile.Profile{}
	}
	writeJSON(w, http.StatusOK, snap.Profiles)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := s.manager.Snapshot().Find(id)
	if p == nil {
		writeError(w, fmt.Errorf("profile %s: %w", id, common.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updateProfileRequest struct {
	NameCN      *string `json:"name_cn"`
	NamePinyin  *string `json:"name_pinyin"`
	Birthday    *string `json:"birthday"`
	BaptismDate *string `json:"baptism_date"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decode body: %v: %w", err, common.ErrInvalidInput))
		return
	}

	err := s.manager.UpdateProfile(id, manager.ProfileUpdate{
		NameCN:      req.NameCN,
		NamePinyin:  req.NamePinyin,
		Birthday:    req.Birthday,
		BaptismDate: req.BaptismDate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Snapshot().Find(id))
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.DeleteProfile(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	IDs []string `json:"ids"`
}

type batchResponse struct {
	Accepted []string `json:"accepted"`
}

// handleBatch adapts the manager's batch operations, which all share the
// shape ids-in, accepted-subset-out.
func (s *Server) handleBatch(op func([]string) []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("decode body: %v: %w", err, common.ErrInvalidInput))
			return
		}
		if len(req.IDs) == 0 {
			writeError(w, fmt.Errorf("ids is required: %w", common.ErrInvalidInput))
			return
		}
		accepted := op(req.IDs)
		if accepted == nil {
			accepted = []string{}
		}
		writeJSON(w, http.StatusAccepted, batchResponse{Accepted: accepted})
	}
}
