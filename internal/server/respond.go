package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"certhub/internal/common"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the failure taxonomy onto HTTP statuses. Upstream
// (inference) failures surface as 502 so the caller can tell them from our
// own faults.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrMerge):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrInference), errors.Is(err, common.ErrMalformed):
		status = http.StatusBadGateway
	case errors.Is(err, common.ErrStorage):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
