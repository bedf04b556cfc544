package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/blue-mimo/image-labelling/pkg/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("writing response: %s", err)
	}
}

// writeError maps an error to a status code and a JSON error body. Messages of
// input and not found errors are shown to the client, anything else is logged
// and reported generically.
func writeError(w http.ResponseWriter, err error) {
	var (
		inputErr    types.InputError
		notFoundErr types.NotFoundError
	)
	switch {
	case errors.Is(err, types.ErrUploadTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "File too large"})
	case errors.As(err, &inputErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: inputErr.Message})
	case errors.Is(err, types.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: notFoundErr.Message})
	case errors.Is(err, types.ErrKeyNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Image not found"})
	default:
		log.Errorw("handling request", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}
