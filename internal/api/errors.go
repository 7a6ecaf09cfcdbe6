package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dokzlo13/worldmapd/internal/commands"
	"github.com/dokzlo13/worldmapd/internal/dispatch"
	"github.com/dokzlo13/worldmapd/internal/remote"
)

// Error codes returned in error bodies
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeUpstream   = "upstream_error"
	ErrCodeRejected   = "rejected"
	ErrCodeInternal   = "internal_error"
)

// Error is the JSON body of every error response
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeFailure maps a domain error to a status code
func writeFailure(w http.ResponseWriter, err error) {
	var verr *commands.ValidationError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, verr.Error())
	case errors.Is(err, commands.ErrUnknownCommand), errors.Is(err, dispatch.ErrUnknownEntity):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, remote.ErrRejected):
		writeError(w, http.StatusConflict, ErrCodeRejected, err.Error())
	default:
		// transport failures, remote status errors and failed refreshes
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
