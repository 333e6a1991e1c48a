package api

import (
	"encoding/json"
	"net/http"

	"codeberg.org/mutker/trophyctl/internal/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newErrorBody(err error) *errorBody {
	return &errorBody{Code: errors.CodeOf(err).String(), Message: err.Error()}
}

var statusByCode = map[errors.ErrorCode]int{
	errors.ErrInvalidCommand:   http.StatusBadRequest,
	errors.ErrInvalidArgument:  http.StatusBadRequest,
	errors.ErrUnknownMetric:    http.StatusNotFound,
	errors.ErrUnknownAlert:     http.StatusNotFound,
	errors.ErrUnknownSource:    http.StatusConflict,
	errors.ErrUnknownMode:      http.StatusUnprocessableEntity,
	errors.ErrUnknownParameter: http.StatusUnprocessableEntity,
	errors.ErrUnknownFlag:      http.StatusUnprocessableEntity,
	errors.ErrOutOfRange:       http.StatusUnprocessableEntity,
}

// statusFor maps a domain error onto an HTTP status
func statusFor(err error) int {
	if status, ok := statusByCode[errors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]*errorBody{"error": newErrorBody(err)})
}
