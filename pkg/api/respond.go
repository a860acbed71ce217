package api

import (
	"encoding/json"
	"net/http"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
)

// errorResponse is the JSON body returned for any failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as the response body, logging (not failing the
// request) if encoding itself errors out after headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("failed to encode response body")
	}
}

// writeError maps a lightderr.Kind to its HTTP status and writes the body.
// Errors with no Kind (programmer errors, unexpected stdlib errors) map to
// 500 rather than leaking internals to the client.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := lightderr.KindOf(err); ok {
		status = statusForKind(kind)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusForKind(kind lightderr.Kind) int {
	switch kind {
	case lightderr.NotFound:
		return http.StatusNotFound
	case lightderr.Conflict:
		return http.StatusConflict
	case lightderr.Validation:
		return http.StatusBadRequest
	case lightderr.Unauthorized:
		return http.StatusUnauthorized
	case lightderr.RuntimeUnavailable:
		return http.StatusServiceUnavailable
	case lightderr.Timeout:
		return http.StatusGatewayTimeout
	case lightderr.Exhausted:
		return http.StatusServiceUnavailable
	case lightderr.Unsupported:
		return http.StatusUnprocessableEntity
	case lightderr.IO, lightderr.Corrupt:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return lightderr.Wrap(lightderr.Validation, "decode request body", err)
	}
	return nil
}
