package net

import (
	"encoding/json"
	"net/http"

	perr "curator/internal/platform/errors"
)

// Envelope wraps every JSON body the api writes
type Envelope struct {
	StatusCode int            `json:"status_code"`
	Status     string         `json:"status"`
	Code       perr.ErrorCode `json:"code,omitempty"`
	Error      string         `json:"error,omitempty"`
	Field      string         `json:"field,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Data       any            `json:"data,omitempty"`
}

// Write sends data in an envelope, an error body takes its status from the error code
func Write(w http.ResponseWriter, r *http.Request, status int, data any) {
	env := Envelope{RequestID: RequestID(r.Context())}
	if err, ok := data.(error); ok && err != nil {
		status = perr.HTTPStatus(err)
		wire := perr.WireFrom(err)
		env.Code, env.Error, env.Field = wire.Code, wire.Message, wire.Field
	} else {
		env.Data = data
	}
	if status == 0 {
		status = http.StatusOK
	}
	env.StatusCode, env.Status = status, http.StatusText(status)

	if env.RequestID != "" {
		w.Header().Set("X-Request-ID", env.RequestID)
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
