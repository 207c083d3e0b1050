package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// JSONResponse is the envelope of every JSON reply.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError is the error part of the envelope. Code is stable and machine
// readable; Message is for people.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta carries the server time and API version.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

const apiVersion = "v1"

func send(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respond writes data in a success envelope; a non-2xx status marks it failed.
func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	send(w, status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: apiVersion},
		RequestID: requestIDFrom(r.Context()),
	})
}

// respondError writes an error envelope. details may be empty.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	send(w, status, JSONResponse{
		Error:     &APIError{Code: code, Message: message, Details: details},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: apiVersion},
		RequestID: requestIDFrom(r.Context()),
	})
}
