// Package httpserver contains HTTP handlers and middleware for the
// ranking engine's Edge Service.
//
// It exposes the ballot-challenge, topic-administration, and
// result-query endpoints over JSON, each wrapped in a
// {status, data, message} response envelope.
package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// envelope is the response shape for every endpoint: status=0
// means OK, data carries the success payload, message carries a
// human-readable string ("ok" on success, the error text otherwise).
type envelope struct {
	Status  int         `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, httpStatus int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOK writes a success envelope with status=0.
func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Status: 0, Data: data, Message: "ok"})
}

// writeError translates a domain error into the response envelope; the
// HTTP status code derives from the envelope's status bucket.
func writeError(w http.ResponseWriter, err error) {
	bucket := domain.StatusBucket(err)
	httpStatus := bucket
	if httpStatus == 0 {
		httpStatus = http.StatusInternalServerError
	}
	writeJSON(w, httpStatus, envelope{Status: bucket, Message: err.Error()})
}
