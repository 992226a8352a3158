// Package httputil provides shared HTTP utilities for consistent response handling.
package httputil

import (
	"encoding/json"
	"net/http"
)

// MessageBody is the error body shape returned by every handler.
type MessageBody struct {
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
// It sets the Content-Type header to application/json.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteMessage writes {"message": msg} with the given status code.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, MessageBody{Message: msg})
}

// WriteOK writes a 200 OK response with data.
func WriteOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteBadRequest writes a 400 Bad Request message.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteMessage(w, http.StatusBadRequest, msg)
}

// WriteUnauthorized writes a 401 Unauthorized message.
func WriteUnauthorized(w http.ResponseWriter, msg string) {
	WriteMessage(w, http.StatusUnauthorized, msg)
}

// WriteNotFound writes a 404 Not Found message.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteMessage(w, http.StatusNotFound, msg)
}

// WriteInternalError writes a 500 Internal Server Error message.
func WriteInternalError(w http.ResponseWriter, msg string) {
	WriteMessage(w, http.StatusInternalServerError, msg)
}
