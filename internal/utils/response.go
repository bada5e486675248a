package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/logger"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now().UTC(),
	}
}

func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	WriteJSON(w, status, SuccessResponse(message, data))
}

// WriteError maps err onto the error envelope. Internal errors are logged with
// their cause and answered with a generic message.
func WriteError(w http.ResponseWriter, log *logger.Logger, category string, err error) {
	e := apperr.From(err)
	status := e.StatusCode()
	if status >= http.StatusInternalServerError {
		log.Error(category, err.Error())
	} else {
		log.Warn(category, err.Error())
	}
	WriteJSON(w, status, ErrorResponse(e.Message, e.Code))
}
