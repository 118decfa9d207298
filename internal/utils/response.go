package utils

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"RaspiSensing.scylla/internal/models"
)

// RespondWithText sends a plain-text response.
func RespondWithText(writer http.ResponseWriter, statusCode int, body string) {
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writer.WriteHeader(statusCode)
	if _, err := io.WriteString(writer, body); err != nil {
		slog.Debug("failed to write text response", "error", err)
	}
}

// RespondWithError sends the APIError message as plain text with its
// status code. The code is carried in the X-Error-Code header.
func RespondWithError(writer http.ResponseWriter, apiErr models.APIError) {
	writer.Header().Set("X-Error-Code", string(apiErr.Code))
	RespondWithText(writer, apiErr.StatusCode, apiErr.Message)
}

// RespondWithJSON sends a JSON success response.
func RespondWithJSON(writer http.ResponseWriter, statusCode int, payload interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	if err := json.NewEncoder(writer).Encode(payload); err != nil {
		slog.Debug("failed to encode JSON response", "error", err)
	}
}
