package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"RaspiSensing.scylla/internal/models"
	"RaspiSensing.scylla/internal/repository"
	"RaspiSensing.scylla/internal/service"
	"RaspiSensing.scylla/internal/utils"
	"github.com/gorilla/mux"
)

// Ingester is the part of service.IngestService the controller drives.
type Ingester interface {
	Ingest(ctx context.Context, body []byte) (models.StoredRow, error)
}

// ReadingController handles HTTP requests for sensor readings.
type ReadingController struct {
	ingest       Ingester
	history      *service.HistoryService
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewReadingController creates a new ReadingController.
func NewReadingController(ingest Ingester, history *service.HistoryService, maxBodyBytes int64, logger *slog.Logger) *ReadingController {
	return &ReadingController{
		ingest:       ingest,
		history:      history,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// HandlePostReading ingests one reading. Responses are plain text:
// "Success" with 200, "Error parsing body: ..." with 400 (413 when the
// body is over the limit) or "Failed to insert reading: ..." with 503.
func (c *ReadingController) HandlePostReading(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr := models.ParseError(fmt.Errorf("body exceeds %d bytes", tooLarge.Limit))
			apiErr.Code = models.ErrorCodeBodyTooLarge
			apiErr.StatusCode = http.StatusRequestEntityTooLarge
			utils.RespondWithError(w, apiErr)
			return
		}
		utils.RespondWithError(w, models.ParseError(fmt.Errorf("error reading request body: %w", err)))
		return
	}

	_, err = c.ingest.Ingest(r.Context(), body)
	if err != nil {
		utils.RespondWithError(w, toAPIError(err))
		return
	}

	utils.RespondWithText(w, http.StatusOK, "Success")
}

// toAPIError maps ingestion failures to their HTTP form.
func toAPIError(err error) models.APIError {
	var decodeErr *models.DecodeError
	if errors.As(err, &decodeErr) {
		return models.ParseError(decodeErr.Cause)
	}
	var storeErr *repository.StoreError
	if errors.As(err, &storeErr) {
		return models.InsertError(storeErr.Err)
	}
	return models.NewAPIError(models.ErrorCodeInternalServerError, "Failed to insert reading: "+err.Error(), http.StatusInternalServerError)
}

// HandleLatest returns the newest temperature for the {name} sensor.
func (c *ReadingController) HandleLatest(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	temp, err := c.history.Latest(r.Context(), name)
	if errors.Is(err, repository.ErrNotFound) {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeNotFound, fmt.Sprintf("no readings for %q", name), http.StatusNotFound))
		return
	}
	if err != nil {
		c.logger.Error("error reading latest temperature", "name", name, "error", err)
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeStoreUnavailable, "Failed to read temperature: "+err.Error(), http.StatusServiceUnavailable))
		return
	}

	utils.RespondWithText(w, http.StatusOK, strconv.FormatFloat(float64(temp.Temp), 'f', -1, 32))
}

// HandleHistory returns averaged recent history for the {name} sensor.
func (c *ReadingController) HandleHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	hist, err := c.history.History(r.Context(), name)
	if err != nil {
		c.logger.Error("could not get temp history", "name", name, "error", err)
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeStoreUnavailable, "Failed to read history: "+err.Error(), http.StatusServiceUnavailable))
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, hist)
}

// HandlePing answers reachability checks.
func (c *ReadingController) HandlePing(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}
