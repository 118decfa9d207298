package service

import (
	"context"
	"log/slog"
	"time"

	"RaspiSensing.scylla/internal/metrics"
	"RaspiSensing.scylla/internal/models"
	"RaspiSensing.scylla/internal/repository"
	"github.com/google/uuid"
)

// IDGenerator mints row identifiers.
type IDGenerator interface {
	Generate() uuid.UUID
}

// IngestService turns a raw request body into exactly one stored row.
type IngestService struct {
	repo     repository.Repository
	ids      IDGenerator
	recorder metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewIngestService creates a new IngestService.
func NewIngestService(repo repository.Repository, ids IDGenerator, recorder metrics.Recorder, logger *slog.Logger) *IngestService {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &IngestService{
		repo:     repo,
		ids:      ids,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest decodes body, stamps it and writes it. It returns a
// *models.DecodeError before anything is generated or written when the
// body is malformed, and a *repository.StoreError when the insert fails.
//
// The insert is detached from ctx cancellation: once issued it runs to an
// acknowledgement or a store-side failure even if the caller goes away.
func (s *IngestService) Ingest(ctx context.Context, body []byte) (models.StoredRow, error) {
	start := time.Now()

	reading, err := models.DecodeReading(body)
	if err != nil {
		s.logger.Warn("could not parse body to reading", "error", err)
		s.recorder.RecordIngest(metrics.OutcomeDecodeError, time.Since(start))
		return models.StoredRow{}, err
	}

	row := models.NewStoredRow(reading, models.UnixSeconds32(s.now()), s.ids.Generate())

	if err := s.repo.InsertReading(context.WithoutCancel(ctx), row); err != nil {
		s.logger.Error("failed to insert reading", "name", row.Name, "id", row.ID, "error", err)
		s.recorder.RecordIngest(metrics.OutcomeStoreError, time.Since(start))
		return models.StoredRow{}, err
	}

	s.logger.Debug("reading stored", "name", row.Name, "id", row.ID, "time", row.Time)
	s.recorder.RecordIngest(metrics.OutcomeSuccess, time.Since(start))
	return row, nil
}
