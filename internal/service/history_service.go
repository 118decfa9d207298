package service

import (
	"context"
	"fmt"

	"RaspiSensing.scylla/internal/models"
	"RaspiSensing.scylla/internal/repository"
)

const (
	// HistoryRows is how many recent rows feed a history response.
	HistoryRows = 5760
	// HistoryGroup is how many consecutive rows are averaged per point.
	HistoryGroup = 4
)

// HistoryService answers read queries over stored readings.
type HistoryService struct {
	repo repository.Repository
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(repo repository.Repository) *HistoryService {
	return &HistoryService{repo: repo}
}

// Latest returns the newest temperature for name, or
// repository.ErrNotFound.
func (s *HistoryService) Latest(ctx context.Context, name string) (models.Temp, error) {
	if name == "" {
		return models.Temp{}, fmt.Errorf("name is required")
	}
	return s.repo.LatestTemp(ctx, name)
}

// History returns the recent temperature history for name, averaged in
// groups of HistoryGroup rows, newest first.
func (s *HistoryService) History(ctx context.Context, name string) (models.Hist, error) {
	if name == "" {
		return models.Hist{}, fmt.Errorf("name is required")
	}
	temps, err := s.repo.RecentTemps(ctx, name, HistoryRows)
	if err != nil {
		return models.Hist{}, fmt.Errorf("error querying history: %w", err)
	}
	return models.GroupAverages(temps, HistoryGroup), nil
}
