// Package repositorytest provides an in-memory repository.Repository for
// tests of the layers above the store.
package repositorytest

import (
	"context"
	"sort"
	"sync"

	"RaspiSensing.scylla/internal/idgen"
	"RaspiSensing.scylla/internal/models"
	"RaspiSensing.scylla/internal/repository"
)

// Memory keeps rows in a slice. Set Fail to make every call return a
// *repository.StoreError wrapping it.
type Memory struct {
	mu   sync.Mutex
	rows []models.StoredRow
	fail error
}

// SetFail makes later calls fail with err, or succeed again when err is nil.
func (m *Memory) SetFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Rows returns a copy of every stored row in insertion order.
func (m *Memory) Rows() []models.StoredRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StoredRow(nil), m.rows...)
}

func (m *Memory) InsertReading(_ context.Context, row models.StoredRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return &repository.StoreError{Op: "insert", Err: m.fail}
	}
	m.rows = append(m.rows, row)
	return nil
}

func (m *Memory) LatestTemp(ctx context.Context, name string) (models.Temp, error) {
	temps, err := m.RecentTemps(ctx, name, 1)
	if err != nil {
		return models.Temp{}, err
	}
	if len(temps) == 0 {
		return models.Temp{}, repository.ErrNotFound
	}
	return temps[0], nil
}

// RecentTemps orders by id descending, as the clustering order does.
func (m *Memory) RecentTemps(_ context.Context, name string, limit int) ([]models.Temp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, &repository.StoreError{Op: "recent", Err: m.fail}
	}

	var matched []models.StoredRow
	for _, row := range m.rows {
		if row.Name == name {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return idgen.Compare(matched[i].ID, matched[j].ID) > 0
	})

	temps := []models.Temp{}
	for _, row := range matched {
		if len(temps) == limit {
			break
		}
		temps = append(temps, models.Temp{Temp: row.Temp, Time: row.Time})
	}
	return temps, nil
}
