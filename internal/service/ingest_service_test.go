package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"RaspiSensing.scylla/internal/idgen"
	"RaspiSensing.scylla/internal/metrics"
	"RaspiSensing.scylla/internal/models"
	"RaspiSensing.scylla/internal/repository"
	"RaspiSensing.scylla/internal/repository/repositorytest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const atticBody = `{"name":"attic","auth-code":"abc123","temp":21.5,"humidity":40.2,"pressure":1013.1}`

type countingIDs struct {
	mu    sync.Mutex
	calls int
	gen   *idgen.Generator
}

func (c *countingIDs) Generate() uuid.UUID {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.gen.Generate()
}

type recordedOutcomes struct {
	mu       sync.Mutex
	outcomes []metrics.Outcome
}

func (r *recordedOutcomes) RecordIngest(o metrics.Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func newTestIngest(t *testing.T) (*IngestService, *repositorytest.Memory, *countingIDs, *recordedOutcomes) {
	t.Helper()
	gen, err := idgen.New([6]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	repo := &repositorytest.Memory{}
	ids := &countingIDs{gen: gen}
	rec := &recordedOutcomes{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIngestService(repo, ids, rec, logger), repo, ids, rec
}

func TestIngestStoresOneRow(t *testing.T) {
	svc, repo, _, rec := newTestIngest(t)
	before := time.Now().Unix()

	row, err := svc.Ingest(context.Background(), []byte(atticBody))
	require.NoError(t, err)

	rows := repo.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, row, rows[0])
	assert.Equal(t, "attic", row.Name)
	assert.Equal(t, "abc123", row.AuthCode)
	assert.Equal(t, float32(21.5), row.Temp)
	assert.Equal(t, float32(40.2), row.Humidity)
	assert.Equal(t, float32(1013.1), row.Pressure)
	assert.InDelta(t, before, int64(row.Time), 1)
	assert.Equal(t, uuid.Version(1), row.ID.Version())
	assert.Equal(t, []metrics.Outcome{metrics.OutcomeSuccess}, rec.outcomes)
}

func TestIngestDecodeErrorTouchesNothing(t *testing.T) {
	svc, repo, ids, rec := newTestIngest(t)

	_, err := svc.Ingest(context.Background(), []byte(`{"name":"attic","temp":21.5}`))
	var decodeErr *models.DecodeError
	require.ErrorAs(t, err, &decodeErr)

	assert.Empty(t, repo.Rows())
	assert.Zero(t, ids.calls)
	assert.Equal(t, []metrics.Outcome{metrics.OutcomeDecodeError}, rec.outcomes)
}

func TestIngestStoreErrorThenRecovery(t *testing.T) {
	svc, repo, _, rec := newTestIngest(t)
	repo.SetFail(errors.New("no hosts available in the pool"))

	_, err := svc.Ingest(context.Background(), []byte(atticBody))
	var storeErr *repository.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Empty(t, repo.Rows())

	repo.SetFail(nil)
	_, err = svc.Ingest(context.Background(), []byte(atticBody))
	require.NoError(t, err)
	assert.Len(t, repo.Rows(), 1)
	assert.Equal(t, []metrics.Outcome{metrics.OutcomeStoreError, metrics.OutcomeSuccess}, rec.outcomes)
}

func TestIngestIsNotIdempotent(t *testing.T) {
	svc, repo, _, _ := newTestIngest(t)

	first, err := svc.Ingest(context.Background(), []byte(atticBody))
	require.NoError(t, err)
	second, err := svc.Ingest(context.Background(), []byte(atticBody))
	require.NoError(t, err)

	assert.Len(t, repo.Rows(), 2)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestIngestSurvivesCancelledContext(t *testing.T) {
	svc, repo, _, _ := newTestIngest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Ingest(ctx, []byte(atticBody))
	require.NoError(t, err)
	assert.Len(t, repo.Rows(), 1)
}

func TestIngestTruncatesTimeAtBoundary(t *testing.T) {
	svc, repo, _, _ := newTestIngest(t)
	svc.now = func() time.Time { return time.Unix(math.MaxInt32+10, 0) }

	row, err := svc.Ingest(context.Background(), []byte(atticBody))
	require.NoError(t, err)
	assert.Equal(t, int32(math.MinInt32+9), row.Time)
	assert.Equal(t, row.Time, repo.Rows()[0].Time)
}

func TestIngestConcurrent(t *testing.T) {
	svc, repo, _, _ := newTestIngest(t)

	const k = 64
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Ingest(context.Background(), []byte(atticBody))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows := repo.Rows()
	require.Len(t, rows, k)
	seen := make(map[uuid.UUID]struct{}, k)
	for _, row := range rows {
		seen[row.ID] = struct{}{}
		assert.Equal(t, "attic", row.Name)
		assert.Equal(t, "abc123", row.AuthCode)
	}
	assert.Len(t, seen, k)
}
