package metrics

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"RaspiSensing.scylla/internal/config"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Outcome classifies how an ingestion request ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeDecodeError Outcome = "decode_error"
	OutcomeStoreError  Outcome = "store_error"
)

// Recorder receives one event per ingestion request. Implementations must
// be safe for concurrent use and must not block the request path.
type Recorder interface {
	RecordIngest(outcome Outcome, elapsed time.Duration)
}

// Nop discards every event.
type Nop struct{}

func (Nop) RecordIngest(Outcome, time.Duration) {}

// InfluxRecorder batches ingestion events into InfluxDB using the
// client's non-blocking write API.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	node     string

	// mu guards closed; RecordIngest holds it shared so Close cannot
	// tear down the write API under an in-flight write.
	mu     sync.RWMutex
	closed bool
}

// NewInfluxRecorder connects to InfluxDB and checks its health before
// returning. node tags every point with the writer's node tag.
func NewInfluxRecorder(ctx context.Context, cfg config.InfluxConfig, node [6]byte, logger *slog.Logger) (*InfluxRecorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	r := &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		node:     hex.EncodeToString(node[:]),
	}

	errorsCh := r.writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			logger.Warn("metrics write to InfluxDB failed", "error", err)
		}
	}()

	logger.Info("shipping ingestion metrics to InfluxDB", "url", cfg.URL, "bucket", cfg.Bucket)
	return r, nil
}

// RecordIngest queues one point. Events after Close are dropped.
func (r *InfluxRecorder) RecordIngest(outcome Outcome, elapsed time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	point := influxdb2.NewPoint(
		"ingest_requests",
		map[string]string{"node": r.node, "outcome": string(outcome)},
		map[string]interface{}{
			"count":      1,
			"latency_ms": float64(elapsed) / float64(time.Millisecond),
		},
		time.Now(),
	)
	r.writeAPI.WritePoint(point)
}

// Close flushes buffered points and releases the client. It is safe to
// call more than once.
func (r *InfluxRecorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.client.Close()
}
