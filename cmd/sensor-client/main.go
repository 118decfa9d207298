// Sensor-client reads samples as JSON lines on stdin and posts each one
// to the ingestion endpoint, tagged with the sensor's name and auth code
// from config.json:
//
//	{"name": "attic", "auth_code": "abc123", "url": "http://ingest.lan:8081/posttemp", "interval": 15}
//
// Each stdin line carries Celsius values:
//
//	{"temp": 21.4, "humidity": 40.12, "pressure": 1013.08}
//
// Failed posts are logged and the loop moves on to the next sample.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RaspiSensing.scylla/internal/client"
	"RaspiSensing.scylla/internal/models"
	"github.com/spf13/pflag"
)

type clientConfig struct {
	Name     string `json:"name"`
	AuthCode string `json:"auth_code"`
	URL      string `json:"url"`
	Interval int    `json:"interval"`
	Token    string `json:"token"`
	// InsecureTLS accepts a self-signed server certificate.
	InsecureTLS bool `json:"insecure_tls"`
}

type sample struct {
	Temp     float32 `json:"temp"`
	Humidity float32 `json:"humidity"`
	Pressure float32 `json:"pressure"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("sensor client failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "./config.json", "path to the client config file")
	fahrenheit := pflag.Bool("fahrenheit", false, "convert temperatures to Fahrenheit before posting")
	timeout := pflag.Duration("timeout", 10*time.Second, "per-request timeout")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poster := client.New(cfg.URL, cfg.Token, *timeout)
	if cfg.InsecureTLS {
		poster.SkipTLSVerify()
	}
	return postSamples(ctx, os.Stdin, poster, cfg, *fahrenheit, logger)
}

func loadClientConfig(path string) (clientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return clientConfig{}, fmt.Errorf("reading config: %w", err)
	}
	var cfg clientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return clientConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Name == "" || cfg.URL == "" {
		return clientConfig{}, fmt.Errorf("config %s needs name and url", path)
	}
	return cfg, nil
}

type sender interface {
	Send(ctx context.Context, reading models.Reading) error
}

// postSamples sends one reading per input line, waiting cfg.Interval
// seconds between posts.
func postSamples(ctx context.Context, in io.Reader, poster sender, cfg clientConfig, fahrenheit bool, logger *slog.Logger) error {
	interval := time.Duration(cfg.Interval) * time.Second
	scanner := bufio.NewScanner(in)
	first := true

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s sample
		if err := json.Unmarshal(line, &s); err != nil {
			logger.Warn("skipping malformed sample", "error", err)
			continue
		}

		if !first && interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
		first = false

		temp := s.Temp
		if fahrenheit {
			temp = client.CelsiusToFahrenheit(temp)
		}
		reading := models.Reading{
			Name:     cfg.Name,
			AuthCode: cfg.AuthCode,
			Temp:     temp,
			Humidity: s.Humidity,
			Pressure: s.Pressure,
		}
		if err := poster.Send(ctx, reading); err != nil {
			logger.Error("there was an error posting the reading", "error", err)
			continue
		}
		logger.Info("reading posted", "temp", reading.Temp, "humidity", reading.Humidity, "pressure", reading.Pressure)
	}
	return scanner.Err()
}
