// Package client posts readings to the ingestion endpoint.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"time"

	"RaspiSensing.scylla/internal/models"
	"github.com/go-resty/resty/v2"
)

// ResponseError is returned when the server answers with a non-2xx status.
type ResponseError struct {
	StatusCode int
	Code       string // X-Error-Code header, if any
	Body       string
}

func (e *ResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Client sends readings to one ingestion URL.
type Client struct {
	http *resty.Client
	url  string
}

// New creates a Client for url. Token, if set, is sent as a bearer token.
func New(url, token string, timeout time.Duration) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		httpClient.SetAuthToken(token)
	}
	return &Client{http: httpClient, url: url}
}

// SkipTLSVerify accepts any server certificate, for servers running on a
// self-signed pair.
func (c *Client) SkipTLSVerify() *Client {
	c.http.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	return c
}

// Send posts one reading and returns nil only on a 2xx response.
func (c *Client) Send(ctx context.Context, reading models.Reading) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(reading).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("posting reading: %w", err)
	}
	if resp.IsError() {
		return &ResponseError{
			StatusCode: resp.StatusCode(),
			Code:       resp.Header().Get("X-Error-Code"),
			Body:       resp.String(),
		}
	}
	return nil
}

// CelsiusToFahrenheit converts and rounds to two decimals.
func CelsiusToFahrenheit(c float32) float32 {
	f := float64(c)*9/5 + 32
	return float32(math.Round(f*100) / 100)
}
