package routes

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"RaspiSensing.scylla/internal/controller"
	"RaspiSensing.scylla/internal/idgen"
	"RaspiSensing.scylla/internal/metrics"
	"RaspiSensing.scylla/internal/models"
	"RaspiSensing.scylla/internal/repository/repositorytest"
	"RaspiSensing.scylla/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const atticBody = `{"name":"attic","auth-code":"abc123","temp":21.5,"humidity":40.2,"pressure":1013.1}`

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *repositorytest.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen, err := idgen.New([6]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	repo := &repositorytest.Memory{}
	ingest := service.NewIngestService(repo, gen, metrics.Nop{}, logger)
	history := service.NewHistoryService(repo)
	c := controller.NewReadingController(ingest, history, 1024, logger)

	if opts.IngestPath == "" {
		opts.IngestPath = "/posttemp"
	}
	srv := httptest.NewServer(SetupRouter(c, opts))
	t.Cleanup(srv.Close)
	return srv, repo
}

func post(t *testing.T, url, body string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data), resp.Header
}

func TestPostReadingSuccess(t *testing.T) {
	srv, repo := newTestServer(t, Options{})
	received := time.Now().Unix()

	status, body, _ := post(t, srv.URL+"/posttemp", atticBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Success", body)

	rows := repo.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "attic", rows[0].Name)
	assert.Equal(t, "abc123", rows[0].AuthCode)
	assert.Equal(t, float32(21.5), rows[0].Temp)
	assert.Equal(t, float32(40.2), rows[0].Humidity)
	assert.Equal(t, float32(1013.1), rows[0].Pressure)
	assert.InDelta(t, received, int64(rows[0].Time), 1)
	assert.NotEqual(t, uuid.Nil, rows[0].ID)
}

func TestPostReadingMissingFields(t *testing.T) {
	srv, repo := newTestServer(t, Options{})

	status, body, header := post(t, srv.URL+"/posttemp", `{"name":"attic","temp":21.5}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.True(t, strings.HasPrefix(body, "Error parsing body: "), body)
	assert.Contains(t, body, "auth-code")
	assert.Equal(t, "bad_request", header.Get("X-Error-Code"))
	assert.Empty(t, repo.Rows())
}

func TestPostReadingEveryFieldRequired(t *testing.T) {
	srv, repo := newTestServer(t, Options{})

	for _, field := range []string{"name", "auth-code", "temp", "humidity", "pressure"} {
		var full map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(atticBody), &full))
		delete(full, field)
		data, err := json.Marshal(full)
		require.NoError(t, err)

		status, body, _ := post(t, srv.URL+"/posttemp", string(data))
		assert.Equal(t, http.StatusBadRequest, status, field)
		assert.Contains(t, body, field)
	}

	inexact := map[string]string{
		"name":      `{"NAME":"attic","auth-code":"abc123","temp":21.5,"humidity":40.2,"pressure":1013.1}`,
		"auth-code": `{"name":"attic","Auth-Code":"abc123","temp":21.5,"humidity":40.2,"pressure":1013.1}`,
		"duplicate": `{"name":"attic","name":"cellar","auth-code":"abc123","temp":21.5,"humidity":40.2,"pressure":1013.1}`,
	}
	for want, data := range inexact {
		status, body, _ := post(t, srv.URL+"/posttemp", data)
		assert.Equal(t, http.StatusBadRequest, status, data)
		assert.Contains(t, body, want)
	}
	assert.Empty(t, repo.Rows())
}

func TestPostReadingTooLarge(t *testing.T) {
	srv, repo := newTestServer(t, Options{})

	big := `{"name":"` + strings.Repeat("a", 2048) + `","auth-code":"x","temp":1,"humidity":1,"pressure":1}`
	status, body, header := post(t, srv.URL+"/posttemp", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.True(t, strings.HasPrefix(body, "Error parsing body: "), body)
	assert.Equal(t, "body_too_large", header.Get("X-Error-Code"))
	assert.Empty(t, repo.Rows())
}

func TestPostReadingStoreUnavailable(t *testing.T) {
	srv, repo := newTestServer(t, Options{})
	repo.SetFail(errors.New("gocql: no hosts available in the pool"))

	status, body, header := post(t, srv.URL+"/posttemp", atticBody)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "Failed to insert reading: gocql: no hosts available in the pool", body)
	assert.Equal(t, "store_unavailable", header.Get("X-Error-Code"))
	assert.Empty(t, repo.Rows())

	repo.SetFail(nil)
	status, body, _ = post(t, srv.URL+"/posttemp", atticBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Success", body)
	assert.Len(t, repo.Rows(), 1)
}

func TestPostReadingConcurrent(t *testing.T) {
	srv, repo := newTestServer(t, Options{})

	const k = 50
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/posttemp", "application/json", strings.NewReader(atticBody))
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	rows := repo.Rows()
	require.Len(t, rows, k)
	ids := make(map[uuid.UUID]struct{}, k)
	for _, row := range rows {
		ids[row.ID] = struct{}{}
		assert.Equal(t, models.StoredRow{
			Name: "attic", AuthCode: "abc123", Temp: 21.5, Humidity: 40.2, Pressure: 1013.1,
			Time: row.Time, ID: row.ID,
		}, row)
	}
	assert.Len(t, ids, k)
}

func TestIngestRouteIsPostOnly(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/posttemp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCustomIngestPathAndGuard(t *testing.T) {
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Test-Pass") != "yes" {
				http.Error(w, "denied", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	srv, repo := newTestServer(t, Options{IngestPath: "/readings", IngestGuard: guard})

	status, _, _ := post(t, srv.URL+"/readings", atticBody)
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/readings", strings.NewReader(atticBody))
	require.NoError(t, err)
	req.Header.Set("X-Test-Pass", "yes")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, repo.Rows(), 1)
}

func TestReadRoutes(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	var pong map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pong))
	resp.Body.Close()
	assert.Equal(t, "pong", pong["message"])

	resp, err = http.Get(srv.URL + "/attic/temp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for i := 0; i < 8; i++ {
		status, _, _ := post(t, srv.URL+"/posttemp", atticBody)
		require.Equal(t, http.StatusOK, status)
	}

	resp, err = http.Get(srv.URL + "/attic/temp")
	require.NoError(t, err)
	latest, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "21.5", string(latest))

	resp, err = http.Get(srv.URL + "/attic/hist")
	require.NoError(t, err)
	var hist models.Hist
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	assert.Equal(t, []float32{21.5, 21.5}, hist.Temps)
	assert.Len(t, hist.Times, 2)
}
