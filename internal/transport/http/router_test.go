package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"egc/internal/config"
	apierrors "egc/internal/errors"
	"egc/internal/files"
	"egc/internal/mapping"
	"egc/internal/middleware"
	"egc/internal/operations"
	"egc/internal/services"
	"egc/internal/storage"
	"egc/internal/websocket"
	"egc/pkg/contracts/events"
)

const ordersCSV = "date,price,ship,label,cost,fee\n2025-01-02,10,0,0,2,10\n2025-01-02,20,0,0,4,10\n2025-01-03,30,5,4,6,10\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	*httptest.Server
	jobs *operations.JobManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := quietLogger()
	store := storage.NewMemory()
	presets := mapping.NewPresetStore(store, storage.ErrNotFound)

	uploads, err := files.NewUploadStore(t.TempDir(), 1<<20, logger)
	require.NoError(t, err)

	jobs := operations.NewJobManager(operations.JobManagerConfig{
		Workers:    1,
		ChunkBytes: 64,
		Opener:     uploads,
		Logger:     logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	jobs.Start(ctx)
	t.Cleanup(func() {
		_ = jobs.Stop(5 * time.Second)
		cancel()
	})

	hub := websocket.NewHub(logger, nil)
	errorHandler := apierrors.NewErrorHandler(logger, false)
	validation := middleware.NewValidationMiddleware(logger, errorHandler, 1<<20)

	health := services.NewHealthService(services.HealthDeps{
		Paths: config.PathsConfig{DataDir: t.TempDir()},
		Jobs:  jobs,
		Hub:   hub,
		Store: store,
	}, logger)
	ingestSvc := services.NewIngestService(uploads, jobs, presets, services.IngestConfig{ChunkBytes: 64}, nil, logger)

	router, err := NewRouter(RouterConfig{
		Server:       config.ServerConfig{RequestTimeout: 5 * time.Second},
		Logger:       logger,
		ErrorHandler: errorHandler,
		Validation:   validation,
		Health:       NewHealthHandler(health, logger),
		Calc:         NewCalcHandler(services.NewCalcService(nil, logger), validation),
		Ingest:       NewIngestHandler(ingestSvc, validation, errorHandler, logger),
		Rollups:      NewRollupsHandler(services.NewReportService(store, nil, logger), validation, errorHandler, logger),
		Mapping:      NewMappingHandler(services.NewMappingService(presets, logger), validation, errorHandler, logger),
		Stats:        NewMetricsHandler(nil, jobs, hub, nil, errorHandler),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, jobs: jobs}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) json(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	return s.do(t, method, path, "application/json", r)
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestRouter_Health(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/health", "/api/health/ready", "/api/health/live", "/api/version"} {
		resp := srv.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	var ready services.HealthStatus
	decode(t, srv.do(t, http.MethodGet, "/api/health/ready", "", nil), &ready)
	assert.Equal(t, "ready", ready.Status)
	assert.Contains(t, ready.Services, "jobs")
}

func TestRouter_NotFoundIsProblem(t *testing.T) {
	srv := newTestServer(t)
	resp := srv.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/problem+json")
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}

func TestRouter_RequiresJSONBodies(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/calc/simple", "text/plain", strings.NewReader(`{"price":1}`))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, apierrors.ContentTypeProblem, resp.Header.Get("Content-Type"))

	resp = srv.do(t, http.MethodPost, "/api/rollups", "", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCalcHandler(t *testing.T) {
	srv := newTestServer(t)

	var simple struct {
		Qty   int     `json:"qty"`
		Gross float64 `json:"gross"`
		Net   float64 `json:"net"`
	}
	resp := srv.json(t, http.MethodPost, "/api/calc/simple", map[string]interface{}{
		"price": 20, "quantity": 2, "finalValueFeeRate": 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &simple)
	assert.Equal(t, 2, simple.Qty)
	assert.Equal(t, 40.0, simple.Gross)
	assert.Equal(t, 36.0, simple.Net)

	resp = srv.json(t, http.MethodPost, "/api/calc/simple", map[string]interface{}{"price": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var full struct {
		Rollup struct {
			Gross float64 `json:"gross"`
		} `json:"rollup"`
	}
	resp = srv.json(t, http.MethodPost, "/api/calc", map[string]interface{}{
		"sale": map[string]interface{}{"itemPrice": 50},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &full)
	assert.Equal(t, 50.0, full.Rollup.Gross, "quantity defaults to 1")

	var defaults struct {
		Sale struct {
			Quantity float64 `json:"quantity"`
		} `json:"sale"`
		Taxes struct {
			PassThrough bool `json:"isBuyerTaxPassThrough"`
		} `json:"taxes"`
	}
	decode(t, srv.do(t, http.MethodGet, "/api/calc/defaults", "", nil), &defaults)
	assert.Equal(t, 1.0, defaults.Sale.Quantity)
	assert.True(t, defaults.Taxes.PassThrough)
}

func TestIngestHandler_Stream(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/ingest/stream?name=orders.csv&sampleSize=2", "text/csv", strings.NewReader(ordersCSV))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ndjsonContentType, resp.Header.Get("Content-Type"))

	var got []events.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev events.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		got = append(got, ev)
	}
	require.NoError(t, sc.Err())
	require.NotEmpty(t, got)

	assert.Equal(t, events.EventHeaders, got[0].Type)
	assert.Equal(t, []string{"date", "price", "ship", "label", "cost", "fee"}, got[0].Columns)
	last := got[len(got)-1]
	assert.Equal(t, events.EventDone, last.Type)
	assert.Equal(t, int64(3), last.RowsTotal)

	var sample events.Event
	for _, ev := range got {
		if ev.Type == events.EventSample {
			sample = ev
		}
	}
	assert.Len(t, sample.Rows, 2)
}

func TestIngestHandler_StreamReadsWhileWriting(t *testing.T) {
	srv := newTestServer(t)

	var body strings.Builder
	body.WriteString("price\n")
	for i := 1; i <= 500; i++ {
		fmt.Fprintf(&body, "%d\n", i)
	}

	resp := srv.do(t, http.MethodPost, "/api/ingest/stream?name=prices.csv", "text/csv", strings.NewReader(body.String()))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []events.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev events.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		got = append(got, ev)
	}
	require.NoError(t, sc.Err())
	require.NotEmpty(t, got)

	chunks := 0
	for _, ev := range got {
		require.NotEqual(t, events.EventError, ev.Type, ev.Message)
		if ev.Type == events.EventChunk {
			chunks++
		}
	}
	assert.Greater(t, chunks, 1)
	last := got[len(got)-1]
	require.Equal(t, events.EventDone, last.Type)
	assert.Equal(t, int64(500), last.RowsTotal)
}

func TestIngestHandler_StreamRejectsOptions(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"long delimiter", "?delimiter=%7C%7C"},
		{"bad header flag", "?header=maybe"},
		{"sample too large", "?sampleSize=500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.do(t, http.MethodPost, "/api/ingest/stream"+tt.query, "text/csv", strings.NewReader("a\n1\n"))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "problem+json")
		})
	}
}

func uploadRaw(t *testing.T, srv *testServer, name, body string) files.Upload {
	t.Helper()
	resp := srv.do(t, http.MethodPost, "/api/uploads?name="+name, "text/csv", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var up files.Upload
	decode(t, resp, &up)
	return up
}

func TestIngestHandler_Uploads(t *testing.T) {
	srv := newTestServer(t)

	up := uploadRaw(t, srv, "orders.csv", ordersCSV)
	assert.Equal(t, "orders.csv", up.Name)
	assert.Equal(t, int64(len(ordersCSV)), up.Size)
	assert.NotEmpty(t, up.Checksum)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "more.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("a\n1\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := srv.do(t, http.MethodPost, "/api/uploads", mw.FormDataContentType(), &body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/uploads", "text/csv", strings.NewReader("a\n"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "raw upload without a name")

	resp = srv.do(t, http.MethodPost, "/api/uploads?name=report.pdf", "application/pdf", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var list struct {
		Count int `json:"count"`
	}
	decode(t, srv.do(t, http.MethodGet, "/api/uploads", "", nil), &list)
	assert.Equal(t, 2, list.Count)
}

func TestIngestHandler_JobLifecycle(t *testing.T) {
	srv := newTestServer(t)
	up := uploadRaw(t, srv, "orders.csv", ordersCSV)

	resp := srv.json(t, http.MethodPost, "/api/ingest/jobs", JobRequest{UploadID: up.ID, Options: events.ParseOptions{Header: true}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job operations.Job
	decode(t, resp, &job)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, "/api/ingest/jobs/"+job.ID, resp.Header.Get("Location"))

	require.Eventually(t, func() bool {
		var cur operations.Job
		r := srv.do(t, http.MethodGet, "/api/ingest/jobs/"+job.ID, "", nil)
		if r.StatusCode != http.StatusOK {
			return false
		}
		decode(t, r, &cur)
		return cur.Status == operations.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	var snap operations.Snapshot
	decode(t, srv.do(t, http.MethodGet, "/api/ingest/jobs/"+job.ID+"/snapshot", "", nil), &snap)
	assert.Equal(t, int64(3), snap.TotalRows)
	assert.Len(t, snap.Rollups, 5)

	resp = srv.do(t, http.MethodGet, "/api/ingest/jobs/"+job.ID+"/export?format=csv", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), job.ID+".csv")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "column,count,sum,min,max,avg")

	resp = srv.do(t, http.MethodGet, "/api/ingest/jobs/"+job.ID+"/export?format=pdf", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodDelete, "/api/ingest/jobs/"+job.ID, "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var list struct {
		Jobs  []operations.Job `json:"jobs"`
		Count int              `json:"count"`
	}
	decode(t, srv.do(t, http.MethodGet, "/api/ingest/jobs?status=completed", "", nil), &list)
	assert.Equal(t, 1, list.Count)

	resp = srv.do(t, http.MethodGet, "/api/ingest/jobs?status=exploded", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestHandler_JobErrors(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.json(t, http.MethodPost, "/api/ingest/jobs", map[string]interface{}{"uploadId": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.json(t, http.MethodPost, "/api/ingest/jobs", map[string]interface{}{"uploadId": "6f1c1a8e-0000-4000-8000-000000000000"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/ingest/jobs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRollupsHandler(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.json(t, http.MethodPost, "/api/rollups", map[string]interface{}{
		"rollups":   []map[string]interface{}{{"column": "price", "count": 2, "sum": 30, "min": 10, "max": 20, "avg": 15}},
		"totalRows": 2,
		"fileMeta":  map[string]interface{}{"name": "orders.csv", "size": 120},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	decode(t, resp, &created)
	require.NotEmpty(t, created.ID)

	resp = srv.json(t, http.MethodPost, "/api/rollups", map[string]interface{}{"totalRows": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var status services.ReportStatus
	decode(t, srv.do(t, http.MethodGet, "/api/rollups", "", nil), &status)
	assert.Equal(t, "ok", status.Status)
	require.Len(t, status.Recent, 1)
	assert.Equal(t, created.ID, status.Recent[0].ID)

	resp = srv.do(t, http.MethodGet, "/api/rollups/"+created.ID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = srv.do(t, http.MethodGet, "/api/rollups/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMappingHandler(t *testing.T) {
	srv := newTestServer(t)

	var suggest services.SuggestResult
	resp := srv.json(t, http.MethodPost, "/api/mapping/suggest", SuggestRequest{
		Columns: []string{"Order Date", "Sold Price", "Shipping", "Label Cost", "COGS", "Fee %"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &suggest)
	assert.Equal(t, "Sold Price", suggest.Mapping[mapping.FieldItemPrice])
	assert.Empty(t, suggest.Problems)

	resp = srv.json(t, http.MethodPost, "/api/mapping/suggest", SuggestRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var applied services.ApplyResult
	resp = srv.json(t, http.MethodPost, "/api/mapping/apply", map[string]interface{}{
		"rows":    []map[string]interface{}{{"Order Date": "2025-01-02", "Sold Price": 10, "Shipping": 0, "Label Cost": 0, "COGS": 0, "Fee %": 10}},
		"mapping": suggest.Mapping,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &applied)
	require.Len(t, applied.Daily, 1)
	assert.Equal(t, "2025-01-02", applied.Daily[0].Date)

	resp = srv.json(t, http.MethodPut, "/api/presets/shop", PresetRequest{Mapping: suggest.Mapping})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Count int `json:"count"`
	}
	decode(t, srv.do(t, http.MethodGet, "/api/presets", "", nil), &list)
	assert.Equal(t, 1, list.Count)

	resp = srv.do(t, http.MethodGet, "/api/presets/shop", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.json(t, http.MethodPut, "/api/presets/partial", PresetRequest{Mapping: mapping.Mapping{mapping.FieldItemPrice: "Sold Price"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodDelete, "/api/presets/shop", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = srv.do(t, http.MethodGet, "/api/presets/shop", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsHandler(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no Prometheus exporter configured")

	var summary map[string]json.RawMessage
	decode(t, srv.do(t, http.MethodGet, "/api/metrics", "", nil), &summary)
	assert.Contains(t, summary, "jobs")
	assert.Contains(t, summary, "websocket")
}
