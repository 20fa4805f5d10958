package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"egc/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Security.RateLimit.Enabled = false
	cfg.Logging.Level = "error"
	cfg.Paths = config.PathsConfig{
		DataDir: filepath.Join(base, "data"),
		WebDir:  filepath.Join(base, "web"),
		LogsDir: filepath.Join(base, "logs"),
	}
	cfg.Storage.Driver = config.StorageMemory
	require.NoError(t, cfg.Validate())
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) (*Application, string) {
	t.Helper()
	a, err := New(cfg, Options{Console: io.Discard, Registerer: promclient.NewRegistry()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, a.Start(ctx, ln, cancel))
	return a, "http://" + ln.Addr().String()
}

func TestNew_CreatesDirectories(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, Options{Console: io.Discard, Registerer: promclient.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Store.Close() })

	for _, dir := range []string{a.Paths.DataDir, a.Paths.UploadsDir, a.Paths.ExportsDir, a.Paths.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
	assert.NotNil(t, a.Router)
	assert.Equal(t, cfg.Server.Addr(), a.Server.Addr)
}

func TestNew_SQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = config.StorageSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "egc.db")

	a, err := New(cfg, Options{Console: io.Discard, Registerer: promclient.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Store.Close() })

	require.NoError(t, a.Store.Ping(context.Background()))
	assert.FileExists(t, cfg.Storage.SQLitePath)
}

func TestApplication_ServeAndStop(t *testing.T) {
	a, base := startApp(t, testConfig(t))

	resp, err := http.Get(base + config.HealthEndpoint + "/ready")
	require.NoError(t, err)
	var ready struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", ready.Status)

	body := bytes.NewBufferString(`{"price":20,"quantity":2,"finalValueFeeRate":10}`)
	resp, err = http.Post(base+"/api/calc/simple", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	scrape, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(scrape), "calc_computations_total")

	require.NoError(t, a.Stop(context.Background()))

	_, err = http.Get(base + config.HealthEndpoint)
	assert.Error(t, err)
}

func TestApplication_ServesWebDir(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Paths.WebDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.WebDir, "index.html"), []byte("<h1>egc</h1>"), 0o644))

	a, base := startApp(t, cfg)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(page), "egc"))

	resp, err = http.Get(base + "/api/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
