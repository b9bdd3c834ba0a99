package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gofet/pkg/config"
	"github.com/itohio/gofet/pkg/hal"
	"github.com/itohio/gofet/pkg/logq"
	"github.com/itohio/gofet/pkg/metrics"
	"github.com/itohio/gofet/pkg/sample"
	"github.com/itohio/gofet/pkg/status"
	"github.com/itohio/gofet/pkg/storage"
	"github.com/itohio/gofet/pkg/sweep"
)

type fixture struct {
	srv   *httptest.Server
	ctrl  *sweep.Controller
	store *storage.Manager
	logs  *logq.Queue
	full  bool
}

func newFixture(t *testing.T, settling time.Duration) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()

	f := &fixture{}
	store, err := storage.New(cfg.Storage)
	require.NoError(t, err)
	store.WithUsage(func() (storage.Usage, error) {
		if f.full {
			return storage.Usage{Total: 100, Used: 95, Free: 5}, nil
		}
		return storage.Usage{Total: 1 << 30, Free: 1 << 30}, nil
	})
	f.store = store

	f.logs = logq.New(cfg.Log, log.New(io.Discard, "", 0))
	t.Cleanup(f.logs.Close)

	dev := hal.NewSimFunc(100, func(vgs, vds float64) float64 { return 1e-9 * math.Exp(vgs/0.1) })
	m := metrics.New()
	f.ctrl = sweep.New(dev, store, f.logs, sweep.OptionsFrom(cfg)).WithObserver(m)

	f.srv = httptest.NewServer(New(Deps{
		Sweeps: f.ctrl,
		Store:  store,
		Logs:   f.logs,
		Device: dev,
		Defaults: sweep.Config{
			Vgs:      sample.Range{Start: 0, End: 1, Step: 0.05},
			Vds:      sample.Range{Start: 0, End: 0, Step: 1},
			Rshunt:   100,
			Settling: settling,
			BaseName: "api",
			Axis:     sample.GateSweep,
		},
		Metrics: m.Handler(),
	}))
	t.Cleanup(f.srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.ctrl.Close(ctx)
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.ctrl.Wait(ctx))
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestStart_FileLifecycle(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.do(t, http.MethodPost, "/api/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[StartResponse](t, resp)
	assert.Equal(t, "started", started.Status)
	assert.True(t, strings.HasPrefix(started.Filename, "api_"))
	f.wait(t)

	resp = f.do(t, http.MethodGet, "/api/progress", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[status.Progress](t, resp)
	assert.Equal(t, "Completed", p.State)
	assert.Equal(t, 100.0, p.Percent)

	resp = f.do(t, http.MethodGet, "/api/files", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[FileList](t, resp)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, started.Filename, list.Files[0].Name)

	resp = f.do(t, http.MethodGet, "/api/files/"+started.Filename, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "# MOSFET Characterization Data\n"))
	assert.Contains(t, string(body), "# VDS=0.000V:")

	resp = f.do(t, http.MethodGet, "/api/files/"+started.Filename+"/plot.png", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(img), "\x89PNG"))

	resp = f.do(t, http.MethodDelete, "/api/files/"+started.Filename, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[DeleteResponse](t, resp).Deleted)

	resp = f.do(t, http.MethodDelete, "/api/files/"+started.Filename, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStart_Overrides(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.do(t, http.MethodPost, "/api/start",
		`{"vgs":{"start":0,"end":1,"step":0.5},"vds":{"start":0,"end":1,"step":0.5},"mode":"drain","base_name":"custom"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	name := decode[StartResponse](t, resp).Filename
	assert.True(t, strings.HasPrefix(name, "custom_"))
	f.wait(t)

	file, err := f.store.Open(name)
	require.NoError(t, err)
	defer file.Close()
	data, err := sample.Parse(file)
	require.NoError(t, err)
	assert.Equal(t, sample.DrainSweep, data.Header.Axis)
	assert.Len(t, data.Rows, 9)
}

func TestStart_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{"vgs":`, want: http.StatusBadRequest},
		{name: "zero step", body: `{"vgs":{"start":0,"end":1,"step":0}}`, want: http.StatusBadRequest},
		{name: "outside envelope", body: `{"vds":{"start":0,"end":12,"step":1}}`, want: http.StatusBadRequest},
		{name: "unknown mode", body: `{"mode":"diagonal"}`, want: http.StatusBadRequest},
		{name: "bad base name", body: `{"base_name":"a/b"}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)

			resp := f.do(t, http.MethodPost, "/api/start", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, decode[ErrorResponse](t, resp).Error)
			assert.Equal(t, sweep.Idle, f.ctrl.State())
		})
	}
}

func TestStart_StorageExhausted(t *testing.T) {
	f := newFixture(t, 0)
	f.full = true

	resp := f.do(t, http.MethodPost, "/api/start", "")
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
}

func TestStart_ConflictAndCancel(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)

	resp := f.do(t, http.MethodPost, "/api/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "cancelling while idle is a no-op")
	idle := decode[CancelResponse](t, resp)
	assert.False(t, idle.Cancelled)
	assert.Equal(t, "Idle", idle.State)

	resp = f.do(t, http.MethodPost, "/api/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/files/delete-all", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[CancelResponse](t, resp).Cancelled)
	f.wait(t)

	assert.Equal(t, sweep.Idle, f.ctrl.State())
	assert.Equal(t, 0, f.store.CountFiles())
}

func TestFiles_BadNames(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.do(t, http.MethodGet, "/api/files/notes.txt", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/files/missing_1.csv", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/files/missing_1.csv/plot.png", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/files/notes.txt", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFiles_DeleteAllAndStorage(t *testing.T) {
	f := newFixture(t, 0)

	for i := 0; i < 2; i++ {
		resp := f.do(t, http.MethodPost, "/api/start", "")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		f.wait(t)
	}

	resp := f.do(t, http.MethodGet, "/api/storage", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[storage.Info](t, resp)
	assert.Equal(t, 2, info.Files)
	assert.Equal(t, 200, info.MaxFiles)

	resp = f.do(t, http.MethodPost, "/api/files/delete-all", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[DeleteResponse](t, resp).Deleted)
	assert.Equal(t, 0, f.store.CountFiles())
}

func TestLogs(t *testing.T) {
	f := newFixture(t, 0)
	f.logs.Warnf("sample %d", 42)

	require.Eventually(t, func() bool {
		return len(f.logs.Recent()) > 0
	}, time.Second, time.Millisecond)

	resp := f.do(t, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode[LogResponse](t, resp)
	require.NotEmpty(t, logs.Entries)
	assert.Equal(t, "sample 42", logs.Entries[len(logs.Entries)-1].Message)

	resp = f.do(t, http.MethodPost, "/api/logs/clear", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.logs.Recent())
}

func TestMonitor(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.do(t, http.MethodGet, "/api/monitor", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[MonitorResponse](t, resp)
	assert.Equal(t, "unknown", m.USB)
	assert.Equal(t, "Idle", m.State)
	assert.False(t, m.Connected)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.do(t, http.MethodPost, "/api/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.wait(t)

	resp = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "gofet_rows_written_total 21")
	assert.Contains(t, string(body), `gofet_sweeps_finished_total{outcome="completed"} 1`)
}
