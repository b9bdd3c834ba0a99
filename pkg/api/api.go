// Package api exposes the instrument over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/itohio/gofet/pkg/chart"
	"github.com/itohio/gofet/pkg/hal"
	"github.com/itohio/gofet/pkg/logq"
	"github.com/itohio/gofet/pkg/sample"
	"github.com/itohio/gofet/pkg/status"
	"github.com/itohio/gofet/pkg/storage"
	"github.com/itohio/gofet/pkg/sweep"
)

// Sweeper is the sweep controller surface the API drives.
type Sweeper interface {
	Start(cfg sweep.Config) (string, error)
	Cancel(ctx context.Context) bool
	Progress() (status.Progress, bool)
	State() sweep.State
}

// Deps are the components served by the API.
type Deps struct {
	Sweeps   Sweeper
	Store    *storage.Manager
	Logs     *logq.Queue
	Device   hal.Device
	Defaults sweep.Config // Parameters a start request leaves out
	Metrics  http.Handler // Optional
}

// Server routes HTTP requests to the instrument.
type Server struct {
	deps   Deps
	router *mux.Router
}

// New creates the server and registers its routes.
func New(deps Deps) *Server {
	s := &Server{deps: deps, router: mux.NewRouter()}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/start", s.Start).Methods(http.MethodPost)
	api.HandleFunc("/cancel", s.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/progress", s.Progress).Methods(http.MethodGet)

	api.HandleFunc("/files", s.ListFiles).Methods(http.MethodGet)
	api.HandleFunc("/files/delete-all", s.DeleteAll).Methods(http.MethodPost)
	api.HandleFunc("/files/{name}", s.GetFile).Methods(http.MethodGet)
	api.HandleFunc("/files/{name}", s.DeleteFile).Methods(http.MethodDelete)
	api.HandleFunc("/files/{name}/plot.png", s.PlotFile).Methods(http.MethodGet)
	api.HandleFunc("/storage", s.Storage).Methods(http.MethodGet)

	api.HandleFunc("/logs", s.Logs).Methods(http.MethodGet)
	api.HandleFunc("/logs/clear", s.ClearLogs).Methods(http.MethodPost)
	api.HandleFunc("/monitor", s.Monitor).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	if deps.Metrics != nil {
		s.router.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

// StartRequest overrides the default sweep parameters. Omitted fields keep
// their defaults.
type StartRequest struct {
	Vgs        *sample.Range `json:"vgs,omitempty"`
	Vds        *sample.Range `json:"vds,omitempty"`
	Rshunt     *float64      `json:"rshunt,omitempty"`
	SettlingMs *int64        `json:"settling_ms,omitempty"`
	BaseName   string        `json:"base_name,omitempty"`
	Mode       string        `json:"mode,omitempty"`
}

// Config merges the request into def.
func (req StartRequest) Config(def sweep.Config) (sweep.Config, error) {
	cfg := def
	if req.Vgs != nil {
		cfg.Vgs = *req.Vgs
	}
	if req.Vds != nil {
		cfg.Vds = *req.Vds
	}
	if req.Rshunt != nil {
		cfg.Rshunt = *req.Rshunt
	}
	if req.SettlingMs != nil {
		cfg.Settling = time.Duration(*req.SettlingMs) * time.Millisecond
	}
	if req.BaseName != "" {
		cfg.BaseName = req.BaseName
	}
	if req.Mode != "" {
		axis, err := sample.ParseAxis(req.Mode)
		if err != nil {
			return sweep.Config{}, err
		}
		cfg.Axis = axis
	}
	return cfg, nil
}

// StartResponse reports an accepted sweep.
type StartResponse struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

// Start handles POST /api/start
func (s *Server) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	cfg, err := req.Config(s.deps.Defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, err := s.deps.Sweeps.Start(cfg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, StartResponse{Status: "started", Filename: name})
	case errors.Is(err, sweep.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sweep.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sweep.ErrStorageExhausted):
		writeError(w, http.StatusInsufficientStorage, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// CancelResponse reports the result of a cancellation request.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	State     string `json:"state"`
}

// Cancel handles POST /api/cancel
func (s *Server) Cancel(w http.ResponseWriter, r *http.Request) {
	// Cancelling an idle controller is a no-op
	cancelled := s.deps.Sweeps.Cancel(r.Context())
	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: cancelled, State: s.deps.Sweeps.State().String()})
}

// Progress handles GET /api/progress
func (s *Server) Progress(w http.ResponseWriter, r *http.Request) {
	p, ok := s.deps.Sweeps.Progress()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "progress busy")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// FileList is the body of GET /api/files.
type FileList struct {
	Files []storage.File `json:"files"`
	Count int            `json:"count"`
}

// ListFiles handles GET /api/files
func (s *Server) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []storage.File{}
	}
	writeJSON(w, http.StatusOK, FileList{Files: files, Count: len(files)})
}

// openFile opens the file named in the route, writing the error response
// on failure.
func (s *Server) openFile(w http.ResponseWriter, r *http.Request) (*os.File, bool) {
	name := mux.Vars(r)["name"]
	if !storage.IsValidName(name) {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return nil, false
	}

	f, err := s.deps.Store.Open(name)
	switch {
	case err == nil:
		return f, true
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "file not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
	return nil, false
}

// GetFile handles GET /api/files/{name}
func (s *Server) GetFile(w http.ResponseWriter, r *http.Request) {
	f, ok := s.openFile(w, r)
	if !ok {
		return
	}
	defer f.Close()

	var modTime time.Time
	if fi, err := f.Stat(); err == nil {
		modTime = fi.ModTime()
	}
	w.Header().Set("Content-Type", "text/csv")
	http.ServeContent(w, r, f.Name(), modTime, f)
}

// PlotFile handles GET /api/files/{name}/plot.png
func (s *Server) PlotFile(w http.ResponseWriter, r *http.Request) {
	f, ok := s.openFile(w, r)
	if !ok {
		return
	}
	defer f.Close()

	data, err := sample.Parse(f)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	img, err := chart.PNG(data, chart.DefaultOptions())
	switch {
	case errors.Is(err, chart.ErrNoData):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

// DeleteResponse reports removed files.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

// DeleteFile handles DELETE /api/files/{name}
func (s *Server) DeleteFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !storage.IsValidName(name) {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	if !s.deps.Store.Delete(name) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: 1})
}

// DeleteAll handles POST /api/files/delete-all
func (s *Server) DeleteAll(w http.ResponseWriter, r *http.Request) {
	if st := s.deps.Sweeps.State(); st == sweep.Running || st == sweep.Cancelling {
		writeError(w, http.StatusConflict, "sweep running")
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: s.deps.Store.DeleteAll()})
}

// Storage handles GET /api/storage
func (s *Server) Storage(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Store.Info()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// LogResponse is the body of GET /api/logs.
type LogResponse struct {
	Entries []logq.Entry `json:"entries"`
	Dropped uint64       `json:"dropped"`
}

// Logs handles GET /api/logs
func (s *Server) Logs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LogResponse{Entries: s.deps.Logs.Recent(), Dropped: s.deps.Logs.Dropped()})
}

// ClearLogs handles POST /api/logs/clear
func (s *Server) ClearLogs(w http.ResponseWriter, r *http.Request) {
	s.deps.Logs.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// MonitorResponse summarizes instrument health.
type MonitorResponse struct {
	USB        string  `json:"usb"`
	Connected  bool    `json:"device_connected"`
	State      string  `json:"state"`
	StorageUse float64 `json:"storage_percent"`
	Files      int     `json:"file_count"`
	LogDropped uint64  `json:"log_dropped"`
}

// Monitor handles GET /api/monitor
func (s *Server) Monitor(w http.ResponseWriter, r *http.Request) {
	resp := MonitorResponse{
		USB:        "unknown",
		State:      s.deps.Sweeps.State().String(),
		LogDropped: s.deps.Logs.Dropped(),
	}
	if s.deps.Device != nil {
		resp.Connected = s.deps.Device.IsConnected()
	}
	if info, err := s.deps.Store.Info(); err == nil {
		resp.StorageUse = info.Percent
		resp.Files = info.Files
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
