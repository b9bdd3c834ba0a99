// Package storage manages the flat directory of measurement files: capacity
// admission, name validation, oldest-first listing and eviction.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/itohio/gofet/pkg/config"
	"github.com/itohio/gofet/pkg/logq"
)

const (
	// Extension is the suffix every measurement file carries.
	Extension = ".csv"
	// MaxNameLength bounds file names.
	MaxNameLength = 100
)

// ErrInvalidName is returned for names that fail IsValidName.
var ErrInvalidName = errors.New("invalid file name")

// File is a stored measurement file.
type File struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Timestamp int64  `json:"timestamp"` // Unix seconds embedded in the name
}

// Usage is a capacity measurement in bytes.
type Usage struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// Percent returns the used share of the total in percent.
func (u Usage) Percent() float64 {
	if u.Total == 0 {
		return 100
	}
	return float64(u.Used) / float64(u.Total) * 100
}

// UsageFunc measures the capacity backing the measurement directory.
type UsageFunc func() (Usage, error)

// Info summarizes the storage state.
type Info struct {
	Total     uint64  `json:"total_bytes"`
	Used      uint64  `json:"used_bytes"`
	Free      uint64  `json:"free_bytes"`
	Percent   float64 `json:"percent_used"`
	Files     int     `json:"file_count"`
	MaxFiles  int     `json:"max_files"`
	WarnFiles int     `json:"warn_files"`
	Warning   bool    `json:"warning"`
}

// Manager owns the measurement directory.
type Manager struct {
	dir   string
	cfg   config.StorageConfig
	usage UsageFunc
	log   logq.Logger

	mu sync.Mutex
}

// New creates the measurement directory if needed and returns its manager.
// With a quota configured, usage is the total size of stored files against
// the quota; otherwise the filesystem is queried.
func New(cfg config.StorageConfig) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create measurement directory: %w", err)
	}

	m := &Manager{
		dir: cfg.Dir,
		cfg: cfg,
		log: logq.Std(nil),
	}
	if cfg.QuotaBytes > 0 {
		m.usage = m.quotaUsage
	} else {
		m.usage = func() (Usage, error) { return diskUsage(cfg.Dir) }
	}

	return m, nil
}

// WithUsage replaces the disk usage source.
func (m *Manager) WithUsage(fn UsageFunc) *Manager {
	m.usage = fn
	return m
}

// WithLogger routes storage diagnostics to l.
func (m *Manager) WithLogger(l logq.Logger) *Manager {
	if l == nil {
		l = logq.Std(nil)
	}
	m.log = l
	return m
}

// Dir returns the measurement directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Usage measures current capacity.
func (m *Manager) Usage() (Usage, error) {
	u, err := m.usage()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to measure storage usage: %w", err)
	}
	return u, nil
}

// CheckCapacity reports whether a new sweep may be written. It fails when
// usage reaches the configured fraction or free space drops below the floor.
func (m *Manager) CheckCapacity() bool {
	u, err := m.Usage()
	if err != nil {
		m.log.Warnf("Storage capacity check failed: %v", err)
		return false
	}
	if u.Total == 0 {
		return false
	}

	if float64(u.Used)/float64(u.Total) >= m.cfg.MaxUsage {
		m.log.Warnf("Storage usage %.1f%% above limit %.1f%%", u.Percent(), m.cfg.MaxUsage*100)
		return false
	}
	if u.Free < m.cfg.MinFreeBytes {
		m.log.Warnf("Storage free space %d below %d bytes", u.Free, m.cfg.MinFreeBytes)
		return false
	}
	return true
}

func (m *Manager) quotaUsage() (Usage, error) {
	files, err := m.List()
	if err != nil {
		return Usage{}, err
	}

	var used uint64
	for _, f := range files {
		used += uint64(f.Size)
	}

	u := Usage{Total: m.cfg.QuotaBytes, Used: used}
	if used < u.Total {
		u.Free = u.Total - used
	}
	return u, nil
}

// IsValidName reports whether name is a safe measurement file name:
// 1 to 100 characters from [A-Za-z0-9_.-], no "..", ending in ".csv".
func IsValidName(name string) bool {
	if len(name) == 0 || len(name) > MaxNameLength {
		return false
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '.', c == '-':
		default:
			return false
		}
	}
	return strings.HasSuffix(name, Extension) && len(name) > len(Extension)
}

// EmbeddedTimestamp extracts the unix timestamp from "<base>_<unix>.csv".
func EmbeddedTimestamp(name string) (int64, bool) {
	stem := strings.TrimSuffix(name, Extension)
	idx := strings.LastIndexByte(stem, '_')
	if idx < 0 || idx == len(stem)-1 {
		return 0, false
	}
	ts, err := strconv.ParseInt(stem[idx+1:], 10, 64)
	if err != nil || ts < 0 {
		return 0, false
	}
	return ts, true
}

func (m *Manager) path(name string) (string, error) {
	if !IsValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(m.dir, name), nil
}

// List returns the stored files sorted oldest first by embedded timestamp.
// Files without one sort by modification time.
func (m *Manager) List() ([]File, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read measurement directory: %w", err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsValidName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		ts, ok := EmbeddedTimestamp(e.Name())
		if !ok {
			ts = info.ModTime().Unix()
		}
		files = append(files, File{
			Name:      e.Name(),
			Size:      info.Size(),
			Timestamp: ts,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Timestamp != files[j].Timestamp {
			return files[i].Timestamp < files[j].Timestamp
		}
		return files[i].Name < files[j].Name
	})

	return files, nil
}

// CountFiles returns the number of stored files.
func (m *Manager) CountFiles() int {
	files, err := m.List()
	if err != nil {
		m.log.Errorf("Failed to count files: %v", err)
		return 0
	}
	return len(files)
}

// Exists reports whether a file with the given name is stored.
func (m *Manager) Exists(name string) bool {
	p, err := m.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Delete removes one file. Failures are logged and reported as false.
func (m *Manager) Delete(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(name)
}

func (m *Manager) deleteLocked(name string) bool {
	p, err := m.path(name)
	if err != nil {
		m.log.Warnf("Refusing to delete: %v", err)
		return false
	}
	if err := os.Remove(p); err != nil {
		m.log.Errorf("Failed to delete %s: %v", name, err)
		return false
	}
	return true
}

// DeleteOldest removes the oldest stored file.
func (m *Manager) DeleteOldest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteOldestLocked()
}

func (m *Manager) deleteOldestLocked() bool {
	files, err := m.List()
	if err != nil || len(files) == 0 {
		return false
	}
	m.log.Infof("Evicting oldest measurement %s", files[0].Name)
	return m.deleteLocked(files[0].Name)
}

// DeleteAll removes every stored file and returns how many were deleted.
func (m *Manager) DeleteAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, err := m.List()
	if err != nil {
		m.log.Errorf("Failed to list files for deletion: %v", err)
		return 0
	}

	deleted := 0
	for _, f := range files {
		if m.deleteLocked(f.Name) {
			deleted++
		}
	}
	return deleted
}

// Create opens a new file for writing. When the file count limit is
// reached the oldest file is evicted first. Existing files are never
// overwritten.
func (m *Manager) Create(name string) (io.WriteCloser, error) {
	p, err := m.path(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxFiles > 0 {
		for m.CountFiles() >= m.cfg.MaxFiles {
			if !m.deleteOldestLocked() {
				break
			}
		}
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return f, nil
}

// Open opens a stored file for reading.
func (m *Manager) Open(name string) (*os.File, error) {
	p, err := m.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// Info summarizes capacity and file count.
func (m *Manager) Info() (Info, error) {
	u, err := m.Usage()
	if err != nil {
		return Info{}, err
	}

	files := m.CountFiles()
	return Info{
		Total:     u.Total,
		Used:      u.Used,
		Free:      u.Free,
		Percent:   u.Percent(),
		Files:     files,
		MaxFiles:  m.cfg.MaxFiles,
		WarnFiles: m.cfg.WarnFiles,
		Warning:   m.cfg.WarnFiles > 0 && files >= m.cfg.WarnFiles,
	}, nil
}
