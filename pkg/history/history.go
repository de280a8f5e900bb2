// Package history reads and writes the persisted retention store.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sub-hunter/pkg/models"
)

// Store is the load/save handle the retention engine works through.
type Store interface {
	// Load returns the stored history. On a missing file it returns empty
	// defaults and no error; on a corrupt file it returns empty defaults
	// together with the decode error.
	Load() (models.History, error)
	Save(h models.History) error
	// ExportReserve writes the reserve ledger for audit and returns the
	// path written, or "" when there was nothing to write.
	ExportReserve(reserve []string) (string, error)
}

// FileStore keeps the history as a single JSON document.
type FileStore struct {
	Path string
	// Backup copies the previous document to <Path>.bak.<unix> before
	// every save.
	Backup bool
	// Export enables ExportReserve.
	Export bool

	Now    func() time.Time
	Logger *slog.Logger
}

func NewFileStore(path string, backup, export bool, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{Path: path, Backup: backup, Export: export, Now: time.Now, Logger: logger}
}

func (s *FileStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *FileStore) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// document is the on-disk shape. seen, active and links carry the same
// list; older files may have only one of them.
type document struct {
	Seen         []string                   `json:"seen"`
	Active       []string                   `json:"active"`
	Links        []string                   `json:"links"`
	Fail         map[string]json.RawMessage `json:"fail"`
	Reserve      []string                   `json:"reserve"`
	ResourceKeys map[string]json.RawMessage `json:"resource_keys"`
	LastTotal    int                        `json:"last_total"`
	TS           int64                      `json:"ts"`
}

type outDocument struct {
	Seen         []string                      `json:"seen"`
	Active       []string                      `json:"active"`
	Links        []string                      `json:"links"`
	Fail         map[string]int                `json:"fail"`
	Reserve      []string                      `json:"reserve"`
	ResourceKeys map[string]models.ResourceKey `json:"resource_keys"`
	LastTotal    int                           `json:"last_total"`
	TS           int64                         `json:"ts"`
}

func (s *FileStore) Load() (models.History, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewHistory(), nil
	}
	if err != nil {
		return models.NewHistory(), fmt.Errorf("failed to read history: %w", err)
	}
	return Decode(data)
}

// Decode parses a history document. Individual fail counters or resource
// keys that do not decode are dropped.
func Decode(data []byte) (models.History, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.NewHistory(), fmt.Errorf("failed to parse history: %w", err)
	}

	h := models.NewHistory()
	active := doc.Active
	if active == nil {
		active = doc.Seen
	}
	if active == nil {
		active = doc.Links
	}
	h.Active = uniq(active)

	inActive := make(map[string]bool, len(h.Active))
	for _, u := range h.Active {
		inActive[u] = true
	}
	for _, u := range uniq(doc.Reserve) {
		if !inActive[u] {
			h.Reserve = append(h.Reserve, u)
		}
	}

	for u, raw := range doc.Fail {
		if n, ok := decodeCount(raw); ok && n > 0 && inActive[u] {
			h.Fail[u] = n
		}
	}
	for u, raw := range doc.ResourceKeys {
		var key *models.ResourceKey
		if err := json.Unmarshal(raw, &key); err != nil || key == nil || key.OwnerKey == "" {
			continue
		}
		h.ResourceKeys[u] = *key
	}
	h.LastTotal = doc.LastTotal
	h.UpdatedAt = doc.TS
	return h, nil
}

func decodeCount(raw json.RawMessage) (int, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return v, true
		}
	}
	return 0, false
}

func uniq(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, u := range list {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func (s *FileStore) Save(h models.History) error {
	doc := outDocument{
		Seen:         nonNil(h.Active),
		Active:       nonNil(h.Active),
		Links:        nonNil(h.Active),
		Fail:         h.Fail,
		Reserve:      nonNil(h.Reserve),
		ResourceKeys: h.ResourceKeys,
		LastTotal:    h.LastTotal,
		TS:           h.UpdatedAt,
	}
	if doc.Fail == nil {
		doc.Fail = map[string]int{}
	}
	if doc.ResourceKeys == nil {
		doc.ResourceKeys = map[string]models.ResourceKey{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	if s.Backup {
		if bak, err := s.backup(); err != nil {
			s.logger().Warn("History backup failed", "path", s.Path, "error", err)
		} else if bak != "" {
			s.logger().Info("History backed up", "path", bak)
		}
	}
	return WriteAtomic(s.Path, data)
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func (s *FileStore) backup() (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	bak := fmt.Sprintf("%s.bak.%d", s.Path, s.now().Unix())
	if err := os.WriteFile(bak, data, 0o644); err != nil {
		return "", err
	}
	return bak, nil
}

func (s *FileStore) ExportReserve(reserve []string) (string, error) {
	if !s.Export || len(reserve) == 0 {
		return "", nil
	}
	data, err := json.MarshalIndent(reserve, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode reserve: %w", err)
	}
	path := filepath.Join(filepath.Dir(s.Path), fmt.Sprintf("reserve-%d.json", s.now().Unix()))
	if err := WriteAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteAtomic writes data to a temporary file in the target directory and
// renames it over path.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
