// Package storage persists registry state as a single JSON document with
// atomic writes and rotating backups.
package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	server "blockwell/server"
)

const (
	fileName     = "players.json"
	backupPrefix = "players_backup_"
	maxBackups   = 10
)

// document is the on-disk shape. savedAt lets operators eyeball staleness
// without parsing timestamps out of file metadata.
type document struct {
	Sessions []server.PersistedSession `json:"players"`
	Bindings map[string]string         `json:"bindings,omitempty"`
	SavedAt  string                    `json:"lastUpdated"`
}

// FileStore keeps the registry's durable state in dataDir/players.json.
// Saves go through a temp file and rename so a crash mid-write never
// truncates the previous good copy.
type FileStore struct {
	mu      sync.Mutex
	dataDir string
	logger  *log.Logger
	now     func() time.Time
}

// New creates the data directory if needed and returns a store over it.
func New(dataDir string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir, logger: logger, now: time.Now}, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dataDir, fileName)
}

// Load reads the document, returning an empty state when the file does not
// exist yet.
func (s *FileStore) Load() (server.PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return server.PersistedState{}, nil
		}
		return server.PersistedState{}, fmt.Errorf("read %s: %w", s.path(), err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return server.PersistedState{}, fmt.Errorf("parse %s: %w", s.path(), err)
	}
	return server.PersistedState{Sessions: doc.Sessions, Bindings: doc.Bindings}, nil
}

// Save writes the state atomically: marshal, write to a temp file in the
// same directory, rename over the target.
func (s *FileStore) Save(state server.PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{
		Sessions: state.Sessions,
		Bindings: state.Bindings,
		SavedAt:  s.now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Backup copies the current file to a timestamped sibling and prunes old
// copies beyond the retention limit. Returns the backup path.
func (s *FileStore) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path())
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.path(), err)
	}
	stamp := s.now().UTC().Format("2006-01-02T15-04-05")
	backup := filepath.Join(s.dataDir, backupPrefix+stamp+".json")
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup %s: %w", backup, err)
	}
	s.pruneBackups()
	return backup, nil
}

// pruneBackups keeps the newest maxBackups copies. Names sort by timestamp,
// so lexical order is chronological.
func (s *FileStore) pruneBackups() {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		s.logger.Printf("failed to list backups: %v", err)
		return
	}
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), backupPrefix) {
			backups = append(backups, entry.Name())
		}
	}
	if len(backups) <= maxBackups {
		return
	}
	sort.Strings(backups)
	for _, name := range backups[:len(backups)-maxBackups] {
		if err := os.Remove(filepath.Join(s.dataDir, name)); err != nil {
			s.logger.Printf("failed to prune backup %s: %v", name, err)
		}
	}
}

// Stats describes the backing file for the admin surface.
func (s *FileStore) Stats() server.StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path())
	if err != nil {
		return server.StoreStats{}
	}
	stats := server.StoreStats{
		Exists:     true,
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime().UnixMilli(),
	}
	data, err := os.ReadFile(s.path())
	if err != nil {
		return stats
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return stats
	}
	stats.SessionCount = len(doc.Sessions)
	stats.LastUpdated = doc.SavedAt
	return stats
}
