// Package store persists the engine snapshot, the token ledger and the
// domain event log to a JSON file so a feed survives restarts. Writes
// are atomic (tmp file + rename) and load failures leave the caller
// starting fresh rather than crashing.
package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/flux-aggregator/internal/flux"
	"github.com/yourorg/flux-aggregator/internal/model"
)

// Store holds the event log in memory and persists it together with
// the engine and token state.
type Store struct {
	mu        sync.Mutex
	events    []model.Event
	maxEvents int
	filePath  string
}

// PersistenceFile is the on-disk layout.
type PersistenceFile struct {
	Version  string                      `json:"version"`
	SavedAt  time.Time                   `json:"saved_at"`
	Engine   *flux.Snapshot              `json:"engine"`
	Balances map[common.Address]*big.Int `json:"balances"`
	Events   []model.Event               `json:"events"`
}

// New creates a store writing to filePath. An empty path defaults to
// the OS temp directory. maxEvents bounds the retained event log;
// older entries are rotated out.
func New(filePath string, maxEvents int) *Store {
	if filePath == "" {
		filePath = filepath.Join(os.TempDir(), "flux-aggregator", "data.json")
	}
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return &Store{filePath: filePath, maxEvents: maxEvents}
}

// Append adds events to the log, rotating out the oldest entries past
// the retention bound.
func (s *Store) Append(events []model.Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
}

// Events returns a copy of the retained event log.
func (s *Store) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsSince returns retained events strictly newer than t.
func (s *Store) EventsSince(t time.Time) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, ev := range s.events {
		if ev.At.After(t) {
			out = append(out, ev)
		}
	}
	return out
}

// Save persists the engine snapshot, token balances and event log.
func (s *Store) Save(engine *flux.Snapshot, balances map[common.Address]*big.Int) error {
	s.mu.Lock()
	events := make([]model.Event, len(s.events))
	copy(events, s.events)
	s.mu.Unlock()

	data := PersistenceFile{
		Version:  "1.0",
		SavedAt:  time.Now().UTC(),
		Engine:   engine,
		Balances: balances,
		Events:   events,
	}
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// Load reads the persisted state. A missing file returns (nil, nil):
// the feed starts fresh.
func (s *Store) Load() (*PersistenceFile, error) {
	tempPath := s.filePath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		return nil, nil
	}
	payload, err := os.ReadFile(s.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var data PersistenceFile
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	s.mu.Lock()
	s.events = data.Events
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	s.mu.Unlock()
	return &data, nil
}
