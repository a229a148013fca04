package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"market_maker/internal/inventory"
	"market_maker/internal/risk"
)

// State is the flat record persisted between runs. It is informational
// only: on startup the engine re-derives position and orders from
// exchange truth, never from this file.
type State struct {
	Timestamp    time.Time      `json:"timestamp"`
	Position     inventory.Info `json:"position"`
	Risk         risk.Metrics   `json:"risk"`
	ActiveOrders int            `json:"active_orders"`
}

// StateFile persists State as JSON with atomic replace semantics.
type StateFile struct {
	path string
}

// NewStateFile creates the parent directory if needed.
func NewStateFile(path string) (*StateFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &StateFile{path: path}, nil
}

// Save writes the state to a temp file and renames it into place, so a
// crash mid-write never leaves a corrupt state file.
func (s *StateFile) Save(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Load reads the previous state. A missing file returns (nil, nil):
// starting fresh is not an error.
func (s *StateFile) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &state, nil
}

// Clear removes the state file if present.
func (s *StateFile) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
