// Package registry records what was submitted for each subject so later
// invocations can tell whether that work is still in the scheduler.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound indicates no record exists for the requested id.
var ErrNotFound = errors.New("submission record not found")

// Store persists and loads Records from an on-disk directory.
//
// Directory layout:
//
//	<root>/<id>/submission.json
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) RecordDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) RecordPath(id string) string {
	return filepath.Join(s.RecordDir(id), "submission.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("submission registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write stores record atomically (temp file + rename).
func (s *Store) Write(record *Record) error {
	if record == nil {
		return fmt.Errorf("submission record is nil")
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return fmt.Errorf("submission id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.RecordDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal submission record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "submission.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp record file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record file: %w", err)
	}

	if err := os.Rename(tmpName, s.RecordPath(id)); err != nil {
		return fmt.Errorf("rename record file: %w", err)
	}
	return nil
}

func (s *Store) Get(id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("submission id is required")
	}
	b, err := os.ReadFile(s.RecordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("submission.json is empty")
	}

	var record Record
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse submission.json: %w", err)
	}
	return &record, nil
}

// List returns all readable records, newest first. Unreadable entries are
// skipped.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListForSubject returns records whose SubjectKey equals key, newest first.
func (s *Store) ListForSubject(key string) ([]Record, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.SubjectKey() == key {
			out = append(out, r)
		}
	}
	return out, nil
}

// SetState updates the state of a stored record.
func (s *Store) SetState(id string, state State, now time.Time) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	rec.State = state
	ts := now.UTC()
	rec.UpdatedAt = &ts
	return s.Write(rec)
}
