/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sprints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store reads and advances the sprint counter.
type Store interface {
	// Current returns the active sprint number, starting at 1.
	Current(ctx context.Context) (int, error)

	// Increment advances the counter and returns the new value.
	Increment(ctx context.Context) (int, error)
}

// FileStore keeps the counter in a small JSON document on disk.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by the file at path. A missing
// file means sprint 1.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type state struct {
	Sprint int `json:"sprint"`
}

func (s *FileStore) Current(context.Context) (int, error) {
	st, err := s.read()
	if err != nil {
		return 0, err
	}
	return st.Sprint, nil
}

func (s *FileStore) Increment(context.Context) (int, error) {
	st, err := s.read()
	if err != nil {
		return 0, err
	}
	st.Sprint++
	if err := s.write(st); err != nil {
		return 0, err
	}
	return st.Sprint, nil
}

func (s *FileStore) read() (state, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state{Sprint: 1}, nil
	}
	if err != nil {
		return state{}, fmt.Errorf("reading sprint state: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return state{}, fmt.Errorf("parsing sprint state %s: %w", s.path, err)
	}
	if st.Sprint < 1 {
		st.Sprint = 1
	}
	return st, nil
}

func (s *FileStore) write(st state) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sprint state: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing sprint state: %w", err)
	}
	return nil
}
