/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconcilemanager

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Tracker remembers which sprints already got a reconciliation attempt.
type Tracker interface {
	// CanReconcile reports whether the sprint has no attempt yet.
	CanReconcile(sprint int) (bool, error)

	// MarkAttempted records the attempt. Records are never removed: one
	// attempt per sprint, ever.
	MarkAttempted(sprint int, sessionID string) error
}

// Record is one reconciliation attempt.
type Record struct {
	Sprint      int       `json:"sprint"`
	SessionID   string    `json:"sessionId"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// FileTracker persists records in a JSON ledger keyed by sprint.
type FileTracker struct {
	path string
	now  func() time.Time
}

var _ Tracker = (*FileTracker)(nil)

// NewFileTracker returns a tracker backed by the file at path.
func NewFileTracker(path string) *FileTracker {
	return &FileTracker{path: path, now: time.Now}
}

type ledger struct {
	Records map[string]Record `json:"records"`
}

func (t *FileTracker) CanReconcile(sprint int) (bool, error) {
	l, err := t.read()
	if err != nil {
		return false, err
	}
	_, attempted := l.Records[strconv.Itoa(sprint)]
	return !attempted, nil
}

func (t *FileTracker) MarkAttempted(sprint int, sessionID string) error {
	l, err := t.read()
	if err != nil {
		return err
	}
	l.Records[strconv.Itoa(sprint)] = Record{
		Sprint:      sprint,
		SessionID:   sessionID,
		AttemptedAt: t.now().UTC(),
	}
	return t.write(l)
}

func (t *FileTracker) read() (ledger, error) {
	l := ledger{Records: map[string]Record{}}
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return l, fmt.Errorf("reading reconciliation ledger: %w", err)
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return l, fmt.Errorf("parsing reconciliation ledger %s: %w", t.path, err)
	}
	if l.Records == nil {
		l.Records = map[string]Record{}
	}
	return l, nil
}

func (t *FileTracker) write(l ledger) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding reconciliation ledger: %w", err)
	}
	if err := os.WriteFile(t.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing reconciliation ledger: %w", err)
	}
	return nil
}
