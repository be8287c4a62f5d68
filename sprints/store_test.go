/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sprints_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"chainguard.dev/cyclescheduler/sprints"
	"github.com/stretchr/testify/require"
)

func TestCurrentDefaultsToOne(t *testing.T) {
	t.Parallel()
	s := sprints.NewFileStore(filepath.Join(t.TempDir(), "sprint.json"))
	got, err := s.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, got)
}

func TestIncrementPersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state", "sprint.json")
	ctx := context.Background()

	s := sprints.NewFileStore(path)
	got, err := s.Increment(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, got)

	// A fresh store over the same file sees the advanced counter.
	s2 := sprints.NewFileStore(path)
	cur, err := s2.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, cur)
}

func TestNegativeSprintClampsToOne(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sprint.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sprint": -3}`), 0o644))

	s := sprints.NewFileStore(path)
	got, err := s.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, got)
}

func TestCorruptStateSurfacesError(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sprint.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	s := sprints.NewFileStore(path)
	_, err := s.Current(context.Background())
	require.Error(t, err)
}
