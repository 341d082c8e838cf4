// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog records in-flight cell executions on disk so a
// crashed process does not leave collaborators looking at a cell that
// claims to be running forever.
//
// Before a cell executes, the engine writes a [Marker] naming the
// notebook and cell. After execution (success or failure) the marker is
// cleared. When a session for the same notebook is opened again and a
// marker is still present, the previous process died mid-execution and
// the cell's execution state is reset.
//
// Markers are CBOR, written atomically (temporary file, fsync, rename)
// so readers never see a partial record. One marker exists per notebook
// path; the file name is derived from the path so concurrent notebooks
// never collide.
package watchdog

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/scribe/lib/codec"
)

// Marker describes one execution in progress.
type Marker struct {
	Path     string    `cbor:"path"`
	CellID   string    `cbor:"cell_id"`
	KernelID string    `cbor:"kernel_id"`
	Started  time.Time `cbor:"started"`
}

// Store reads and writes markers under a state directory.
type Store struct {
	directory string
}

// NewStore returns a Store rooted at directory, creating it if needed.
func NewStore(directory string) (*Store, error) {
	if directory == "" {
		return nil, fmt.Errorf("watchdog: state directory is required")
	}
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, fmt.Errorf("watchdog: creating state directory: %w", err)
	}
	return &Store{directory: directory}, nil
}

// markerPath maps a notebook path to its marker file.
func (s *Store) markerPath(notebookPath string) string {
	sum := blake3.Sum256([]byte(notebookPath))
	return filepath.Join(s.directory, "exec-"+hex.EncodeToString(sum[:12])+".cbor")
}

// Write atomically records marker, replacing any previous marker for
// the same notebook.
func (s *Store) Write(marker Marker) error {
	data, err := codec.Marshal(marker)
	if err != nil {
		return fmt.Errorf("watchdog: encoding marker: %w", err)
	}
	path := s.markerPath(marker.Path)
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("watchdog: creating temporary marker: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("watchdog: writing temporary marker: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("watchdog: syncing temporary marker: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("watchdog: closing temporary marker: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("watchdog: renaming marker into place: %w", err)
	}
	return nil
}

// Read returns the marker for notebookPath. found is false when no
// marker exists. A marker whose recorded path differs (a hash
// collision) is treated as absent.
func (s *Store) Read(notebookPath string) (marker Marker, found bool, err error) {
	data, err := os.ReadFile(s.markerPath(notebookPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Marker{}, false, nil
		}
		return Marker{}, false, err
	}
	if err := codec.Unmarshal(data, &marker); err != nil {
		return Marker{}, false, fmt.Errorf("watchdog: parsing marker for %s: %w", notebookPath, err)
	}
	if marker.Path != notebookPath {
		return Marker{}, false, nil
	}
	return marker, true, nil
}

// Clear removes the marker for notebookPath. Idempotent.
func (s *Store) Clear(notebookPath string) error {
	if err := os.Remove(s.markerPath(notebookPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("watchdog: removing marker: %w", err)
	}
	return nil
}
