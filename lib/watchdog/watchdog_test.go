// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestWriteReadClear(t *testing.T) {
	store := newTestStore(t)
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	marker := Marker{Path: "analysis/q3.ipynb", CellID: "cell-7", KernelID: "k-1", Started: started}

	if err := store.Write(marker); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, found, err := store.Read("analysis/q3.ipynb")
	if err != nil || !found {
		t.Fatalf("Read = (%+v, %v, %v), want found", got, found, err)
	}
	if got.CellID != "cell-7" || got.KernelID != "k-1" || !got.Started.Equal(started) {
		t.Fatalf("Read = %+v", got)
	}

	if err := store.Clear("analysis/q3.ipynb"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, found, err := store.Read("analysis/q3.ipynb"); err != nil || found {
		t.Fatalf("after Clear: found=%v err=%v", found, err)
	}
	if err := store.Clear("analysis/q3.ipynb"); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestMarkersArePerNotebook(t *testing.T) {
	store := newTestStore(t)
	store.Write(Marker{Path: "a.ipynb", CellID: "a1"})
	store.Write(Marker{Path: "b.ipynb", CellID: "b1"})

	first, _, _ := store.Read("a.ipynb")
	second, _, _ := store.Read("b.ipynb")
	if first.CellID != "a1" || second.CellID != "b1" {
		t.Fatalf("markers crossed: a=%+v b=%+v", first, second)
	}
}

func TestWriteLeavesNoTemporaryFile(t *testing.T) {
	store := newTestStore(t)
	if err := store.Write(Marker{Path: "x.ipynb"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(store.markerPath("x.ipynb") + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file still present: %v", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(store.markerPath("bad.ipynb"), []byte{0xff, 0x00}, 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Read("bad.ipynb"); err == nil {
		t.Fatal("expected error for corrupt marker")
	}
}

func TestNewStoreRequiresDirectory(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
