// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

type marker struct {
	Path    string    `cbor:"path"`
	CellID  string    `cbor:"cell_id"`
	Started time.Time `cbor:"started"`
}

func TestDeterministicEncoding(t *testing.T) {
	first, err := Marshal(map[string]any{"b": 1, "a": 2, "c": "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(map[string]any{"c": "x", "a": 2, "b": 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("map key order changed the encoding")
	}
}

func TestStructTimePreserved(t *testing.T) {
	started := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	data, err := Marshal(marker{Path: "work/a.ipynb", CellID: "c1", Started: started})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded marker
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Path != "work/a.ipynb" || decoded.CellID != "c1" || !decoded.Started.Equal(started) {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestUntypedMapsUseStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type %T, want map[string]any", decoded)
	}
	if _, ok := outer["nested"].(map[string]any); !ok {
		t.Fatalf("nested type %T, want map[string]any", outer["nested"])
	}
}
