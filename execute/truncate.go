// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package execute

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/scribe/lib/spill"
	"github.com/bureau-foundation/scribe/notebook"
)

// TruncationMarker is appended to every value cut by truncation.
const TruncationMarker = "...[truncated]"

// TruncatedField locates one value cut by truncation.
type TruncatedField struct {
	// Field is the value's location, such as "outputs[0].text" or
	// "outputs[2].data[image/png]".
	Field string `json:"field"`

	// OriginalLength is the value's length in characters.
	OriginalLength int `json:"original_length"`

	// Ref retrieves the full value from the spill store. Empty when
	// no store is configured.
	Ref spill.Ref `json:"spill_ref,omitempty"`

	full   string
	binary bool
}

// Truncation is the outcome of Truncate.
type Truncation struct {
	Outputs []notebook.Output

	// Truncated reports whether any value was cut.
	Truncated bool

	// OriginalSize is the total length in characters of every textual
	// value before truncation.
	OriginalSize int

	Fields []TruncatedField
}

// Truncate returns a copy of outputs in which every textual value
// (stream text, error name, value and traceback lines, string mime
// data) longer than limit characters is cut to limit characters
// followed by TruncationMarker. Ids, counts, output types, and mime
// keys are never touched. A limit of zero or less disables cutting;
// OriginalSize is reported either way.
func Truncate(outputs []notebook.Output, limit int) Truncation {
	result := Truncation{Outputs: make([]notebook.Output, len(outputs))}
	for index, output := range outputs {
		clone := output.Clone()
		prefix := fmt.Sprintf("outputs[%d]", index)
		clone.Text = result.cut(clone.Text, prefix+".text", limit, false)
		clone.EName = result.cut(clone.EName, prefix+".ename", limit, false)
		clone.EValue = result.cut(clone.EValue, prefix+".evalue", limit, false)
		for line := range clone.Traceback {
			clone.Traceback[line] = result.cut(clone.Traceback[line], fmt.Sprintf("%s.traceback[%d]", prefix, line), limit, false)
		}
		for _, mime := range sortedKeys(clone.Data) {
			text, ok := mimeText(clone.Data[mime])
			if !ok {
				continue
			}
			binary := isBinaryMime(mime)
			clone.Data[mime] = result.cut(text, fmt.Sprintf("%s.data[%s]", prefix, mime), limit, binary)
		}
		result.Outputs[index] = clone
	}
	return result
}

func (t *Truncation) cut(value, field string, limit int, binary bool) string {
	length := utf8.RuneCountInString(value)
	t.OriginalSize += length
	if limit <= 0 || length <= limit {
		return value
	}
	t.Truncated = true
	t.Fields = append(t.Fields, TruncatedField{
		Field:          field,
		OriginalLength: length,
		full:           value,
		binary:         binary,
	})
	return prefixRunes(value, limit) + TruncationMarker
}

// prefixRunes returns the first n characters of value.
func prefixRunes(value string, n int) string {
	count := 0
	for offset := range value {
		if count == n {
			return value[:offset]
		}
		count++
	}
	return value
}

// mimeText returns the string form of a mime bundle value. nbformat
// allows text to be stored as a list of lines.
func mimeText(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case []any:
		var builder strings.Builder
		for _, line := range typed {
			text, ok := line.(string)
			if !ok {
				return "", false
			}
			builder.WriteString(text)
		}
		return builder.String(), true
	case []string:
		return strings.Join(typed, ""), true
	default:
		return "", false
	}
}

func isBinaryMime(mime string) bool {
	return strings.HasPrefix(mime, "image/") && mime != "image/svg+xml"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Spill writes the full value of every truncated field to store and
// records the references. Fields already spilled are skipped.
func (t *Truncation) Spill(store *spill.Store) error {
	if store == nil {
		return nil
	}
	for index := range t.Fields {
		field := &t.Fields[index]
		if field.Ref != "" {
			continue
		}
		kind := spill.Text
		if field.binary {
			kind = spill.Binary
		}
		ref, err := store.Put([]byte(field.full), kind)
		if err != nil {
			return fmt.Errorf("execute: spilling %s: %w", field.Field, err)
		}
		field.Ref = ref
	}
	return nil
}
