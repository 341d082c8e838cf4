// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"fmt"

	"github.com/google/uuid"
)

// CellType is the kind of a cell.
type CellType string

const (
	Code     CellType = "code"
	Markdown CellType = "markdown"
	Raw      CellType = "raw"
)

// ParseCellType validates a cell type name.
func ParseCellType(name string) (CellType, error) {
	switch CellType(name) {
	case Code, Markdown, Raw:
		return CellType(name), nil
	default:
		return "", fmt.Errorf("notebook: unknown cell type %q (want code, markdown, or raw)", name)
	}
}

// ExecutionState is the collaborative execution indicator of a code
// cell.
type ExecutionState string

const (
	Idle    ExecutionState = "idle"
	Running ExecutionState = "running"
)

// Output types.
const (
	OutputExecuteResult = "execute_result"
	OutputStream        = "stream"
	OutputDisplayData   = "display_data"
	OutputError         = "error"
)

// Output is one entry of a code cell's outputs, in nbformat shape.
// Which fields are meaningful depends on OutputType.
type Output struct {
	OutputType string `json:"output_type"`

	// stream
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`

	// execute_result and display_data
	Data           map[string]any `json:"data,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`

	// error
	EName     string   `json:"ename,omitempty"`
	EValue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// Clone returns a deep copy.
func (o Output) Clone() Output {
	clone := o
	clone.Data = cloneMap(o.Data)
	clone.Metadata = cloneMap(o.Metadata)
	if o.ExecutionCount != nil {
		count := *o.ExecutionCount
		clone.ExecutionCount = &count
	}
	if o.Traceback != nil {
		clone.Traceback = append([]string(nil), o.Traceback...)
	}
	return clone
}

// Cell is one notebook cell.
type Cell struct {
	ID             string         `json:"id"`
	Type           CellType       `json:"cell_type"`
	Source         string         `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Outputs        []Output       `json:"outputs,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
	ExecutionState ExecutionState `json:"execution_state,omitempty"`
}

// NewCell returns a cell of the given type with a fresh id.
func NewCell(cellType CellType, source string) Cell {
	cell := Cell{
		ID:     uuid.NewString(),
		Type:   cellType,
		Source: source,
	}
	if cellType == Code {
		cell.ExecutionState = Idle
	}
	return cell
}

// Clone returns a deep copy.
func (c Cell) Clone() Cell {
	clone := c
	clone.Metadata = cloneMap(c.Metadata)
	if c.Outputs != nil {
		clone.Outputs = make([]Output, len(c.Outputs))
		for i, output := range c.Outputs {
			clone.Outputs[i] = output.Clone()
		}
	}
	if c.ExecutionCount != nil {
		count := *c.ExecutionCount
		clone.ExecutionCount = &count
	}
	return clone
}

func cloneMap(source map[string]any) map[string]any {
	if source == nil {
		return nil
	}
	clone := make(map[string]any, len(source))
	for key, value := range source {
		clone[key] = cloneValue(value)
	}
	return clone
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		clone := make([]any, len(typed))
		for i, element := range typed {
			clone[i] = cloneValue(element)
		}
		return clone
	case []string:
		return append([]string(nil), typed...)
	default:
		return value
	}
}
