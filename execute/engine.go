// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/lib/clock"
	"github.com/bureau-foundation/scribe/lib/metrics"
	"github.com/bureau-foundation/scribe/lib/spill"
	"github.com/bureau-foundation/scribe/notebook"
)

const (
	// DefaultTimeout bounds one execution.
	DefaultTimeout = 5 * time.Minute

	// DefaultMaxOutputLength is the truncation limit in characters.
	DefaultMaxOutputLength = 10000
)

// Execution outcomes, reported in Result.Status and as the metrics
// label.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusAborted = "aborted"
	StatusTimeout = "timeout"
	StatusFailed  = "failed"
)

var (
	// ErrTimeout is returned when the execution timeout elapses. The
	// kernel has been sent an interrupt.
	ErrTimeout = errors.New("execute: execution timed out")
)

// Config configures an Engine.
type Config struct {
	// Timeout bounds one execution. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxOutputLength is the truncation limit for result values. Zero
	// means DefaultMaxOutputLength; negative disables truncation.
	MaxOutputLength int

	// Spill receives the full text of truncated values. May be nil.
	Spill *spill.Store

	Clock   clock.Clock
	Metrics *metrics.Metrics

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Result is the outcome of one execution.
type Result struct {
	// Outputs are truncated per the engine's limit.
	Outputs        []notebook.Output `json:"outputs"`
	ExecutionCount *int              `json:"execution_count"`
	Status         string            `json:"status"`
	Truncated      bool              `json:"truncated"`
	OriginalSize   int               `json:"original_size"`
	Spilled        []TruncatedField  `json:"spilled,omitempty"`
}

// Engine runs code against kernels.
type Engine struct {
	timeout   time.Duration
	maxLength int
	spill     *spill.Store
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(config Config) *Engine {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxLength := config.MaxOutputLength
	if maxLength == 0 {
		maxLength = DefaultMaxOutputLength
	}
	engineClock := config.Clock
	if engineClock == nil {
		engineClock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		timeout:   timeout,
		maxLength: maxLength,
		spill:     config.Spill,
		clock:     engineClock,
		metrics:   config.Metrics,
		logger:    logger,
	}
}

// MaxOutputLength returns the truncation limit, or a negative value
// when truncation is disabled.
func (e *Engine) MaxOutputLength() int { return e.maxLength }

// Run executes code on kernel, streaming outputs into target. A
// non-nil error means the engine itself failed (connection loss,
// timeout, cancellation); the Result is still populated and the target
// holds one synthesized error output describing the failure.
func (e *Engine) Run(ctx context.Context, kernel Kernel, target Target, code string) (Result, error) {
	started := e.clock.Now()
	collector := newCollector(target, e.logger)
	collector.begin()
	defer func() {
		// A panic must not leave the target running.
		if recovered := recover(); recovered != nil {
			collector.append(notebook.Output{
				OutputType: notebook.OutputError,
				EName:      "InternalError",
				EValue:     fmt.Sprint(recovered),
				Traceback:  []string{},
			})
			collector.finish()
			e.metrics.Execution(StatusFailed, e.clock.Now().Sub(started), false)
			panic(recovered)
		}
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := e.clock.AfterFunc(e.timeout, func() { cancel(ErrTimeout) })
	reply, err := kernel.Execute(runCtx, code, collector.handle)
	timer.Stop()

	status := StatusOK
	var runErr error
	switch {
	case err != nil:
		status = StatusFailed
		runErr = fmt.Errorf("execute: %w", err)
		name := "ExecutionError"
		if errors.Is(context.Cause(runCtx), ErrTimeout) {
			status = StatusTimeout
			runErr = fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
			name = "ExecutionTimeout"
		}
		if runCtx.Err() != nil {
			// The kernel may still be running the code.
			if interruptErr := kernel.Interrupt(context.WithoutCancel(ctx)); interruptErr != nil {
				e.logger.Warn("interrupting kernel after abandoned execution", "error", interruptErr)
			}
		}
		collector.append(notebook.Output{
			OutputType: notebook.OutputError,
			EName:      name,
			EValue:     runErr.Error(),
			Traceback:  []string{},
		})
	case reply.Status == "error":
		status = StatusError
		if !collector.sawError {
			collector.append(notebook.Output{
				OutputType: notebook.OutputError,
				EName:      reply.EName,
				EValue:     reply.EValue,
				Traceback:  reply.Traceback,
			})
		}
	case reply.Status == "aborted":
		status = StatusAborted
	}
	if err == nil && reply.ExecutionCount > 0 && collector.executionCount == nil {
		collector.setExecutionCount(reply.ExecutionCount)
	}
	collector.finish()

	truncation := Truncate(collector.outputs, e.maxLength)
	if spillErr := truncation.Spill(e.spill); spillErr != nil {
		e.logger.Warn("spilling truncated output", "error", spillErr)
	}
	result := Result{
		Outputs:        truncation.Outputs,
		ExecutionCount: collector.executionCount,
		Status:         status,
		Truncated:      truncation.Truncated,
		OriginalSize:   truncation.OriginalSize,
		Spilled:        truncation.Fields,
	}

	duration := e.clock.Now().Sub(started)
	e.metrics.Execution(status, duration, truncation.Truncated)
	e.logger.Debug("execution finished",
		"status", status,
		"outputs", len(result.Outputs),
		"truncated", result.Truncated,
		"duration", duration,
	)
	return result, runErr
}

// collector mirrors the outputs given to a target. Its handle method
// runs on the kernel connection's read goroutine; everything else runs
// before Execute is called or after it returns, so no locking is
// needed.
type collector struct {
	target  Target
	logger  *slog.Logger
	outputs []notebook.Output

	executionCount *int
	sawError       bool

	// clearPending defers a clear_output(wait=true) until the next
	// output arrives.
	clearPending bool

	// displays maps a display_id to the indexes of outputs showing it.
	displays map[string][]int
}

func newCollector(target Target, logger *slog.Logger) *collector {
	return &collector{target: target, logger: logger, displays: make(map[string][]int)}
}

func (c *collector) check(operation string, err error) {
	if err != nil {
		c.logger.Warn("updating execution target", "operation", operation, "error", err)
	}
}

func (c *collector) begin() {
	c.check("begin", c.target.Begin())
}

func (c *collector) finish() {
	c.check("finish", c.target.Finish())
}

func (c *collector) clear() {
	c.outputs = nil
	c.displays = make(map[string][]int)
	c.clearPending = false
	c.check("clear", c.target.Clear())
}

func (c *collector) append(output notebook.Output) {
	if c.clearPending {
		c.clear()
	}
	c.outputs = append(c.outputs, output)
	c.check("append", c.target.Append(output))
}

func (c *collector) replace(index int, output notebook.Output) {
	c.outputs[index] = output
	c.check("replace", c.target.Replace(index, output))
}

func (c *collector) setExecutionCount(count int) {
	c.executionCount = &count
	c.check("execution count", c.target.SetExecutionCount(count))
}

func (c *collector) handle(message jupyter.Message) {
	switch message.Type() {
	case jupyter.MsgExecuteInput:
		var content jupyter.ExecuteInput
		if c.decode(message, &content) {
			c.setExecutionCount(content.ExecutionCount)
		}

	case jupyter.MsgStream:
		var content jupyter.Stream
		if c.decode(message, &content) {
			c.stream(content)
		}

	case jupyter.MsgExecuteResult, jupyter.MsgDisplayData:
		var content jupyter.DisplayData
		if !c.decode(message, &content) {
			return
		}
		output := notebook.Output{
			OutputType: notebook.OutputDisplayData,
			Data:       content.Data,
			Metadata:   content.Metadata,
		}
		if message.Type() == jupyter.MsgExecuteResult {
			output.OutputType = notebook.OutputExecuteResult
			output.ExecutionCount = content.ExecutionCount
		}
		if output.Metadata == nil {
			output.Metadata = map[string]any{}
		}
		c.append(output)
		if displayID := transientDisplayID(content.Transient); displayID != "" {
			c.displays[displayID] = append(c.displays[displayID], len(c.outputs)-1)
		}

	case jupyter.MsgUpdateDisplay:
		var content jupyter.DisplayData
		if !c.decode(message, &content) {
			return
		}
		for _, index := range c.displays[transientDisplayID(content.Transient)] {
			output := c.outputs[index].Clone()
			output.Data = content.Data
			if content.Metadata != nil {
				output.Metadata = content.Metadata
			}
			c.replace(index, output)
		}

	case jupyter.MsgError:
		var content jupyter.ErrorContent
		if !c.decode(message, &content) {
			return
		}
		c.sawError = true
		traceback := content.Traceback
		if traceback == nil {
			traceback = []string{}
		}
		c.append(notebook.Output{
			OutputType: notebook.OutputError,
			EName:      content.EName,
			EValue:     content.EValue,
			Traceback:  traceback,
		})

	case jupyter.MsgClearOutput:
		var content jupyter.ClearOutput
		if !c.decode(message, &content) {
			return
		}
		if content.Wait {
			c.clearPending = true
			return
		}
		c.clear()

	case jupyter.MsgStatus:
	}
}

// stream appends text to the previous output when it is a stream of
// the same name, and starts a new stream output otherwise.
func (c *collector) stream(content jupyter.Stream) {
	if !c.clearPending && len(c.outputs) > 0 {
		last := len(c.outputs) - 1
		previous := c.outputs[last]
		if previous.OutputType == notebook.OutputStream && previous.Name == content.Name {
			previous.Text += content.Text
			c.replace(last, previous)
			return
		}
	}
	c.append(notebook.Output{
		OutputType: notebook.OutputStream,
		Name:       content.Name,
		Text:       content.Text,
	})
}

func (c *collector) decode(message jupyter.Message, v any) bool {
	if err := message.Decode(v); err != nil {
		c.logger.Warn("dropping malformed kernel message", "msg_type", message.Type(), "error", err)
		return false
	}
	return true
}

func transientDisplayID(transient map[string]any) string {
	displayID, _ := transient["display_id"].(string)
	return displayID
}
