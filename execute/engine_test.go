// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package execute

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/lib/clock"
	"github.com/bureau-foundation/scribe/lib/spill"
	"github.com/bureau-foundation/scribe/lib/testutil"
	"github.com/bureau-foundation/scribe/notebook"
)

func message(t *testing.T, msgType string, content any) jupyter.Message {
	t.Helper()
	raw, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal %s: %v", msgType, err)
	}
	return jupyter.Message{
		Channel: "iopub",
		Header:  jupyter.Header{MsgType: msgType},
		Content: raw,
	}
}

// scriptedKernel replays fixed iopub messages and then replies. With
// block set it waits for cancellation instead.
type scriptedKernel struct {
	messages    []jupyter.Message
	reply       jupyter.ExecuteReply
	err         error
	block       bool
	code        string
	interrupted atomic.Bool
}

func (k *scriptedKernel) Execute(ctx context.Context, code string, handle func(jupyter.Message)) (jupyter.ExecuteReply, error) {
	k.code = code
	for _, message := range k.messages {
		handle(message)
	}
	if k.block {
		<-ctx.Done()
		return jupyter.ExecuteReply{}, ctx.Err()
	}
	return k.reply, k.err
}

func (k *scriptedKernel) Interrupt(ctx context.Context) error {
	k.interrupted.Store(true)
	return nil
}

// recordingTarget keeps what an engine writes, like a cell would.
type recordingTarget struct {
	began, finished int
	outputs         []notebook.Output
	count           *int
	calls           []string
}

func (r *recordingTarget) Begin() error {
	r.began++
	r.outputs = nil
	r.count = nil
	r.calls = append(r.calls, "begin")
	return nil
}

func (r *recordingTarget) Append(output notebook.Output) error {
	r.outputs = append(r.outputs, output)
	r.calls = append(r.calls, "append")
	return nil
}

func (r *recordingTarget) Replace(index int, output notebook.Output) error {
	r.outputs[index] = output
	r.calls = append(r.calls, "replace")
	return nil
}

func (r *recordingTarget) Clear() error {
	r.outputs = nil
	r.calls = append(r.calls, "clear")
	return nil
}

func (r *recordingTarget) SetExecutionCount(count int) error {
	r.count = &count
	r.calls = append(r.calls, "count")
	return nil
}

func (r *recordingTarget) Finish() error {
	r.finished++
	r.calls = append(r.calls, "finish")
	return nil
}

func newTestEngine(t *testing.T, modify func(*Config)) (*Engine, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	config := Config{Timeout: time.Minute, MaxOutputLength: 100, Clock: fake}
	if modify != nil {
		modify(&config)
	}
	return NewEngine(config), fake
}

func TestRunPrintOne(t *testing.T) {
	engine, fake := newTestEngine(t, nil)
	kernel := &scriptedKernel{
		messages: []jupyter.Message{
			message(t, jupyter.MsgStatus, jupyter.Status{ExecutionState: "busy"}),
			message(t, jupyter.MsgExecuteInput, jupyter.ExecuteInput{Code: "print(1)", ExecutionCount: 1}),
			message(t, jupyter.MsgStream, jupyter.Stream{Name: "stdout", Text: "1\n"}),
			message(t, jupyter.MsgStatus, jupyter.Status{ExecutionState: "idle"}),
		},
		reply: jupyter.ExecuteReply{Status: "ok", ExecutionCount: 1},
	}
	target := &recordingTarget{}

	result, err := engine.Run(context.Background(), kernel, target, "print(1)")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if kernel.code != "print(1)" {
		t.Fatalf("kernel received %q", kernel.code)
	}
	if result.Status != StatusOK || result.Truncated {
		t.Fatalf("result = %+v", result)
	}
	if result.ExecutionCount == nil || *result.ExecutionCount != 1 {
		t.Fatalf("execution count = %v, want 1", result.ExecutionCount)
	}
	if len(result.Outputs) != 1 {
		t.Fatalf("outputs = %+v, want one stream", result.Outputs)
	}
	output := result.Outputs[0]
	if output.OutputType != notebook.OutputStream || output.Name != "stdout" || output.Text != "1\n" {
		t.Fatalf("output = %+v", output)
	}
	if result.OriginalSize != 2 {
		t.Fatalf("original size = %d, want 2", result.OriginalSize)
	}

	if target.began != 1 || target.finished != 1 {
		t.Fatalf("target begin/finish = %d/%d, want 1/1", target.began, target.finished)
	}
	if len(target.outputs) != 1 || target.outputs[0].Text != "1\n" || target.count == nil || *target.count != 1 {
		t.Fatalf("target = %+v", target)
	}
	if fake.PendingCount() != 0 {
		t.Fatalf("pending timers = %d, want 0", fake.PendingCount())
	}
}

func TestRunKernelExceptionIsAnOutput(t *testing.T) {
	traceback := []string{"Traceback (most recent call last)", "ZeroDivisionError: division by zero"}
	engine, _ := newTestEngine(t, nil)
	kernel := &scriptedKernel{
		messages: []jupyter.Message{
			message(t, jupyter.MsgExecuteInput, jupyter.ExecuteInput{ExecutionCount: 4}),
			message(t, jupyter.MsgError, jupyter.ErrorContent{EName: "ZeroDivisionError", EValue: "division by zero", Traceback: traceback}),
		},
		reply: jupyter.ExecuteReply{Status: "error", ExecutionCount: 4, EName: "ZeroDivisionError", EValue: "division by zero", Traceback: traceback},
	}
	target := &recordingTarget{}

	result, err := engine.Run(context.Background(), kernel, target, "1/0")
	if err != nil {
		t.Fatalf("Run returned an engine error for a kernel exception: %v", err)
	}
	if result.Status != StatusError {
		t.Fatalf("status = %q, want error", result.Status)
	}
	if len(result.Outputs) != 1 {
		t.Fatalf("outputs = %d, want exactly one error output", len(result.Outputs))
	}
	output := result.Outputs[0]
	if output.OutputType != notebook.OutputError || output.EName != "ZeroDivisionError" || len(output.Traceback) != 2 {
		t.Fatalf("output = %+v", output)
	}
	if target.finished != 1 {
		t.Fatal("target not finished")
	}
}

func TestRunErrorReplyWithoutIOPubError(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	kernel := &scriptedKernel{
		reply: jupyter.ExecuteReply{Status: "error", ExecutionCount: 2, EName: "NameError", EValue: "name 'x' is not defined"},
	}

	result, err := engine.Run(context.Background(), kernel, &recordingTarget{}, "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Outputs) != 1 || result.Outputs[0].EName != "NameError" {
		t.Fatalf("outputs = %+v, want one NameError", result.Outputs)
	}
	if result.ExecutionCount == nil || *result.ExecutionCount != 2 {
		t.Fatalf("execution count = %v, want 2 from the reply", result.ExecutionCount)
	}
}

func TestRunCoalescesStreams(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	kernel := &scriptedKernel{
		messages: []jupyter.Message{
			message(t, jupyter.MsgStream, jupyter.Stream{Name: "stdout", Text: "a"}),
			message(t, jupyter.MsgStream, jupyter.Stream{Name: "stdout", Text: "b\n"}),
			message(t, jupyter.MsgStream, jupyter.Stream{Name: "stderr", Text: "warn\n"}),
			message(t, jupyter.MsgStream, jupyter.Stream{Name: "stdout", Text: "c\n"}),
		},
		reply: jupyter.ExecuteReply{Status: "ok", ExecutionCount: 1},
	}
	target := &recordingTarget{}

	result, err := engine.Run(context.Background(), kernel, target, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []struct{ name, text string }{{"stdout", "ab\n"}, {"stderr", "warn\n"}, {"stdout", "c\n"}}
	if len(result.Outputs) != len(want) {
		t.Fatalf("outputs = %+v", result.Outputs)
	}
	for index, expected := range want {
		got := result.Outputs[index]
		if got.Name != expected.name || got.Text != expected.text {
			t.Errorf("output %d = %s %q, want %s %q", index, got.Name, got.Text, expected.name, expected.text)
		}
	}
	// One target call per message: the second stdout chunk replaces.
	wantCalls := []string{"begin", "append", "replace", "append", "append", "count", "finish"}
	if strings.Join(target.calls, ",") != strings.Join(wantCalls, ",") {
		t.Fatalf("calls = %v, want %v", target.calls, wantCalls)
	}
}

func TestRunDisplayUpdatesAndClear(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	count := 7
	kernel := &scriptedKernel{
		messages: []jupyter.Message{
			message(t, jupyter.MsgStream, jupyter.Stream{Name: "stdout", Text: "before\n"}),
			message(t, jupyter.MsgClearOutput, jupyter.ClearOutput{Wait: true}),
			message(t, jupyter.MsgDisplayData, jupyter.DisplayData{
				Data:      map[string]any{"text/plain": "0%"},
				Transient: map[string]any{"display_id": "progress"},
			}),
			message(t, jupyter.MsgUpdateDisplay, jupyter.DisplayData{
				Data:      map[string]any{"text/plain": "100%"},
				Transient: map[string]any{"display_id": "progress"},
			}),
			message(t, jupyter.MsgExecuteResult, jupyter.DisplayData{
				Data:           map[string]any{"text/plain": "42"},
				ExecutionCount: &count,
			}),
		},
		reply: jupyter.ExecuteReply{Status: "ok", ExecutionCount: 7},
	}
	target := &recordingTarget{}

	result, err := engine.Run(context.Background(), kernel, target, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Outputs) != 2 {
		t.Fatalf("outputs = %+v, want display and result", result.Outputs)
	}
	if result.Outputs[0].Data["text/plain"] != "100%" {
		t.Fatalf("display = %v, want updated value", result.Outputs[0].Data)
	}
	last := result.Outputs[1]
	if last.OutputType != notebook.OutputExecuteResult || last.ExecutionCount == nil || *last.ExecutionCount != 7 {
		t.Fatalf("result output = %+v", last)
	}
	if len(target.outputs) != 2 {
		t.Fatalf("target outputs = %+v", target.outputs)
	}
}

func TestRunTimeoutInterruptsKernel(t *testing.T) {
	engine, fake := newTestEngine(t, nil)
	kernel := &scriptedKernel{
		messages: []jupyter.Message{
			message(t, jupyter.MsgStream, jupyter.Stream{Name: "stdout", Text: "working\n"}),
		},
		block: true,
	}
	target := &recordingTarget{}

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := engine.Run(context.Background(), kernel, target, "while True: pass")
		done <- outcome{result, err}
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)
	got := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Run")

	if !errors.Is(got.err, ErrTimeout) {
		t.Fatalf("Run error = %v, want ErrTimeout", got.err)
	}
	if !kernel.interrupted.Load() {
		t.Fatal("kernel was not interrupted")
	}
	if got.result.Status != StatusTimeout {
		t.Fatalf("status = %q, want timeout", got.result.Status)
	}
	errorsSeen := 0
	for _, output := range got.result.Outputs {
		if output.OutputType == notebook.OutputError {
			errorsSeen++
			if output.EName != "ExecutionTimeout" {
				t.Fatalf("synthesized ename = %q", output.EName)
			}
		}
	}
	if errorsSeen != 1 {
		t.Fatalf("error outputs = %d, want 1", errorsSeen)
	}
	if target.finished != 1 {
		t.Fatal("target not finished after timeout")
	}
}

func TestRunConnectionLoss(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	kernel := &scriptedKernel{err: jupyter.ErrChannelClosed}
	target := &recordingTarget{}

	result, err := engine.Run(context.Background(), kernel, target, "x")
	if !errors.Is(err, jupyter.ErrChannelClosed) {
		t.Fatalf("Run error = %v, want ErrChannelClosed", err)
	}
	if kernel.interrupted.Load() {
		t.Fatal("kernel interrupted after a connection loss")
	}
	if result.Status != StatusFailed || len(result.Outputs) != 1 || result.Outputs[0].EName != "ExecutionError" {
		t.Fatalf("result = %+v", result)
	}
	if len(target.outputs) != 1 || target.finished != 1 {
		t.Fatalf("target = %+v", target)
	}
}

func TestRunTruncatesAndSpills(t *testing.T) {
	store, err := spill.Open(t.TempDir())
	if err != nil {
		t.Fatalf("spill.Open: %v", err)
	}
	defer store.Close()
	engine, _ := newTestEngine(t, func(c *Config) {
		c.MaxOutputLength = 10
		c.Spill = store
	})
	long := strings.Repeat("x", 25)
	kernel := &scriptedKernel{
		messages: []jupyter.Message{message(t, jupyter.MsgStream, jupyter.Stream{Name: "stdout", Text: long})},
		reply:    jupyter.ExecuteReply{Status: "ok", ExecutionCount: 1},
	}
	target := &recordingTarget{}

	result, err := engine.Run(context.Background(), kernel, target, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Truncated || result.OriginalSize != 25 {
		t.Fatalf("truncated=%v original=%d, want true/25", result.Truncated, result.OriginalSize)
	}
	if want := strings.Repeat("x", 10) + TruncationMarker; result.Outputs[0].Text != want {
		t.Fatalf("text = %q, want %q", result.Outputs[0].Text, want)
	}
	if target.outputs[0].Text != long {
		t.Fatal("the target received truncated text")
	}
	if len(result.Spilled) != 1 || result.Spilled[0].Field != "outputs[0].text" {
		t.Fatalf("spilled = %+v", result.Spilled)
	}
	full, err := store.Get(result.Spilled[0].Ref)
	if err != nil || string(full) != long {
		t.Fatalf("spilled value = %q, %v", full, err)
	}
}

func TestDiscardTarget(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	kernel := &scriptedKernel{
		messages: []jupyter.Message{message(t, jupyter.MsgStream, jupyter.Stream{Name: "stdout", Text: "ok\n"})},
		reply:    jupyter.ExecuteReply{Status: "ok", ExecutionCount: 9},
	}
	result, err := engine.Run(context.Background(), kernel, Discard{}, "print('ok')")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Outputs) != 1 || result.Outputs[0].Text != "ok\n" {
		t.Fatalf("outputs = %+v", result.Outputs)
	}
}

// panickingKernel emits one stream output and then panics.
type panickingKernel struct {
	scriptedKernel
}

func (k *panickingKernel) Execute(ctx context.Context, code string, handle func(jupyter.Message)) (jupyter.ExecuteReply, error) {
	for _, message := range k.messages {
		handle(message)
	}
	panic("kernel connection state corrupted")
}

func TestRunFinishesTargetOnPanic(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	kernel := &panickingKernel{scriptedKernel{messages: []jupyter.Message{
		message(t, jupyter.MsgStream, jupyter.Stream{Name: "stdout", Text: "partial\n"}),
	}}}
	target := &recordingTarget{}

	func() {
		defer func() {
			if recovered := recover(); recovered == nil {
				t.Fatal("Run swallowed the panic")
			}
		}()
		engine.Run(context.Background(), kernel, target, "x")
	}()

	if target.began != 1 || target.finished != 1 {
		t.Fatalf("began=%d finished=%d, want 1 and 1", target.began, target.finished)
	}
	if last := target.calls[len(target.calls)-1]; last != "finish" {
		t.Fatalf("last target call = %q, want finish", last)
	}
	if len(target.outputs) != 2 {
		t.Fatalf("outputs = %+v, want the stream and a synthesized error", target.outputs)
	}
	failure := target.outputs[1]
	if failure.OutputType != notebook.OutputError || failure.EName != "InternalError" ||
		!strings.Contains(failure.EValue, "corrupted") {
		t.Fatalf("synthesized output = %+v", failure)
	}
}
