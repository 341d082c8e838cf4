// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the injectable source of time. Structs that schedule work
// hold a Clock field instead of calling the time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A
	// non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels
	// the call if it has not happened yet.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a handle to a callback scheduled with AfterFunc.
type Timer struct {
	stop func() bool
}

// Stop cancels the callback. It reports true if the call was prevented
// and false if the callback already ran or the timer was already
// stopped. A nil Timer is treated as already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}
