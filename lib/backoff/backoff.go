// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backoff computes reconnect delays for scribe's collaboration
// sessions: exponential growth from a base delay, capped at a maximum,
// with a bounded number of attempts.
//
// [Policy] is a pure description. [Controller] carries the attempt
// counter for one connection; it is not safe for concurrent use and is
// owned by whatever already serializes the connection's state.
package backoff

import (
	"fmt"
	"time"
)

// Default policy values. One second doubling to thirty seconds matches
// the homeserver sync loop; ten attempts gives up after roughly three
// minutes of continuous failure.
const (
	DefaultBase        = time.Second
	DefaultMax         = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps every delay.
	Max time.Duration

	// MaxAttempts bounds the number of retries. Zero or negative means
	// no retries at all.
	MaxAttempts int
}

// DefaultPolicy returns the schedule used when configuration leaves
// backoff unset.
func DefaultPolicy() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax, MaxAttempts: DefaultMaxAttempts}
}

// Validate rejects schedules that cannot produce sensible delays.
func (p Policy) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("backoff: base delay must be positive, got %s", p.Base)
	}
	if p.Max < p.Base {
		return fmt.Errorf("backoff: max delay %s is below base delay %s", p.Max, p.Base)
	}
	return nil
}

// Delay returns the wait before the given 1-based attempt:
// Base * 2^(attempt-1), capped at Max. Attempts below 1 are treated as
// the first attempt. The doubling stops as soon as the cap is reached,
// so large attempt numbers cannot overflow.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.Base
	for step := 1; step < attempt; step++ {
		if delay >= p.Max/2 {
			return p.Max
		}
		delay *= 2
	}
	if delay > p.Max {
		return p.Max
	}
	return delay
}

// Controller tracks consecutive failed attempts against a Policy.
type Controller struct {
	policy   Policy
	attempts int
}

// NewController returns a Controller with zero attempts recorded.
func NewController(policy Policy) *Controller {
	return &Controller{policy: policy}
}

// Next records one more attempt and returns the delay to wait before
// making it. ok is false once the attempt budget is spent; the counter
// is left at the exhausted value until Reset.
func (c *Controller) Next() (delay time.Duration, ok bool) {
	if c.attempts >= c.policy.MaxAttempts {
		return 0, false
	}
	c.attempts++
	return c.policy.Delay(c.attempts), true
}

// Reset clears the attempt counter. Call it on every successful
// connection.
func (c *Controller) Reset() { c.attempts = 0 }

// Attempts returns the number of attempts recorded since the last
// Reset.
func (c *Controller) Attempts() int { return c.attempts }

// Exhausted reports whether Next would refuse another attempt.
func (c *Controller) Exhausted() bool { return c.attempts >= c.policy.MaxAttempts }

// Policy returns the schedule the controller follows.
func (c *Controller) Policy() Policy { return c.policy }
