// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backoff

import (
	"testing"
	"time"
)

func TestDelaySequence(t *testing.T) {
	policy := Policy{Base: time.Second, Max: 10 * time.Second, MaxAttempts: 8}
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for index, expected := range want {
		if got := policy.Delay(index + 1); got != expected {
			t.Errorf("Delay(%d) = %s, want %s", index+1, got, expected)
		}
	}
}

func TestDelayNonDecreasingAndCapped(t *testing.T) {
	policies := []Policy{
		DefaultPolicy(),
		{Base: 250 * time.Millisecond, Max: 7 * time.Second, MaxAttempts: 50},
		{Base: time.Second, Max: time.Second, MaxAttempts: 3},
	}
	for _, policy := range policies {
		previous := time.Duration(0)
		for attempt := 1; attempt <= 200; attempt++ {
			delay := policy.Delay(attempt)
			if delay < previous {
				t.Fatalf("%+v: Delay(%d) = %s decreased from %s", policy, attempt, delay, previous)
			}
			if delay > policy.Max {
				t.Fatalf("%+v: Delay(%d) = %s exceeds cap", policy, attempt, delay)
			}
			previous = delay
		}
	}
}

func TestDelayBelowFirstAttempt(t *testing.T) {
	policy := DefaultPolicy()
	if got := policy.Delay(0); got != policy.Base {
		t.Fatalf("Delay(0) = %s, want base %s", got, policy.Base)
	}
}

func TestControllerBudget(t *testing.T) {
	controller := NewController(Policy{Base: time.Second, Max: 4 * time.Second, MaxAttempts: 3})

	for attempt := 1; attempt <= 3; attempt++ {
		delay, ok := controller.Next()
		if !ok {
			t.Fatalf("attempt %d refused", attempt)
		}
		if want := controller.Policy().Delay(attempt); delay != want {
			t.Fatalf("attempt %d delay = %s, want %s", attempt, delay, want)
		}
	}
	if !controller.Exhausted() {
		t.Fatal("controller should be exhausted after 3 attempts")
	}
	if _, ok := controller.Next(); ok {
		t.Fatal("fourth attempt should be refused")
	}
	if controller.Attempts() != 3 {
		t.Fatalf("Attempts = %d, want 3", controller.Attempts())
	}
}

func TestControllerReset(t *testing.T) {
	controller := NewController(DefaultPolicy())
	controller.Next()
	controller.Next()
	controller.Reset()
	if controller.Attempts() != 0 {
		t.Fatalf("Attempts after Reset = %d, want 0", controller.Attempts())
	}
	delay, ok := controller.Next()
	if !ok || delay != DefaultBase {
		t.Fatalf("first attempt after Reset = (%s, %v), want (%s, true)", delay, ok, DefaultBase)
	}
}

func TestControllerZeroBudget(t *testing.T) {
	controller := NewController(Policy{Base: time.Second, Max: time.Second})
	if _, ok := controller.Next(); ok {
		t.Fatal("zero MaxAttempts should refuse the first attempt")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"zero base", Policy{Max: time.Second}, true},
		{"max below base", Policy{Base: 2 * time.Second, Max: time.Second}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.policy.Validate()
			if (err != nil) != test.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, test.wantErr)
			}
		})
	}
}
