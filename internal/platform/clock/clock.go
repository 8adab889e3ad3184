// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// Package clock provides a minimal time source abstraction.
//
// # Why not time.Now directly?
//
// The session lifecycle manager and the migration retention sweep make
// decisions based on elapsed time (refresh thresholds, retry backoff,
// retention windows). Injecting the time source lets unit tests drive those
// decisions deterministically without real timers.
package clock

import "time"

// Clock is the time source injected into time-sensitive components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// System is the production clock backed by [time.Now].
type System struct{}

// Now implements [Clock].
func (System) Now() time.Time { return time.Now() }

// Fake is a manually-advanced clock for tests.
//
// # Concurrency
//
// Fake is not safe for concurrent mutation; tests advance it from a single
// goroutine between assertions.
type Fake struct {
	Current time.Time
}

// NewFake returns a fake clock pinned to the given instant.
func NewFake(at time.Time) *Fake {
	return &Fake{Current: at}
}

// Now implements [Clock].
func (f *Fake) Now() time.Time { return f.Current }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
