// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Real returns the system clock.
func Real() Clock { return systemClock{} }

// OrReal returns c, or the system clock when c is nil. Config structs
// leave Clock unset in production.
func OrReal(c Clock) Clock {
	if c == nil {
		return systemClock{}
	}
	return c
}

// Since returns the time elapsed on c since t.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
