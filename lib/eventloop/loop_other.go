// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package eventloop

import (
	"context"
	"log/slog"
)

// Loop is unavailable on this platform; New always fails.
type Loop struct{}

func New(*slog.Logger) (*Loop, error) { return nil, ErrUnsupported }

func (l *Loop) RegisterReadSource(int, func() error) error { return ErrUnsupported }
func (l *Loop) UnregisterReadSource(int) error { return ErrUnsupported }
func (l *Loop) Len() int { return 0 }
func (l *Loop) Run(context.Context) error { return ErrUnsupported }
func (l *Loop) Close() error { return nil }
