// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package launcher

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnsupported is returned by Start on platforms without process groups.
var ErrUnsupported = errors.New("launcher: not supported on this platform")

// Process is unavailable on this platform.
type Process struct{}

func Start(context.Context, []string, *slog.Logger) (*Process, error) { return nil, ErrUnsupported }

func (p *Process) PID() int32 { return 0 }
func (p *Process) Done() <-chan struct{} { return nil }
func (p *Process) Wait() (int, error) { return -1, ErrUnsupported }
func (p *Process) Kill() error { return ErrUnsupported }
