// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package gatekeeper

// UnixKernel returns a Kernel whose every operation fails with
// ErrUnsupported.
func UnixKernel() Kernel { return unsupportedKernel{} }

type unsupportedKernel struct{}

func (unsupportedKernel) Init(Class) (int, error) { return -1, ErrUnsupported }
func (unsupportedKernel) Mark(int, Mask, string) error { return ErrUnsupported }
func (unsupportedKernel) Read(int, []byte) (int, error) { return 0, ErrUnsupported }
func (unsupportedKernel) Write(int, []byte) (int, error) { return 0, ErrUnsupported }
func (unsupportedKernel) Close(int) error { return ErrUnsupported }
func (unsupportedKernel) ResolvePath(int32) (string, error) { return "", ErrUnsupported }
