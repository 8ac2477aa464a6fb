// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package dgc implements helpers for device generated
// commands on top of the driver package.
//
// A LayoutBuilder describes the format of the records
// in an indirect stream and builds a driver.CmdLayout.
// An ExecSetManager owns an indirect execution set and
// batches its updates. A PreprocessBuffer holds device
// memory sized by the device for preprocessing. A
// GenCmdsInfo bundles the arguments of preprocessing
// and execution.
//
// The usual sequence is: build the layout, allocate the
// preprocess buffer, fill the indirect stream (see
// Stream), optionally preprocess, then execute with
// the matching preprocessed flag.
package dgc

import (
	"github.com/pkg/errors"
)

// StrideAlign is the alignment of stream strides and
// token offsets, in bytes.
const StrideAlign = 4

// Command layout errors.
var (
	ErrNoTokens         = errors.New("dgc: command layout has no tokens")
	ErrWorkToken        = errors.New("dgc: command layout must end with exactly one work token")
	ErrNoPipelineLayout = errors.New("dgc: push constant token requires a pipeline layout")
	ErrPushRange        = errors.New("dgc: push constant range not declared in pipeline layout")
	ErrOverlap          = errors.New("dgc: overlapping token arguments")
	ErrStride           = errors.New("dgc: invalid stream stride")
	ErrAlign            = errors.New("dgc: misaligned token offset")
)

// Execution set errors.
var (
	ErrSetKind       = errors.New("dgc: wrong execution set kind")
	ErrIndexConflict = errors.New("dgc: conflicting execution set write")
	ErrIndexRange    = errors.New("dgc: execution set index out of range")
	ErrPendingWrites = errors.New("dgc: execution set has pending writes")
	ErrShaderLayout  = errors.New("dgc: shader layouts must be given for all shaders or none")
)

// ErrBindState means that not exactly one of execution
// set, pipeline and shaders was given.
var ErrBindState = errors.New("dgc: exactly one of execution set, pipeline and shaders must be set")

// ErrNotSupported means that the device lacks a
// capability that the caller requires.
var ErrNotSupported = errors.New("dgc: not supported")

// ErrProps means that a device property is below its
// required minimum.
var ErrProps = errors.New("dgc: property below required minimum")

func roundUp[T ~int64 | ~uint32](n, a T) T { return (n + a - 1) / a * a }
