// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// Support describes the device generated commands
// capabilities that a caller requires.
type Support struct {
	// Stages usable in command layouts.
	Stages driver.Stage
	// Stages bound through ESPipelines sets.
	BindStagesPipeline driver.Stage
	// Stages bound through ESShaders sets.
	BindStagesShader driver.Stage
	InputModes       driver.InputMode
	DrawCount        bool
}

// AsDGC returns gpu as a driver.DGCGPU if it supports
// device generated commands.
func AsDGC(gpu driver.GPU) (driver.DGCGPU, error) {
	d, ok := gpu.(driver.DGCGPU)
	if !ok || !gpu.Features().DGC {
		return nil, errors.Wrap(ErrNotSupported, "device generated commands")
	}
	return d, nil
}

// CheckSupport checks whether gpu provides s.
// It should be called before any other function of this
// package.
func CheckSupport(gpu driver.GPU, s Support) error {
	d, err := AsDGC(gpu)
	if err != nil {
		return err
	}
	p := d.DGCProps()
	switch {
	case p.Stages&s.Stages != s.Stages:
		return errors.Wrapf(ErrNotSupported, "stages %#x", s.Stages&^p.Stages)
	case p.StagesPipelineBinding&s.BindStagesPipeline != s.BindStagesPipeline:
		return errors.Wrapf(ErrNotSupported, "pipeline binding of stages %#x", s.BindStagesPipeline&^p.StagesPipelineBinding)
	case p.StagesShaderBinding&s.BindStagesShader != s.BindStagesShader:
		return errors.Wrapf(ErrNotSupported, "shader binding of stages %#x", s.BindStagesShader&^p.StagesShaderBinding)
	case p.InputModes&s.InputModes != s.InputModes:
		return errors.Wrapf(ErrNotSupported, "input modes %#x", s.InputModes&^p.InputModes)
	case s.DrawCount && !p.DrawCount:
		return errors.Wrap(ErrNotSupported, "draw count tokens")
	case s.BindStagesShader != 0 && (!gpu.Features().ShaderObject || p.MaxShaderObjectCount == 0):
		return errors.Wrap(ErrNotSupported, "shader objects")
	}
	return nil
}

// Binding is the kind of execution set that compute
// generated commands use, if any.
type Binding int

// Bindings.
const (
	NoBinding Binding = iota
	BindPipeline
	BindShader
)

// CheckComputeSupport checks whether gpu supports compute
// generated commands with the given binding.
func CheckComputeSupport(gpu driver.GPU, b Binding) error {
	s := Support{Stages: driver.SCompute}
	switch b {
	case BindPipeline:
		s.BindStagesPipeline = driver.SCompute
	case BindShader:
		s.BindStagesShader = driver.SCompute
	}
	return CheckSupport(gpu, s)
}

// Minimum property values.
const (
	MinSeqCount        = 1 << 20
	MinTokenCount      = 16
	MinTokenOffset     = 2047
	MinStride          = 2048
	MinPipelineCount   = 1 << 12
	MinShaderObjCount  = 1 << 12
	RequiredStages     = driver.SCompute | driver.SVertex | driver.SFragment
	RequiredInputModes = driver.IModeVulkan
)

// CheckProps checks p against the minimum property
// values. It returns one error per violation.
func CheckProps(p driver.DGCProps) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, errors.Wrapf(ErrProps, format, args...))
	}
	if p.MaxSeqCount < MinSeqCount {
		fail("max sequence count %d", p.MaxSeqCount)
	}
	if p.MaxTokenCount < MinTokenCount {
		fail("max token count %d", p.MaxTokenCount)
	}
	if p.MaxTokenOffset < MinTokenOffset {
		fail("max token offset %d", p.MaxTokenOffset)
	}
	if p.MaxStride < MinStride {
		fail("max stride %d", p.MaxStride)
	}
	if p.MaxPipelineCount < MinPipelineCount {
		fail("max pipeline count %d", p.MaxPipelineCount)
	}
	if p.MaxShaderObjectCount > 0 && p.MaxShaderObjectCount < MinShaderObjCount {
		fail("max shader object count %d", p.MaxShaderObjectCount)
	}
	if p.InputModes&RequiredInputModes != RequiredInputModes {
		fail("input modes %#x", p.InputModes)
	}
	if p.Stages&RequiredStages != RequiredStages {
		fail("stages %#x", p.Stages)
	}
	return errs
}
