// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// ShaderStageInfo describes an initial element of a
// shader execution set.
type ShaderStageInfo struct {
	Shader driver.Shader
	// Optional. If set, its push constant ranges must be
	// compatible with those of the execution set.
	Layout driver.PipelineLayout
}

// ExecSetManager manages an indirect execution set.
// Writes are queued by AddPipeline/AddShader and applied
// in one batch by Update.
// An ExecSetManager must not be used concurrently, and
// Update must not be called while commands that use the
// set are executing.
type ExecSetManager struct {
	set  driver.ExecSet
	kind driver.ExecSetType
	cap  int
	pw   []driver.PipelineWrite
	sw   []driver.ShaderWrite
}

// NewPipelineExecSet creates an execution set of up to
// maxCount pipelines, storing initial at index 0.
func NewPipelineExecSet(gpu driver.DGCGPU, initial driver.Pipeline, maxCount int) (*ExecSetManager, error) {
	set, err := gpu.NewExecSet(&driver.ExecSetInfo{
		Type:            driver.ESPipelines,
		MaxCount:        maxCount,
		InitialPipeline: initial,
	})
	if err != nil {
		return nil, errors.Wrap(err, "dgc: creating pipeline execution set")
	}
	driver.Logger().Debug("dgc: pipeline execution set created", slog.Int("max", maxCount))
	return &ExecSetManager{set: set, kind: driver.ESPipelines, cap: maxCount}, nil
}

// NewShaderExecSet creates an execution set of up to
// maxCount shader objects, storing stages[i].Shader at
// index i.
// push is the push constant interface shared by every
// shader in the set.
func NewShaderExecSet(gpu driver.DGCGPU, stages []ShaderStageInfo, push []driver.PushRange, maxCount int) (*ExecSetManager, error) {
	info := driver.ExecSetInfo{
		Type:     driver.ESShaders,
		MaxCount: maxCount,
		Push:     push,
	}
	var withLayout bool
	for i := range stages {
		info.InitialShaders = append(info.InitialShaders, stages[i].Shader)
		withLayout = withLayout || stages[i].Layout != nil
	}
	if withLayout {
		for i := range stages {
			if stages[i].Layout == nil {
				return nil, errors.Wrapf(ErrShaderLayout, "shader %d", i)
			}
			info.ShaderLayouts = append(info.ShaderLayouts, stages[i].Layout)
		}
	}
	set, err := gpu.NewExecSet(&info)
	if err != nil {
		return nil, errors.Wrap(err, "dgc: creating shader execution set")
	}
	driver.Logger().Debug("dgc: shader execution set created", slog.Int("max", maxCount), slog.Int("initial", len(stages)))
	return &ExecSetManager{set: set, kind: driver.ESShaders, cap: maxCount}, nil
}

func (m *ExecSetManager) checkWrite(kind driver.ExecSetType, index int) error {
	if m.kind != kind {
		return errors.Wrapf(ErrSetKind, "index %d", index)
	}
	if index < 0 || index >= m.cap {
		return errors.Wrapf(ErrIndexRange, "index %d (capacity %d)", index, m.cap)
	}
	return nil
}

// AddPipeline queues a write of pl at index.
// Queuing the same pipeline at a pending index does
// nothing, while queuing a different one fails with
// ErrIndexConflict.
func (m *ExecSetManager) AddPipeline(index int, pl driver.Pipeline) error {
	if err := m.checkWrite(driver.ESPipelines, index); err != nil {
		return err
	}
	for _, w := range m.pw {
		if w.Index == index {
			if w.Pipeline != pl {
				return errors.Wrapf(ErrIndexConflict, "pipeline index %d", index)
			}
			return nil
		}
	}
	m.pw = append(m.pw, driver.PipelineWrite{Index: index, Pipeline: pl})
	return nil
}

// AddShader queues a write of sh at index.
// Duplicates are handled as in AddPipeline.
func (m *ExecSetManager) AddShader(index int, sh driver.Shader) error {
	if err := m.checkWrite(driver.ESShaders, index); err != nil {
		return err
	}
	for _, w := range m.sw {
		if w.Index == index {
			if w.Shader != sh {
				return errors.Wrapf(ErrIndexConflict, "shader index %d", index)
			}
			return nil
		}
	}
	m.sw = append(m.sw, driver.ShaderWrite{Index: index, Shader: sh})
	return nil
}

// Update applies the queued writes in one device call.
// If it fails, the writes remain queued.
func (m *ExecSetManager) Update() error {
	var err error
	n := m.Pending()
	switch {
	case n == 0:
		return nil
	case m.kind == driver.ESPipelines:
		err = m.set.UpdatePipelines(m.pw)
	default:
		err = m.set.UpdateShaders(m.sw)
	}
	if err != nil {
		return errors.Wrap(err, "dgc: updating execution set")
	}
	m.pw = m.pw[:0]
	m.sw = m.sw[:0]
	driver.Logger().Debug("dgc: execution set updated", slog.Int("writes", n))
	return nil
}

// Pending returns the number of queued writes.
func (m *ExecSetManager) Pending() int { return len(m.pw) + len(m.sw) }

// Kind returns the type of the set's elements.
func (m *ExecSetManager) Kind() driver.ExecSetType { return m.kind }

// Cap returns the capacity of the set.
func (m *ExecSetManager) Cap() int { return m.cap }

// Get returns the execution set.
// It fails with ErrPendingWrites if writes are queued,
// unless allowPending is set.
func (m *ExecSetManager) Get(allowPending bool) (driver.ExecSet, error) {
	if !allowPending && m.Pending() != 0 {
		return nil, errors.Wrapf(ErrPendingWrites, "%d pending", m.Pending())
	}
	return m.set, nil
}

// Destroy destroys the execution set.
// Queued writes are discarded.
func (m *ExecSetManager) Destroy() {
	if m.set != nil {
		m.set.Destroy()
	}
	*m = ExecSetManager{}
}
