// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// bindPoint identifies a pipeline binding point.
type bindPoint int

const (
	bpGraphics bindPoint = iota
	bpCompute
	bpRay
	nBindPoint
)

// pipeline implements driver.Pipeline.
type pipeline struct {
	bp     bindPoint
	layout *pipelineLayout
	input  []driver.VertexIn
	// Indexed by stageIndex.
	k [nStage]Kernel
}

var errPipeline = errors.New("soft: invalid pipeline state")

// NewPipeline creates a new pipeline.
func (d *Driver) NewPipeline(state any) (driver.Pipeline, error) {
	var (
		pl  *pipeline
		err error
	)
	switch t := state.(type) {
	case *driver.GraphState:
		pl, err = d.newGraphics(t)
	case *driver.CompState:
		pl, err = d.newCompute(t)
	case *driver.RayState:
		pl, err = d.newRay(t)
	default:
		return nil, errors.Wrapf(errPipeline, "unknown state type %T", state)
	}
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// setKernels resolves each function in fn into
// pl.k[stageIndex(stage[i])].
func (pl *pipeline) setKernels(stage []driver.Stage, fn []*driver.ShaderFunc) error {
	for i := range fn {
		k, err := resolve(fn[i])
		if err != nil {
			return err
		}
		pl.k[stageIndex(stage[i])] = k
	}
	return nil
}

func (d *Driver) newGraphics(gs *driver.GraphState) (*pipeline, error) {
	pl := &pipeline{bp: bpGraphics, input: append([]driver.VertexIn(nil), gs.Input...)}
	if gs.Layout != nil {
		pl.layout = gs.Layout.(*pipelineLayout)
	}
	if len(gs.Input) > d.cfg.Limits.MaxVertexIn {
		return nil, errors.Wrapf(driver.ErrLimit, "%d vertex inputs", len(gs.Input))
	}
	err := pl.setKernels(
		[]driver.Stage{driver.SVertex, driver.SFragment, driver.STask, driver.SMesh},
		[]*driver.ShaderFunc{&gs.VertFunc, &gs.FragFunc, &gs.TaskFunc, &gs.MeshFunc},
	)
	if err != nil {
		return nil, err
	}
	switch {
	case pl.kernel(driver.SMesh) != nil:
		if !d.cfg.Features.MeshShader {
			return nil, errors.Wrap(driver.ErrNotSupported, "mesh shading")
		}
		pl.k[stageIndex(driver.SVertex)] = nil
	case pl.kernel(driver.SVertex) == nil:
		return nil, errors.Wrap(errPipeline, "graphics pipeline without vertex or mesh function")
	}
	return pl, nil
}

func (d *Driver) newCompute(cs *driver.CompState) (*pipeline, error) {
	pl := &pipeline{bp: bpCompute}
	if cs.Layout != nil {
		pl.layout = cs.Layout.(*pipelineLayout)
	}
	if err := pl.setKernels([]driver.Stage{driver.SCompute}, []*driver.ShaderFunc{&cs.Func}); err != nil {
		return nil, err
	}
	if pl.kernel(driver.SCompute) == nil {
		return nil, errors.Wrap(errPipeline, "compute pipeline without function")
	}
	return pl, nil
}

func (d *Driver) newRay(rs *driver.RayState) (*pipeline, error) {
	if !d.cfg.Features.RayTracing {
		return nil, errors.Wrap(driver.ErrNotSupported, "ray tracing")
	}
	pl := &pipeline{bp: bpRay}
	if rs.Layout != nil {
		pl.layout = rs.Layout.(*pipelineLayout)
	}
	err := pl.setKernels(
		[]driver.Stage{driver.SRayGen, driver.SMiss, driver.SClosestHit},
		[]*driver.ShaderFunc{&rs.RayGen, &rs.Miss, &rs.ClosestHit},
	)
	if err != nil {
		return nil, err
	}
	if pl.kernel(driver.SRayGen) == nil {
		return nil, errors.Wrap(errPipeline, "ray tracing pipeline without ray generation function")
	}
	return pl, nil
}

// kernel returns the kernel of the given stage.
func (pl *pipeline) kernel(s driver.Stage) Kernel { return pl.k[stageIndex(s)] }

// stages returns the stages that have a kernel.
func (pl *pipeline) stages() (s driver.Stage) {
	for i, k := range pl.k {
		if k != nil {
			s |= 1 << i
		}
	}
	return
}

// Destroy destroys the pipeline.
func (pl *pipeline) Destroy() {}
