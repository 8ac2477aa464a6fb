// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"encoding/binary"
	"slices"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gviegas/dgc/driver"
)

// stageBindPoint returns the pipeline binding point
// that the single stage s belongs to.
func stageBindPoint(s driver.Stage) bindPoint {
	switch s {
	case driver.SCompute:
		return bpCompute
	case driver.SRayGen, driver.SMiss, driver.SClosestHit:
		return bpRay
	}
	return bpGraphics
}

// bound holds the bound pipelines and shader objects.
// Binding a pipeline unbinds the shader objects of its
// binding point and vice versa.
type bound struct {
	pl [nBindPoint]*pipeline
	sh [nStage]*shader
}

func (b *bound) bindPipeline(p *pipeline) {
	b.pl[p.bp] = p
	for i := range b.sh {
		if stageBindPoint(1<<i) == p.bp {
			b.sh[i] = nil
		}
	}
}

func (b *bound) bindShader(s driver.Stage, sh *shader) {
	b.sh[stageIndex(s)] = sh
	b.pl[stageBindPoint(s)] = nil
}

// kernel returns the kernel bound to the single stage s,
// or nil if there is none.
func (b *bound) kernel(s driver.Stage) Kernel {
	if pl := b.pl[stageBindPoint(s)]; pl != nil {
		return pl.kernel(s)
	}
	if sh := b.sh[stageIndex(s)]; sh != nil {
		return sh.k
	}
	return nil
}

type vertexBinding struct {
	addr   uint64
	size   uint32
	stride uint32
	set    bool
}

type indexBinding struct {
	addr uint64
	size uint32
	fmt  driver.IndexFmt
	set  bool
}

// execState is the execution state of a command buffer.
type execState struct {
	d *Driver
	bound
	push []byte
	vbuf []vertexBinding
	ibuf indexBinding
}

func newExecState(d *Driver) *execState {
	return &execState{
		d:    d,
		push: make([]byte, d.cfg.Limits.MaxPushConst),
	}
}

// clone returns a deep copy of x.
func (x *execState) clone() *execState {
	return &execState{
		d:     x.d,
		bound: x.bound,
		push:  append([]byte(nil), x.push...),
		vbuf:  append([]vertexBinding(nil), x.vbuf...),
		ibuf:  x.ibuf,
	}
}

func (x *execState) setVertexBuf(binding int, vb vertexBinding) {
	if n := binding + 1 - len(x.vbuf); n > 0 {
		x.vbuf = append(x.vbuf, make([]vertexBinding, n)...)
	}
	x.vbuf[binding] = vb
}

// invocation returns a new Invocation referring to the
// current state.
func (x *execState) invocation() *Invocation {
	inv := &Invocation{
		Push: x.push,
		mem:  &x.d.mem,
		vbuf: x.vbuf,
	}
	if pl := x.pl[bpGraphics]; pl != nil {
		inv.layout = pl.input
	}
	return inv
}

// launch returns the number of invocations of a launch
// whose dimensions are dims. It fails with driver.ErrLimit
// if the count exceeds the device limit.
func (x *execState) launch(what string, dims ...uint32) (int, error) {
	if slices.Contains(dims, 0) {
		return 0, nil
	}
	lim := uint64(x.d.cfg.Limits.MaxInvocations)
	n := uint64(1)
	for _, d := range dims {
		if n > lim/uint64(d) {
			return 0, errors.Wrapf(driver.ErrLimit, "%s of size %v (max %d invocations)", what, dims, lim)
		}
		n *= uint64(d)
	}
	return int(n), nil
}

// checkGroups checks workgroup counts against
// Limits.MaxDispatch.
func (x *execState) checkGroups(what string, grp [3]uint32) error {
	for i, n := range grp {
		if int64(n) > int64(x.d.cfg.Limits.MaxDispatch[i]) {
			return errors.Wrapf(driver.ErrLimit, "%s count %v", what, grp)
		}
	}
	return nil
}

// run calls f n times on the worker pool.
// It returns the first error.
func (x *execState) run(n int, f func(i int, inv *Invocation) error) error {
	if n <= 0 {
		return nil
	}
	var g errgroup.Group
	g.SetLimit(x.d.cfg.workers())
	for i := range n {
		g.Go(func() error { return f(i, x.invocation()) })
	}
	return g.Wait()
}

// Argument structures, decoded from commands or from
// indirect records.
type (
	drawCmd struct {
		vertCount, instCount, baseVert, baseInst uint32
	}
	drawIndexedCmd struct {
		idxCount, instCount, baseIdx uint32
		vertOff                      int32
		baseInst                     uint32
	}
)

func decodeDraw(b []byte) drawCmd {
	return drawCmd{
		vertCount: binary.LittleEndian.Uint32(b),
		instCount: binary.LittleEndian.Uint32(b[4:]),
		baseVert:  binary.LittleEndian.Uint32(b[8:]),
		baseInst:  binary.LittleEndian.Uint32(b[12:]),
	}
}

func decodeDrawIndexed(b []byte) drawIndexedCmd {
	return drawIndexedCmd{
		idxCount:  binary.LittleEndian.Uint32(b),
		instCount: binary.LittleEndian.Uint32(b[4:]),
		baseIdx:   binary.LittleEndian.Uint32(b[8:]),
		vertOff:   int32(binary.LittleEndian.Uint32(b[12:])),
		baseInst:  binary.LittleEndian.Uint32(b[16:]),
	}
}

func decodeGroups(b []byte) [3]uint32 {
	return [3]uint32{
		binary.LittleEndian.Uint32(b),
		binary.LittleEndian.Uint32(b[4:]),
		binary.LittleEndian.Uint32(b[8:]),
	}
}

func (x *execState) dispatch(grp [3]uint32) error {
	k := x.kernel(driver.SCompute)
	if k == nil {
		return errors.Wrap(errState, "dispatch without compute kernel")
	}
	if err := x.checkGroups("dispatch", grp); err != nil {
		return err
	}
	n, err := x.launch("dispatch", grp[:]...)
	if err != nil {
		return err
	}
	gx, gy := int(grp[0]), int(grp[1])
	return x.run(n, func(i int, inv *Invocation) error {
		inv.ID = [3]uint32{uint32(i % gx), uint32(i / gx % gy), uint32(i / (gx * gy))}
		return k(inv)
	})
}

func (x *execState) draw(c *drawCmd, drawIdx uint32) error {
	if x.kernel(driver.SMesh) != nil {
		return errors.Wrap(errState, "draw with mesh kernel bound")
	}
	k := x.kernel(driver.SVertex)
	if k == nil {
		return errors.Wrap(errState, "draw without vertex kernel")
	}
	n, err := x.launch("draw", c.vertCount, c.instCount)
	if err != nil {
		return err
	}
	vc := int(c.vertCount)
	return x.run(n, func(i int, inv *Invocation) error {
		inv.Vertex = c.baseVert + uint32(i%vc)
		inv.Instance = c.baseInst + uint32(i/vc)
		inv.DrawIndex = drawIdx
		return k(inv)
	})
}

func (x *execState) drawIndexed(c *drawIndexedCmd, drawIdx uint32) error {
	if x.kernel(driver.SMesh) != nil {
		return errors.Wrap(errState, "draw with mesh kernel bound")
	}
	k := x.kernel(driver.SVertex)
	if k == nil {
		return errors.Wrap(errState, "draw without vertex kernel")
	}
	if !x.ibuf.set {
		return errors.Wrap(errState, "indexed draw without index buffer")
	}
	n, err := x.launch("indexed draw", c.idxCount, c.instCount)
	if err != nil {
		return err
	}
	isz := int64(x.ibuf.fmt)
	if (int64(c.baseIdx)+int64(c.idxCount))*isz > int64(x.ibuf.size) {
		return errors.Wrapf(errAddrRange, "indices [%d, %d)", c.baseIdx, c.baseIdx+c.idxCount)
	}
	idx, err := x.d.mem.slice(x.ibuf.addr+uint64(int64(c.baseIdx)*isz), int64(c.idxCount)*isz)
	if err != nil {
		return err
	}
	ic := int(c.idxCount)
	return x.run(n, func(i int, inv *Invocation) error {
		var v uint32
		if isz == 2 {
			v = uint32(binary.LittleEndian.Uint16(idx[i%ic*2:]))
		} else {
			v = binary.LittleEndian.Uint32(idx[i%ic*4:])
		}
		inv.Vertex = uint32(int32(v) + c.vertOff)
		inv.Instance = c.baseInst + uint32(i/ic)
		inv.DrawIndex = drawIdx
		return k(inv)
	})
}

func (x *execState) drawMeshTasks(grp [3]uint32, drawIdx uint32) error {
	task := x.kernel(driver.STask)
	mesh := x.kernel(driver.SMesh)
	if mesh == nil {
		return errors.Wrap(errState, "mesh tasks draw without mesh kernel")
	}
	if err := x.checkGroups("mesh tasks", grp); err != nil {
		return err
	}
	n, err := x.launch("mesh tasks draw", grp[:]...)
	if err != nil {
		return err
	}
	gx, gy := int(grp[0]), int(grp[1])
	return x.run(n, func(i int, inv *Invocation) error {
		inv.ID = [3]uint32{uint32(i % gx), uint32(i / gx % gy), uint32(i / (gx * gy))}
		inv.DrawIndex = drawIdx
		if task != nil {
			if err := task(inv); err != nil {
				return err
			}
		}
		return mesh(inv)
	})
}

// traceRays launches the ray generation kernel once
// per element of the launch size.
func (x *execState) traceRays(size [3]uint32) error {
	k := x.kernel(driver.SRayGen)
	if k == nil {
		return errors.Wrap(errState, "trace rays without ray generation kernel")
	}
	n, err := x.launch("ray launch", size[:]...)
	if err != nil {
		return err
	}
	w, h := int(size[0]), int(size[1])
	return x.run(n, func(i int, inv *Invocation) error {
		inv.ID = [3]uint32{uint32(i % w), uint32(i / w % h), uint32(i / (w * h))}
		return k(inv)
	})
}
