// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// block identifies a logical block of a command buffer.
type block int

const (
	bNone block = iota
	bDraw
	bWork
	bBlit
)

func (b block) String() string {
	switch b {
	case bDraw:
		return "draw work"
	case bWork:
		return "compute work"
	case bBlit:
		return "data transfer"
	}
	return "no block"
}

// cbState is the state of a command buffer.
type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

// op is a recorded command.
type op func(x *execState) error

var errState = errors.New("soft: invalid command buffer state")

// cmdBuffer implements driver.CmdBuffer and
// driver.DGCCmdBuffer.
// Commands are recorded as closures and run by
// Driver.Commit. Recording errors are reported by End.
type cmdBuffer struct {
	d     *Driver
	state cbState
	blk   block
	err   error
	ops   []op
	// Bindings as of the last recorded command.
	// Only used to validate other commands.
	rs bound
}

// NewCmdBuffer creates a new command buffer.
func (d *Driver) NewCmdBuffer() (driver.CmdBuffer, error) {
	return &cmdBuffer{d: d}, nil
}

// fail records err as the recording error if there
// is none yet.
func (cb *cmdBuffer) fail(err error) {
	if cb.err == nil {
		cb.err = err
	}
}

// record appends o to the command list.
func (cb *cmdBuffer) record(o op) {
	if cb.state != cbRecording {
		cb.fail(errors.Wrap(errState, "command buffer is not recording"))
		return
	}
	cb.ops = append(cb.ops, o)
}

// need checks that the current block is b.
func (cb *cmdBuffer) need(b block, cmd string) bool {
	if cb.blk != b {
		cb.fail(errors.Wrapf(errState, "%s during %s (need %s)", cmd, cb.blk, b))
		return false
	}
	return true
}

func (cb *cmdBuffer) begin(b block) {
	if cb.blk != bNone {
		cb.fail(errors.Wrapf(errState, "begin %s during %s", b, cb.blk))
	}
	cb.blk = b
}

func (cb *cmdBuffer) end(b block) {
	if cb.blk != b {
		cb.fail(errors.Wrapf(errState, "end %s during %s", b, cb.blk))
	}
	cb.blk = bNone
}

func (cb *cmdBuffer) reset() {
	cb.state = cbInitial
	cb.blk = bNone
	cb.err = nil
	cb.ops = nil
	cb.rs = bound{}
}

// Begin prepares the command buffer for recording.
func (cb *cmdBuffer) Begin() error {
	if cb.state == cbRecording {
		return errors.Wrap(errState, "Begin during recording")
	}
	cb.reset()
	cb.state = cbRecording
	return nil
}

// BeginDraw begins draw work.
// Commands always execute serially, so wait is
// implied.
func (cb *cmdBuffer) BeginDraw(wait bool) { cb.begin(bDraw) }

// EndDraw ends the current draw work.
func (cb *cmdBuffer) EndDraw() { cb.end(bDraw) }

// BeginWork begins compute work.
func (cb *cmdBuffer) BeginWork(wait bool) { cb.begin(bWork) }

// EndWork ends the current compute work.
func (cb *cmdBuffer) EndWork() { cb.end(bWork) }

// BeginBlit begins data transfer.
func (cb *cmdBuffer) BeginBlit(wait bool) { cb.begin(bBlit) }

// EndBlit ends the current data transfer.
func (cb *cmdBuffer) EndBlit() { cb.end(bBlit) }

// SetPipeline sets the pipeline.
func (cb *cmdBuffer) SetPipeline(pl driver.Pipeline) {
	p := pl.(*pipeline)
	cb.rs.bindPipeline(p)
	cb.record(func(x *execState) error {
		x.bindPipeline(p)
		return nil
	})
}

// SetShaders binds shader objects to stages.
func (cb *cmdBuffer) SetShaders(stages []driver.Stage, sh []driver.Shader) {
	if len(stages) != len(sh) {
		cb.fail(errors.Wrapf(errState, "SetShaders: %d stages, %d shaders", len(stages), len(sh)))
		return
	}
	ss := make([]*shader, len(sh))
	for i := range sh {
		if stages[i].Count() != 1 {
			cb.fail(errors.Wrapf(errShader, "SetShaders: stage mask %#x", stages[i]))
			return
		}
		if sh[i] == nil {
			continue
		}
		ss[i] = sh[i].(*shader)
		if ss[i].stage != stages[i] {
			cb.fail(errors.Wrapf(errShader, "SetShaders: stage %#x bound to %#x", ss[i].stage, stages[i]))
			return
		}
	}
	stages = append([]driver.Stage(nil), stages...)
	for i := range ss {
		cb.rs.bindShader(stages[i], ss[i])
	}
	cb.record(func(x *execState) error {
		for i := range ss {
			x.bindShader(stages[i], ss[i])
		}
		return nil
	})
}

// SetPushConst updates push constant data.
func (cb *cmdBuffer) SetPushConst(layout driver.PipelineLayout, stages driver.Stage, off int, data []byte) {
	l := layout.(*pipelineLayout)
	if off < 0 || !l.contains(stages, uint32(off), uint32(len(data))) {
		cb.fail(errors.Wrapf(errPushRange, "SetPushConst: [%d, %d) for stages %#x", off, off+len(data), stages))
		return
	}
	data = append([]byte(nil), data...)
	cb.record(func(x *execState) error {
		copy(x.push[off:], data)
		return nil
	})
}

// SetVertexBuf sets one or more vertex buffers.
func (cb *cmdBuffer) SetVertexBuf(start int, buf []driver.Buffer, off []int64) {
	if len(buf) != len(off) || start < 0 || start+len(buf) > cb.d.cfg.Limits.MaxVertexIn {
		cb.fail(errors.Wrapf(errState, "SetVertexBuf: start %d, %d buffers, %d offsets", start, len(buf), len(off)))
		return
	}
	vb := make([]vertexBinding, len(buf))
	for i := range buf {
		b := buf[i].(*buffer)
		if off[i] < 0 || off[i]%4 != 0 || off[i] > b.Cap() {
			cb.fail(errors.Wrapf(errState, "SetVertexBuf: offset %d", off[i]))
			return
		}
		vb[i] = vertexBinding{
			addr: b.a.addr + uint64(off[i]),
			size: uint32(b.Cap() - off[i]),
			set:  true,
		}
	}
	cb.record(func(x *execState) error {
		for i := range vb {
			x.setVertexBuf(start+i, vb[i])
		}
		return nil
	})
}

// SetIndexBuf sets the index buffer.
func (cb *cmdBuffer) SetIndexBuf(format driver.IndexFmt, buf driver.Buffer, off int64) {
	b := buf.(*buffer)
	if (format != driver.Index16 && format != driver.Index32) || off < 0 || off%4 != 0 || off > b.Cap() {
		cb.fail(errors.Wrapf(errState, "SetIndexBuf: format %d, offset %d", format, off))
		return
	}
	ib := indexBinding{
		addr: b.a.addr + uint64(off),
		size: uint32(b.Cap() - off),
		fmt:  format,
		set:  true,
	}
	cb.record(func(x *execState) error {
		x.ibuf = ib
		return nil
	})
}

// Draw draws primitives.
func (cb *cmdBuffer) Draw(vertCount, instCount, baseVert, baseInst int) {
	if !cb.need(bDraw, "Draw") {
		return
	}
	cmd := drawCmd{uint32(vertCount), uint32(instCount), uint32(baseVert), uint32(baseInst)}
	cb.record(func(x *execState) error { return x.draw(&cmd, 0) })
}

// DrawIndexed draws indexed primitives.
func (cb *cmdBuffer) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	if !cb.need(bDraw, "DrawIndexed") {
		return
	}
	cmd := drawIndexedCmd{uint32(idxCount), uint32(instCount), uint32(baseIdx), int32(vertOff), uint32(baseInst)}
	cb.record(func(x *execState) error { return x.drawIndexed(&cmd, 0) })
}

// Dispatch dispatches compute thread groups.
func (cb *cmdBuffer) Dispatch(grpCountX, grpCountY, grpCountZ int) {
	if !cb.need(bWork, "Dispatch") {
		return
	}
	grp := [3]uint32{uint32(grpCountX), uint32(grpCountY), uint32(grpCountZ)}
	cb.record(func(x *execState) error { return x.dispatch(grp) })
}

// CopyBuffer copies data between buffers.
func (cb *cmdBuffer) CopyBuffer(param *driver.BufferCopy) {
	if !cb.need(bBlit, "CopyBuffer") {
		return
	}
	from := param.From.(*buffer)
	to := param.To.(*buffer)
	p := *param
	if p.Size < 0 || p.FromOff < 0 || p.ToOff < 0 || p.FromOff+p.Size > from.Cap() || p.ToOff+p.Size > to.Cap() {
		cb.fail(errors.Wrapf(errState, "CopyBuffer: %+v", p))
		return
	}
	cb.record(func(*execState) error {
		copy(to.a.p[p.ToOff:p.ToOff+p.Size], from.a.p[p.FromOff:p.FromOff+p.Size])
		return nil
	})
}

// Fill fills a buffer range with copies of a byte value.
func (cb *cmdBuffer) Fill(buf driver.Buffer, off int64, value byte, size int64) {
	if !cb.need(bBlit, "Fill") {
		return
	}
	b := buf.(*buffer)
	if off < 0 || size < 0 || off%4 != 0 || size%4 != 0 || off+size > b.Cap() {
		cb.fail(errors.Wrapf(errState, "Fill: offset %d, size %d", off, size))
		return
	}
	cb.record(func(*execState) error {
		s := b.a.p[off : off+size]
		for i := range s {
			s[i] = value
		}
		return nil
	})
}

// Barrier inserts a number of global barriers in the
// command buffer.
// Recorded commands run to completion one at a time,
// so there is nothing to synchronize.
func (cb *cmdBuffer) Barrier(b []driver.Barrier) {
	if cb.state != cbRecording {
		cb.fail(errors.Wrap(errState, "Barrier: command buffer is not recording"))
	}
}

// End ends command recording.
func (cb *cmdBuffer) End() error {
	if cb.state != cbRecording {
		return errors.Wrap(errState, "End: command buffer is not recording")
	}
	if cb.blk != bNone {
		cb.fail(errors.Wrapf(errState, "End during %s", cb.blk))
	}
	if err := cb.err; err != nil {
		cb.reset()
		return err
	}
	cb.state = cbExecutable
	return nil
}

// Reset discards all recorded commands.
func (cb *cmdBuffer) Reset() error {
	cb.reset()
	return nil
}

// Destroy destroys the command buffer.
func (cb *cmdBuffer) Destroy() { cb.reset() }

// execute runs the recorded commands.
// The command buffer is reset afterwards.
func (cb *cmdBuffer) execute() error {
	defer cb.reset()
	if cb.state != cbExecutable {
		return errors.Wrap(errState, "Commit: command buffer is not executable")
	}
	x := newExecState(cb.d)
	for _, o := range cb.ops {
		if err := o(x); err != nil {
			return err
		}
	}
	return nil
}
