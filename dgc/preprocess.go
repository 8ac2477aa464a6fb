// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"log/slog"
	"slices"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// MemReqsInfo holds the parameters of a preprocess
// buffer memory requirements query.
// Exactly one of execution set, pipeline and shaders
// must be set when querying. The setters for these
// clear the other two.
// The requirements must be queried again whenever any
// parameter changes.
type MemReqsInfo struct {
	info driver.MemReqsInfo
}

// NewMemReqsInfo creates a new MemReqsInfo.
// set may be nil, in which case a pipeline or shaders
// must be set before querying.
func NewMemReqsInfo(set driver.ExecSet, layout driver.CmdLayout, maxSeq, maxDraw uint32) *MemReqsInfo {
	return &MemReqsInfo{driver.MemReqsInfo{
		ExecSet:      set,
		Layout:       layout,
		MaxSeqCount:  maxSeq,
		MaxDrawCount: maxDraw,
	}}
}

// SetExecSet sets the execution set.
func (m *MemReqsInfo) SetExecSet(set driver.ExecSet) {
	m.info.ExecSet = set
	m.info.Pipeline = nil
	m.info.Shaders = nil
}

// SetLayout sets the command layout.
func (m *MemReqsInfo) SetLayout(layout driver.CmdLayout) { m.info.Layout = layout }

// SetMaxSeqCount sets the maximum sequence count.
func (m *MemReqsInfo) SetMaxSeqCount(n uint32) { m.info.MaxSeqCount = n }

// SetMaxDrawCount sets the maximum draw count of
// multi-draw tokens.
func (m *MemReqsInfo) SetMaxDrawCount(n uint32) { m.info.MaxDrawCount = n }

// SetPipeline sets the pipeline that will be bound
// during execution.
func (m *MemReqsInfo) SetPipeline(pl driver.Pipeline) {
	m.info.ExecSet = nil
	m.info.Pipeline = pl
	m.info.Shaders = nil
}

// SetShaders sets the shader objects that will be bound
// during execution.
func (m *MemReqsInfo) SetShaders(sh []driver.Shader) {
	m.info.ExecSet = nil
	m.info.Pipeline = nil
	m.info.Shaders = slices.Clone(sh)
}

// Native returns the driver's representation of m.
// The caller must not modify it.
func (m *MemReqsInfo) Native() *driver.MemReqsInfo { return &m.info }

func bindCount(set driver.ExecSet, pl driver.Pipeline, sh []driver.Shader) (n int) {
	if set != nil {
		n++
	}
	if pl != nil {
		n++
	}
	if len(sh) != 0 {
		n++
	}
	return
}

// Query queries the memory requirements.
// Every call issues a new device query.
func (m *MemReqsInfo) Query(gpu driver.DGCGPU) (driver.MemReqs, error) {
	if bindCount(m.info.ExecSet, m.info.Pipeline, m.info.Shaders) != 1 {
		return driver.MemReqs{}, ErrBindState
	}
	reqs, err := gpu.GenCmdsMemReqs(&m.info)
	if err != nil {
		return driver.MemReqs{}, errors.Wrap(err, "dgc: querying memory requirements")
	}
	return reqs, nil
}

// PreprocessBuffer is device memory for preprocessing
// generated commands.
// If the device reports a size of zero, no memory is
// allocated and Needed returns false.
type PreprocessBuffer struct {
	buf  driver.Buffer
	reqs driver.MemReqs
	off  int64
}

// NewPreprocessBuffer creates a new PreprocessBuffer
// whose requirements are queried from info.
// If off is greater than zero, it is rounded up to the
// required alignment and the buffer is allocated that
// much larger, so the usable region starts at off.
// The usable region's address is aligned even if the
// buffer's own address is not. It fails with
// ErrNotSupported if the requirements exclude the
// memory of driver.GPU.NewBuffer.
func NewPreprocessBuffer(gpu driver.DGCGPU, info *MemReqsInfo, off int64) (*PreprocessBuffer, error) {
	if off < 0 {
		return nil, errors.Errorf("dgc: negative preprocess buffer offset %d", off)
	}
	reqs, err := info.Query(gpu)
	if err != nil {
		return nil, err
	}
	p := &PreprocessBuffer{reqs: reqs}
	align := max(reqs.Align, 1)
	off = roundUp(off, align)
	p.off = off
	if reqs.Size == 0 {
		return p, nil
	}
	if reqs.TypeBits&driver.BufferMemType == 0 {
		return nil, errors.Wrapf(ErrNotSupported, "dgc: preprocess memory type bits %#x", reqs.TypeBits)
	}
	const usg = driver.UPreprocess | driver.UDeviceAddr
	p.buf, err = gpu.NewBuffer(reqs.Size+off, false, usg)
	if err != nil {
		return nil, errors.Wrap(err, "dgc: allocating preprocess buffer")
	}
	if addr := int64(p.buf.Addr()); addr%align != 0 {
		// Reallocate with room to move the region up to
		// the next aligned address.
		p.buf.Destroy()
		p.buf, err = gpu.NewBuffer(reqs.Size+off+align-1, false, usg)
		if err != nil {
			return nil, errors.Wrap(err, "dgc: allocating preprocess buffer")
		}
		addr = int64(p.buf.Addr())
		p.off += roundUp(addr, align) - addr
	}
	driver.Logger().Debug("dgc: preprocess buffer allocated",
		slog.Int64("size", reqs.Size),
		slog.Int64("off", p.off),
		slog.Int64("align", reqs.Align))
	return p, nil
}

// Needed returns whether the device requires
// preprocess memory.
func (p *PreprocessBuffer) Needed() bool { return p.reqs.Size > 0 }

// Addr returns the device address of the usable region.
// It is zero unless Needed returns true.
func (p *PreprocessBuffer) Addr() uint64 {
	if p.buf == nil {
		return 0
	}
	return p.buf.Addr() + uint64(p.off)
}

// Size returns the required size.
func (p *PreprocessBuffer) Size() int64 { return p.reqs.Size }

// Off returns the offset of the usable region within
// the underlying buffer.
func (p *PreprocessBuffer) Off() int64 { return p.off }

// Range returns the usable region.
func (p *PreprocessBuffer) Range() Range { return Range{p.Addr(), p.Size()} }

// Reqs returns the queried memory requirements.
func (p *PreprocessBuffer) Reqs() driver.MemReqs { return p.reqs }

// Buffer returns the underlying buffer, or nil if
// Needed returns false.
func (p *PreprocessBuffer) Buffer() driver.Buffer { return p.buf }

// Destroy destroys the buffer.
func (p *PreprocessBuffer) Destroy() {
	if p.buf != nil {
		p.buf.Destroy()
	}
	*p = PreprocessBuffer{}
}
