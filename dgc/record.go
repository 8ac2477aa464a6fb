// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"encoding/binary"

	"github.com/gviegas/dgc/driver"
)

// Cmd is the interface that token arguments implement.
// Put encodes the argument into b, which must be at
// least Size bytes long.
type Cmd interface {
	Size() uint32
	Put(b []byte)
}

func put32(b []byte, v ...uint32) {
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], x)
	}
}

// DispatchCmd is the argument of dispatch tokens.
type DispatchCmd struct {
	X, Y, Z uint32
}

func (DispatchCmd) Size() uint32 { return driver.DispatchCmdSize }
func (c DispatchCmd) Put(b []byte) { put32(b, c.X, c.Y, c.Z) }

// DrawCmd is the argument of draw tokens.
type DrawCmd struct {
	VertCount uint32
	InstCount uint32
	BaseVert  uint32
	BaseInst  uint32
}

func (DrawCmd) Size() uint32 { return driver.DrawCmdSize }
func (c DrawCmd) Put(b []byte) {
	put32(b, c.VertCount, c.InstCount, c.BaseVert, c.BaseInst)
}

// DrawIndexedCmd is the argument of indexed draw tokens.
type DrawIndexedCmd struct {
	IdxCount  uint32
	InstCount uint32
	BaseIdx   uint32
	VertOff   int32
	BaseInst  uint32
}

func (DrawIndexedCmd) Size() uint32 { return driver.DrawIndexedCmdSize }
func (c DrawIndexedCmd) Put(b []byte) {
	put32(b, c.IdxCount, c.InstCount, c.BaseIdx, uint32(c.VertOff), c.BaseInst)
}

// DrawCountCmd is the argument of multi-draw tokens.
// It refers to Count draw arguments stored Stride bytes
// apart starting at Addr.
type DrawCountCmd struct {
	Addr   uint64
	Stride uint32
	Count  uint32
}

func (DrawCountCmd) Size() uint32 { return driver.DrawCountCmdSize }
func (c DrawCountCmd) Put(b []byte) {
	binary.LittleEndian.PutUint64(b, c.Addr)
	put32(b[8:], c.Stride, c.Count)
}

// DrawMeshTasksCmd is the argument of mesh tasks tokens.
type DrawMeshTasksCmd struct {
	X, Y, Z uint32
}

func (DrawMeshTasksCmd) Size() uint32 { return driver.MeshTasksCmdSize }
func (c DrawMeshTasksCmd) Put(b []byte) { put32(b, c.X, c.Y, c.Z) }

// TraceRays2Cmd is the argument of ray tracing tokens.
// The shader binding table regions come first, followed
// by the launch size at byte 88.
type TraceRays2Cmd struct {
	RayGenAddr     uint64
	RayGenSize     uint64
	MissAddr       uint64
	MissSize       uint64
	MissStride     uint64
	HitAddr        uint64
	HitSize        uint64
	HitStride      uint64
	CallableAddr   uint64
	CallableSize   uint64
	CallableStride uint64
	Width          uint32
	Height         uint32
	Depth          uint32
}

func (TraceRays2Cmd) Size() uint32 { return driver.TraceRays2CmdSize }
func (c TraceRays2Cmd) Put(b []byte) {
	for i, x := range [...]uint64{
		c.RayGenAddr, c.RayGenSize,
		c.MissAddr, c.MissSize, c.MissStride,
		c.HitAddr, c.HitSize, c.HitStride,
		c.CallableAddr, c.CallableSize, c.CallableStride,
	} {
		binary.LittleEndian.PutUint64(b[8*i:], x)
	}
	put32(b[88:], c.Width, c.Height, c.Depth)
	put32(b[100:], 0)
}

// BindVertexBufCmd is the argument of vertex buffer
// tokens.
type BindVertexBufCmd struct {
	Addr    uint64
	BufSize uint32
	Stride  uint32
}

func (BindVertexBufCmd) Size() uint32 { return driver.VertexBufCmdSize }
func (c BindVertexBufCmd) Put(b []byte) {
	binary.LittleEndian.PutUint64(b, c.Addr)
	put32(b[8:], c.BufSize, c.Stride)
}

// BindIndexBufCmd is the argument of index buffer
// tokens. Type depends on the token's input mode
// (see IndexType).
type BindIndexBufCmd struct {
	Addr    uint64
	BufSize uint32
	Type    uint32
}

func (BindIndexBufCmd) Size() uint32 { return driver.IndexBufCmdSize }
func (c BindIndexBufCmd) Put(b []byte) {
	binary.LittleEndian.PutUint64(b, c.Addr)
	put32(b[8:], c.BufSize, c.Type)
}

// ExecSetCmd is the argument of execution set tokens.
// It holds one index per selected element.
type ExecSetCmd []uint32

func (c ExecSetCmd) Size() uint32 { return driver.ExecSetIndexSize * uint32(len(c)) }
func (c ExecSetCmd) Put(b []byte) { put32(b, c...) }

// PushCmd is the argument of push constant tokens.
type PushCmd []byte

func (c PushCmd) Size() uint32 { return uint32(len(c)) }
func (c PushCmd) Put(b []byte) { copy(b, c) }

// Record is one record of an indirect stream.
type Record []byte

// Put encodes c at off.
func (r Record) Put(off uint32, c Cmd) { c.Put(r[off : off+c.Size()]) }

// PutUint32 encodes v at off.
func (r Record) PutUint32(off, v uint32) { binary.LittleEndian.PutUint32(r[off:], v) }

// Stream is a sequence of contiguous records.
type Stream struct {
	p      []byte
	stride uint32
}

// NewStream creates a zeroed Stream of n records.
func NewStream(stride uint32, n int) *Stream {
	return &Stream{make([]byte, int(stride)*n), stride}
}

// WrapStream creates a Stream of the records in p.
// Records are written to p directly.
func WrapStream(p []byte, stride uint32) *Stream {
	return &Stream{p, stride}
}

// Record returns the ith record.
func (s *Stream) Record(i int) Record {
	off := i * int(s.stride)
	return Record(s.p[off : off+int(s.stride)])
}

// Len returns the number of whole records.
func (s *Stream) Len() int { return len(s.p) / int(s.stride) }

// Stride returns the stride of the records.
func (s *Stream) Stride() uint32 { return s.stride }

// Bytes returns the encoded stream.
func (s *Stream) Bytes() []byte { return s.p }

// IndexType returns the index type of f as encoded in
// BindIndexBufCmd for the given input mode.
func IndexType(mode driver.InputMode, f driver.IndexFmt) uint32 {
	if mode == driver.IModeDXGI {
		return DXGIIndexFormat(f)
	}
	if f == driver.Index32 {
		return 1
	}
	return 0
}

// DXGIIndexFormat returns the DXGI format of f.
func DXGIIndexFormat(f driver.IndexFmt) uint32 {
	if f == driver.Index32 {
		return driver.DXGIR32Uint
	}
	return driver.DXGIR16Uint
}
