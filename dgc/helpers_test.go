// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/gviegas/dgc/driver"
	"github.com/gviegas/dgc/driver/soft"
	"github.com/gviegas/dgc/internal/ctxt"
)

// Helpers for testing.

// tGPU is the GPU used by tests.
var tGPU = ctxt.DGC()

// tMu serializes the read-modify-write of test kernels.
var tMu sync.Mutex

// Test kernels.
// Push constant layout: u32 index at 0, u64 address at 8.
func init() {
	// store adds 1 to the u32 at address+4*index.
	// store16 adds 16 instead.
	soft.AddKernel("dgc", "store", storeKernel(1))
	soft.AddKernel("dgc", "store16", storeKernel(16))
	// vertex adds 1 to the u32 at address+4*vertex.
	soft.AddKernel("dgc", "vertex", func(inv *soft.Invocation) error {
		return add(inv, inv.PushUint64(8)+4*uint64(inv.Vertex), 1)
	})
}

func storeKernel(n uint32) soft.Kernel {
	return func(inv *soft.Invocation) error {
		return add(inv, inv.PushUint64(8)+4*uint64(inv.PushUint32(0)), n)
	}
}

func add(inv *soft.Invocation, addr uint64, n uint32) error {
	p, err := inv.Mem(addr, 4)
	if err != nil {
		return err
	}
	tMu.Lock()
	binary.LittleEndian.PutUint32(p, binary.LittleEndian.Uint32(p)+n)
	tMu.Unlock()
	return nil
}

// tPush is the push constant range of test kernels.
var tPush = driver.PushRange{Stages: driver.SCompute | driver.SVertex, Off: 0, Size: 16}

// tIndex is the push constant range of the index.
var tIndex = driver.PushRange{Stages: driver.SCompute, Off: 0, Size: 4}

// newPipelineLayout creates a pipeline layout for test
// kernels.
func newPipelineLayout(t *testing.T) driver.PipelineLayout {
	t.Helper()
	pl, err := tGPU.NewPipelineLayout([]driver.PushRange{tPush})
	if err != nil {
		t.Fatalf("NewPipelineLayout failed: %v", err)
	}
	t.Cleanup(pl.Destroy)
	return pl
}

func shaderCode(t *testing.T) driver.ShaderCode {
	t.Helper()
	code, err := tGPU.NewShaderCode([]byte("dgc"))
	if err != nil {
		t.Fatalf("NewShaderCode failed: %v", err)
	}
	t.Cleanup(code.Destroy)
	return code
}

// newCompute creates a compute pipeline running the test
// kernel fn.
func newCompute(t *testing.T, fn string, layout driver.PipelineLayout) driver.Pipeline {
	t.Helper()
	pl, err := tGPU.NewPipeline(&driver.CompState{
		Func:   driver.ShaderFunc{Code: shaderCode(t), Name: fn},
		Layout: layout,
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	t.Cleanup(pl.Destroy)
	return pl
}

// newCompShader creates a compute shader object running
// the test kernel fn.
func newCompShader(t *testing.T, fn string, layout driver.PipelineLayout) driver.Shader {
	t.Helper()
	sh, err := tGPU.NewShader(&driver.ShaderState{
		Stage:  driver.SCompute,
		Func:   driver.ShaderFunc{Code: shaderCode(t), Name: fn},
		Layout: layout,
	})
	if err != nil {
		t.Fatalf("NewShader failed: %v", err)
	}
	t.Cleanup(sh.Destroy)
	return sh
}

// newBuffer creates a Buffer that is destroyed when the
// test ends.
func newBuffer(t *testing.T, size int64) *Buffer {
	t.Helper()
	b, err := NewBuffer(tGPU, size, driver.UShaderWrite)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	t.Cleanup(b.Destroy)
	return b
}

// newPreprocess creates a PreprocessBuffer that is
// destroyed when the test ends.
func newPreprocess(t *testing.T, info *MemReqsInfo, off int64) *PreprocessBuffer {
	t.Helper()
	p, err := NewPreprocessBuffer(tGPU, info, off)
	if err != nil {
		t.Fatalf("NewPreprocessBuffer failed: %v", err)
	}
	t.Cleanup(p.Destroy)
	return p
}

// newCmdBuffer creates a command buffer that has begun
// recording.
func newCmdBuffer(t *testing.T) driver.DGCCmdBuffer {
	t.Helper()
	cb, err := tGPU.NewCmdBuffer()
	if err != nil {
		t.Fatalf("NewCmdBuffer failed: %v", err)
	}
	t.Cleanup(cb.Destroy)
	if err := cb.Begin(); err != nil {
		t.Fatalf("CmdBuffer.Begin failed: %v", err)
	}
	return cb.(driver.DGCCmdBuffer)
}

// end ends cb and calls SubmitAndWait.
func end(t *testing.T, cb driver.CmdBuffer) {
	t.Helper()
	if err := cb.End(); err != nil {
		t.Fatalf("CmdBuffer.End: unexpected error: %v", err)
	}
	if err := SubmitAndWait(tGPU, cb); err != nil {
		t.Fatalf("SubmitAndWait: unexpected error: %v", err)
	}
}

// addrData returns the push constant data of the output
// address.
func addrData(addr uint64) []byte {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint64(p, addr)
	return p
}

// counts decodes n u32 values from p.
func counts(p []byte, n int) []uint32 {
	s := make([]uint32, n)
	for i := range s {
		s[i] = binary.LittleEndian.Uint32(p[4*i:])
	}
	return s
}

// ones returns n ones.
func ones(n int) []uint32 {
	s := make([]uint32, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// indexLayout builds a layout that writes the index push
// constant and dispatches.
func indexLayout(t *testing.T, usage driver.LayoutUsage, layout driver.PipelineLayout) driver.CmdLayout {
	t.Helper()
	b := NewLayoutBuilder(usage, driver.SCompute, layout)
	b.AddPushConstToken(b.StreamRange(), tIndex)
	b.AddDispatchToken(b.StreamRange())
	l, err := b.Build(tGPU)
	if err != nil {
		t.Fatalf("LayoutBuilder.Build failed: %v", err)
	}
	t.Cleanup(l.Destroy)
	return l
}

// indexStream fills buf with n records for indexLayout,
// each writing its own index and dispatching one
// workgroup.
func indexStream(buf *Buffer, n int) {
	s := buf.Stream(16)
	for i := range n {
		r := s.Record(i)
		r.PutUint32(0, uint32(i))
		r.Put(4, DispatchCmd{1, 1, 1})
	}
}
