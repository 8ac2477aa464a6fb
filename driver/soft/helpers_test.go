// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"encoding/binary"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// Helpers for testing.

// tDrv is the driver managed by TestMain.
var tDrv = New(nil)

// TestMain runs the tests between calls to tDrv.Open and tDrv.Close.
func TestMain(m *testing.M) {
	if _, err := tDrv.Open(); err != nil {
		log.Fatalf("fatal: Driver.Open failed: %v", err)
	}
	c := m.Run()
	tDrv.Close()
	os.Exit(c)
}

// tMu serializes the read-modify-write of test kernels.
var tMu sync.Mutex

// Test kernels.
// Push constant layout: u32 index at 0, u64 address at 8.
func init() {
	// count adds 1 to the u32 at address+4*index.
	// count16 adds 16 instead.
	AddKernel("test", "count", countKernel(1))
	AddKernel("test", "count16", countKernel(16))
	// vertex increments the u32 at address+4*vertex.
	AddKernel("test", "vertex", func(inv *Invocation) error {
		return inc(inv, inv.Vertex, 1)
	})
	// vertexBuf increments the u32 at address+4*v, where
	// v is the vertex's u32 in vertex buffer 0.
	AddKernel("test", "vertexBuf", func(inv *Invocation) error {
		addr, stride, ok := inv.VertexBuf(0)
		if !ok {
			return errors.New("no vertex buffer")
		}
		p, err := inv.Mem(addr+uint64(stride)*uint64(inv.Vertex), 4)
		if err != nil {
			return err
		}
		return inc(inv, binary.LittleEndian.Uint32(p), 1)
	})
	// mesh increments the u32 at address+4*(x+2*draw).
	AddKernel("test", "mesh", func(inv *Invocation) error {
		return inc(inv, inv.ID[0]+2*inv.DrawIndex, 1)
	})
	// raygen increments the u32 at address+4*x.
	AddKernel("test", "raygen", func(inv *Invocation) error {
		return inc(inv, inv.ID[0], 1)
	})
	AddKernel("test", "fail", func(*Invocation) error {
		return errors.New("kernel failure")
	})
}

func countKernel(n uint32) Kernel {
	return func(inv *Invocation) error { return inc(inv, inv.PushUint32(0), n) }
}

// inc adds n to the u32 at address+4*idx.
func inc(inv *Invocation, idx, n uint32) error {
	p, err := inv.Mem(inv.PushUint64(8)+4*uint64(idx), 4)
	if err != nil {
		return err
	}
	tMu.Lock()
	binary.LittleEndian.PutUint32(p, binary.LittleEndian.Uint32(p)+n)
	tMu.Unlock()
	return nil
}

// tPush is the push constant range of test kernels.
var tPush = driver.PushRange{Stages: driver.SVertex | driver.SCompute | driver.SMesh | driver.SRayGen, Off: 0, Size: 16}

// newLayout creates a pipeline layout for test kernels.
func newLayout(t *testing.T) driver.PipelineLayout {
	t.Helper()
	pl, err := tDrv.NewPipelineLayout([]driver.PushRange{tPush})
	if err != nil {
		t.Fatalf("NewPipelineLayout failed: %v", err)
	}
	return pl
}

// newCompute creates a compute pipeline running the
// test kernel fn.
func newCompute(t *testing.T, fn string, layout driver.PipelineLayout) driver.Pipeline {
	t.Helper()
	code, err := tDrv.NewShaderCode([]byte("test"))
	if err != nil {
		t.Fatalf("NewShaderCode failed: %v", err)
	}
	pl, err := tDrv.NewPipeline(&driver.CompState{
		Func:   driver.ShaderFunc{Code: code, Name: fn},
		Layout: layout,
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return pl
}

// newGraphics creates a graphics pipeline whose vertex
// function is the test kernel fn.
func newGraphics(t *testing.T, fn string, layout driver.PipelineLayout) driver.Pipeline {
	t.Helper()
	code, err := tDrv.NewShaderCode([]byte("test"))
	if err != nil {
		t.Fatalf("NewShaderCode failed: %v", err)
	}
	pl, err := tDrv.NewPipeline(&driver.GraphState{
		VertFunc: driver.ShaderFunc{Code: code, Name: fn},
		Layout:   layout,
		Topology: driver.TTriangle,
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return pl
}

// newMesh creates a mesh pipeline whose mesh function
// is the test kernel "mesh".
func newMesh(t *testing.T, layout driver.PipelineLayout) driver.Pipeline {
	t.Helper()
	code, err := tDrv.NewShaderCode([]byte("test"))
	if err != nil {
		t.Fatalf("NewShaderCode failed: %v", err)
	}
	pl, err := tDrv.NewPipeline(&driver.GraphState{
		MeshFunc: driver.ShaderFunc{Code: code, Name: "mesh"},
		Layout:   layout,
		Topology: driver.TTriangle,
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return pl
}

// newRay creates a ray tracing pipeline whose ray
// generation function is the test kernel "raygen".
func newRay(t *testing.T, layout driver.PipelineLayout) driver.Pipeline {
	t.Helper()
	code, err := tDrv.NewShaderCode([]byte("test"))
	if err != nil {
		t.Fatalf("NewShaderCode failed: %v", err)
	}
	pl, err := tDrv.NewPipeline(&driver.RayState{
		RayGen: driver.ShaderFunc{Code: code, Name: "raygen"},
		Layout: layout,
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return pl
}

// newBuffer creates a host visible buffer that has a
// device address.
func newBuffer(t *testing.T, size int64) driver.Buffer {
	t.Helper()
	b, err := tDrv.NewBuffer(size, true, driver.UGeneric)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	t.Cleanup(b.Destroy)
	return b
}

// pushData returns push constant data for test kernels.
func pushData(idx uint32, addr uint64) []byte {
	p := make([]byte, 16)
	binary.LittleEndian.PutUint32(p, idx)
	binary.LittleEndian.PutUint64(p[8:], addr)
	return p
}

// commit commits cb and waits for its completion.
func commit(cb driver.CmdBuffer) error {
	ch := make(chan error, 1)
	tDrv.Commit([]driver.CmdBuffer{cb}, ch)
	return <-ch
}

// counts decodes n u32 values from p.
func counts(p []byte, n int) []uint32 {
	s := make([]uint32, n)
	for i := range s {
		s[i] = binary.LittleEndian.Uint32(p[4*i:])
	}
	return s
}
