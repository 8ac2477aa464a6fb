// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"encoding/binary"
	"math/bits"
	"sync"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// Kernel is the type of a shader function.
// Kernels may be called concurrently; they must only
// write to memory that no other invocation accesses.
type Kernel func(inv *Invocation) error

// Invocation describes a single kernel invocation.
type Invocation struct {
	// Workgroup ID for compute, task and mesh kernels.
	// Launch ID for ray generation kernels.
	ID [3]uint32
	// Vertex and instance indices for vertex kernels.
	Vertex   uint32
	Instance uint32
	// Index of the draw within a multi-draw.
	DrawIndex uint32
	// Push constant data. It must not be modified.
	Push []byte

	mem    *memory
	vbuf   []vertexBinding
	layout []driver.VertexIn
}

// PushUint32 returns the uint32 at off in the push
// constant data.
func (inv *Invocation) PushUint32(off int) uint32 {
	return binary.LittleEndian.Uint32(inv.Push[off:])
}

// PushUint64 returns the uint64 at off in the push
// constant data.
func (inv *Invocation) PushUint64(off int) uint64 {
	return binary.LittleEndian.Uint64(inv.Push[off:])
}

// Mem returns the n bytes of device memory at addr.
func (inv *Invocation) Mem(addr uint64, n int64) ([]byte, error) {
	return inv.mem.slice(addr, n)
}

// VertexBuf returns the address and stride of the
// vertex buffer bound to binding.
func (inv *Invocation) VertexBuf(binding int) (addr uint64, stride uint32, ok bool) {
	if binding < 0 || binding >= len(inv.vbuf) || !inv.vbuf[binding].set {
		return
	}
	vb := &inv.vbuf[binding]
	stride = vb.stride
	if stride == 0 {
		for i := range inv.layout {
			if inv.layout[i].Nr == binding {
				stride = uint32(inv.layout[i].Stride)
				break
			}
		}
	}
	return vb.addr, stride, true
}

var kernels = struct {
	sync.RWMutex
	m map[string]Kernel
}{m: make(map[string]Kernel)}

// AddKernel registers a kernel.
// Shader code created from the bytes of module exposes
// it under name (see driver.ShaderFunc).
// A kernel with the same module and name is replaced.
func AddKernel(module, name string, k Kernel) {
	kernels.Lock()
	defer kernels.Unlock()
	kernels.m[module+"\x00"+name] = k
}

var (
	errNoKernel = errors.New("soft: kernel not found")
	errShader   = errors.New("soft: invalid shader")
)

// shaderCode implements driver.ShaderCode.
type shaderCode struct {
	module string
}

// NewShaderCode creates a new shader code.
// data is the name of a kernel module.
func (d *Driver) NewShaderCode(data []byte) (driver.ShaderCode, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(errShader, "empty module name")
	}
	return &shaderCode{string(data)}, nil
}

// Destroy destroys the shader code.
func (c *shaderCode) Destroy() {}

// resolve returns the kernel that fn refers to.
// It returns nil, nil if fn is the zero value.
func resolve(fn *driver.ShaderFunc) (Kernel, error) {
	if fn.Code == nil {
		return nil, nil
	}
	code, ok := fn.Code.(*shaderCode)
	if !ok {
		return nil, errors.Wrap(errShader, "foreign shader code")
	}
	kernels.RLock()
	defer kernels.RUnlock()
	k, ok := kernels.m[code.module+"\x00"+fn.Name]
	if !ok {
		return nil, errors.Wrapf(errNoKernel, "%s.%s", code.module, fn.Name)
	}
	return k, nil
}

// pipelineLayout implements driver.PipelineLayout.
type pipelineLayout struct {
	push []driver.PushRange
}

var errPushRange = errors.New("soft: invalid push constant range")

// NewPipelineLayout creates a new pipeline layout.
func (d *Driver) NewPipelineLayout(push []driver.PushRange) (driver.PipelineLayout, error) {
	for _, r := range push {
		if r.Size == 0 || r.Off%4 != 0 || r.Size%4 != 0 || r.Stages == 0 {
			return nil, errors.Wrapf(errPushRange, "%+v", r)
		}
		if int(r.Off+r.Size) > d.cfg.Limits.MaxPushConst {
			return nil, errors.Wrapf(driver.ErrLimit, "push constant range %+v", r)
		}
	}
	return &pipelineLayout{append([]driver.PushRange(nil), push...)}, nil
}

// Push returns the push constant ranges.
func (l *pipelineLayout) Push() []driver.PushRange { return l.push }

// Destroy destroys the pipeline layout.
func (l *pipelineLayout) Destroy() {}

// contains returns whether data written at off for stages
// is covered by the ranges of l.
func (l *pipelineLayout) contains(stages driver.Stage, off, size uint32) bool {
	x := driver.PushRange{Stages: stages, Off: off, Size: size}
	for _, r := range l.push {
		if r.Contains(x) {
			return true
		}
	}
	return false
}

// stageIndex returns the bit index of the single stage s.
func stageIndex(s driver.Stage) int { return bits.TrailingZeros(uint(s)) }

// nStage is the number of stages.
const nStage = 8

// shader implements driver.Shader.
type shader struct {
	stage  driver.Stage
	k      Kernel
	layout *pipelineLayout
}

// NewShader creates a new shader object.
func (d *Driver) NewShader(state *driver.ShaderState) (driver.Shader, error) {
	if !d.cfg.Features.ShaderObject {
		return nil, errors.Wrap(driver.ErrNotSupported, "shader objects")
	}
	if state.Stage.Count() != 1 {
		return nil, errors.Wrapf(errShader, "stage mask %#x", state.Stage)
	}
	k, err := resolve(&state.Func)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, errors.Wrap(errShader, "no function")
	}
	sh := &shader{stage: state.Stage, k: k}
	if state.Layout != nil {
		sh.layout = state.Layout.(*pipelineLayout)
	}
	return sh, nil
}

// Stage returns the shader stage.
func (s *shader) Stage() driver.Stage { return s.stage }

// Destroy destroys the shader.
func (s *shader) Destroy() {}
