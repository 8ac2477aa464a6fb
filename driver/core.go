// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

// GPU is the main interface to an underlying driver
// implementation.
// It is used to create other types and to execute commands.
// A GPU is obtained from a call to Driver.Open.
type GPU interface {
	// Driver returns the Driver that owns the GPU.
	Driver() Driver

	// Commit commits a batch of command buffers to the GPU
	// for execution.
	// Command buffers in a batch execute in order.
	// This method sends the result to ch when all commands
	// complete execution. Command buffers in cb cannot be
	// used for recording until then.
	Commit(cb []CmdBuffer, ch chan<- error)

	// NewCmdBuffer creates a new command buffer.
	NewCmdBuffer() (CmdBuffer, error)

	// NewShaderCode creates a new shader code.
	NewShaderCode(data []byte) (ShaderCode, error)

	// NewPipelineLayout creates a new pipeline layout
	// declaring the given push constant ranges.
	NewPipelineLayout(push []PushRange) (PipelineLayout, error)

	// NewPipeline creates a new pipeline.
	// The state parameter must be a pointer to a GraphState,
	// a pointer to a CompState or a pointer to a RayState.
	NewPipeline(state any) (Pipeline, error)

	// NewShader creates a new shader object.
	// Shader objects are bound individually per stage,
	// as an alternative to pipelines.
	NewShader(state *ShaderState) (Shader, error)

	// NewBuffer creates a new buffer.
	NewBuffer(size int64, visible bool, usg Usage) (Buffer, error)

	// Limits returns the implementation limits.
	// They are immutable for the lifetime of the GPU.
	Limits() Limits

	// Features returns the optional features that the
	// implementation supports.
	// They are immutable for the lifetime of the GPU.
	Features() Features
}

// Destroyer is the interface that wraps the Destroy method.
// Types that implement this interface may allocate external
// memory that is not managed by GC, so Destroy must be
// called explicitly to ensure such memory is deallocated.
type Destroyer interface {
	Destroy()
}

// CmdBuffer is the interface that defines a command buffer.
// Commands are recorded into command buffers and later
// committed to the GPU for execution. Recording is separate
// into logical blocks containing either draw, compute
// or copy commands. Multiple logical blocks can be recorded
// into a single command buffer. The usage is as follows:
// First, call Begin to prepare the command buffer for
// recording. Then, if it succeeds:
//
// To record draw commands:
//  1. call BeginDraw
//  2. call Set* methods to configure graphics state
//  3. call Draw* commands
//  4. repeat 2-3 as needed
//  5. call EndDraw
//
// To record compute commands:
//  1. call BeginWork
//  2. call Set* methods to configure compute state
//  3. call Dispatch commands
//  4. repeat 2-3 as needed
//  5. call EndWork
//
// To record copy commands:
//  1. call BeginBlit
//  2. call Copy*/Fill commands
//  3. call EndBlit
//
// Finally, call End and, if it succeeds, GPU.Commit.
// Note that Begin* commands must not be nested, and
// must always be ended before another call to Begin*
// and prior to the final End call.
// Binding state is not inherited across command buffers.
type CmdBuffer interface {
	Destroyer

	// Begin prepares the command buffer for recording.
	// This method must be called before any command
	// is recorded in the command buffer. It needs to
	// be called again if the command buffer is
	// executed or reset.
	Begin() error

	// BeginDraw begins draw work.
	// If wait is set, draw work only starts when
	// all previous commands recorded in the same
	// command buffer are done executing.
	BeginDraw(wait bool)

	// EndDraw ends the current draw work.
	EndDraw()

	// BeginWork begins compute work.
	// If wait is set, compute work only starts when
	// all previous commands recorded in the same
	// command buffer are done executing.
	// Dispatch commands may run in parallel.
	BeginWork(wait bool)

	// EndWork ends the current compute work.
	EndWork()

	// BeginBlit begins data transfer.
	// If wait is set, data transfer only starts when
	// all previous commands recorded in the same
	// command buffer are done executing.
	BeginBlit(wait bool)

	// EndBlit ends the current data transfer.
	EndBlit()

	// SetPipeline sets the pipeline.
	// There is a separate binding point for each
	// type of pipeline.
	SetPipeline(pl Pipeline)

	// SetShaders binds shader objects to stages.
	// stages[i] is the single stage that sh[i]
	// is bound to. A nil shader unbinds the stage.
	SetShaders(stages []Stage, sh []Shader)

	// SetPushConst updates push constant data.
	// The range [off, off+len(data)) must be contained
	// in the ranges of layout matching stages.
	SetPushConst(layout PipelineLayout, stages Stage, off int, data []byte)

	// SetVertexBuf sets one or more vertex buffers.
	// off must be aligned to 4 bytes.
	SetVertexBuf(start int, buf []Buffer, off []int64)

	// SetIndexBuf sets the index buffer.
	// off must be aligned to 4 bytes.
	SetIndexBuf(format IndexFmt, buf Buffer, off int64)

	// Draw draws primitives.
	// It must only be called during draw work.
	Draw(vertCount, instCount, baseVert, baseInst int)

	// DrawIndexed draws indexed primitives.
	// It must only be called during draw work.
	DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int)

	// Dispatch dispatches compute thread groups.
	// It must only be called during compute work.
	Dispatch(grpCountX, grpCountY, grpCountZ int)

	// CopyBuffer copies data between buffers.
	// It must only be called during data transfer.
	CopyBuffer(param *BufferCopy)

	// Fill fills a buffer range with copies of
	// a byte value.
	// It must only be called during data transfer.
	// off and size must be aligned to 4 bytes.
	Fill(buf Buffer, off int64, value byte, size int64)

	// Barrier inserts a number of global barriers
	// in the command buffer.
	Barrier(b []Barrier)

	// End ends command recording and prepares the
	// command buffer for execution.
	// New recordings are not allowed until the
	// command buffer is executed or reset.
	// Upon failure, the command buffer is reset.
	End() error

	// Reset discards all recorded commands from the
	// command buffer.
	Reset() error
}

// BufferCopy describes the parameters of a copy command
// that copies data from one buffer to another.
type BufferCopy struct {
	From    Buffer
	FromOff int64
	To      Buffer
	ToOff   int64
	Size    int64
}

// Sync is the type of a synchronization scope.
type Sync int

// Synchronization scopes.
const (
	SVertexInput Sync = 1 << iota
	SVertexShading
	SFragmentShading
	SComputeShading
	SDrawIndirect
	SCommandPreprocess
	SCopy
	SAll
	SNone Sync = 0
)

// Access is the type of a memory access scope.
type Access int

// Memory access scopes.
const (
	AVertexBufRead Access = 1 << iota
	AIndexBufRead
	AIndirectRead
	APreprocessRead
	APreprocessWrite
	ACopyRead
	ACopyWrite
	AShaderRead
	AShaderWrite
	AAnyRead
	AAnyWrite
	ANone Access = 0
)

// Barrier represents a synchronization barrier.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// ShaderCode is the interface that defines a shader binary
// for execution in a programmable pipeline stage.
type ShaderCode interface {
	Destroyer
}

// ShaderFunc specifies a function within a shader binary.
type ShaderFunc struct {
	Code ShaderCode
	Name string
}

// Stage is a mask of programmable stages.
type Stage int

// Stages.
const (
	SVertex Stage = 1 << iota
	SFragment
	SCompute
	STask
	SMesh
	SRayGen
	SMiss
	SClosestHit
)

// Count returns the number of stages set in s.
func (s Stage) Count() (n int) {
	for x := uint(s); x != 0; x &= x - 1 {
		n++
	}
	return
}

// Each returns the single stages set in s,
// in increasing bit order.
func (s Stage) Each() []Stage {
	var st []Stage
	for x := SVertex; x <= SClosestHit; x <<= 1 {
		if s&x != 0 {
			st = append(st, x)
		}
	}
	return st
}

// PushRange describes a range of push constant data
// accessible by a set of stages.
// Off and Size must be aligned to 4 bytes.
type PushRange struct {
	Stages Stage
	Off    uint32
	Size   uint32
}

// Contains returns whether r fully contains x and is
// accessible by every stage that x is.
func (r PushRange) Contains(x PushRange) bool {
	return r.Stages&x.Stages == x.Stages &&
		x.Off >= r.Off &&
		x.Off+x.Size <= r.Off+r.Size
}

// PipelineLayout is the interface that defines the
// push constant interface of pipelines and shaders.
type PipelineLayout interface {
	Destroyer

	// Push returns the push constant ranges of the
	// layout. The caller must not modify it.
	Push() []PushRange
}

// VertexIn describes a vertex input.
// Consecutive vertices are fetched Stride bytes apart.
// Each vertex input represents a separate buffer binding.
// The meaning of the Nr and Name fields is shader-specific.
type VertexIn struct {
	Stride int
	Nr     int
	Name   string
}

// Topology is the type of primitive topologies,
// which determines how vertex data is assembled.
type Topology int

// Primitive topologies.
const (
	TPoint Topology = iota
	TLine
	TLnStrip
	TTriangle
	TTriStrip
)

// IndexFmt describes the format of index buffer data.
type IndexFmt int

// Index formats.
const (
	Index16 IndexFmt = 2
	Index32 IndexFmt = 4
)

// GraphState defines the programmable stages of a
// graphics pipeline.
// If MeshFunc is set, the pipeline is a mesh pipeline
// and VertFunc is ignored.
type GraphState struct {
	VertFunc ShaderFunc
	FragFunc ShaderFunc
	TaskFunc ShaderFunc
	MeshFunc ShaderFunc
	Layout   PipelineLayout
	Input    []VertexIn
	Topology Topology
}

// CompState defines the state of a compute pipeline.
// Compute pipelines are created from compute states.
// The state is comprised of a single compute shader and a
// pipeline layout describing its push constant interface.
type CompState struct {
	Func   ShaderFunc
	Layout PipelineLayout
}

// RayState defines the state of a ray tracing pipeline.
type RayState struct {
	RayGen     ShaderFunc
	Miss       ShaderFunc
	ClosestHit ShaderFunc
	Layout     PipelineLayout
}

// Pipeline is the interface that defines a GPU pipeline.
type Pipeline interface {
	Destroyer
}

// ShaderState defines the state of a shader object.
// Stage must be a single stage.
type ShaderState struct {
	Stage  Stage
	Func   ShaderFunc
	Layout PipelineLayout
}

// Shader is the interface that defines a shader object.
type Shader interface {
	Destroyer

	// Stage returns the stage of the shader.
	Stage() Stage
}

// Usage is a mask indicating valid uses for a resource.
type Usage int

// Usage flags for Buffer.
const (
	// The buffer can be read in shaders.
	UShaderRead Usage = 1 << iota
	// The buffer can be written in shaders.
	UShaderWrite
	// The buffer can provide constant data for shaders.
	UShaderConst
	// The buffer can provide vertex data for draw calls.
	UVertexData
	// The buffer can provide index data for draw calls.
	UIndexData
	// The buffer can provide indirect command data.
	UIndirect
	// The buffer can be used for generated command
	// preprocessing.
	UPreprocess
	// The buffer has a device address.
	UDeviceAddr
	// The buffer can be used as copy source.
	UCopySrc
	// The buffer can be used as copy destination.
	UCopyDst
	// The buffer can be used for any purpose.
	UGeneric Usage = 1<<iota - 1
)

// Buffer is the interface that defines a GPU buffer.
// The size of the buffer is fixed. When a larger buffer
// is necessary, a new one must be created and the data
// must be copied explicitly.
type Buffer interface {
	Destroyer

	// Visible returns whether the buffer is host visible.
	// Non-visible memory cannot be accessed by the CPU.
	Visible() bool

	// Bytes returns a slice of length Cap referring to the
	// underlying data. If the buffer is not host visible,
	// it returns nil instead.
	// The slice is valid for the lifetime of the buffer.
	Bytes() []byte

	// Cap returns the capacity of the buffer in bytes,
	// which may be greater than the size requested during
	// buffer creation.
	// This value is immutable.
	Cap() int64

	// Addr returns the device address of the buffer.
	// It is zero unless the buffer was created with
	// UDeviceAddr usage.
	Addr() uint64
}

// Limits describes implementation limits.
// These may vary across drivers and devices.
type Limits struct {
	// Maximum size of push constant data, in bytes.
	MaxPushConst int
	// Maximum number of vertex inputs.
	MaxVertexIn int
	// Maximum dispatch count. It also bounds the
	// workgroup counts of mesh tasks draws.
	MaxDispatch [3]int
	// Maximum number of invocations of a single draw,
	// dispatch, mesh tasks draw or ray launch.
	MaxInvocations int64
	// Maximum draw count of a multi-draw.
	MaxDrawCount int
	// Maximum buffer size.
	MaxBuffer int64
}

// Features describes optional features.
type Features struct {
	// Device generated commands (DGCGPU/DGCCmdBuffer).
	DGC bool
	// Shader objects (GPU.NewShader).
	ShaderObject bool
	// Task/mesh shading.
	MeshShader bool
	// Ray tracing pipelines.
	RayTracing bool
}
