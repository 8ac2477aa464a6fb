// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

// DGCGPU is the interface that a GPU implements when it
// supports device generated commands.
// With device generated commands, the GPU reads a stream
// of fixed-stride records from an indirect buffer and
// converts them into state changes and work (draws,
// dispatches, ray tracing) without CPU intervention.
// The format of each record is described by a CmdLayout.
type DGCGPU interface {
	GPU

	// DGCProps returns the device generated commands
	// properties of the implementation.
	DGCProps() DGCProps

	// NewCmdLayout creates a new command layout.
	// Device limits are validated here.
	NewCmdLayout(info *CmdLayoutInfo) (CmdLayout, error)

	// NewExecSet creates a new indirect execution set.
	NewExecSet(info *ExecSetInfo) (ExecSet, error)

	// GenCmdsMemReqs queries the memory requirements of
	// a preprocess buffer.
	// The result is authoritative: it cannot be computed
	// client-side, and it must be queried again whenever
	// any parameter changes. A Size of zero means that no
	// preprocess buffer is needed.
	GenCmdsMemReqs(info *MemReqsInfo) (MemReqs, error)
}

// DGCCmdBuffer is the interface that a CmdBuffer
// implements when its GPU supports device generated
// commands.
type DGCCmdBuffer interface {
	CmdBuffer

	// PreprocessGenCmds records a preprocessing step that
	// writes a transformed version of the indirect stream
	// into info's preprocess buffer.
	// state is a command buffer in the recording state
	// whose bindings are used for preprocessing.
	// It must not be called during draw work.
	PreprocessGenCmds(info *GenCmdsInfo, state CmdBuffer)

	// ExecuteGenCmds records the execution of generated
	// commands.
	// preprocessed indicates whether PreprocessGenCmds was
	// executed for the same info, which is required if
	// the layout was created with LExplicitPreprocess.
	// Layouts whose work token is a draw must be executed
	// during draw work, others during compute work.
	ExecuteGenCmds(preprocessed bool, info *GenCmdsInfo)
}

// TokenType is the type of an indirect command token.
type TokenType int

// Token types.
// Only the last group (TDraw and onwards) provokes work.
const (
	TExecSet TokenType = iota
	TPushConst
	TSeqIndex
	TIndexBuf
	TVertexBuf
	TDraw
	TDrawIndexed
	TDrawCount
	TDrawIndexedCount
	TDispatch
	TDrawMeshTasks
	TDrawMeshTasksCount
	TTraceRays2
)

// String implements fmt.Stringer.
func (t TokenType) String() string {
	switch t {
	case TExecSet:
		return "ExecSet"
	case TPushConst:
		return "PushConst"
	case TSeqIndex:
		return "SeqIndex"
	case TIndexBuf:
		return "IndexBuf"
	case TVertexBuf:
		return "VertexBuf"
	case TDraw:
		return "Draw"
	case TDrawIndexed:
		return "DrawIndexed"
	case TDrawCount:
		return "DrawCount"
	case TDrawIndexedCount:
		return "DrawIndexedCount"
	case TDispatch:
		return "Dispatch"
	case TDrawMeshTasks:
		return "DrawMeshTasks"
	case TDrawMeshTasksCount:
		return "DrawMeshTasksCount"
	case TTraceRays2:
		return "TraceRays2"
	}
	return "Invalid"
}

// IsWork returns whether t provokes work.
func (t TokenType) IsWork() bool { return t >= TDraw && t <= TTraceRays2 }

// IsDraw returns whether t is a graphics work token.
func (t TokenType) IsDraw() bool {
	switch t {
	case TDraw, TDrawIndexed, TDrawCount, TDrawIndexedCount, TDrawMeshTasks, TDrawMeshTasksCount:
		return true
	}
	return false
}

// Sizes of the argument structures read from indirect
// records, in bytes.
const (
	ExecSetIndexSize   = 4
	IndexBufCmdSize    = 16 // addr u64, size u32, type u32
	VertexBufCmdSize   = 16 // addr u64, size u32, stride u32
	DrawCmdSize        = 16 // vertCount, instCount, baseVert, baseInst
	DrawIndexedCmdSize = 20 // idxCount, instCount, baseIdx, vertOff, baseInst
	DrawCountCmdSize   = 16 // addr u64, stride u32, count u32
	DispatchCmdSize    = 12 // x, y, z
	MeshTasksCmdSize   = 12 // x, y, z
	TraceRays2CmdSize  = 104
)

// InputMode is a mask of index buffer input modes.
type InputMode int

// Input modes.
const (
	// Index type 0 for 16-bit indices and 1 for
	// 32-bit indices.
	IModeVulkan InputMode = 1 << iota
	// Index type given as a DXGI format (DXGIR16Uint
	// or DXGIR32Uint).
	IModeDXGI
)

// DXGI index formats.
const (
	DXGIR32Uint = 42
	DXGIR16Uint = 57
)

// ExecSetType is the type of elements of an
// indirect execution set.
type ExecSetType int

// Execution set types.
const (
	ESPipelines ExecSetType = iota
	ESShaders
)

// Token describes one token of a command layout.
// Type selects which of the remaining fields are
// meaningful.
type Token struct {
	Type TokenType
	// Byte offset of the token's argument in a record.
	Off uint32
	// TPushConst and TSeqIndex.
	Push PushRange
	// TVertexBuf.
	Binding uint32
	// TIndexBuf.
	Mode InputMode
	// TExecSet.
	SetType   ExecSetType
	SetStages Stage
}

// Size returns the number of bytes that t reads from
// a record.
func (t *Token) Size() uint32 {
	switch t.Type {
	case TExecSet:
		if t.SetType == ESPipelines {
			return ExecSetIndexSize
		}
		return ExecSetIndexSize * uint32(t.SetStages.Count())
	case TPushConst, TSeqIndex:
		return t.Push.Size
	case TIndexBuf:
		return IndexBufCmdSize
	case TVertexBuf:
		return VertexBufCmdSize
	case TDraw:
		return DrawCmdSize
	case TDrawIndexed:
		return DrawIndexedCmdSize
	case TDrawCount, TDrawIndexedCount, TDrawMeshTasksCount:
		return DrawCountCmdSize
	case TDispatch:
		return DispatchCmdSize
	case TDrawMeshTasks:
		return MeshTasksCmdSize
	case TTraceRays2:
		return TraceRays2CmdSize
	}
	return 0
}

// LayoutUsage is a mask of command layout usages.
type LayoutUsage int

// Layout usages.
const (
	// PreprocessGenCmds must be called prior to execution.
	LExplicitPreprocess LayoutUsage = 1 << iota
	// Sequences may execute in any order.
	LUnorderedSequences
)

// CmdLayoutInfo describes a command layout.
type CmdLayoutInfo struct {
	Usage  LayoutUsage
	Stages Stage
	// Byte stride of consecutive records.
	Stride uint32
	// Required if any token updates push constants.
	Layout PipelineLayout
	Tokens []Token
}

// CmdLayout is the interface that defines an immutable
// indirect command layout.
type CmdLayout interface {
	Destroyer

	// Info returns the info the layout was created with.
	// The caller must not modify it.
	Info() *CmdLayoutInfo
}

// ExecSetInfo describes an indirect execution set.
// If Type is ESPipelines, InitialPipeline is stored at
// index 0. If Type is ESShaders, InitialShaders[i] is
// stored at index i.
type ExecSetInfo struct {
	Type            ExecSetType
	MaxCount        int
	InitialPipeline Pipeline
	InitialShaders  []Shader
	// Layouts of the initial shaders (ESShaders only).
	ShaderLayouts []PipelineLayout
	Push          []PushRange
}

// PipelineWrite describes an update of an ESPipelines
// execution set element.
type PipelineWrite struct {
	Index    int
	Pipeline Pipeline
}

// ShaderWrite describes an update of an ESShaders
// execution set element.
type ShaderWrite struct {
	Index  int
	Shader Shader
}

// ExecSet is the interface that defines an indexed,
// updatable set of pipelines or shader objects that
// generated commands can select from.
type ExecSet interface {
	Destroyer

	// Type returns the type of the set's elements.
	Type() ExecSetType

	// UpdatePipelines writes pipelines into the set.
	// It must not be called while commands that use
	// the set are executing.
	UpdatePipelines(w []PipelineWrite) error

	// UpdateShaders writes shader objects into the set.
	// It must not be called while commands that use
	// the set are executing.
	UpdateShaders(w []ShaderWrite) error
}

// MemReqsInfo describes the parameters of a preprocess
// buffer memory requirements query.
// If ExecSet is nil, exactly one of Pipeline and Shaders
// must be set, identifying the state that will be bound
// during execution.
type MemReqsInfo struct {
	ExecSet      ExecSet
	Layout       CmdLayout
	MaxSeqCount  uint32
	MaxDrawCount uint32
	Pipeline     Pipeline
	Shaders      []Shader
}

// MemReqs describes memory requirements.
// Align is a power of two. Each bit set in TypeBits
// identifies a memory type that can back the memory.
type MemReqs struct {
	Size     int64
	Align    int64
	TypeBits uint32
}

// BufferMemType is the bit in MemReqs.TypeBits of the
// memory that GPU.NewBuffer allocates from.
const BufferMemType uint32 = 1 << 0

// GenCmdsInfo describes the parameters of generated
// command preprocessing and execution.
// The ExecSet/Pipeline/Shaders rules are the same as
// for MemReqsInfo.
type GenCmdsInfo struct {
	Stages         Stage
	ExecSet        ExecSet
	Layout         CmdLayout
	IndirectAddr   uint64
	IndirectSize   int64
	PreprocessAddr uint64
	PreprocessSize int64
	MaxSeqCount    uint32
	// Optional address of a uint32 sequence count.
	SeqCountAddr uint64
	MaxDrawCount uint32
	Pipeline     Pipeline
	Shaders      []Shader
}

// DGCProps describes device generated commands
// properties.
type DGCProps struct {
	MaxPipelineCount     int
	MaxShaderObjectCount int
	MaxSeqCount          int
	MaxTokenCount        int
	MaxTokenOffset       int
	MaxStride            int
	InputModes           InputMode
	// Stages usable in command layouts.
	Stages Stage
	// Stages that can be bound through ESPipelines sets.
	StagesPipelineBinding Stage
	// Stages that can be bound through ESShaders sets.
	StagesShaderBinding Stage
	// Whether draw count tokens are supported.
	DrawCount bool
}
