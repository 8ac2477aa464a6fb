// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"log/slog"
	"slices"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// LayoutBuilder accumulates the tokens of an indirect
// command layout.
// Tokens execute in the order they are added, which
// need not match the order of their offsets.
// A LayoutBuilder must not be used concurrently.
type LayoutBuilder struct {
	usage  driver.LayoutUsage
	stages driver.Stage
	layout driver.PipelineLayout
	tokens []driver.Token
	// Zero unless set explicitly.
	stride uint32
}

// NewLayoutBuilder creates a new LayoutBuilder.
// layout is required if push constant or sequence index
// tokens are added.
func NewLayoutBuilder(usage driver.LayoutUsage, stages driver.Stage, layout driver.PipelineLayout) *LayoutBuilder {
	return &LayoutBuilder{
		usage:  usage,
		stages: stages,
		layout: layout,
	}
}

func (b *LayoutBuilder) add(t driver.Token) { b.tokens = append(b.tokens, t) }

// AddPushConstToken adds a token that updates the push
// constants in rng with rng.Size bytes read from the
// record at off.
func (b *LayoutBuilder) AddPushConstToken(off uint32, rng driver.PushRange) {
	b.add(driver.Token{Type: driver.TPushConst, Off: off, Push: rng})
}

// AddSeqIndexToken adds a token that writes the index of
// the sequence being processed into the push constants
// in rng. rng.Size must be 4.
func (b *LayoutBuilder) AddSeqIndexToken(off uint32, rng driver.PushRange) {
	b.add(driver.Token{Type: driver.TSeqIndex, Off: off, Push: rng})
}

// AddVertexBufToken adds a token that binds the vertex
// buffer described by a BindVertexBufCmd at off.
func (b *LayoutBuilder) AddVertexBufToken(off, binding uint32) {
	b.add(driver.Token{Type: driver.TVertexBuf, Off: off, Binding: binding})
}

// AddIndexBufToken adds a token that binds the index
// buffer described by a BindIndexBufCmd at off.
// mode must be a single input mode.
func (b *LayoutBuilder) AddIndexBufToken(off uint32, mode driver.InputMode) {
	b.add(driver.Token{Type: driver.TIndexBuf, Off: off, Mode: mode})
}

// AddExecSetToken adds a token that selects elements of
// the execution set.
// For ESPipelines it reads one index. For ESShaders it
// reads one index per stage in stages, in increasing
// stage bit order.
func (b *LayoutBuilder) AddExecSetToken(off uint32, typ driver.ExecSetType, stages driver.Stage) {
	b.add(driver.Token{Type: driver.TExecSet, Off: off, SetType: typ, SetStages: stages})
}

// AddCompPipelineToken is a shortcut for selecting a
// compute pipeline.
func (b *LayoutBuilder) AddCompPipelineToken(off uint32) {
	b.AddExecSetToken(off, driver.ESPipelines, driver.SCompute)
}

// AddCompShaderToken is a shortcut for selecting a
// compute shader object.
func (b *LayoutBuilder) AddCompShaderToken(off uint32) {
	b.AddExecSetToken(off, driver.ESShaders, driver.SCompute)
}

// AddDispatchToken adds a dispatch token (DispatchCmd).
func (b *LayoutBuilder) AddDispatchToken(off uint32) {
	b.add(driver.Token{Type: driver.TDispatch, Off: off})
}

// AddDrawToken adds a draw token (DrawCmd).
func (b *LayoutBuilder) AddDrawToken(off uint32) {
	b.add(driver.Token{Type: driver.TDraw, Off: off})
}

// AddDrawIndexedToken adds an indexed draw token
// (DrawIndexedCmd).
func (b *LayoutBuilder) AddDrawIndexedToken(off uint32) {
	b.add(driver.Token{Type: driver.TDrawIndexed, Off: off})
}

// AddDrawCountToken adds a multi-draw token
// (DrawCountCmd referring to DrawCmds).
func (b *LayoutBuilder) AddDrawCountToken(off uint32) {
	b.add(driver.Token{Type: driver.TDrawCount, Off: off})
}

// AddDrawIndexedCountToken adds an indexed multi-draw
// token (DrawCountCmd referring to DrawIndexedCmds).
func (b *LayoutBuilder) AddDrawIndexedCountToken(off uint32) {
	b.add(driver.Token{Type: driver.TDrawIndexedCount, Off: off})
}

// AddDrawMeshTasksToken adds a mesh tasks token
// (DrawMeshTasksCmd).
func (b *LayoutBuilder) AddDrawMeshTasksToken(off uint32) {
	b.add(driver.Token{Type: driver.TDrawMeshTasks, Off: off})
}

// AddDrawMeshTasksCountToken adds a mesh tasks multi-draw
// token (DrawCountCmd referring to DrawMeshTasksCmds).
func (b *LayoutBuilder) AddDrawMeshTasksCountToken(off uint32) {
	b.add(driver.Token{Type: driver.TDrawMeshTasksCount, Off: off})
}

// AddTraceRays2Token adds a ray tracing token
// (TraceRays2Cmd).
func (b *LayoutBuilder) AddTraceRays2Token(off uint32) {
	b.add(driver.Token{Type: driver.TTraceRays2, Off: off})
}

// StreamRange returns the maximum offset plus size of
// the tokens added so far.
// It can be used as the offset of the next token.
func (b *LayoutBuilder) StreamRange() (n uint32) {
	for i := range b.tokens {
		n = max(n, b.tokens[i].Off+b.tokens[i].Size())
	}
	return
}

// SetStreamStride sets the stride of the stream records
// explicitly. Setting it to zero restores the default.
func (b *LayoutBuilder) SetStreamStride(stride uint32) { b.stride = stride }

// StreamStride returns the stride of the stream records.
// Unless set explicitly, it is StreamRange rounded up
// to StrideAlign.
func (b *LayoutBuilder) StreamStride() uint32 {
	if b.stride != 0 {
		return b.stride
	}
	return roundUp(b.StreamRange(), StrideAlign)
}

// Tokens returns a copy of the tokens in the order they
// were added.
func (b *LayoutBuilder) Tokens() []driver.Token { return slices.Clone(b.tokens) }

// Validate checks the tokens and stride.
// Device limits are not checked here.
func (b *LayoutBuilder) Validate() error {
	if len(b.tokens) == 0 {
		return ErrNoTokens
	}
	for i := range b.tokens {
		if b.tokens[i].Type.IsWork() != (i == len(b.tokens)-1) {
			return errors.Wrapf(ErrWorkToken, "token %d (%s)", i, b.tokens[i].Type)
		}
	}
	stride := b.StreamStride()
	if stride == 0 || stride%StrideAlign != 0 {
		return errors.Wrapf(ErrStride, "stride %d not a multiple of %d", stride, StrideAlign)
	}
	if r := b.StreamRange(); stride < r {
		return errors.Wrapf(ErrStride, "stride %d smaller than range %d", stride, r)
	}
	for i := range b.tokens {
		t := &b.tokens[i]
		if t.Off%StrideAlign != 0 {
			return errors.Wrapf(ErrAlign, "token %d (%s) offset %d", i, t.Type, t.Off)
		}
		switch t.Type {
		case driver.TPushConst, driver.TSeqIndex:
			if b.layout == nil {
				return errors.Wrapf(ErrNoPipelineLayout, "token %d (%s)", i, t.Type)
			}
			if t.Type == driver.TSeqIndex && t.Push.Size != 4 {
				return errors.Wrapf(ErrPushRange, "token %d (%s) size %d", i, t.Type, t.Push.Size)
			}
			if !containedIn(t.Push, b.layout.Push()) {
				return errors.Wrapf(ErrPushRange, "token %d (%s) %+v", i, t.Type, t.Push)
			}
		}
	}
	return b.checkOverlap()
}

func containedIn(x driver.PushRange, push []driver.PushRange) bool {
	for _, r := range push {
		if r.Contains(x) {
			return true
		}
	}
	return false
}

// checkOverlap fails if the record ranges of any two
// tokens intersect.
func (b *LayoutBuilder) checkOverlap() error {
	idx := make([]int, len(b.tokens))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(i, j int) int {
		return int(b.tokens[i].Off) - int(b.tokens[j].Off)
	})
	for k := 1; k < len(idx); k++ {
		prev, cur := &b.tokens[idx[k-1]], &b.tokens[idx[k]]
		if prev.Off+prev.Size() > cur.Off {
			return errors.Wrapf(ErrOverlap, "%s at %d and %s at %d", prev.Type, prev.Off, cur.Type, cur.Off)
		}
	}
	return nil
}

// Build validates the tokens and creates the command
// layout. Limit violations are reported by the device.
func (b *LayoutBuilder) Build(gpu driver.DGCGPU) (driver.CmdLayout, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	info := driver.CmdLayoutInfo{
		Usage:  b.usage,
		Stages: b.stages,
		Stride: b.StreamStride(),
		Layout: b.layout,
		Tokens: b.Tokens(),
	}
	l, err := gpu.NewCmdLayout(&info)
	if err != nil {
		return nil, errors.Wrap(err, "dgc: building command layout")
	}
	driver.Logger().Debug("dgc: command layout built",
		slog.Int("tokens", len(info.Tokens)),
		slog.Int("stride", int(info.Stride)),
		slog.String("work", info.Tokens[len(info.Tokens)-1].Type.String()))
	return l, nil
}
