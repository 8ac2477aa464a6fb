// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

func TestStreamRange(t *testing.T) {
	b := NewLayoutBuilder(0, driver.SCompute|driver.SVertex, nil)
	if n := b.StreamRange(); n != 0 {
		t.Fatalf("LayoutBuilder.StreamRange: empty\nhave %d\nwant 0", n)
	}
	cases := [...]struct {
		add  func(off uint32)
		size uint32
	}{
		{func(off uint32) { b.AddPushConstToken(off, driver.PushRange{Size: 12}) }, 12},
		{func(off uint32) { b.AddSeqIndexToken(off, driver.PushRange{Size: 4}) }, 4},
		{func(off uint32) { b.AddExecSetToken(off, driver.ESShaders, driver.SVertex|driver.SFragment) }, 8},
		{func(off uint32) { b.AddCompPipelineToken(off) }, 4},
		{func(off uint32) { b.AddCompShaderToken(off) }, 4},
		{func(off uint32) { b.AddVertexBufToken(off, 1) }, 16},
		{func(off uint32) { b.AddIndexBufToken(off, driver.IModeVulkan) }, 16},
		{func(off uint32) { b.AddDrawToken(off) }, 16},
		{func(off uint32) { b.AddDrawIndexedToken(off) }, 20},
		{func(off uint32) { b.AddDrawCountToken(off) }, 16},
		{func(off uint32) { b.AddDrawIndexedCountToken(off) }, 16},
		{func(off uint32) { b.AddDrawMeshTasksToken(off) }, 12},
		{func(off uint32) { b.AddDrawMeshTasksCountToken(off) }, 16},
		{func(off uint32) { b.AddDispatchToken(off) }, 12},
		{func(off uint32) { b.AddTraceRays2Token(off) }, 104},
	}
	for i, c := range cases {
		off := b.StreamRange()
		c.add(off)
		if n := b.StreamRange(); n != off+c.size {
			t.Fatalf("LayoutBuilder.StreamRange: token %d\nhave %d\nwant %d", i, n, off+c.size)
		}
	}
	if n := len(b.Tokens()); n != len(cases) {
		t.Fatalf("LayoutBuilder.Tokens: len\nhave %d\nwant %d", n, len(cases))
	}
	// Tokens returns a copy.
	b.Tokens()[0].Off = 1000
	if off := b.Tokens()[0].Off; off != 0 {
		t.Fatalf("LayoutBuilder.Tokens: copy modified\nhave %d\nwant 0", off)
	}
}

func TestStreamStride(t *testing.T) {
	b := NewLayoutBuilder(0, driver.SCompute, nil)
	adds := [...]func(off uint32){
		b.AddCompPipelineToken,
		func(off uint32) { b.AddPushConstToken(off, driver.PushRange{Stages: driver.SCompute, Size: 6}) },
		func(off uint32) { b.AddPushConstToken(off+2, driver.PushRange{Stages: driver.SCompute, Size: 1}) },
		func(off uint32) { b.AddSeqIndexToken(off+1, driver.PushRange{Stages: driver.SCompute, Size: 4}) },
		b.AddDispatchToken,
	}
	var prev uint32
	for i, add := range adds {
		add(b.StreamRange())
		n := b.StreamStride()
		if n < prev {
			t.Fatalf("LayoutBuilder.StreamStride: token %d\nhave %d\nwant >= %d", i, n, prev)
		}
		if n%StrideAlign != 0 || n < b.StreamRange() {
			t.Fatalf("LayoutBuilder.StreamStride: token %d\nhave %d\nwant multiple of %d >= %d", i, n, StrideAlign, b.StreamRange())
		}
		prev = n
	}
	b.SetStreamStride(256)
	if n := b.StreamStride(); n != 256 {
		t.Fatalf("LayoutBuilder.StreamStride: explicit\nhave %d\nwant 256", n)
	}
	b.SetStreamStride(0)
	if n := b.StreamStride(); n != prev {
		t.Fatalf("LayoutBuilder.StreamStride: reset\nhave %d\nwant %d", n, prev)
	}
}

func TestLayoutBuilderValidate(t *testing.T) {
	layout := newPipelineLayout(t)
	cases := [...]struct {
		name   string
		layout driver.PipelineLayout
		build  func(b *LayoutBuilder)
		err    error
	}{
		{"no tokens", nil, func(*LayoutBuilder) {}, ErrNoTokens},
		{"work token not last", layout, func(b *LayoutBuilder) {
			b.AddDispatchToken(0)
			b.AddPushConstToken(12, tIndex)
		}, ErrWorkToken},
		{"two work tokens", nil, func(b *LayoutBuilder) {
			b.AddDispatchToken(0)
			b.AddDispatchToken(12)
		}, ErrWorkToken},
		{"no work token", layout, func(b *LayoutBuilder) {
			b.AddPushConstToken(0, tIndex)
		}, ErrWorkToken},
		{"push without pipeline layout", nil, func(b *LayoutBuilder) {
			b.AddPushConstToken(0, tIndex)
			b.AddDispatchToken(4)
		}, ErrNoPipelineLayout},
		{"sequence index without pipeline layout", nil, func(b *LayoutBuilder) {
			b.AddSeqIndexToken(0, tIndex)
			b.AddDispatchToken(4)
		}, ErrNoPipelineLayout},
		{"push range outside layout", layout, func(b *LayoutBuilder) {
			b.AddPushConstToken(0, driver.PushRange{Stages: driver.SCompute, Off: 12, Size: 8})
			b.AddDispatchToken(8)
		}, ErrPushRange},
		{"push stages outside layout", layout, func(b *LayoutBuilder) {
			b.AddPushConstToken(0, driver.PushRange{Stages: driver.SFragment, Size: 4})
			b.AddDispatchToken(4)
		}, ErrPushRange},
		{"sequence index size", layout, func(b *LayoutBuilder) {
			b.AddSeqIndexToken(0, driver.PushRange{Stages: driver.SCompute, Size: 8})
			b.AddDispatchToken(8)
		}, ErrPushRange},
		{"overlap", layout, func(b *LayoutBuilder) {
			b.AddPushConstToken(0, driver.PushRange{Stages: driver.SCompute, Size: 16})
			b.AddDispatchToken(8)
		}, ErrOverlap},
		{"out of order", layout, func(b *LayoutBuilder) {
			b.AddPushConstToken(12, tIndex)
			b.AddSeqIndexToken(24, tIndex)
			b.AddDispatchToken(0)
		}, nil},
		{"overlap out of order", layout, func(b *LayoutBuilder) {
			b.AddPushConstToken(8, tIndex)
			b.AddDispatchToken(0)
		}, ErrOverlap},
		{"misaligned offset", nil, func(b *LayoutBuilder) {
			b.AddDispatchToken(2)
		}, ErrAlign},
		{"stride smaller than range", nil, func(b *LayoutBuilder) {
			b.AddDispatchToken(0)
			b.SetStreamStride(8)
		}, ErrStride},
		{"misaligned stride", nil, func(b *LayoutBuilder) {
			b.AddDispatchToken(0)
			b.SetStreamStride(14)
		}, ErrStride},
		{"valid", layout, func(b *LayoutBuilder) {
			b.AddCompPipelineToken(0)
			b.AddPushConstToken(4, tIndex)
			b.AddSeqIndexToken(8, driver.PushRange{Stages: driver.SCompute, Off: 4, Size: 4})
			b.AddDispatchToken(12)
			b.SetStreamStride(64)
		}, nil},
	}
	for _, c := range cases {
		b := NewLayoutBuilder(0, driver.SCompute, c.layout)
		c.build(b)
		err := b.Validate()
		if c.err == nil {
			if err != nil {
				t.Errorf("%s: LayoutBuilder.Validate: unexpected error: %v", c.name, err)
			}
		} else if !errors.Is(err, c.err) {
			t.Errorf("%s: LayoutBuilder.Validate\nhave %v\nwant %v", c.name, err, c.err)
		}
	}
}

func TestLayoutBuilderBuild(t *testing.T) {
	layout := newPipelineLayout(t)
	builds := [...]func(b *LayoutBuilder){
		func(b *LayoutBuilder) {
			b.AddDispatchToken(0)
		},
		func(b *LayoutBuilder) {
			b.AddPushConstToken(b.StreamRange(), tIndex)
			b.AddDispatchToken(b.StreamRange())
		},
		func(b *LayoutBuilder) {
			b.AddCompPipelineToken(b.StreamRange())
			b.AddSeqIndexToken(b.StreamRange(), tIndex)
			b.AddPushConstToken(b.StreamRange(), driver.PushRange{Stages: driver.SCompute, Off: 8, Size: 8})
			b.AddDispatchToken(b.StreamRange())
			b.SetStreamStride(b.StreamStride() + 32)
		},
		func(b *LayoutBuilder) {
			b.AddPushConstToken(12, tIndex)
			b.AddDispatchToken(0)
		},
	}
	for i, build := range builds {
		b := NewLayoutBuilder(driver.LUnorderedSequences, driver.SCompute, layout)
		build(b)
		l, err := b.Build(tGPU)
		if err != nil {
			t.Fatalf("LayoutBuilder.Build: build %d: unexpected error: %v", i, err)
		}
		info := l.Info()
		if info.Stride != b.StreamStride() {
			t.Errorf("CmdLayout.Info: build %d: Stride\nhave %d\nwant %d", i, info.Stride, b.StreamStride())
		}
		for j := range info.Tokens {
			if tk := &info.Tokens[j]; tk.Off+tk.Size() > info.Stride {
				t.Errorf("CmdLayout.Info: build %d: token %d (%s) [%d, %d) exceeds stride %d",
					i, j, tk.Type, tk.Off, tk.Off+tk.Size(), info.Stride)
			}
		}
		if diff := cmp.Diff(b.Tokens(), info.Tokens); diff != "" {
			t.Errorf("CmdLayout.Info: build %d: Tokens mismatch (-want +have):\n%s", i, diff)
		}
		if info.Usage != driver.LUnorderedSequences || info.Stages != driver.SCompute || info.Layout != layout {
			t.Errorf("CmdLayout.Info: build %d: unexpected usage, stages or layout", i)
		}
		l.Destroy()
	}
}

func TestLayoutBuilderLimits(t *testing.T) {
	props := tGPU.DGCProps()
	layout := newPipelineLayout(t)
	cases := [...]struct {
		name  string
		build func(b *LayoutBuilder)
	}{
		{"stride", func(b *LayoutBuilder) {
			b.AddDispatchToken(0)
			b.SetStreamStride(uint32(props.MaxStride) + StrideAlign)
		}},
		{"token offset", func(b *LayoutBuilder) {
			b.AddDispatchToken(roundUp(uint32(props.MaxTokenOffset)+1, StrideAlign))
		}},
		{"token count", func(b *LayoutBuilder) {
			for i := range props.MaxTokenCount {
				b.AddPushConstToken(b.StreamRange(), driver.PushRange{
					Stages: driver.SCompute,
					Off:    uint32(i%4) * 4,
					Size:   4,
				})
			}
			b.AddDispatchToken(b.StreamRange())
		}},
	}
	for _, c := range cases {
		b := NewLayoutBuilder(0, driver.SCompute, layout)
		c.build(b)
		if err := b.Validate(); err != nil {
			t.Fatalf("%s: LayoutBuilder.Validate: unexpected error: %v", c.name, err)
		}
		if _, err := b.Build(tGPU); !errors.Is(err, driver.ErrLimit) {
			t.Errorf("%s: LayoutBuilder.Build\nhave %v\nwant %v", c.name, err, driver.ErrLimit)
		}
	}
}
