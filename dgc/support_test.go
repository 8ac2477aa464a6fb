// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
	"github.com/gviegas/dgc/driver/soft"
)

func TestCheckSupport(t *testing.T) {
	if err := CheckProps(tGPU.DGCProps()); len(err) != 0 {
		t.Fatalf("CheckProps: unexpected errors: %v", err)
	}
	for _, b := range [...]Binding{NoBinding, BindPipeline, BindShader} {
		if err := CheckComputeSupport(tGPU, b); err != nil {
			t.Errorf("CheckComputeSupport(%d): unexpected error: %v", b, err)
		}
	}

	cfg := soft.DefaultConfig()
	cfg.Features.ShaderObject = false
	cfg.DGC.InputModes = []string{"vulkan"}
	cfg.DGC.StagesPipelineBinding = []string{"compute"}
	cfg.DGC.DrawCount = false
	d := soft.New(&cfg)
	gpu, err := d.Open()
	if err != nil {
		t.Fatalf("Driver.Open failed: %v", err)
	}
	defer d.Close()
	cases := [...]struct {
		s   Support
		err error
	}{
		{Support{Stages: driver.SCompute, BindStagesPipeline: driver.SCompute}, nil},
		{Support{InputModes: driver.IModeVulkan}, nil},
		{Support{InputModes: driver.IModeDXGI}, ErrNotSupported},
		{Support{BindStagesPipeline: driver.SVertex}, ErrNotSupported},
		{Support{BindStagesShader: driver.SCompute}, ErrNotSupported},
		{Support{DrawCount: true}, ErrNotSupported},
	}
	for _, c := range cases {
		err := CheckSupport(gpu, c.s)
		if c.err == nil {
			if err != nil {
				t.Errorf("CheckSupport(%+v): unexpected error: %v", c.s, err)
			}
		} else if !errors.Is(err, c.err) {
			t.Errorf("CheckSupport(%+v)\nhave %v\nwant %v", c.s, err, c.err)
		}
	}
	if err := CheckComputeSupport(gpu, BindShader); !errors.Is(err, ErrNotSupported) {
		t.Errorf("CheckComputeSupport(BindShader)\nhave %v\nwant %v", err, ErrNotSupported)
	}

	cfg = soft.DefaultConfig()
	cfg.Features.DGC = false
	d = soft.New(&cfg)
	if gpu, err = d.Open(); err != nil {
		t.Fatalf("Driver.Open failed: %v", err)
	}
	defer d.Close()
	if err := CheckSupport(gpu, Support{}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("CheckSupport: DGC disabled\nhave %v\nwant %v", err, ErrNotSupported)
	}
	if _, err := AsDGC(gpu); !errors.Is(err, ErrNotSupported) {
		t.Errorf("AsDGC: DGC disabled\nhave %v\nwant %v", err, ErrNotSupported)
	}
}

func TestCheckProps(t *testing.T) {
	p := tGPU.DGCProps()
	cases := [...]struct {
		name string
		mod  func(p *driver.DGCProps)
		n    int
	}{
		{"valid", func(*driver.DGCProps) {}, 0},
		{"no shader objects", func(p *driver.DGCProps) { p.MaxShaderObjectCount = 0 }, 0},
		{"sequence count", func(p *driver.DGCProps) { p.MaxSeqCount = MinSeqCount - 1 }, 1},
		{"token count", func(p *driver.DGCProps) { p.MaxTokenCount = 8 }, 1},
		{"token offset", func(p *driver.DGCProps) { p.MaxTokenOffset = 1024 }, 1},
		{"stride", func(p *driver.DGCProps) { p.MaxStride = 2047 }, 1},
		{"pipeline count", func(p *driver.DGCProps) { p.MaxPipelineCount = 1 }, 1},
		{"shader object count", func(p *driver.DGCProps) { p.MaxShaderObjectCount = 1 }, 1},
		{"input modes", func(p *driver.DGCProps) { p.InputModes = driver.IModeDXGI }, 1},
		{"stages", func(p *driver.DGCProps) { p.Stages = driver.SCompute }, 1},
		{"everything", func(p *driver.DGCProps) { *p = driver.DGCProps{MaxShaderObjectCount: 1} }, 8},
	}
	for _, c := range cases {
		x := p
		c.mod(&x)
		errs := CheckProps(x)
		if len(errs) != c.n {
			t.Errorf("%s: CheckProps\nhave %d errors (%v)\nwant %d", c.name, len(errs), errs, c.n)
		}
		for _, err := range errs {
			if !errors.Is(err, ErrProps) {
				t.Errorf("%s: CheckProps\nhave %v\nwant %v", c.name, err, ErrProps)
			}
		}
	}
}
