// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("DefaultConfig().validate: unexpected error: %v", err)
	}
	want := driver.DGCProps{
		MaxPipelineCount:      4096,
		MaxShaderObjectCount:  4096,
		MaxSeqCount:           1 << 20,
		MaxTokenCount:         16,
		MaxTokenOffset:        2047,
		MaxStride:             2048,
		InputModes:            driver.IModeVulkan | driver.IModeDXGI,
		Stages:                driver.SVertex | driver.SFragment | driver.SCompute | driver.STask | driver.SMesh | driver.SRayGen | driver.SMiss | driver.SClosestHit,
		StagesPipelineBinding: driver.SVertex | driver.SFragment | driver.SCompute | driver.STask | driver.SMesh | driver.SRayGen,
		StagesShaderBinding:   driver.SVertex | driver.SFragment | driver.SCompute | driver.STask | driver.SMesh,
		DrawCount:             true,
	}
	if diff := cmp.Diff(want, cfg.dgcProps()); diff != "" {
		t.Fatalf("DefaultConfig().dgcProps mismatch (-want +have):\n%s", diff)
	}
	if l := tDrv.Limits(); l.MaxDispatch != [3]int{65535, 65535, 65535} {
		t.Fatalf("Driver.Limits: MaxDispatch\nhave %v\nwant [65535 65535 65535]", l.MaxDispatch)
	}
	if l := tDrv.Limits(); l.MaxInvocations != 1<<24 {
		t.Fatalf("Driver.Limits: MaxInvocations\nhave %d\nwant %d", l.MaxInvocations, 1<<24)
	}
}

func TestParseConfig(t *testing.T) {
	const data = `
workers: 2
limits:
  max_dispatch: [16, 8, 1]
dgc:
  max_seq_count: 64
  input_modes: [vulkan]
  stages: [compute]
preprocess:
  disabled: true
  align: 256
`
	cfg, err := LoadConfig(strings.NewReader(data))
	if err != nil {
		t.Fatalf("LoadConfig: unexpected error: %v", err)
	}
	want := DefaultConfig()
	want.Workers = 2
	want.Limits.MaxDispatch = []int{16, 8, 1}
	want.DGC.MaxSeqCount = 64
	want.DGC.InputModes = []string{"vulkan"}
	want.DGC.Stages = []string{"compute"}
	want.Preprocess.Disabled = true
	want.Preprocess.Align = 256
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Fatalf("LoadConfig mismatch (-want +have):\n%s", diff)
	}
	props := cfg.dgcProps()
	if props.Stages != driver.SCompute || props.InputModes != driver.IModeVulkan {
		t.Fatalf("Config.dgcProps\nhave %#x, %#x\nwant %#x, %#x", props.Stages, props.InputModes, driver.SCompute, driver.IModeVulkan)
	}
	if n := cfg.workers(); n != 2 {
		t.Fatalf("Config.workers\nhave %d\nwant 2", n)
	}
}

func TestParseConfigError(t *testing.T) {
	for _, data := range [...]string{
		"unknown_field: 1",
		"workers: -1",
		"limits:\n  max_dispatch: [1, 2]",
		"limits:\n  max_push_const: 6",
		"preprocess:\n  align: 48",
		"preprocess:\n  align: 1024",
		"preprocess:\n  type_bits: 6",
		"limits:\n  max_invocations: 0",
		"dgc:\n  stages: [geometry]",
		"dgc:\n  input_modes: [d3d]",
		"workers: [",
	} {
		if _, err := ParseConfig([]byte(data)); err == nil {
			t.Errorf("ParseConfig(%q)\nhave nil\nwant non-nil", data)
		}
	}
	if _, err := ParseConfig([]byte("workers: -1")); !errors.Is(err, errConfig) {
		t.Errorf("ParseConfig: errors.Is(err, errConfig)\nhave false\nwant true")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preprocess.Align = 3
	d := New(&cfg)
	if _, err := d.Open(); !errors.Is(err, driver.ErrNoDevice) {
		t.Fatalf("Driver.Open: invalid config\nhave %v\nwant %v", err, driver.ErrNoDevice)
	}
	cfg = DefaultConfig()
	cfg.Features.DGC = false
	d = New(&cfg)
	if _, err := d.Open(); err != nil {
		t.Fatalf("Driver.Open: unexpected error: %v", err)
	}
	defer d.Close()
	if d.Features().DGC {
		t.Fatal("Driver.Features: DGC\nhave true\nwant false")
	}
	if _, err := d.NewCmdLayout(&driver.CmdLayoutInfo{}); !errors.Is(err, driver.ErrNotSupported) {
		t.Fatalf("Driver.NewCmdLayout: DGC disabled\nhave %v\nwant %v", err, driver.ErrNotSupported)
	}
}
