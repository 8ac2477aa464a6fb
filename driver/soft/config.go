// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"io"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/gviegas/dgc/driver"
)

// Config describes the device that a Driver emulates.
// It can be written as YAML:
//
//	workers: 4
//	limits:
//	  max_push_const: 256
//	  max_invocations: 16777216
//	dgc:
//	  max_seq_count: 1048576
//	  stages: [vertex, fragment, compute]
//	preprocess:
//	  disabled: false
//	  align: 64
//
// Fields that are omitted keep their DefaultConfig value.
type Config struct {
	// Maximum number of kernel invocations that run
	// concurrently. Zero means runtime.GOMAXPROCS(0).
	Workers    int              `yaml:"workers"`
	Limits     LimitsConfig     `yaml:"limits"`
	Features   FeaturesConfig   `yaml:"features"`
	DGC        DGCConfig        `yaml:"dgc"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
}

// LimitsConfig mirrors driver.Limits.
type LimitsConfig struct {
	MaxPushConst int   `yaml:"max_push_const"`
	MaxVertexIn  int   `yaml:"max_vertex_in"`
	MaxDispatch    []int `yaml:"max_dispatch,flow"`
	MaxInvocations int64 `yaml:"max_invocations"`
	MaxDrawCount   int   `yaml:"max_draw_count"`
	MaxBuffer      int64 `yaml:"max_buffer"`
}

// FeaturesConfig mirrors driver.Features.
type FeaturesConfig struct {
	DGC          bool `yaml:"dgc"`
	ShaderObject bool `yaml:"shader_object"`
	MeshShader   bool `yaml:"mesh_shader"`
	RayTracing   bool `yaml:"ray_tracing"`
}

// DGCConfig mirrors driver.DGCProps.
// Stages are given by name (vertex, fragment, compute,
// task, mesh, raygen, miss, closesthit) and input modes
// as vulkan or dxgi.
type DGCConfig struct {
	MaxPipelineCount      int      `yaml:"max_pipeline_count"`
	MaxShaderObjectCount  int      `yaml:"max_shader_object_count"`
	MaxSeqCount           int      `yaml:"max_seq_count"`
	MaxTokenCount         int      `yaml:"max_token_count"`
	MaxTokenOffset        int      `yaml:"max_token_offset"`
	MaxStride             int      `yaml:"max_stride"`
	InputModes            []string `yaml:"input_modes,flow"`
	Stages                []string `yaml:"stages,flow"`
	StagesPipelineBinding []string `yaml:"stages_pipeline_binding,flow"`
	StagesShaderBinding   []string `yaml:"stages_shader_binding,flow"`
	DrawCount             bool     `yaml:"draw_count"`
}

// PreprocessConfig controls the preprocess buffer
// memory requirements that the device reports.
type PreprocessConfig struct {
	// Disabled makes every query report a size of zero,
	// as if the device never needed preprocessing.
	Disabled bool   `yaml:"disabled"`
	Align    int64  `yaml:"align"`
	TypeBits uint32 `yaml:"type_bits"`
}

// DefaultConfig returns a Config describing a device that
// supports every feature with the minimum required DGC
// limits.
func DefaultConfig() Config {
	all := []string{"vertex", "fragment", "compute", "task", "mesh", "raygen", "miss", "closesthit"}
	return Config{
		Limits: LimitsConfig{
			MaxPushConst: 256,
			MaxVertexIn:  16,
			MaxDispatch:    []int{65535, 65535, 65535},
			MaxInvocations: 1 << 24,
			MaxDrawCount:   1 << 16,
			MaxBuffer:      1 << 30,
		},
		Features: FeaturesConfig{
			DGC:          true,
			ShaderObject: true,
			MeshShader:   true,
			RayTracing:   true,
		},
		DGC: DGCConfig{
			MaxPipelineCount:      1 << 12,
			MaxShaderObjectCount:  1 << 12,
			MaxSeqCount:           1 << 20,
			MaxTokenCount:         16,
			MaxTokenOffset:        2047,
			MaxStride:             2048,
			InputModes:            []string{"vulkan", "dxgi"},
			Stages:                all,
			StagesPipelineBinding: []string{"vertex", "fragment", "compute", "task", "mesh", "raygen"},
			StagesShaderBinding:   []string{"vertex", "fragment", "compute", "task", "mesh"},
			DrawCount:             true,
		},
		Preprocess: PreprocessConfig{
			Align:    64,
			TypeBits: 0x7,
		},
	}
}

// ParseConfig parses a YAML device description on top
// of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "soft: parse config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and parses a YAML device description.
func LoadConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "soft: read config")
	}
	return ParseConfig(data)
}

var errConfig = errors.New("soft: invalid config")

func (c *Config) validate() error {
	if c.Workers < 0 {
		return errors.Wrapf(errConfig, "workers: %d", c.Workers)
	}
	if c.Limits.MaxPushConst < 0 || c.Limits.MaxPushConst%4 != 0 {
		return errors.Wrapf(errConfig, "max_push_const: %d", c.Limits.MaxPushConst)
	}
	if len(c.Limits.MaxDispatch) != 3 {
		return errors.Wrapf(errConfig, "max_dispatch: want 3 values, have %d", len(c.Limits.MaxDispatch))
	}
	if c.Limits.MaxInvocations <= 0 {
		return errors.Wrapf(errConfig, "max_invocations: %d", c.Limits.MaxInvocations)
	}
	if c.Limits.MaxBuffer <= 0 {
		return errors.Wrapf(errConfig, "max_buffer: %d", c.Limits.MaxBuffer)
	}
	// Buffers are page aligned, so larger alignments
	// could not be honored.
	if a := c.Preprocess.Align; a <= 0 || a&(a-1) != 0 || a > pageSize {
		return errors.Wrapf(errConfig, "preprocess align: %d", a)
	}
	if c.Preprocess.TypeBits&driver.BufferMemType == 0 {
		return errors.Wrapf(errConfig, "preprocess type_bits %#x exclude buffer memory", c.Preprocess.TypeBits)
	}
	if _, err := parseModes(c.DGC.InputModes); err != nil {
		return err
	}
	for _, s := range [...][]string{c.DGC.Stages, c.DGC.StagesPipelineBinding, c.DGC.StagesShaderBinding} {
		if _, err := parseStages(s); err != nil {
			return err
		}
	}
	return nil
}

// workers returns the effective worker count.
func (c *Config) workers() int {
	if c.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}

var stageNames = map[string]driver.Stage{
	"vertex":     driver.SVertex,
	"fragment":   driver.SFragment,
	"compute":    driver.SCompute,
	"task":       driver.STask,
	"mesh":       driver.SMesh,
	"raygen":     driver.SRayGen,
	"miss":       driver.SMiss,
	"closesthit": driver.SClosestHit,
}

func parseStages(names []string) (s driver.Stage, err error) {
	for _, n := range names {
		x, ok := stageNames[strings.ToLower(n)]
		if !ok {
			return 0, errors.Wrapf(errConfig, "unknown stage %q", n)
		}
		s |= x
	}
	return
}

func parseModes(names []string) (m driver.InputMode, err error) {
	for _, n := range names {
		switch strings.ToLower(n) {
		case "vulkan":
			m |= driver.IModeVulkan
		case "dxgi":
			m |= driver.IModeDXGI
		default:
			return 0, errors.Wrapf(errConfig, "unknown input mode %q", n)
		}
	}
	return
}

func (c *Config) limits() driver.Limits {
	return driver.Limits{
		MaxPushConst:   c.Limits.MaxPushConst,
		MaxVertexIn:    c.Limits.MaxVertexIn,
		MaxDispatch:    [3]int(c.Limits.MaxDispatch),
		MaxInvocations: c.Limits.MaxInvocations,
		MaxDrawCount:   c.Limits.MaxDrawCount,
		MaxBuffer:      c.Limits.MaxBuffer,
	}
}

func (c *Config) features() driver.Features {
	return driver.Features{
		DGC:          c.Features.DGC,
		ShaderObject: c.Features.ShaderObject,
		MeshShader:   c.Features.MeshShader,
		RayTracing:   c.Features.RayTracing,
	}
}

// dgcProps assumes that c was validated.
func (c *Config) dgcProps() driver.DGCProps {
	modes, _ := parseModes(c.DGC.InputModes)
	stg, _ := parseStages(c.DGC.Stages)
	stgPl, _ := parseStages(c.DGC.StagesPipelineBinding)
	stgSh, _ := parseStages(c.DGC.StagesShaderBinding)
	return driver.DGCProps{
		MaxPipelineCount:      c.DGC.MaxPipelineCount,
		MaxShaderObjectCount:  c.DGC.MaxShaderObjectCount,
		MaxSeqCount:           c.DGC.MaxSeqCount,
		MaxTokenCount:         c.DGC.MaxTokenCount,
		MaxTokenOffset:        c.DGC.MaxTokenOffset,
		MaxStride:             c.DGC.MaxStride,
		InputModes:            modes,
		Stages:                stg,
		StagesPipelineBinding: stgPl,
		StagesShaderBinding:   stgSh,
		DrawCount:             c.DGC.DrawCount,
	}
}
