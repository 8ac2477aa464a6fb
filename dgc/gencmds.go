// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// Range is a region of device memory.
type Range struct {
	Addr uint64
	Size int64
}

// GenCmdsInfo bundles the parameters of generated
// command preprocessing and execution.
// A GenCmdsInfo carries no ownership; it is usually
// created for each execution.
type GenCmdsInfo struct {
	info driver.GenCmdsInfo
}

// NewGenCmdsInfo creates a new GenCmdsInfo.
// Exactly one of set, pl and shaders must be given.
// seqCountAddr is optional; if non-zero, the sequence
// count is read from it and clamped to maxSeq.
// preprocess may be empty if the device needs no
// preprocess memory.
func NewGenCmdsInfo(stages driver.Stage, set driver.ExecSet, layout driver.CmdLayout, indirect, preprocess Range, maxSeq uint32, seqCountAddr uint64, maxDraw uint32, pl driver.Pipeline, shaders []driver.Shader) (*GenCmdsInfo, error) {
	if bindCount(set, pl, shaders) != 1 {
		return nil, ErrBindState
	}
	return &GenCmdsInfo{driver.GenCmdsInfo{
		Stages:         stages,
		ExecSet:        set,
		Layout:         layout,
		IndirectAddr:   indirect.Addr,
		IndirectSize:   indirect.Size,
		PreprocessAddr: preprocess.Addr,
		PreprocessSize: preprocess.Size,
		MaxSeqCount:    maxSeq,
		SeqCountAddr:   seqCountAddr,
		MaxDrawCount:   maxDraw,
		Pipeline:       pl,
		Shaders:        slices.Clone(shaders),
	}}, nil
}

// Clone returns a copy of g.
func (g *GenCmdsInfo) Clone() *GenCmdsInfo {
	c := *g
	c.info.Shaders = slices.Clone(g.info.Shaders)
	return &c
}

// SetIndirect sets the indirect data region.
func (g *GenCmdsInfo) SetIndirect(r Range) {
	g.info.IndirectAddr = r.Addr
	g.info.IndirectSize = r.Size
}

// SetPreprocess sets the preprocess region.
func (g *GenCmdsInfo) SetPreprocess(r Range) {
	g.info.PreprocessAddr = r.Addr
	g.info.PreprocessSize = r.Size
}

// SetSeqCount sets the maximum sequence count and the
// optional address of the actual count.
func (g *GenCmdsInfo) SetSeqCount(maxSeq uint32, addr uint64) {
	g.info.MaxSeqCount = maxSeq
	g.info.SeqCountAddr = addr
}

// Native returns the driver's representation of g.
// The caller must not modify it.
func (g *GenCmdsInfo) Native() *driver.GenCmdsInfo { return &g.info }

// MemReqsInfo returns a MemReqsInfo matching g.
func (g *GenCmdsInfo) MemReqsInfo() *MemReqsInfo {
	return &MemReqsInfo{driver.MemReqsInfo{
		ExecSet:      g.info.ExecSet,
		Layout:       g.info.Layout,
		MaxSeqCount:  g.info.MaxSeqCount,
		MaxDrawCount: g.info.MaxDrawCount,
		Pipeline:     g.info.Pipeline,
		Shaders:      slices.Clone(g.info.Shaders),
	}}
}

// PreprocessToExecuteBarrier records a barrier that
// makes preprocess writes visible to the execution of
// generated commands.
func PreprocessToExecuteBarrier(cb driver.CmdBuffer) {
	cb.Barrier([]driver.Barrier{{
		SyncBefore:   driver.SCommandPreprocess,
		SyncAfter:    driver.SDrawIndirect,
		AccessBefore: driver.APreprocessWrite,
		AccessAfter:  driver.AIndirectRead,
	}})
}

// SubmitAndWait commits cb and blocks until it
// completes execution.
func SubmitAndWait(gpu driver.GPU, cb driver.CmdBuffer) error {
	return commit(gpu, []driver.CmdBuffer{cb})
}

// SubmitAndWaitWithPreprocess commits pre and cb, in
// that order, and blocks until both complete execution.
// pre is the command buffer that preprocesses the
// generated commands that cb executes.
func SubmitAndWaitWithPreprocess(gpu driver.GPU, cb, pre driver.CmdBuffer) error {
	return commit(gpu, []driver.CmdBuffer{pre, cb})
}

func commit(gpu driver.GPU, cb []driver.CmdBuffer) error {
	ch := make(chan error, 1)
	gpu.Commit(cb, ch)
	if err := <-ch; err != nil {
		return errors.Wrap(err, "dgc: command execution failed")
	}
	return nil
}
