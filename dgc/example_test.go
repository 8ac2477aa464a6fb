// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc_test

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/gviegas/dgc/dgc"
	"github.com/gviegas/dgc/driver"
	"github.com/gviegas/dgc/driver/soft"
	"github.com/gviegas/dgc/internal/ctxt"
)

var mu sync.Mutex

func init() {
	// Adds 1 to the output slot selected by push
	// constants (u32 index at 0, u64 address at 8).
	soft.AddKernel("example", "mark", func(inv *soft.Invocation) error {
		p, err := inv.Mem(inv.PushUint64(8)+4*uint64(inv.PushUint32(0)), 4)
		if err != nil {
			return err
		}
		mu.Lock()
		binary.LittleEndian.PutUint32(p, binary.LittleEndian.Uint32(p)+1)
		mu.Unlock()
		return nil
	})
}

// Example_indexedDispatch executes four generated
// dispatches, each writing the index read from its
// own record.
func Example_indexedDispatch() {
	gpu := ctxt.DGC()
	if err := dgc.CheckComputeSupport(gpu, dgc.NoBinding); err != nil {
		log.Fatal(err)
	}

	push := driver.PushRange{Stages: driver.SCompute, Size: 16}
	layout, err := gpu.NewPipelineLayout([]driver.PushRange{push})
	if err != nil {
		log.Fatal(err)
	}
	defer layout.Destroy()
	code, err := gpu.NewShaderCode([]byte("example"))
	if err != nil {
		log.Fatal(err)
	}
	defer code.Destroy()
	pl, err := gpu.NewPipeline(&driver.CompState{
		Func:   driver.ShaderFunc{Code: code, Name: "mark"},
		Layout: layout,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer pl.Destroy()

	// Each record holds the index followed by the
	// dispatch arguments.
	b := dgc.NewLayoutBuilder(0, driver.SCompute, layout)
	b.AddPushConstToken(b.StreamRange(), driver.PushRange{Stages: driver.SCompute, Size: 4})
	b.AddDispatchToken(b.StreamRange())
	cl, err := b.Build(gpu)
	if err != nil {
		log.Fatal(err)
	}
	defer cl.Destroy()

	const n = 4
	in, err := dgc.NewBuffer(gpu, int64(b.StreamStride())*n, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer in.Destroy()
	s := in.Stream(b.StreamStride())
	for i := range n {
		s.Record(i).PutUint32(0, uint32(i))
		s.Record(i).Put(4, dgc.DispatchCmd{X: 1, Y: 1, Z: 1})
	}
	out, err := dgc.NewBuffer(gpu, 4*n, driver.UShaderWrite)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Destroy()

	mri := dgc.NewMemReqsInfo(nil, cl, n, 0)
	mri.SetPipeline(pl)
	pre, err := dgc.NewPreprocessBuffer(gpu, mri, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer pre.Destroy()
	info, err := dgc.NewGenCmdsInfo(driver.SCompute, nil, cl, in.Range(), pre.Range(), n, 0, 0, pl, nil)
	if err != nil {
		log.Fatal(err)
	}

	cb, err := gpu.NewCmdBuffer()
	if err != nil {
		log.Fatal(err)
	}
	defer cb.Destroy()
	if err := cb.Begin(); err != nil {
		log.Fatal(err)
	}
	cb.BeginWork(false)
	cb.SetPipeline(pl)
	cb.SetPushConst(layout, driver.SCompute, 8, binary.LittleEndian.AppendUint64(nil, out.Addr()))
	cb.(driver.DGCCmdBuffer).ExecuteGenCmds(false, info.Native())
	cb.EndWork()
	if err := cb.End(); err != nil {
		log.Fatal(err)
	}
	if err := dgc.SubmitAndWait(gpu, cb); err != nil {
		log.Fatal(err)
	}

	for i := range n {
		fmt.Print(binary.LittleEndian.Uint32(out.Bytes()[4*i:]), " ")
	}
	fmt.Println()
	// Output:
	// 1 1 1 1
}

// Example_pendingWrites shows that an execution set
// must be updated before use.
func Example_pendingWrites() {
	gpu := ctxt.DGC()
	if err := dgc.CheckComputeSupport(gpu, dgc.BindPipeline); err != nil {
		log.Fatal(err)
	}
	code, err := gpu.NewShaderCode([]byte("example"))
	if err != nil {
		log.Fatal(err)
	}
	defer code.Destroy()
	var pls [2]driver.Pipeline
	for i := range pls {
		pls[i], err = gpu.NewPipeline(&driver.CompState{Func: driver.ShaderFunc{Code: code, Name: "mark"}})
		if err != nil {
			log.Fatal(err)
		}
		defer pls[i].Destroy()
	}

	m, err := dgc.NewPipelineExecSet(gpu, pls[0], 2)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Destroy()
	if err := m.AddPipeline(1, pls[1]); err != nil {
		log.Fatal(err)
	}
	_, err = m.Get(false)
	fmt.Println(err)
	if err := m.Update(); err != nil {
		log.Fatal(err)
	}
	_, err = m.Get(false)
	fmt.Println(err)
	// Output:
	// 1 pending: dgc: execution set has pending writes
	// <nil>
}
