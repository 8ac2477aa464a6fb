// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gviegas/dgc/driver"
	"github.com/gviegas/dgc/internal/bitvec"
)

var (
	errLayout     = errors.New("soft: invalid command layout")
	errExecSet    = errors.New("soft: invalid execution set")
	errIndex      = errors.New("soft: execution set index not written")
	errBindState  = errors.New("soft: invalid bind state")
	errPreprocess = errors.New("soft: invalid preprocess buffer")
	errSeq        = errors.New("soft: invalid sequence")
)

// cmdLayout implements driver.CmdLayout.
type cmdLayout struct {
	info   driver.CmdLayoutInfo
	serial uint32
	layout *pipelineLayout
}

// NewCmdLayout creates a new command layout.
func (d *Driver) NewCmdLayout(info *driver.CmdLayoutInfo) (driver.CmdLayout, error) {
	if !d.cfg.Features.DGC {
		return nil, errors.Wrap(driver.ErrNotSupported, "device generated commands")
	}
	props := d.DGCProps()
	n := len(info.Tokens)
	switch {
	case n == 0:
		return nil, errors.Wrap(errLayout, "no tokens")
	case n > props.MaxTokenCount:
		return nil, errors.Wrapf(driver.ErrLimit, "%d tokens (max %d)", n, props.MaxTokenCount)
	case int(info.Stride) > props.MaxStride:
		return nil, errors.Wrapf(driver.ErrLimit, "stride %d (max %d)", info.Stride, props.MaxStride)
	case info.Stride%4 != 0:
		return nil, errors.Wrapf(errLayout, "stride %d not aligned", info.Stride)
	case info.Stages == 0 || info.Stages&^props.Stages != 0:
		return nil, errors.Wrapf(driver.ErrNotSupported, "layout stages %#x", info.Stages)
	}
	var pl *pipelineLayout
	if info.Layout != nil {
		pl = info.Layout.(*pipelineLayout)
	}
	for i := range info.Tokens {
		if err := d.checkToken(&info.Tokens[i], i == n-1, info.Stride, pl, &props); err != nil {
			return nil, errors.Wrapf(err, "token %d", i)
		}
	}
	l := &cmdLayout{
		info:   *info,
		serial: d.serial.Add(1),
		layout: pl,
	}
	l.info.Tokens = append([]driver.Token(nil), info.Tokens...)
	driver.Logger().Debug("soft: command layout created",
		slog.Int("tokens", n),
		slog.Uint64("stride", uint64(info.Stride)),
		slog.String("work", info.Tokens[n-1].Type.String()))
	return l, nil
}

func (d *Driver) checkToken(t *driver.Token, last bool, stride uint32, pl *pipelineLayout, props *driver.DGCProps) error {
	if t.Type < driver.TExecSet || t.Type > driver.TTraceRays2 {
		return errors.Wrapf(errLayout, "unknown token type %d", t.Type)
	}
	if t.Type.IsWork() != last {
		return errors.Wrapf(errLayout, "%s: work token must be the last token", t.Type)
	}
	if int(t.Off) > props.MaxTokenOffset {
		return errors.Wrapf(driver.ErrLimit, "offset %d (max %d)", t.Off, props.MaxTokenOffset)
	}
	if t.Off%4 != 0 {
		return errors.Wrapf(errLayout, "offset %d not aligned", t.Off)
	}
	if t.Off+t.Size() > stride {
		return errors.Wrapf(errLayout, "%s: [%d, %d) exceeds stride %d", t.Type, t.Off, t.Off+t.Size(), stride)
	}
	switch t.Type {
	case driver.TExecSet:
		switch t.SetType {
		case driver.ESPipelines:
			if t.SetStages == 0 || t.SetStages&^props.StagesPipelineBinding != 0 {
				return errors.Wrapf(driver.ErrNotSupported, "pipeline binding of stages %#x", t.SetStages)
			}
		case driver.ESShaders:
			if t.SetStages == 0 || t.SetStages&^props.StagesShaderBinding != 0 {
				return errors.Wrapf(driver.ErrNotSupported, "shader binding of stages %#x", t.SetStages)
			}
		default:
			return errors.Wrapf(errLayout, "execution set type %d", t.SetType)
		}
	case driver.TPushConst, driver.TSeqIndex:
		if pl == nil {
			return errors.Wrapf(errLayout, "%s without pipeline layout", t.Type)
		}
		if t.Type == driver.TSeqIndex && t.Push.Size != 4 {
			return errors.Wrapf(errLayout, "sequence index range size %d", t.Push.Size)
		}
		if t.Push.Size == 0 || !pl.contains(t.Push.Stages, t.Push.Off, t.Push.Size) {
			return errors.Wrapf(errPushRange, "%+v", t.Push)
		}
	case driver.TIndexBuf:
		if (t.Mode != driver.IModeVulkan && t.Mode != driver.IModeDXGI) || t.Mode&props.InputModes == 0 {
			return errors.Wrapf(driver.ErrNotSupported, "index input mode %#x", t.Mode)
		}
	case driver.TVertexBuf:
		if int(t.Binding) >= d.cfg.Limits.MaxVertexIn {
			return errors.Wrapf(driver.ErrLimit, "vertex binding %d", t.Binding)
		}
	case driver.TDrawCount, driver.TDrawIndexedCount:
		if !props.DrawCount {
			return errors.Wrapf(driver.ErrNotSupported, "%s token", t.Type)
		}
	case driver.TDrawMeshTasks, driver.TDrawMeshTasksCount:
		if !d.cfg.Features.MeshShader || (t.Type == driver.TDrawMeshTasksCount && !props.DrawCount) {
			return errors.Wrapf(driver.ErrNotSupported, "%s token", t.Type)
		}
	case driver.TTraceRays2:
		if !d.cfg.Features.RayTracing {
			return errors.Wrapf(driver.ErrNotSupported, "%s token", t.Type)
		}
	}
	return nil
}

// Info returns the info the layout was created with.
func (l *cmdLayout) Info() *driver.CmdLayoutInfo { return &l.info }

// Destroy destroys the command layout.
func (l *cmdLayout) Destroy() {}

// work returns the work token.
func (l *cmdLayout) work() *driver.Token { return &l.info.Tokens[len(l.info.Tokens)-1] }

// execSetToken returns the execution set token, if any.
func (l *cmdLayout) execSetToken() *driver.Token {
	for i := range l.info.Tokens {
		if l.info.Tokens[i].Type == driver.TExecSet {
			return &l.info.Tokens[i]
		}
	}
	return nil
}

// drawCmdSize returns the size of the commands that
// a count token refers to.
func (l *cmdLayout) drawCmdSize() (int64, bool) {
	switch l.work().Type {
	case driver.TDrawCount:
		return driver.DrawCmdSize, true
	case driver.TDrawIndexedCount:
		return driver.DrawIndexedCmdSize, true
	case driver.TDrawMeshTasksCount:
		return driver.MeshTasksCmdSize, true
	}
	return 0, false
}

// execSet implements driver.ExecSet.
type execSet struct {
	d    *Driver
	typ  driver.ExecSetType
	bp   bindPoint
	push []driver.PushRange

	mu      sync.RWMutex
	written bitvec.V[uint32]
	pls     []*pipeline
	shs     []*shader
}

// NewExecSet creates a new indirect execution set.
func (d *Driver) NewExecSet(info *driver.ExecSetInfo) (driver.ExecSet, error) {
	if !d.cfg.Features.DGC {
		return nil, errors.Wrap(driver.ErrNotSupported, "device generated commands")
	}
	props := d.DGCProps()
	s := &execSet{d: d, typ: info.Type}
	switch info.Type {
	case driver.ESPipelines:
		if info.MaxCount <= 0 || info.MaxCount > props.MaxPipelineCount {
			return nil, errors.Wrapf(driver.ErrLimit, "pipeline count %d (max %d)", info.MaxCount, props.MaxPipelineCount)
		}
		p, ok := info.InitialPipeline.(*pipeline)
		if !ok {
			return nil, errors.Wrap(errExecSet, "no initial pipeline")
		}
		if p.stages()&^props.StagesPipelineBinding != 0 {
			return nil, errors.Wrapf(driver.ErrNotSupported, "pipeline binding of stages %#x", p.stages())
		}
		s.bp = p.bp
		s.pls = make([]*pipeline, info.MaxCount)
		s.written.Grow((info.MaxCount + 31) / 32)
		s.pls[0] = p
		s.written.Set(0)
	case driver.ESShaders:
		if !d.cfg.Features.ShaderObject || props.MaxShaderObjectCount == 0 {
			return nil, errors.Wrap(driver.ErrNotSupported, "shader object execution sets")
		}
		if info.MaxCount <= 0 || info.MaxCount > props.MaxShaderObjectCount {
			return nil, errors.Wrapf(driver.ErrLimit, "shader count %d (max %d)", info.MaxCount, props.MaxShaderObjectCount)
		}
		n := len(info.InitialShaders)
		if n == 0 || n > info.MaxCount {
			return nil, errors.Wrapf(errExecSet, "%d initial shaders", n)
		}
		if len(info.ShaderLayouts) != 0 && len(info.ShaderLayouts) != n {
			return nil, errors.Wrapf(errExecSet, "%d shader layouts for %d shaders", len(info.ShaderLayouts), n)
		}
		s.push = append([]driver.PushRange(nil), info.Push...)
		s.shs = make([]*shader, info.MaxCount)
		s.written.Grow((info.MaxCount + 31) / 32)
		for i, x := range info.InitialShaders {
			sh, ok := x.(*shader)
			if !ok {
				return nil, errors.Wrapf(errExecSet, "initial shader %d", i)
			}
			if err := s.checkShader(sh); err != nil {
				return nil, err
			}
			if len(info.ShaderLayouts) != 0 && !s.compatible(info.ShaderLayouts[i].Push()) {
				return nil, errors.Wrapf(errPushRange, "shader layout %d", i)
			}
			s.shs[i] = sh
			s.written.Set(i)
		}
	default:
		return nil, errors.Wrapf(errExecSet, "type %d", info.Type)
	}
	driver.Logger().Debug("soft: execution set created", slog.Int("type", int(info.Type)), slog.Int("max", info.MaxCount))
	return s, nil
}

// compatible returns whether every range in push is
// contained in a range of the set.
func (s *execSet) compatible(push []driver.PushRange) bool {
	for _, r := range push {
		ok := false
		for _, x := range s.push {
			if x.Contains(r) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (s *execSet) checkShader(sh *shader) error {
	props := s.d.DGCProps()
	if sh.stage&^props.StagesShaderBinding != 0 {
		return errors.Wrapf(driver.ErrNotSupported, "shader binding of stage %#x", sh.stage)
	}
	if sh.layout != nil && !s.compatible(sh.layout.push) {
		return errors.Wrap(errPushRange, "shader layout incompatible with execution set")
	}
	return nil
}

// Type returns the type of the set's elements.
func (s *execSet) Type() driver.ExecSetType { return s.typ }

func (s *execSet) checkIndex(i int) error {
	if n := max(len(s.pls), len(s.shs)); i < 0 || i >= n {
		return errors.Wrapf(errExecSet, "index %d out of range [0, %d)", i, n)
	}
	return nil
}

// UpdatePipelines writes pipelines into the set.
// Either every write is applied or none is.
func (s *execSet) UpdatePipelines(w []driver.PipelineWrite) error {
	if s.typ != driver.ESPipelines {
		return errors.Wrap(errExecSet, "pipeline write into shader set")
	}
	pls := make([]*pipeline, len(w))
	for i := range w {
		if err := s.checkIndex(w[i].Index); err != nil {
			return err
		}
		p, ok := w[i].Pipeline.(*pipeline)
		if !ok {
			return errors.Wrapf(errExecSet, "pipeline write %d", i)
		}
		if p.bp != s.bp {
			return errors.Wrapf(errExecSet, "pipeline write %d: binding point mismatch", i)
		}
		pls[i] = p
	}
	s.mu.Lock()
	for i := range w {
		s.pls[w[i].Index] = pls[i]
		s.written.Set(w[i].Index)
	}
	s.mu.Unlock()
	driver.Logger().Debug("soft: execution set updated", slog.Int("writes", len(w)))
	return nil
}

// UpdateShaders writes shader objects into the set.
// Either every write is applied or none is.
func (s *execSet) UpdateShaders(w []driver.ShaderWrite) error {
	if s.typ != driver.ESShaders {
		return errors.Wrap(errExecSet, "shader write into pipeline set")
	}
	shs := make([]*shader, len(w))
	for i := range w {
		if err := s.checkIndex(w[i].Index); err != nil {
			return err
		}
		sh, ok := w[i].Shader.(*shader)
		if !ok {
			return errors.Wrapf(errExecSet, "shader write %d", i)
		}
		if err := s.checkShader(sh); err != nil {
			return err
		}
		shs[i] = sh
	}
	s.mu.Lock()
	for i := range w {
		s.shs[w[i].Index] = shs[i]
		s.written.Set(w[i].Index)
	}
	s.mu.Unlock()
	driver.Logger().Debug("soft: execution set updated", slog.Int("writes", len(w)))
	return nil
}

func (s *execSet) pipelineAt(i uint32) (*pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(i) >= len(s.pls) || !s.written.IsSet(int(i)) {
		return nil, errors.Wrapf(errIndex, "pipeline %d", i)
	}
	return s.pls[i], nil
}

func (s *execSet) shaderAt(i uint32) (*shader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(i) >= len(s.shs) || !s.written.IsSet(int(i)) {
		return nil, errors.Wrapf(errIndex, "shader %d", i)
	}
	return s.shs[i], nil
}

// Destroy destroys the execution set.
func (s *execSet) Destroy() {}

// Preprocess buffer layout:
//
//	header  | magic u32, layout serial u32, sequence count u32, stride u32
//	records | max sequence count * stride
//	draws   | max sequence count * max draw count * command size (count tokens only)
const (
	hdrSize  = 16
	hdrMagic = 0x50434744
)

// preprocessSize returns the preprocess buffer size
// for the given parameters.
func (d *Driver) preprocessSize(l *cmdLayout, maxSeq, maxDraw uint32) int64 {
	if d.cfg.Preprocess.Disabled {
		return 0
	}
	n := hdrSize + int64(maxSeq)*int64(l.info.Stride)
	if sz, ok := l.drawCmdSize(); ok {
		n += int64(maxSeq) * int64(maxDraw) * sz
	}
	a := d.cfg.Preprocess.Align
	return (n + a - 1) &^ (a - 1)
}

// bindState holds the validated bind state of a
// generated commands operation.
type bindState struct {
	layout   *cmdLayout
	set      *execSet
	pipeline *pipeline
	shaders  []*shader
}

func (d *Driver) checkBindState(layout driver.CmdLayout, set driver.ExecSet, pl driver.Pipeline, sh []driver.Shader, maxSeq uint32) (*bindState, error) {
	if !d.cfg.Features.DGC {
		return nil, errors.Wrap(driver.ErrNotSupported, "device generated commands")
	}
	l, ok := layout.(*cmdLayout)
	if !ok {
		return nil, errors.Wrap(errLayout, "no command layout")
	}
	if maxSeq == 0 || int(maxSeq) > d.cfg.DGC.MaxSeqCount {
		return nil, errors.Wrapf(driver.ErrLimit, "max sequence count %d (max %d)", maxSeq, d.cfg.DGC.MaxSeqCount)
	}
	n := 0
	if set != nil {
		n++
	}
	if pl != nil {
		n++
	}
	if len(sh) != 0 {
		n++
	}
	if n != 1 {
		return nil, errors.Wrap(errBindState, "exactly one of execution set, pipeline and shaders must be set")
	}
	bs := &bindState{layout: l}
	t := l.execSetToken()
	switch {
	case set != nil:
		bs.set = set.(*execSet)
		if t == nil {
			return nil, errors.Wrap(errBindState, "execution set given but layout has no execution set token")
		}
		if t.SetType != bs.set.typ {
			return nil, errors.Wrap(errBindState, "execution set type does not match layout")
		}
	case t != nil:
		return nil, errors.Wrap(errBindState, "layout has an execution set token but no execution set given")
	case pl != nil:
		bs.pipeline = pl.(*pipeline)
	default:
		bs.shaders = make([]*shader, len(sh))
		for i := range sh {
			bs.shaders[i] = sh[i].(*shader)
		}
	}
	return bs, nil
}

// GenCmdsMemReqs queries the memory requirements of a
// preprocess buffer.
func (d *Driver) GenCmdsMemReqs(info *driver.MemReqsInfo) (driver.MemReqs, error) {
	bs, err := d.checkBindState(info.Layout, info.ExecSet, info.Pipeline, info.Shaders, info.MaxSeqCount)
	if err != nil {
		return driver.MemReqs{}, err
	}
	return driver.MemReqs{
		Size:     d.preprocessSize(bs.layout, info.MaxSeqCount, info.MaxDrawCount),
		Align:    d.cfg.Preprocess.Align,
		TypeBits: d.cfg.Preprocess.TypeBits,
	}, nil
}

// genCmds is a validated snapshot of a
// driver.GenCmdsInfo.
type genCmds struct {
	bindState
	info driver.GenCmdsInfo
	// Required preprocess buffer size.
	need int64
}

func (d *Driver) newGenCmds(info *driver.GenCmdsInfo) (*genCmds, error) {
	bs, err := d.checkBindState(info.Layout, info.ExecSet, info.Pipeline, info.Shaders, info.MaxSeqCount)
	if err != nil {
		return nil, err
	}
	g := &genCmds{bindState: *bs, info: *info}
	g.info.Shaders = append([]driver.Shader(nil), info.Shaders...)
	if info.Stages == 0 || info.Stages&^bs.layout.info.Stages != 0 {
		return nil, errors.Wrapf(errBindState, "stages %#x not in layout stages %#x", info.Stages, bs.layout.info.Stages)
	}
	if info.IndirectAddr == 0 || info.IndirectSize <= 0 {
		return nil, errors.Wrap(errSeq, "no indirect data")
	}
	g.need = d.preprocessSize(bs.layout, info.MaxSeqCount, info.MaxDrawCount)
	if g.need > 0 && (info.PreprocessAddr == 0 || info.PreprocessSize < g.need) {
		return nil, errors.Wrapf(errPreprocess, "size %d (need %d)", info.PreprocessSize, g.need)
	}
	return g, nil
}

// PreprocessGenCmds records a preprocessing step.
func (cb *cmdBuffer) PreprocessGenCmds(info *driver.GenCmdsInfo, state driver.CmdBuffer) {
	if cb.blk == bDraw {
		cb.fail(errors.Wrap(errState, "PreprocessGenCmds during draw work"))
		return
	}
	st, ok := state.(*cmdBuffer)
	if !ok || st.state != cbRecording {
		cb.fail(errors.Wrap(errState, "PreprocessGenCmds: state command buffer is not recording"))
		return
	}
	g, err := cb.d.newGenCmds(info)
	if err != nil {
		cb.fail(err)
		return
	}
	if g.pipeline != nil && st.rs.pl[g.pipeline.bp] != g.pipeline {
		cb.fail(errors.Wrap(errBindState, "PreprocessGenCmds: pipeline not bound in state command buffer"))
		return
	}
	cb.record(func(x *execState) error {
		_, err := x.preprocess(g)
		return err
	})
}

// ExecuteGenCmds records the execution of generated
// commands.
func (cb *cmdBuffer) ExecuteGenCmds(preprocessed bool, info *driver.GenCmdsInfo) {
	g, err := cb.d.newGenCmds(info)
	if err != nil {
		cb.fail(err)
		return
	}
	if g.layout.info.Usage&driver.LExplicitPreprocess != 0 && !preprocessed {
		cb.fail(errors.Wrap(errState, "ExecuteGenCmds: layout requires explicit preprocessing"))
		return
	}
	blk := bWork
	if g.layout.work().Type.IsDraw() {
		blk = bDraw
	}
	if !cb.need(blk, "ExecuteGenCmds") {
		return
	}
	cb.record(func(x *execState) error {
		var s *stream
		var err error
		if preprocessed {
			s, err = x.preprocessed(g)
		} else {
			s, err = x.preprocess(g)
		}
		if err != nil {
			return err
		}
		return x.execute(g, s)
	})
}

// stream is a sequence of records ready for execution.
type stream struct {
	p      []byte
	stride uint32
	n      uint32
}

func (s *stream) record(i uint32) []byte {
	return s.p[i*s.stride : (i+1)*s.stride]
}

// seqCount returns the number of sequences to execute.
func (x *execState) seqCount(g *genCmds) (uint32, error) {
	n := g.info.MaxSeqCount
	if g.info.SeqCountAddr != 0 {
		p, err := x.d.mem.slice(g.info.SeqCountAddr, 4)
		if err != nil {
			return 0, err
		}
		n = min(n, binary.LittleEndian.Uint32(p))
	}
	return n, nil
}

// indirect returns the first n records of the indirect
// data.
func (x *execState) indirect(g *genCmds, n uint32) (*stream, error) {
	stride := g.layout.info.Stride
	size := int64(n) * int64(stride)
	if size > g.info.IndirectSize {
		return nil, errors.Wrapf(errAddrRange, "%d sequences of %d bytes in %d bytes of indirect data", n, stride, g.info.IndirectSize)
	}
	p, err := x.d.mem.slice(g.info.IndirectAddr, size)
	if err != nil {
		return nil, err
	}
	return &stream{p: p, stride: stride, n: n}, nil
}

// preprocess writes the records to execute into the
// preprocess buffer. Count tokens are resolved: their
// commands are gathered into the buffer and the record
// is rewritten to refer to them.
func (x *execState) preprocess(g *genCmds) (*stream, error) {
	n, err := x.seqCount(g)
	if err != nil {
		return nil, err
	}
	src, err := x.indirect(g, n)
	if err != nil || g.need == 0 {
		return src, err
	}
	dst, err := x.d.mem.slice(g.info.PreprocessAddr, g.need)
	if err != nil {
		return nil, err
	}
	stride := g.layout.info.Stride
	binary.LittleEndian.PutUint32(dst, hdrMagic)
	binary.LittleEndian.PutUint32(dst[4:], g.layout.serial)
	binary.LittleEndian.PutUint32(dst[8:], n)
	binary.LittleEndian.PutUint32(dst[12:], stride)
	recs := dst[hdrSize : hdrSize+int64(n)*int64(stride)]
	copy(recs, src.p)
	s := &stream{p: recs, stride: stride, n: n}

	sz, ok := g.layout.drawCmdSize()
	if !ok {
		return s, nil
	}
	maxDraw := int64(g.info.MaxDrawCount)
	draws := hdrSize + int64(g.info.MaxSeqCount)*int64(stride)
	off := g.layout.work().Off
	for i := range n {
		rec := s.record(i)[off:]
		addr := binary.LittleEndian.Uint64(rec)
		st := binary.LittleEndian.Uint32(rec[8:])
		cnt := min(int64(binary.LittleEndian.Uint32(rec[12:])), maxDraw)
		base := draws + int64(i)*maxDraw*sz
		for j := range cnt {
			cmd, err := x.d.mem.slice(addr+uint64(j)*uint64(st), sz)
			if err != nil {
				return nil, errors.Wrapf(err, "sequence %d draw %d", i, j)
			}
			copy(dst[base+j*sz:], cmd)
		}
		binary.LittleEndian.PutUint64(rec, g.info.PreprocessAddr+uint64(base))
		binary.LittleEndian.PutUint32(rec[8:], uint32(sz))
		binary.LittleEndian.PutUint32(rec[12:], uint32(cnt))
	}
	return s, nil
}

// preprocessed returns the records written by a prior
// call to preprocess.
func (x *execState) preprocessed(g *genCmds) (*stream, error) {
	if g.need == 0 {
		n, err := x.seqCount(g)
		if err != nil {
			return nil, err
		}
		return x.indirect(g, n)
	}
	hdr, err := x.d.mem.slice(g.info.PreprocessAddr, hdrSize)
	if err != nil {
		return nil, err
	}
	stride := g.layout.info.Stride
	switch {
	case binary.LittleEndian.Uint32(hdr) != hdrMagic,
		binary.LittleEndian.Uint32(hdr[4:]) != g.layout.serial,
		binary.LittleEndian.Uint32(hdr[12:]) != stride:
		return nil, errors.Wrap(errPreprocess, "buffer was not preprocessed with this layout")
	}
	n := binary.LittleEndian.Uint32(hdr[8:])
	if n > g.info.MaxSeqCount {
		return nil, errors.Wrapf(errPreprocess, "%d sequences (max %d)", n, g.info.MaxSeqCount)
	}
	p, err := x.d.mem.slice(g.info.PreprocessAddr+hdrSize, int64(n)*int64(stride))
	if err != nil {
		return nil, err
	}
	return &stream{p: p, stride: stride, n: n}, nil
}

// execute executes the sequences of s.
// Sequences run in order unless the layout allows
// otherwise.
func (x *execState) execute(g *genCmds, s *stream) error {
	driver.Logger().Debug("soft: executing generated commands",
		slog.Uint64("sequences", uint64(s.n)),
		slog.String("work", g.layout.work().Type.String()))
	if g.layout.info.Usage&driver.LUnorderedSequences == 0 {
		for i := range s.n {
			if err := x.sequence(g, s.record(i), i); err != nil {
				return err
			}
		}
		return nil
	}
	var eg errgroup.Group
	eg.SetLimit(x.d.cfg.workers())
	for i := range s.n {
		eg.Go(func() error { return x.sequence(g, s.record(i), i) })
	}
	return eg.Wait()
}

// sequence executes the tokens of a single record.
// State changes made by tokens are not visible to other
// sequences.
func (x *execState) sequence(g *genCmds, rec []byte, seq uint32) error {
	y := x.clone()
	if g.pipeline != nil {
		y.bindPipeline(g.pipeline)
	}
	for _, sh := range g.shaders {
		y.bindShader(sh.stage, sh)
	}
	for i := range g.layout.info.Tokens {
		t := &g.layout.info.Tokens[i]
		arg := rec[t.Off : t.Off+t.Size()]
		if err := y.token(g, t, arg, seq); err != nil {
			return errors.Wrapf(err, "sequence %d: %s token", seq, t.Type)
		}
	}
	return nil
}

func (x *execState) token(g *genCmds, t *driver.Token, arg []byte, seq uint32) error {
	switch t.Type {
	case driver.TExecSet:
		if t.SetType == driver.ESPipelines {
			p, err := g.set.pipelineAt(binary.LittleEndian.Uint32(arg))
			if err != nil {
				return err
			}
			x.bindPipeline(p)
			return nil
		}
		for i, st := range t.SetStages.Each() {
			sh, err := g.set.shaderAt(binary.LittleEndian.Uint32(arg[4*i:]))
			if err != nil {
				return err
			}
			if sh.stage != st {
				return errors.Wrapf(errExecSet, "shader of stage %#x selected for stage %#x", sh.stage, st)
			}
			x.bindShader(st, sh)
		}
	case driver.TPushConst:
		copy(x.push[t.Push.Off:], arg)
	case driver.TSeqIndex:
		binary.LittleEndian.PutUint32(x.push[t.Push.Off:], seq)
	case driver.TIndexBuf:
		typ := binary.LittleEndian.Uint32(arg[12:])
		f, ok := indexFmt(t.Mode, typ)
		if !ok {
			return errors.Wrapf(errSeq, "index type %d", typ)
		}
		x.ibuf = indexBinding{
			addr: binary.LittleEndian.Uint64(arg),
			size: binary.LittleEndian.Uint32(arg[8:]),
			fmt:  f,
			set:  true,
		}
	case driver.TVertexBuf:
		x.setVertexBuf(int(t.Binding), vertexBinding{
			addr:   binary.LittleEndian.Uint64(arg),
			size:   binary.LittleEndian.Uint32(arg[8:]),
			stride: binary.LittleEndian.Uint32(arg[12:]),
			set:    true,
		})
	case driver.TDraw:
		c := decodeDraw(arg)
		return x.draw(&c, 0)
	case driver.TDrawIndexed:
		c := decodeDrawIndexed(arg)
		return x.drawIndexed(&c, 0)
	case driver.TDispatch:
		return x.dispatch(decodeGroups(arg))
	case driver.TDrawMeshTasks:
		return x.drawMeshTasks(decodeGroups(arg), 0)
	case driver.TTraceRays2:
		return x.traceRays(decodeGroups(arg[88:]))
	case driver.TDrawCount, driver.TDrawIndexedCount, driver.TDrawMeshTasksCount:
		return x.drawCount(g, t.Type, arg)
	}
	return nil
}

// drawCount executes the commands that a count
// token refers to.
func (x *execState) drawCount(g *genCmds, typ driver.TokenType, arg []byte) error {
	sz, _ := g.layout.drawCmdSize()
	addr := binary.LittleEndian.Uint64(arg)
	stride := binary.LittleEndian.Uint32(arg[8:])
	cnt := min(binary.LittleEndian.Uint32(arg[12:]), g.info.MaxDrawCount)
	for i := range cnt {
		b, err := x.d.mem.slice(addr+uint64(i)*uint64(stride), sz)
		if err != nil {
			return err
		}
		switch typ {
		case driver.TDrawCount:
			c := decodeDraw(b)
			err = x.draw(&c, i)
		case driver.TDrawIndexedCount:
			c := decodeDrawIndexed(b)
			err = x.drawIndexed(&c, i)
		default:
			err = x.drawMeshTasks(decodeGroups(b), i)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// indexFmt decodes the index type of an index buffer
// token.
func indexFmt(mode driver.InputMode, typ uint32) (driver.IndexFmt, bool) {
	switch mode {
	case driver.IModeVulkan:
		switch typ {
		case 0:
			return driver.Index16, true
		case 1:
			return driver.Index32, true
		}
	case driver.IModeDXGI:
		switch typ {
		case driver.DXGIR16Uint:
			return driver.Index16, true
		case driver.DXGIR32Uint:
			return driver.Index32, true
		}
	}
	return 0, false
}
