// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package soft implements driver interfaces in software.
// It runs entirely on the CPU: device memory is host memory
// with a flat address space, and shaders are Go functions
// registered with AddKernel. There is no rasterization;
// draws invoke the vertex (or task/mesh) kernels only.
// It is intended to exercise code built on the driver
// package, device generated commands included, where no
// hardware driver is available.
package soft

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

const driverName = "soft"

// Driver implements driver.Driver, driver.GPU and
// driver.DGCGPU.
type Driver struct {
	cfg  Config
	mu   sync.Mutex
	open bool
	mem  memory

	// Serializes Commit execution, so committed
	// command buffers run in submission order.
	qmu sync.Mutex

	// Source of command layout serials.
	serial atomic.Uint32
}

func init() {
	driver.Register(New(nil))
}

// New creates a new, unregistered Driver emulating the
// device described by cfg.
// If cfg is nil, DefaultConfig is used.
func New(cfg *Config) *Driver {
	d := &Driver{}
	if cfg == nil {
		d.cfg = DefaultConfig()
	} else {
		d.cfg = *cfg
	}
	return d
}

// Open initializes the driver.
func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return d, nil
	}
	if err := d.cfg.validate(); err != nil {
		return nil, errors.Wrap(driver.ErrNoDevice, err.Error())
	}
	d.open = true
	driver.Logger().Info("soft: device opened", slog.Int("workers", d.cfg.workers()))
	return d, nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return driverName }

// Close deinitializes the driver.
// Every allocation is released.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return
	}
	d.qmu.Lock()
	d.mem.reset()
	d.qmu.Unlock()
	d.open = false
}

// Driver returns d.
func (d *Driver) Driver() driver.Driver { return d }

// Config returns the device description.
func (d *Driver) Config() Config { return d.cfg }

// Limits returns the implementation limits.
func (d *Driver) Limits() driver.Limits { return d.cfg.limits() }

// Features returns the supported features.
func (d *Driver) Features() driver.Features { return d.cfg.features() }

// DGCProps returns the device generated commands properties.
func (d *Driver) DGCProps() driver.DGCProps { return d.cfg.dgcProps() }

// Commit executes the command buffers in cb in order,
// then sends the result to ch.
// Execution stops at the first error.
func (d *Driver) Commit(cb []driver.CmdBuffer, ch chan<- error) {
	go func() {
		d.qmu.Lock()
		defer d.qmu.Unlock()
		for i := range cb {
			if err := cb[i].(*cmdBuffer).execute(); err != nil {
				ch <- err
				return
			}
		}
		ch <- nil
	}()
}

// buffer implements driver.Buffer.
type buffer struct {
	d   *Driver
	a   *alloc
	vis bool
	usg driver.Usage
}

var errBufferSize = errors.New("soft: invalid buffer size")

// NewBuffer creates a new buffer.
func (d *Driver) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	switch {
	case size <= 0:
		return nil, errors.Wrapf(errBufferSize, "%d", size)
	case size > d.cfg.Limits.MaxBuffer:
		return nil, errors.Wrapf(driver.ErrNoDeviceMemory, "buffer size %d", size)
	}
	b := &buffer{
		d:   d,
		a:   d.mem.alloc(size),
		vis: visible,
		usg: usg,
	}
	driver.Logger().Debug("soft: buffer created", slog.Int64("size", size), slog.Uint64("addr", b.a.addr))
	return b, nil
}

// Visible returns whether the buffer is host visible.
func (b *buffer) Visible() bool { return b.vis }

// Bytes returns the buffer memory if it is host visible.
func (b *buffer) Bytes() []byte {
	if !b.vis {
		return nil
	}
	return b.a.p
}

// Cap returns the capacity of the buffer in bytes.
func (b *buffer) Cap() int64 { return int64(len(b.a.p)) }

// Addr returns the device address of the buffer.
func (b *buffer) Addr() uint64 {
	if b.usg&driver.UDeviceAddr == 0 {
		return 0
	}
	return b.a.addr
}

// Destroy destroys the buffer.
func (b *buffer) Destroy() {
	if b == nil || b.a == nil {
		return
	}
	b.d.mem.free(b.a)
	*b = buffer{}
}
