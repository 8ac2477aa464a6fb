// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package dgc

import (
	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

// Buffer is a host visible buffer usable as indirect
// data. It always has a device address.
type Buffer struct {
	buf  driver.Buffer
	size int64
}

// NewBuffer creates a new Buffer of at least size bytes.
// usg is added to UIndirect|UDeviceAddr.
func NewBuffer(gpu driver.GPU, size int64, usg driver.Usage) (*Buffer, error) {
	buf, err := gpu.NewBuffer(size, true, usg|driver.UIndirect|driver.UDeviceAddr)
	if err != nil {
		return nil, errors.Wrap(err, "dgc: creating buffer")
	}
	return &Buffer{buf, size}, nil
}

// Addr returns the device address of the buffer.
func (b *Buffer) Addr() uint64 { return b.buf.Addr() }

// Size returns the size requested at creation.
func (b *Buffer) Size() int64 { return b.size }

// Bytes returns the buffer memory.
func (b *Buffer) Bytes() []byte { return b.buf.Bytes()[:b.size] }

// Buffer returns the underlying buffer.
func (b *Buffer) Buffer() driver.Buffer { return b.buf }

// Range returns the whole buffer as a Range.
func (b *Buffer) Range() Range { return Range{b.Addr(), b.size} }

// Slice returns size bytes starting at off as a Range.
func (b *Buffer) Slice(off, size int64) Range {
	if off < 0 || size < 0 || off+size > b.size {
		panic("dgc: Buffer.Slice out of bounds")
	}
	return Range{b.Addr() + uint64(off), size}
}

// Stream returns a Stream that writes records to the
// buffer memory.
func (b *Buffer) Stream(stride uint32) *Stream { return WrapStream(b.Bytes(), stride) }

// Destroy destroys the buffer.
func (b *Buffer) Destroy() {
	if b.buf != nil {
		b.buf.Destroy()
	}
	*b = Buffer{}
}
