// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package driver defines the GPU interfaces that device
// generated commands are built on.
// The core interfaces (GPU, CmdBuffer and resources) are
// extended by DGCGPU and DGCCmdBuffer, which a driver
// implements only when the device supports generated
// commands.
package driver

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// Driver loads and unloads a GPU implementation.
type Driver interface {
	// Open opens the driver's device.
	// Calling Open on an open driver returns the same
	// GPU. Open and Close must not be called in parallel.
	Open() (GPU, error)

	// Name returns the driver's name. It does not open
	// the driver.
	Name() string

	// Close closes the driver. Every object created from
	// its GPU must have been destroyed.
	Close()
}

// Errors that drivers return.
// Implementations wrap these so callers can test for
// them with errors.Is.
var (
	// The device or its configuration is unusable.
	ErrNoDevice = errors.New("driver: no suitable device found")
	// A device allocation failed.
	ErrNoDeviceMemory = errors.New("driver: out of device memory")
	// The device lacks a requested feature.
	ErrNotSupported = errors.New("driver: feature not supported")
	// A device limit was exceeded.
	ErrLimit = errors.New("driver: device limit exceeded")
)

var registry struct {
	sync.Mutex
	drivers []Driver
}

// Drivers returns a copy of the registered drivers, in
// registration order.
func Drivers() []Driver {
	registry.Lock()
	defer registry.Unlock()
	return slices.Clone(registry.drivers)
}

// Register registers drv.
// Drivers call it from init. A driver whose name is
// already registered replaces the previous one.
func Register(drv Driver) {
	registry.Lock()
	defer registry.Unlock()
	name := drv.Name()
	i := slices.IndexFunc(registry.drivers, func(d Driver) bool { return d.Name() == name })
	if i >= 0 {
		registry.drivers[i] = drv
		Logger().Warn("driver replaced", slog.String("name", name))
		return
	}
	registry.drivers = append(registry.drivers, drv)
	Logger().Info("driver registered", slog.String("name", name))
}
