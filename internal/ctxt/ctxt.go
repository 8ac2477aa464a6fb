// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package ctxt provides the GPU driver used in tests
// and examples.
package ctxt

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/driver"
)

var (
	drv      driver.Driver
	gpu      driver.GPU
	limits   driver.Limits
	features driver.Features
)

var errNoDriver = errors.New("ctxt: driver not found")

// load opens the first driver whose name contains name,
// ignoring case. An empty name matches every driver.
// On success it replaces the package state.
func load(name string) error {
	err := errors.Wrapf(errNoDriver, "%q", name)
	name = strings.ToLower(name)
	for _, d := range driver.Drivers() {
		if !strings.Contains(strings.ToLower(d.Name()), name) {
			continue
		}
		u, oerr := d.Open()
		if oerr != nil {
			err = errors.Wrapf(oerr, "ctxt: opening %q", d.Name())
			continue
		}
		drv, gpu = d, u
		limits, features = u.Limits(), u.Features()
		driver.Logger().Info("ctxt: driver loaded", slog.String("name", d.Name()))
		return nil
	}
	return err
}

// Driver returns the driver.Driver.
func Driver() driver.Driver { return drv }

// GPU returns the driver.GPU.
func GPU() driver.GPU { return gpu }

// DGC returns GPU() as a driver.DGCGPU.
// It returns nil if the GPU does not support device
// generated commands.
func DGC() driver.DGCGPU {
	if !features.DGC {
		return nil
	}
	g, _ := gpu.(driver.DGCGPU)
	return g
}

// Limits returns GPU().Limits().
// This value is retrieved only once. It must not be
// changed by the caller.
func Limits() *driver.Limits { return &limits }

// Features returns GPU().Features().
// This value is retrieved only once. It must not be
// changed by the caller.
func Features() *driver.Features { return &features }
