// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package ctxt

import (
	"os"

	_ "github.com/gviegas/dgc/driver/soft"
)

// DriverEnv names the environment variable that selects
// the driver. The software driver is used if it is unset.
const DriverEnv = "DGC_DRIVER"

func init() {
	name, ok := os.LookupEnv(DriverEnv)
	if !ok {
		name = "soft"
	}
	if err := load(name); err != nil {
		if err = load(""); err != nil {
			panic(err)
		}
	}
}
