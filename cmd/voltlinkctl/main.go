// Copyright 2025 The Autopeer Authors.

package main

import (
	"os"

	"github.com/autopeer-io/voltlink/cmd/voltlinkctl/app"
)

func main() {
	if err := app.NewCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
