// Copyright 2025 The Autopeer Authors.

package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/voltlink/cmd/voltlink-agent/app"
)

func main() {
	app.NewApp().Run()
}
