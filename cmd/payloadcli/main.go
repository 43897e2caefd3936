package main

import (
	"github.com/robotalks/payload.go/pkg/cli/sh"

	_ "github.com/robotalks/payload.go/pkg/cli/cmds/flash"
)

//go-build: CGO_ENABLED=0

func init() {
	sh.SetupFlags()
}

func main() {
	sh.Main()
}
