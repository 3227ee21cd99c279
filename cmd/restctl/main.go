// Package main is the entry point of restctl, the command line client of
// restkit services.
package main

import (
	"os"

	"github.com/pitabwire/restkit/internal/cli"
	"github.com/pitabwire/restkit/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	observability.Version = version
	observability.Commit = commit

	if err := cli.NewRestctlCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
