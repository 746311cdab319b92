// Package main provides the entry point for the conductor CLI.
package main

import (
	"os"

	"github.com/conductor-dev/conductor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
