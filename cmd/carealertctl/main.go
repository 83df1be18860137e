// Package main is the entry point for the carealertctl CLI tool.
package main

import (
	"os"

	"github.com/good-yellow-bee/carealert/cmd/carealertctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
