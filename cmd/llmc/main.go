// Package main is the llmc entry point.
package main

import (
	"os"

	"github.com/vmlinuzx/llmc-sub012/cmd/llmc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
