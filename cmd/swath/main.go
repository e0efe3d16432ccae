// Package main is the swath CLI entry point.
package main

import (
	"os"

	"github.com/coastwise/swath/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
