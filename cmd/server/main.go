// Package main is the entry point for the Plausch account server.
//
// The main package only builds the command tree; configuration, wiring
// and serving live in internal/config and internal/server.
package main

import (
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
