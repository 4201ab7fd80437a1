// Command ordkit generates and inspects order keys, migrates legacy
// positions, serves a SQLite-backed mutation authority, and replays moves
// through the coordinator for inspection.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
