// Package main is the entry point for the mimir CLI binary.
package main

import (
	"os"

	"mimir/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
