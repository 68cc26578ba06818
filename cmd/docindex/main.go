// Package main provides the entry point for the docindex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/docindex/cmd/docindex/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
