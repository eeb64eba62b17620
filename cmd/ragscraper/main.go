// Package main provides the entry point for the ragscraper CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/ragscraper/cmd/ragscraper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
