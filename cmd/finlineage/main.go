// Package main is the entry point for the finlineage CLI.
package main

import (
	"os"

	"finlineage/cmd/finlineage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
