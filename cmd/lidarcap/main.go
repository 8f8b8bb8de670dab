// Package main is the entry point for the lidarcap application.
package main

import (
	"os"

	"github.com/jmylchreest/lidarcap/cmd/lidarcap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
