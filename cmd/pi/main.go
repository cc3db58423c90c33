// Package main provides the entry point for the pi CLI.
package main

import (
	"fmt"
	"os"

	"github.com/pi-agent/pi/cmd/pi/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
