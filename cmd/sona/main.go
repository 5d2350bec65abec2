// Package main provides the entry point for the sona CLI.
package main

import (
	"fmt"
	"os"

	"github.com/qent/sona-sub000/cmd/sona/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
