// Package main provides the entry point for the agentd daemon CLI.
package main

import (
	"fmt"
	"os"

	"github.com/loopbackai/agentd/cmd/agentd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
