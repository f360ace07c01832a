package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "toolgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse subcommand from os.Args
	subcmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "serve":
		return cmdServe(args)
	case "probe":
		return cmdProbe(args)
	case "dry-run":
		return cmdDryRun(args)
	case "secret":
		return cmdSecret(args)
	case "keygen":
		return cmdKeygen(args)
	default:
		return fmt.Errorf("unknown command: %s\nUsage: toolgate [serve|probe|dry-run|secret|keygen]", subcmd)
	}
}
