package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sare: %v\n", err)
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
	case "init":
		return cmdInit(args)
	case "config":
		return cmdConfig(args)
	case "report":
		return cmdReport(args)
	case "status":
		return cmdStatus(args)
	case "version":
		fmt.Println("sare", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nUsage: sare [serve|init|config|report|status|version]", subcmd)
	}
}
