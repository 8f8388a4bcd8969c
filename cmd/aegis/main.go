package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. It exists separately from main so tests can
// drive the CLI with captured output.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stdout, stderr)
	}
	switch args[1] {
	case "serve", "server":
		return runServe(stdout, stderr)
	case "token":
		return runToken(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "aegis — AI agent safety kernel")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  aegis serve             start the HTTP kernel (default)")
	fmt.Fprintln(w, "  aegis token <id> <roles> mint a principal token (roles comma-separated)")
	fmt.Fprintln(w, "  aegis help              show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration is read from environment variables; see pkg/config.")
}
