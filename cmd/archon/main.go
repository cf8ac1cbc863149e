package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "project":
		return runProject(args[2:], stdout, stderr)
	case "enable":
		return runEnable(args[2:], stdout, stderr)
	case "disable":
		return runDisable(args[2:], stdout, stderr)
	case "rules":
		return runRules(args[2:], stdout, stderr)
	case "restrict":
		return runRestrict(args[2:], stdout, stderr)
	case "log":
		return runLog(args[2:], stdout, stderr)
	case "propose":
		return runPropose(args[2:], stdout, stderr)
	case "proposals":
		return runProposals(args[2:], stdout, stderr)
	case "demo":
		return runDemo(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "archon — local coordination kernel for agent actions")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: archon <command> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  status                          Show active project, enabled modules and capabilities")
	fmt.Fprintln(w, "  project create|list|select|current")
	fmt.Fprintln(w, "  enable module <id>              Propose and approve a module enablement")
	fmt.Fprintln(w, "  disable module <id>             (capabilities are enabled through propose)")
	fmt.Fprintln(w, "  rules add|remove|list           Manage compiled restriction rules")
	fmt.Fprintln(w, "  restrict <id> <dsl>             Compile and install a restriction from DSL text")
	fmt.Fprintln(w, "  log                             Print the deduplicated decision log")
	fmt.Fprintln(w, "  propose <change...>             Create a pending proposal")
	fmt.Fprintln(w, "  proposals list|show|approve|reject")
	fmt.Fprintln(w, "  demo                            Run the built-in walkthrough scenario")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment: ARCHON_HOME (state root), ARCHON_STATE_DIR (legacy)")
}
