package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Status(ctx context.Context) error
	Trigger(ctx context.Context, args []string) error
	RPC(ctx context.Context, args []string) error
}

// runREPL starts a simple read–eval–print loop for the lifelog admin CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	- help                         — show available commands
//	- login                        — authenticate with the admin password
//	- status | s                   — list connectors and their state
//	- trigger <connector> [file]   — fire a manual run, optionally uploading a file
//	- rpc <connector> <name>       — invoke a connector procedure (params prompted)
//	- exit | quit                  — leave the program
//
// Any errors returned by command handlers are ignored here; handlers should
// log their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("llog> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: (s)tatus, trigger <connector> [file], rpc <connector> <name>, exit")
			} else {
				printlnFn("Available commands: login, exit")
			}

		case "login":
			_ = a.Login(ctx)

		case "s", "status":
			_ = a.Status(ctx)

		case "trigger":
			if len(args) == 0 {
				printlnFn("Usage: trigger <connector> [file]")
				continue
			}
			_ = a.Trigger(ctx, args)

		case "rpc":
			if len(args) < 2 {
				printlnFn("Usage: rpc <connector> <name>")
				continue
			}
			_ = a.RPC(ctx, args)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
