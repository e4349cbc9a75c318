package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/lifelog/internal/client/api"
	"github.com/dmitrijs2005/lifelog/internal/common"
)

// getPassword and getMetadata are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getPassword = GetPassword
var getMetadata = GetMetadata

// Login prompts for the admin password and exchanges it for an access token.
// The password byte slice is securely wiped before returning.
func (a *App) Login(ctx context.Context) error {
	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.api.Login(ctx, password); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			log.Printf("Login unsuccessfull: invalid credentials")
		} else {
			log.Printf("Login unsuccessfull: %s", err.Error())
		}
		return err
	}

	log.Printf("Login successfull")
	return nil
}

// Status fetches and prints the state of every registered connector.
func (a *App) Status(ctx context.Context) error {
	list, err := a.api.Connectors(ctx)
	if err != nil {
		log.Printf("Error fetching status: %s", err.Error())
		return err
	}

	if len(list) == 0 {
		printlnFn("No connectors registered")
		return nil
	}

	for _, c := range list {
		line := fmt.Sprintf("%-20s in_flight=%d", c.ID, c.InFlight)
		if c.Interval != "" {
			line += " interval=" + c.Interval
		}
		if c.LastTriggered != nil {
			line += " last=" + c.LastTriggered.Format("2006-01-02 15:04:05")
		}
		if len(c.Errors) > 0 {
			last := c.Errors[len(c.Errors)-1]
			line += fmt.Sprintf(" errors=%d (last: %s)", len(c.Errors), last.Message)
		}
		printlnFn(line)
		for k, v := range c.State {
			printlnFn(fmt.Sprintf("    %s: %v", k, v))
		}
	}
	return nil
}

// Trigger fires a manual run of a connector. args is the REPL tail:
// the connector id, optionally followed by a path to a file to upload.
// Extra metadata is prompted as name=value lines.
func (a *App) Trigger(ctx context.Context, args []string) error {
	connectorID := args[0]
	filePath := ""
	if len(args) > 1 {
		filePath = args[1]
	}

	lines, err := getMetadata(a.reader)
	if err != nil {
		return err
	}
	metadata := parseMetadata(lines)

	result, err := a.api.Trigger(ctx, connectorID, filePath, metadata)
	if err != nil {
		log.Printf("Trigger failed: %s", err.Error())
		return err
	}

	if result.Error != "" {
		printlnFn("Connector reported an error: " + result.Error)
	}
	printlnFn(fmt.Sprintf("%d entries touched", len(result.Records)))
	for _, r := range result.Records {
		line := r.EntryUUID
		if r.Mutated {
			line += " (mutated)"
		}
		if r.Error != "" {
			line += " error: " + r.Error
		}
		printlnFn("  " + line)
	}
	return nil
}

// RPC invokes a named connector procedure. args is the REPL tail: the
// connector id and the procedure name. Parameters are prompted as
// name=value lines.
func (a *App) RPC(ctx context.Context, args []string) error {
	connectorID, name := args[0], args[1]

	lines, err := getMetadata(a.reader)
	if err != nil {
		return err
	}
	params := parseMetadata(lines)

	out, err := a.api.RPC(ctx, connectorID, name, params)
	if err != nil {
		log.Printf("RPC failed: %s", err.Error())
		return err
	}

	for k, v := range out {
		printlnFn(fmt.Sprintf("%s: %v", k, v))
	}
	return nil
}

// parseMetadata turns raw "name=value" lines into a parameter map.
// Lines without '=' are skipped.
func parseMetadata(lines []string) map[string]any {
	if len(lines) == 0 {
		return nil
	}
	m := make(map[string]any, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		m[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
