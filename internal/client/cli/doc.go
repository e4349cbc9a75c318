// Package cli provides the interactive lifelog admin command-line client.
//
// It wires configuration, the admin HTTP API client, and an interactive REPL.
// Typical flow: prompt for the admin password, then execute user commands
// against the server.
//
// Key features:
//   - Login with the admin password
//   - Status of registered connectors
//   - Manual triggers, with optional file upload
//   - Connector RPCs (for example, storing a provider access token)
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
