// Package scheduler drives source connectors: interval ticks, stable-file
// arrival in per-connector input directories and manual trigger requests.
// Every trigger is dispatched as an isolated task whose failure is logged and
// never propagates to the loop or to other connectors.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/lifelog/internal/server/entries"
)

// TriggerKind names the three ways a connector can be invoked.
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerNewFile  TriggerKind = "new_file"
	TriggerRequest  TriggerKind = "request"
)

// Capabilities declares what a connector needs from its environment.
type Capabilities struct {
	NeedsStorage     bool
	NeedsInputDir    bool
	AcceptsFileInput bool
}

// Request carries the optional payload of a manual trigger.
type Request struct {
	FilePath string
	Metadata map[string]any
}

// RPCHandler is one entry of a connector's RPC dispatch table.
type RPCHandler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Connector is a single data source. Trigger handlers append to the given
// insertion log for every record they attempt to persist, success or failure.
type Connector interface {
	ID() string
	Capabilities() Capabilities

	OnInterval(ctx context.Context, log *InsertionLog) error
	OnNewFile(ctx context.Context, log *InsertionLog, path string) error
	OnRequest(ctx context.Context, log *InsertionLog, req Request) error

	// RPCHandlers exposes connector-specific actions (e.g. finishing an
	// authorization handshake) to the administrative surface.
	RPCHandlers() map[string]RPCHandler

	// Status reports connector-specific state for the admin listing.
	Status(ctx context.Context) map[string]any
}

// InsertionRecord is one line of the append-only insertion log: the identity
// a connector attempted to persist and how it went.
type InsertionRecord struct {
	EntryUUID entries.EntryUUID `json:"entry_uuid"`
	Mutated   bool              `json:"mutated"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
}

// InsertionLog accumulates insertion records across one trigger invocation.
// Safe for concurrent appends.
type InsertionLog struct {
	mu      sync.Mutex
	records []InsertionRecord
}

func NewInsertionLog() *InsertionLog {
	return &InsertionLog{}
}

func (l *InsertionLog) Append(r InsertionRecord) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()
}

// Records returns a copy of the accumulated records.
func (l *InsertionLog) Records() []InsertionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]InsertionRecord, len(l.records))
	copy(out, l.records)
	return out
}

// TriggerError is a timestamped failure captured at the scheduler boundary.
type TriggerError struct {
	At      time.Time   `json:"at"`
	Kind    TriggerKind `json:"kind"`
	Message string      `json:"message"`
}
