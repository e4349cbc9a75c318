// Package storage defines the external storage collaborators consumed by the
// entry manager and connectors: a document store for entry metadata, a
// durable payload store for file contents, and a small key/value state store
// for connector cursors. Concrete backends are swappable adapters.
package storage

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/lifelog/internal/server/entries"
)

// LocationFilter selects entries inside a square bounding box: center
// latitude/longitude plus half the side length in degrees.
type LocationFilter struct {
	CenterLatitude  float64 `json:"center_latitude"`
	CenterLongitude float64 `json:"center_longitude"`
	Radius          float64 `json:"radius"`
}

// Filter restricts a document-store search. Zero-valued fields do not filter.
type Filter struct {
	TimestampAfter  *int64              `json:"timestamp_after,omitempty"`
	TimestampBefore *int64              `json:"timestamp_before,omitempty"`
	EntryTypes      []entries.EntryType `json:"entry_types,omitempty"`
	InputHandlerIDs []string            `json:"input_handler_ids,omitempty"`
	GroupIDs        []string            `json:"group_ids,omitempty"`
	Location        *LocationFilter     `json:"location,omitempty"`
}

// DocumentStore persists serialized entries keyed by their uuid.
type DocumentStore interface {
	// Put upserts the entry under its uuid.
	Put(ctx context.Context, e *entries.Entry) error
	// Get returns the entry or an error wrapping common.ErrNotFound.
	Get(ctx context.Context, uuid entries.EntryUUID) (*entries.Entry, error)
	// GetMany returns the entries that exist; missing uuids are skipped.
	GetMany(ctx context.Context, uuids []entries.EntryUUID) ([]*entries.Entry, error)
	// Delete removes the entry or returns an error wrapping common.ErrNotFound.
	Delete(ctx context.Context, uuid entries.EntryUUID) error
	// Search returns the uuids matching the filter, ordered by start time.
	Search(ctx context.Context, f Filter) ([]entries.EntryUUID, error)
	Close() error
}

// PayloadStore persists durable binary payloads referenced by file entries.
// Delete is idempotent on all backends.
type PayloadStore interface {
	// Put uploads a local file and returns its durable payload id.
	Put(ctx context.Context, localPath string) (string, error)
	// Get downloads the payload to a local path.
	Get(ctx context.Context, payloadID string, localPath string) error
	// Delete removes the payload. Deleting a missing payload is not an error.
	Delete(ctx context.Context, payloadID string) error
	// ResolveURL returns a client-usable retrieval URL for the payload.
	ResolveURL(ctx context.Context, payloadID string) (string, error)
}

// StateStore holds per-connector cursor state (revision markers, sync
// counters, tokens) namespaced by handler id.
type StateStore interface {
	GetState(ctx context.Context, handlerID, key string) (string, error)
	SetState(ctx context.Context, handlerID, key, value string) error
}

// HandlerState is a StateStore view scoped to one connector.
type HandlerState struct {
	store     StateStore
	handlerID string
}

func NewHandlerState(store StateStore, handlerID string) *HandlerState {
	return &HandlerState{store: store, handlerID: handlerID}
}

func (s *HandlerState) Get(ctx context.Context, key string) (string, error) {
	return s.store.GetState(ctx, s.handlerID, key)
}

func (s *HandlerState) Set(ctx context.Context, key, value string) error {
	return s.store.SetState(ctx, s.handlerID, key, value)
}

// placeholderFunc renders the n-th SQL placeholder (1-based) in the dialect
// of the backend.
type placeholderFunc func(n int) string

// filterSQL renders the filter into WHERE conditions and arguments shared by
// the SQL-backed stores.
func filterSQL(f Filter, ph placeholderFunc) (conds []string, args []any) {
	next := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}

	if f.TimestampAfter != nil {
		conds = append(conds, fmt.Sprintf("start_time >= %s", next(*f.TimestampAfter)))
	}
	if f.TimestampBefore != nil {
		conds = append(conds, fmt.Sprintf("start_time <= %s", next(*f.TimestampBefore)))
	}
	if len(f.EntryTypes) > 0 {
		in := ""
		for i, t := range f.EntryTypes {
			if i > 0 {
				in += ", "
			}
			in += next(string(t))
		}
		conds = append(conds, fmt.Sprintf("entry_type IN (%s)", in))
	}
	if len(f.InputHandlerIDs) > 0 {
		in := ""
		for i, id := range f.InputHandlerIDs {
			if i > 0 {
				in += ", "
			}
			in += next(id)
		}
		conds = append(conds, fmt.Sprintf("input_handler_id IN (%s)", in))
	}
	if len(f.GroupIDs) > 0 {
		in := ""
		for i, id := range f.GroupIDs {
			if i > 0 {
				in += ", "
			}
			in += next(id)
		}
		conds = append(conds, fmt.Sprintf("group_id IN (%s)", in))
	}
	if f.Location != nil {
		l := f.Location
		conds = append(conds, fmt.Sprintf("latitude >= %s", next(l.CenterLatitude-l.Radius)))
		conds = append(conds, fmt.Sprintf("latitude <= %s", next(l.CenterLatitude+l.Radius)))
		conds = append(conds, fmt.Sprintf("longitude >= %s", next(l.CenterLongitude-l.Radius)))
		conds = append(conds, fmt.Sprintf("longitude <= %s", next(l.CenterLongitude+l.Radius)))
	}
	return conds, args
}

// Matches reports whether the entry satisfies the filter. Used by the
// in-memory store and exposed for tests.
func (f Filter) Matches(e *entries.Entry) bool {
	if f.TimestampAfter != nil && e.StartTime < *f.TimestampAfter {
		return false
	}
	if f.TimestampBefore != nil && e.StartTime > *f.TimestampBefore {
		return false
	}
	if len(f.EntryTypes) > 0 && !contains(f.EntryTypes, e.Type) {
		return false
	}
	if len(f.InputHandlerIDs) > 0 && !contains(f.InputHandlerIDs, e.InputHandlerID) {
		return false
	}
	if len(f.GroupIDs) > 0 && !contains(f.GroupIDs, e.GroupID) {
		return false
	}
	if f.Location != nil {
		if e.Latitude == nil || e.Longitude == nil {
			return false
		}
		l := f.Location
		if *e.Latitude < l.CenterLatitude-l.Radius || *e.Latitude > l.CenterLatitude+l.Radius {
			return false
		}
		if *e.Longitude < l.CenterLongitude-l.Radius || *e.Longitude > l.CenterLongitude+l.Radius {
			return false
		}
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
