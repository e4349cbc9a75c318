// Package entrymanager implements idempotent entry upserts over the document
// and payload stores. All connector writes funnel through it.
package entrymanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/entries"
	"github.com/dmitrijs2005/lifelog/internal/server/storage"
)

// Outcome classifies what an insert did.
type Outcome string

const (
	// Created means no entry with this uuid existed before.
	Created Outcome = "created"
	// Mutated means an entry with this uuid was overwritten, incrementing
	// its mutation count.
	Mutated Outcome = "mutated"
)

// Manager coordinates entry writes. Check-then-write on one uuid is
// serialized through striped locks so concurrent connectors cannot interleave
// a read-modify-write on the same entry.
type Manager struct {
	docs     storage.DocumentStore
	payloads storage.PayloadStore
	locks    *keyLock
	log      logging.Logger
}

func New(docs storage.DocumentStore, payloads storage.PayloadStore, log logging.Logger) *Manager {
	return &Manager{
		docs:     docs,
		payloads: payloads,
		locks:    newKeyLock(64),
		log:      log.With("component", "entrymanager"),
	}
}

// Insert upserts a metadata-only entry keyed by its derived uuid.
//
// A new uuid creates the entry. A known uuid fails with common.ErrAlreadyExists
// unless allowMutate is set, in which case the stored document is overwritten
// and its mutation count incremented.
func (m *Manager) Insert(ctx context.Context, e *entries.Entry, allowMutate bool) (Outcome, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("invalid entry: %w", err)
	}

	uuid := e.UUID()
	unlock := m.locks.lock(uuid)
	defer unlock()

	existing, err := m.docs.Get(ctx, uuid)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return "", err
	}

	if existing == nil {
		e.MutationCount = 0
		if err := m.docs.Put(ctx, e); err != nil {
			return "", err
		}
		return Created, nil
	}

	if !allowMutate {
		return "", fmt.Errorf("%w: entry %s", common.ErrAlreadyExists, uuid)
	}

	e.MutationCount = existing.MutationCount + 1
	if err := m.docs.Put(ctx, e); err != nil {
		return "", err
	}
	m.log.Info(ctx, "entry mutated", "entry_uuid", uuid, "mutation_count", e.MutationCount)
	return Mutated, nil
}

// InsertWithPayload upserts a file-backed entry whose FileDetail still points
// at a local file.
//
// The local file is uploaded before any metadata is touched, and a replaced
// entry's old payload is deleted (when deleteOldPayload is set) only after
// the new metadata is durably written. A crash can therefore leave an
// orphaned payload behind but never a metadata row pointing at a deleted
// payload.
func (m *Manager) InsertWithPayload(ctx context.Context, e *entries.Entry, localPath string, allowMutate, deleteOldPayload bool) (Outcome, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("invalid entry: %w", err)
	}
	if _, ok := entries.FileDetailOf(e); !ok {
		return "", fmt.Errorf("entry %q carries no file payload", e.Type)
	}

	payloadID, err := m.payloads.Put(ctx, localPath)
	if err != nil {
		return "", fmt.Errorf("uploading payload: %w", err)
	}
	stored := e.WithFileID(payloadID)

	uuid := stored.UUID()
	unlock := m.locks.lock(uuid)
	defer unlock()

	existing, err := m.docs.Get(ctx, uuid)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return "", err
	}

	if existing == nil {
		stored.MutationCount = 0
		if err := m.docs.Put(ctx, stored); err != nil {
			return "", err
		}
		return Created, nil
	}

	if !allowMutate {
		// The upload was premature; the stored entry keeps its payload.
		m.deletePayload(ctx, payloadID)
		return "", fmt.Errorf("%w: entry %s", common.ErrAlreadyExists, uuid)
	}

	stored.MutationCount = existing.MutationCount + 1
	if err := m.docs.Put(ctx, stored); err != nil {
		return "", err
	}
	if deleteOldPayload {
		if fd, ok := entries.FileDetailOf(existing); ok && fd.FileID != "" && fd.FileID != payloadID {
			m.deletePayload(ctx, fd.FileID)
		}
	}
	m.log.Info(ctx, "entry mutated", "entry_uuid", uuid, "mutation_count", stored.MutationCount)
	return Mutated, nil
}

// Delete removes an entry and, for file-backed entries, its payload. The
// metadata row goes first; payload deletion is idempotent on every backend,
// so a retry after partial failure converges.
func (m *Manager) Delete(ctx context.Context, uuid entries.EntryUUID) error {
	unlock := m.locks.lock(uuid)
	defer unlock()

	e, err := m.docs.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if err := m.docs.Delete(ctx, uuid); err != nil {
		return err
	}
	if fd, ok := entries.FileDetailOf(e); ok && fd.FileID != "" {
		m.deletePayload(ctx, fd.FileID)
	}
	return nil
}

// DeleteGroup removes every entry sharing the group id. Best effort: a
// failing member does not strand the rest of the group.
func (m *Manager) DeleteGroup(ctx context.Context, groupID string) error {
	uuids, err := m.GroupEntryUUIDs(ctx, groupID)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range uuids {
		if err := m.Delete(ctx, u); err != nil && !errors.Is(err, common.ErrNotFound) {
			errs = append(errs, fmt.Errorf("deleting %s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

// GroupEntryUUIDs returns the uuids of all entries in a group, ordered by
// start time.
func (m *Manager) GroupEntryUUIDs(ctx context.Context, groupID string) ([]entries.EntryUUID, error) {
	return m.docs.Search(ctx, storage.Filter{GroupIDs: []string{groupID}})
}

// Get returns a stored entry.
func (m *Manager) Get(ctx context.Context, uuid entries.EntryUUID) (*entries.Entry, error) {
	return m.docs.Get(ctx, uuid)
}

// Search returns the uuids matching the filter.
func (m *Manager) Search(ctx context.Context, f storage.Filter) ([]entries.EntryUUID, error) {
	return m.docs.Search(ctx, f)
}

func (m *Manager) deletePayload(ctx context.Context, payloadID string) {
	if err := m.payloads.Delete(ctx, payloadID); err != nil {
		m.log.Warn(ctx, "failed to delete payload", "payload_id", payloadID, "error", err.Error())
	}
}
