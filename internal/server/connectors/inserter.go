// Package connectors contains the source connectors: page-based journals,
// zip exports, sensor feeds and activity trackers. Each one turns upstream
// data into entries and persists them through the entry manager.
package connectors

import (
	"context"
	"time"

	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/entries"
	"github.com/dmitrijs2005/lifelog/internal/server/entrymanager"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
)

// Inserter funnels connector writes into the entry manager, recording every
// attempt (success or failure) in the trigger's insertion log. Errors are
// captured per record and never abort the batch.
type Inserter struct {
	manager *entrymanager.Manager
	log     logging.Logger
}

func NewInserter(manager *entrymanager.Manager, log logging.Logger) *Inserter {
	return &Inserter{manager: manager, log: log}
}

// Insert upserts a metadata-only entry with mutation allowed.
func (i *Inserter) Insert(ctx context.Context, ilog *scheduler.InsertionLog, e *entries.Entry) {
	record := scheduler.InsertionRecord{EntryUUID: e.UUID(), At: time.Now()}
	outcome, err := i.manager.Insert(ctx, e, true)
	if err != nil {
		i.log.Error(ctx, "failed to insert entry", "entry_uuid", record.EntryUUID, "error", err.Error())
		record.Error = err.Error()
	} else {
		record.Mutated = outcome == entrymanager.Mutated
	}
	ilog.Append(record)
}

// InsertFile upserts a file-backed entry, replacing the old payload on
// mutation.
func (i *Inserter) InsertFile(ctx context.Context, ilog *scheduler.InsertionLog, e *entries.Entry, localPath string) {
	record := scheduler.InsertionRecord{EntryUUID: e.UUID(), At: time.Now()}
	outcome, err := i.manager.InsertWithPayload(ctx, e, localPath, true, true)
	if err != nil {
		i.log.Error(ctx, "failed to insert file entry", "entry_uuid", record.EntryUUID, "error", err.Error())
		record.Error = err.Error()
	} else {
		record.Mutated = outcome == entrymanager.Mutated
	}
	ilog.Append(record)
}

// Manager exposes the underlying entry manager for group lookups and deletes.
func (i *Inserter) Manager() *entrymanager.Manager {
	return i.manager
}
