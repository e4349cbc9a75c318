package connectors

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/entrymanager"
	"github.com/dmitrijs2005/lifelog/internal/server/storage"
)

type testEnv struct {
	docs     *storage.MemoryDocumentStore
	payloads *storage.MemoryPayloadStore
	states   *storage.MemoryStateStore
	manager  *entrymanager.Manager
	inserter *Inserter
	log      logging.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	docs := storage.NewMemoryDocumentStore()
	payloads := storage.NewMemoryPayloadStore()
	manager := entrymanager.New(docs, payloads, log)
	return &testEnv{
		docs:     docs,
		payloads: payloads,
		states:   storage.NewMemoryStateStore(),
		manager:  manager,
		inserter: NewInserter(manager, log),
		log:      log,
	}
}

func (e *testEnv) handlerState(id string) *storage.HandlerState {
	return storage.NewHandlerState(e.states, id)
}
