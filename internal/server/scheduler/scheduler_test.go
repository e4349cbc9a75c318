package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/dmitrijs2005/lifelog/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

type fakeConnector struct {
	id   string
	caps Capabilities
	rpc  map[string]RPCHandler

	failWith error
	block    chan struct{} // when set, OnInterval waits until it is closed

	mu            sync.Mutex
	intervalCalls int
	requestCalls  int
	files         []string
}

func (f *fakeConnector) ID() string                 { return f.id }
func (f *fakeConnector) Capabilities() Capabilities { return f.caps }

func (f *fakeConnector) OnInterval(ctx context.Context, log *InsertionLog) error {
	f.mu.Lock()
	f.intervalCalls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.failWith != nil {
		return f.failWith
	}
	log.Append(InsertionRecord{EntryUUID: "e-1"})
	return nil
}

func (f *fakeConnector) OnNewFile(ctx context.Context, log *InsertionLog, path string) error {
	f.mu.Lock()
	f.files = append(f.files, path)
	f.mu.Unlock()
	return f.failWith
}

func (f *fakeConnector) OnRequest(ctx context.Context, log *InsertionLog, req Request) error {
	f.mu.Lock()
	f.requestCalls++
	f.mu.Unlock()
	return f.failWith
}

func (f *fakeConnector) RPCHandlers() map[string]RPCHandler { return f.rpc }

func (f *fakeConnector) Status(ctx context.Context) map[string]any {
	return map[string]any{"ok": true}
}

func (f *fakeConnector) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intervalCalls, f.requestCalls, len(f.files)
}

func newRunningManager(t *testing.T, opts Options, onInserted OnInsertedFunc) *Manager {
	t.Helper()
	if opts.InputDir == "" {
		opts.InputDir = t.TempDir()
	}
	if opts.Tick == 0 {
		opts.Tick = 10 * time.Millisecond
	}
	m, err := NewManager(opts, onInserted, testLogger())
	require.NoError(t, err)
	return m
}

func runManager(t *testing.T, m *Manager) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(context.Background())
	}()
	t.Cleanup(func() {
		m.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	})
}

func TestIntervalTrigger(t *testing.T) {
	m := newRunningManager(t, Options{}, nil)
	conn := &fakeConnector{id: "c1"}
	require.NoError(t, m.Register(conn, 20*time.Millisecond))
	runManager(t, m)

	require.Eventually(t, func() bool {
		n, _, _ := conn.counts()
		return n >= 2
	}, 3*time.Second, 10*time.Millisecond)

	status := m.Status(context.Background())
	require.Len(t, status, 1)
	require.NotNil(t, status[0].LastTriggered)
	require.Empty(t, status[0].Errors)
}

func TestNoIntervalNeverFires(t *testing.T) {
	m := newRunningManager(t, Options{}, nil)
	conn := &fakeConnector{id: "c1"}
	require.NoError(t, m.Register(conn, 0))
	runManager(t, m)

	time.Sleep(100 * time.Millisecond)
	n, _, _ := conn.counts()
	require.Zero(t, n)
}

func TestFailureIsolation(t *testing.T) {
	m := newRunningManager(t, Options{}, nil)
	bad := &fakeConnector{id: "bad", failWith: errors.New("upstream exploded")}
	good := &fakeConnector{id: "good"}
	require.NoError(t, m.Register(bad, 15*time.Millisecond))
	require.NoError(t, m.Register(good, 15*time.Millisecond))
	runManager(t, m)

	require.Eventually(t, func() bool {
		n, _, _ := good.counts()
		return n >= 3
	}, 3*time.Second, 10*time.Millisecond, "healthy connector keeps firing")

	require.Eventually(t, func() bool {
		for _, s := range m.Status(context.Background()) {
			if s.ID == "bad" && len(s.Errors) > 0 {
				return s.Errors[0].Message == "upstream exploded" && s.Errors[0].Kind == TriggerInterval
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "failure lands in the error log")
}

func TestPanicIsCaptured(t *testing.T) {
	m := newRunningManager(t, Options{}, nil)
	conn := &panickyConnector{fakeConnector{id: "p1"}}
	require.NoError(t, m.Register(conn, 15*time.Millisecond))
	runManager(t, m)

	require.Eventually(t, func() bool {
		s := m.Status(context.Background())
		return len(s) == 1 && len(s[0].Errors) > 0
	}, 3*time.Second, 10*time.Millisecond)
}

type panickyConnector struct{ fakeConnector }

func (p *panickyConnector) OnInterval(ctx context.Context, log *InsertionLog) error {
	panic("boom")
}

func TestSerializeTriggers(t *testing.T) {
	m := newRunningManager(t, Options{SerializeTriggers: true}, nil)
	release := make(chan struct{})
	conn := &fakeConnector{id: "c1", block: release}
	require.NoError(t, m.Register(conn, 10*time.Millisecond))
	runManager(t, m)

	require.Eventually(t, func() bool {
		n, _, _ := conn.counts()
		return n == 1
	}, 3*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	n, _, _ := conn.counts()
	require.Equal(t, 1, n, "no overlapping trigger while one is in flight")

	close(release)
	require.Eventually(t, func() bool {
		n, _, _ := conn.counts()
		return n >= 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRequestTrigger(t *testing.T) {
	m := newRunningManager(t, Options{}, nil)
	conn := &fakeConnector{id: "c1"}
	require.NoError(t, m.Register(conn, 0))
	runManager(t, m)

	require.NoError(t, m.Trigger(context.Background(), "c1", Request{}))
	require.Eventually(t, func() bool {
		_, n, _ := conn.counts()
		return n == 1
	}, 3*time.Second, 10*time.Millisecond)

	err := m.Trigger(context.Background(), "nope", Request{})
	require.ErrorIs(t, err, common.ErrConnectorNotFound)

	err = m.Trigger(context.Background(), "c1", Request{FilePath: "/tmp/x"})
	require.Error(t, err, "connector does not accept file input")
}

func TestTriggerSyncReturnsInsertionLog(t *testing.T) {
	m := newRunningManager(t, Options{}, nil)
	conn := &syncConnector{fakeConnector{id: "c1"}}
	require.NoError(t, m.Register(conn, 0))
	runManager(t, m)

	records, err := m.TriggerSync(context.Background(), "c1", Request{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "r-1", records[0].EntryUUID)

	_, err = m.TriggerSync(context.Background(), "nope", Request{})
	require.ErrorIs(t, err, common.ErrConnectorNotFound)
}

type syncConnector struct{ fakeConnector }

func (s *syncConnector) OnRequest(ctx context.Context, log *InsertionLog, req Request) error {
	log.Append(InsertionRecord{EntryUUID: "r-1"})
	return nil
}

func TestDispatchRPC(t *testing.T) {
	m := newRunningManager(t, Options{}, nil)
	conn := &fakeConnector{id: "c1", rpc: map[string]RPCHandler{
		"echo": func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"echo": params["msg"]}, nil
		},
	}}
	require.NoError(t, m.Register(conn, 0))

	out, err := m.DispatchRPC(context.Background(), "c1", "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	require.Equal(t, "hi", out["echo"])

	_, err = m.DispatchRPC(context.Background(), "c1", "nope", nil)
	require.ErrorIs(t, err, common.ErrRPCNotFound)

	_, err = m.DispatchRPC(context.Background(), "nope", "echo", nil)
	require.ErrorIs(t, err, common.ErrConnectorNotFound)
}

func TestOnInsertedCallback(t *testing.T) {
	var mu sync.Mutex
	var got []InsertionRecord
	m := newRunningManager(t, Options{}, func(id string, records []InsertionRecord) {
		mu.Lock()
		got = append(got, records...)
		mu.Unlock()
	})
	conn := &fakeConnector{id: "c1"}
	require.NoError(t, m.Register(conn, 20*time.Millisecond))
	runManager(t, m)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1 && got[0].EntryUUID == "e-1"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestNewFileTrigger_EndToEnd(t *testing.T) {
	inputDir := t.TempDir()
	m := newRunningManager(t, Options{InputDir: inputDir, StabilityPoll: 20 * time.Millisecond}, nil)
	conn := &fakeConnector{id: "c1", caps: Capabilities{NeedsInputDir: true, AcceptsFileInput: true}}
	require.NoError(t, m.Register(conn, 0))
	runManager(t, m)

	path := filepath.Join(inputDir, "c1", "drop.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o600))

	require.Eventually(t, func() bool {
		_, _, n := conn.counts()
		return n == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond, "file removed after processing")
}

func TestStabilityGate(t *testing.T) {
	log := testLogger()
	w, err := newFileWatcher(log, 0)
	require.NoError(t, err)
	defer w.close()

	dir := t.TempDir()
	require.NoError(t, w.addDir(dir, "c1"))

	path := filepath.Join(dir, "incoming.bin")
	require.NoError(t, os.WriteFile(path, []byte("part"), 0o600))

	w.scan()
	require.Empty(t, w.ready(), "first poll only records the size")

	// File grows between polls, as if still being copied.
	require.NoError(t, os.WriteFile(path, []byte("partial copy"), 0o600))
	require.Empty(t, w.ready(), "changed size resets the gate")

	ready := w.ready()
	require.Len(t, ready, 1, "unchanged size across a window releases the file")
	require.Equal(t, "c1", ready[0].connectorID)
	require.Equal(t, path, ready[0].path)

	require.Empty(t, w.ready(), "a file being processed is not re-released")

	w.done(path)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
