package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/dmitrijs2005/lifelog/internal/filex"
	"github.com/dmitrijs2005/lifelog/internal/logging"
)

const maxTriggerErrors = 100

// Options tunes the scheduling loop.
type Options struct {
	// InputDir is the root under which each file-driven connector gets its
	// own subdirectory.
	InputDir string
	// Tick is the scheduling period; every tick checks intervals and
	// rescans input directories.
	Tick time.Duration
	// StabilityPoll is the minimum window a file's size must stay unchanged
	// before its trigger fires.
	StabilityPoll time.Duration
	// SerializeTriggers suppresses a new interval tick for a connector
	// whose previous trigger is still in flight. Off by default: connectors
	// are expected to tolerate concurrent self-invocation.
	SerializeTriggers bool
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Tick == 0 {
		out.Tick = 500 * time.Millisecond
	}
	if out.StabilityPoll == 0 {
		out.StabilityPoll = 2 * time.Second
	}
	return out
}

// OnInsertedFunc observes the insertion log of every finished trigger.
type OnInsertedFunc func(connectorID string, records []InsertionRecord)

type connectorState struct {
	conn     Connector
	interval time.Duration
	inputDir string

	lastTriggered time.Time
	inFlight      int
	errors        []TriggerError
}

// result is posted back from a trigger task to the recorder goroutine, so
// scheduler state is mutated from one place instead of from every task.
type result struct {
	connectorID string
	kind        TriggerKind
	records     []InsertionRecord
	err         error
}

// ConnectorStatus is the admin-facing view of one connector.
type ConnectorStatus struct {
	ID            string         `json:"id"`
	Interval      string         `json:"interval,omitempty"`
	LastTriggered *time.Time     `json:"last_triggered,omitempty"`
	InFlight      int            `json:"in_flight"`
	Errors        []TriggerError `json:"errors,omitempty"`
	State         map[string]any `json:"state,omitempty"`
}

// Manager owns the connector set and the scheduling loop.
type Manager struct {
	opts       Options
	log        logging.Logger
	onInserted OnInsertedFunc

	mu    sync.Mutex
	conns map[string]*connectorState
	order []string

	watch   *fileWatcher
	results chan result
	stop    chan struct{}
	stopped sync.Once
	tasks   sync.WaitGroup
}

func NewManager(opts Options, onInserted OnInsertedFunc, log logging.Logger) (*Manager, error) {
	o := opts.withDefaults()
	l := log.With("component", "scheduler")

	watch, err := newFileWatcher(l, o.StabilityPoll)
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	return &Manager{
		opts:       o,
		log:        l,
		onInserted: onInserted,
		conns:      make(map[string]*connectorState),
		watch:      watch,
		results:    make(chan result, 64),
		stop:       make(chan struct{}),
	}, nil
}

// Register adds a connector. Connectors that need an input directory get
// their own subdirectory under the configured root, created on the spot.
// An interval of 0 means the connector never fires on a timer.
func (m *Manager) Register(conn Connector, interval time.Duration) error {
	st := &connectorState{conn: conn, interval: interval}

	if conn.Capabilities().NeedsInputDir {
		dir := filepath.Join(m.opts.InputDir, conn.ID())
		if err := filex.EnsureDir(dir); err != nil {
			return err
		}
		if err := m.watch.addDir(dir, conn.ID()); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		st.inputDir = dir
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[conn.ID()]; ok {
		return fmt.Errorf("connector %s already registered", conn.ID())
	}
	m.conns[conn.ID()] = st
	m.order = append(m.order, conn.ID())
	return nil
}

// InputDir returns the connector's input directory ("" when it has none).
func (m *Manager) InputDir(connectorID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.conns[connectorID]; ok {
		return st.inputDir
	}
	return ""
}

// Run drives the scheduling loop until the context is canceled or Stop is
// called, then waits for in-flight triggers to finish. Already-dispatched
// triggers are never force-canceled.
func (m *Manager) Run(ctx context.Context) error {
	var recorder sync.WaitGroup
	recorder.Add(1)
	go func() {
		defer recorder.Done()
		m.record()
	}()

	ticker := time.NewTicker(m.opts.Tick)
	defer ticker.Stop()

	m.log.Info(ctx, "scheduler started", "tick", m.opts.Tick.String(), "connectors", len(m.order))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-m.stop:
			break loop
		case <-ticker.C:
			m.tick(ctx)
		}
	}

	m.log.Info(ctx, "scheduler stopping, waiting for in-flight triggers")
	m.tasks.Wait()
	close(m.results)
	recorder.Wait()
	if err := m.watch.close(); err != nil {
		m.log.Warn(ctx, "closing file watcher", "error", err.Error())
	}
	m.log.Info(ctx, "scheduler stopped")
	return nil
}

// Stop signals a cooperative stop. It returns immediately; Run unblocks after
// the current iteration and in-flight triggers complete.
func (m *Manager) Stop() {
	m.stopped.Do(func() { close(m.stop) })
}

// tick fires due interval triggers and dispatches stable new files. Each
// trigger runs as its own task so one slow connector cannot delay others.
func (m *Manager) tick(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	for _, id := range m.order {
		st := m.conns[id]
		if st.interval == 0 || now.Sub(st.lastTriggered) < st.interval {
			continue
		}
		if m.opts.SerializeTriggers && st.inFlight > 0 {
			continue
		}
		st.lastTriggered = now
		st.inFlight++
		m.spawn(ctx, id, TriggerInterval, func(ctx context.Context, log *InsertionLog) error {
			return st.conn.OnInterval(ctx, log)
		}, "")
	}
	m.mu.Unlock()

	m.watch.scan()
	for _, rf := range m.watch.ready() {
		m.mu.Lock()
		st, ok := m.conns[rf.connectorID]
		if !ok {
			m.mu.Unlock()
			continue
		}
		st.lastTriggered = now
		st.inFlight++
		path := rf.path
		m.spawn(ctx, rf.connectorID, TriggerNewFile, func(ctx context.Context, log *InsertionLog) error {
			return st.conn.OnNewFile(ctx, log, path)
		}, path)
		m.mu.Unlock()
	}
}

// spawn runs one trigger as a fire-and-forget task. Panics and errors are
// captured into the result; the file, if any, is removed afterwards
// regardless of outcome. Callers hold m.mu.
func (m *Manager) spawn(ctx context.Context, connectorID string, kind TriggerKind, fn func(context.Context, *InsertionLog) error, file string) {
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		log := NewInsertionLog()
		err := runProtected(func() error { return fn(ctx, log) })
		if file != "" {
			m.watch.done(file)
		}
		m.results <- result{connectorID: connectorID, kind: kind, records: log.Records(), err: err}
	}()
}

func runProtected(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connector panic: %v", r)
		}
	}()
	return fn()
}

// record consumes trigger results and is the only writer of error logs and
// in-flight counters after dispatch.
func (m *Manager) record() {
	ctx := context.Background()
	for res := range m.results {
		m.mu.Lock()
		if st, ok := m.conns[res.connectorID]; ok {
			st.inFlight--
			if res.err != nil {
				st.errors = append(st.errors, TriggerError{
					At:      time.Now(),
					Kind:    res.kind,
					Message: res.err.Error(),
				})
				if len(st.errors) > maxTriggerErrors {
					st.errors = st.errors[len(st.errors)-maxTriggerErrors:]
				}
			}
		}
		m.mu.Unlock()

		if res.err != nil {
			m.log.Error(ctx, "trigger failed", "connector", res.connectorID, "kind", string(res.kind), "error", res.err.Error())
		}
		if len(res.records) > 0 && m.onInserted != nil {
			m.onInserted(res.connectorID, res.records)
		}
	}
}

// Trigger fires a manual request trigger for one connector.
func (m *Manager) Trigger(ctx context.Context, connectorID string, req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.conns[connectorID]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrConnectorNotFound, connectorID)
	}
	if req.FilePath != "" && !st.conn.Capabilities().AcceptsFileInput {
		return fmt.Errorf("connector %s does not accept file input", connectorID)
	}
	st.lastTriggered = time.Now()
	st.inFlight++
	m.spawn(ctx, connectorID, TriggerRequest, func(ctx context.Context, log *InsertionLog) error {
		return st.conn.OnRequest(ctx, log, req)
	}, "")
	return nil
}

// TriggerSync fires a manual request trigger and waits for it, returning the
// trigger's insertion log. The outcome still flows through the recorder so
// status accounting matches asynchronous triggers.
func (m *Manager) TriggerSync(ctx context.Context, connectorID string, req Request) ([]InsertionRecord, error) {
	m.mu.Lock()
	st, ok := m.conns[connectorID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", common.ErrConnectorNotFound, connectorID)
	}
	if req.FilePath != "" && !st.conn.Capabilities().AcceptsFileInput {
		m.mu.Unlock()
		return nil, fmt.Errorf("connector %s does not accept file input", connectorID)
	}
	st.lastTriggered = time.Now()
	st.inFlight++
	m.tasks.Add(1)
	m.mu.Unlock()

	defer m.tasks.Done()
	log := NewInsertionLog()
	err := runProtected(func() error { return st.conn.OnRequest(ctx, log, req) })
	records := log.Records()
	m.results <- result{connectorID: connectorID, kind: TriggerRequest, records: records, err: err}
	return records, err
}

// DispatchRPC invokes one entry of a connector's RPC table synchronously.
func (m *Manager) DispatchRPC(ctx context.Context, connectorID, name string, params map[string]any) (map[string]any, error) {
	m.mu.Lock()
	st, ok := m.conns[connectorID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrConnectorNotFound, connectorID)
	}
	handler, ok := st.conn.RPCHandlers()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrRPCNotFound, connectorID, name)
	}
	return handler(ctx, params)
}

// Status reports all connectors in registration order.
func (m *Manager) Status(ctx context.Context) []ConnectorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ConnectorStatus, 0, len(m.order))
	for _, id := range m.order {
		st := m.conns[id]
		cs := ConnectorStatus{
			ID:       id,
			InFlight: st.inFlight,
			Errors:   append([]TriggerError(nil), st.errors...),
			State:    st.conn.Status(ctx),
		}
		if st.interval > 0 {
			cs.Interval = st.interval.String()
		}
		if !st.lastTriggered.IsZero() {
			t := st.lastTriggered
			cs.LastTriggered = &t
		}
		out = append(out, cs)
	}
	return out
}
