package session

import (
	"errors"
	"sync"
	"time"

	"termplex/internal/shell"
	"termplex/internal/store"
	"termplex/internal/supervisor"
)

type fakeOps struct {
	mu         sync.Mutex
	writes     []string
	interrupts int
	sizes      [][2]int
	terminated int
	pid        int
	writeErr   error
}

func (o *fakeOps) WriteToStdin(text string, eof bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writeErr != nil {
		return o.writeErr
	}
	o.writes = append(o.writes, text)
	return nil
}

func (o *fakeOps) PtyInterrupt() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.interrupts++
	return nil
}

func (o *fakeOps) PtySetSize(cols, rows int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sizes = append(o.sizes, [2]int{cols, rows})
	return nil
}

func (o *fakeOps) Terminate() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.terminated++
	return nil
}

func (o *fakeOps) Pid() int {
	return o.pid
}

func (o *fakeOps) Writes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.writes...)
}

type fakeSupervisor struct {
	mu       sync.Mutex
	launches int
	specs    []supervisor.SpawnSpec
	cb       supervisor.Callbacks
	err      error
}

func (f *fakeSupervisor) Launch(spec supervisor.SpawnSpec, cb supervisor.Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.launches++
	f.specs = append(f.specs, spec)
	f.cb = cb
	return nil
}

type fakePush struct {
	mu        sync.Mutex
	ensureErr error
	running   bool
	listeners map[string]SocketCallbacks
	stopped   []string
	sent      map[string][]string
}

func newFakePush() *fakePush {
	return &fakePush{
		listeners: make(map[string]SocketCallbacks),
		sent:      make(map[string][]string),
	}
}

func (p *fakePush) EnsureServerRunning() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensureErr != nil {
		return p.ensureErr
	}
	p.running = true
	return nil
}

func (p *fakePush) Port() int { return 4711 }

func (p *fakePush) Listen(handle string, cb SocketCallbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners[handle] = cb
}

func (p *fakePush) StopListening(handle string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.listeners, handle)
	p.stopped = append(p.stopped, handle)
}

func (p *fakePush) SendText(handle, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[handle] = append(p.sent[handle], text)
	return nil
}

func (p *fakePush) listener(handle string) (SocketCallbacks, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cb, ok := p.listeners[handle]
	return cb, ok
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore keeps records in memory.
type memStore struct {
	mu      sync.Mutex
	saved   map[string]store.Record
	infos   []*store.Info
	saves   int
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]store.Record)}
}

func (m *memStore) NewInfo() *store.Info {
	return store.NewInfo("")
}

func (m *memStore) SaveAll(infos []*store.Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.saved = make(map[string]store.Record)
	for _, info := range infos {
		m.saved[info.Handle()] = info.Record()
	}
	return nil
}

func (m *memStore) LoadAll() ([]*store.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infos, nil
}

func (m *memStore) Delete(handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, handle)
	delete(m.saved, handle)
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStore) record(handle string) (store.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.saved[handle]
	return rec, ok
}

type fakeShells struct {
	shells   map[shell.Type]shell.Shell
	fallback shell.Shell
}

func (f fakeShells) Resolve(t shell.Type) (shell.Shell, bool) {
	s, ok := f.shells[t]
	return s, ok
}

func (f fakeShells) SystemDefault() (shell.Shell, bool) {
	return f.fallback, f.fallback.Path != ""
}

var errBoom = errors.New("boom")

// testSession bundles a session with its fakes.
type testSession struct {
	*Session
	ops    *fakeOps
	sup    *fakeSupervisor
	push   *fakePush
	events *recorder
	clock  *fakeClock
	saves  *int
}

func newTestSession(opts supervisor.ProcessOptions, configure func(info *store.Info)) *testSession {
	ts := &testSession{
		ops:    &fakeOps{pid: 4242},
		sup:    &fakeSupervisor{},
		push:   newFakePush(),
		events: &recorder{},
		clock:  newFakeClock(),
		saves:  new(int),
	}
	info := store.NewInfo("")
	if configure != nil {
		configure(info)
	}
	ts.Session = newSession(supervisor.SpawnSpec{Mode: supervisor.ModeTerminal, Options: opts}, info, Deps{
		Supervisor: ts.sup,
		Push:       ts.push,
		Events:     ts.events,
		Persist:    func() { *ts.saves++ },
		Tuning:     DefaultTuning(),
		Now:        ts.clock.Now,
	})
	return ts
}

func smartOptions() supervisor.ProcessOptions {
	return supervisor.ProcessOptions{SmartTerminal: true, ReportHasSubprocs: true, TrackCwd: true}
}
