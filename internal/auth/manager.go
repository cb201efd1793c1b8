package auth

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schoolhub/schoolhub/internal/remote"
)

// ManagerConfig wires the collaborators shared by every client session.
type ManagerConfig struct {
	// NewClient builds a data service client; each session gets its own so
	// bearer headers never leak between browsers.
	NewClient func() *remote.Client
	// StorageFor returns the blob storage of one client.
	StorageFor  func(clientID string) Storage
	Recorder    EventRecorder
	Notifier    LogoutNotifier
	Logger      *slog.Logger
	RefreshSkew time.Duration
}

// ClientSession pairs a Session with the data service client whose bearer
// header it controls.
type ClientSession struct {
	ID      string
	Session *Session
	API     *remote.Client

	init     sync.Once
	lastSeen atomic.Int64
	active   atomic.Int32
}

// Begin marks a request as using the session until the returned func runs.
// Sweep never drops a session in use, and the end of a request counts as
// activity.
func (cs *ClientSession) Begin() (end func()) {
	cs.active.Add(1)
	cs.lastSeen.Store(time.Now().UnixNano())
	return func() {
		cs.lastSeen.Store(time.Now().UnixNano())
		cs.active.Add(-1)
	}
}

func (cs *ClientSession) busy() bool {
	return cs.active.Load() > 0 || cs.Session.IsLoading()
}

// Manager keeps one Session per browser client.
type Manager struct {
	cfg ManagerConfig

	mu      sync.Mutex
	clients map[string]*ClientSession
}

// NewManager constructs a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, clients: make(map[string]*ClientSession)}
}

// Acquire returns the session of clientID, restoring it from storage the
// first time the client is seen by this process.
func (m *Manager) Acquire(ctx context.Context, clientID string) *ClientSession {
	m.mu.Lock()
	cs, ok := m.clients[clientID]
	if !ok {
		cs = m.build(clientID)
		m.clients[clientID] = cs
	}
	m.mu.Unlock()

	cs.lastSeen.Store(time.Now().UnixNano())
	cs.init.Do(func() {
		cs.Session.InitializeAuth(ctx)
	})
	return cs
}

func (m *Manager) build(clientID string) *ClientSession {
	api := m.cfg.NewClient()
	opts := []Option{
		WithLogger(m.cfg.Logger.With(slog.String("client_id", clientID))),
		WithRecorder(m.cfg.Recorder),
		WithNotifier(m.cfg.Notifier),
		WithClientID(clientID),
		WithSignedOut(func() { m.Forget(clientID) }),
	}
	if m.cfg.RefreshSkew > 0 {
		opts = append(opts, WithRefreshSkew(m.cfg.RefreshSkew))
	}
	return &ClientSession{
		ID:      clientID,
		API:     api,
		Session: NewSession(api, api, m.cfg.StorageFor(clientID), opts...),
	}
}

// Forget drops the in-memory session of clientID. The persisted blob is
// not touched.
func (m *Manager) Forget(clientID string) {
	m.mu.Lock()
	delete(m.clients, clientID)
	m.mu.Unlock()
}

// Sweep forgets sessions idle for longer than maxIdle and returns how many
// were dropped. Sessions serving a request or refreshing are kept. Dropped
// sessions are restored from storage on the next request.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle).UnixNano()
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, cs := range m.clients {
		if cs.lastSeen.Load() < cutoff && !cs.busy() {
			delete(m.clients, id)
			dropped++
		}
	}
	return dropped
}

// Len reports how many client sessions are held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
