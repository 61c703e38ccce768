package inspection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bryanwahyu/defect-inspector/internal/application"
)

const DefaultIdleTTL = 30 * time.Minute

// Manager keeps sessions by ID and evicts the idle ones.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	deps     Deps
	ttl      time.Duration
	log      *log.Entry
}

func NewManager(deps Deps, idleTTL time.Duration) *Manager {
	if deps.Clock == nil {
		deps.Clock = application.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewEntry(log.StandardLogger())
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		deps:     deps,
		ttl:      idleTTL,
		log:      deps.Logger.WithField("component", "sessions"),
	}
}

// Create registers a new session under a fresh uuid.
func (m *Manager) Create() (*Session, error) {
	s, err := NewSession(uuid.NewString(), m.deps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.log.WithFields(log.Fields{"session": s.ID, "active": n}).Debug("session created")
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate returns the session for id, creating a new one when id is unknown.
// created is true when the caller must hand out the new ID.
func (m *Manager) GetOrCreate(id string) (s *Session, created bool, err error) {
	if id != "" {
		if s, ok := m.Get(id); ok {
			return s, false, nil
		}
	}
	s, err = m.Create()
	return s, err == nil, err
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle longer than the TTL and returns how many went.
// Sessions with an upstream call in flight are kept.
func (m *Manager) Sweep() int {
	now := m.deps.Clock.Now()

	m.mu.Lock()
	var evicted []*Session
	for id, s := range m.sessions {
		if s.Busy() || now.Sub(s.idleSince()) <= m.ttl {
			continue
		}
		delete(m.sessions, id)
		evicted = append(evicted, s)
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Reset()
	}
	if len(evicted) > 0 {
		m.log.WithField("evicted", len(evicted)).Info("idle sessions evicted")
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
