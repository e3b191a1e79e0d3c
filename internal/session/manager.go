package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dingjianrui/code-agent/internal/logger"
	"github.com/dingjianrui/code-agent/internal/metrics"
)

// Manager defaults
const (
	DefaultMaxActiveSessions  = 50
	DefaultSessionIdleTimeout = 30 * time.Minute
)

// Manager is the registry of live sessions. Sessions share one step source
// but are otherwise fully independent; per-session mutation is serialized
// inside each Controller.
type Manager struct {
	source      StepSource
	maxActive   int
	idleTimeout time.Duration
	bufferSize  int

	mu       sync.RWMutex
	sessions map[string]*Controller
	sweeper  *cron.Cron
}

// NewManager creates a session manager and starts its periodic idle sweep
func NewManager(source StepSource, maxActive int, idleTimeout time.Duration, bufferSize int) *Manager {
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveSessions
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultSessionIdleTimeout
	}

	m := &Manager{
		source:      source,
		maxActive:   maxActive,
		idleTimeout: idleTimeout,
		bufferSize:  bufferSize,
		sessions:    make(map[string]*Controller),
		sweeper:     cron.New(),
	}
	if _, err := m.sweeper.AddFunc("@every 1m", m.sweepIdle); err != nil {
		logger.Error("Failed to schedule idle sweep: %v", err)
	}
	m.sweeper.Start()
	return m
}

// Open creates a new session and returns its controller
func (m *Manager) Open() (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxActive {
		logger.Error("Session rejected: %d active sessions (max %d)", len(m.sessions), m.maxActive)
		return nil, ErrTooManySessions
	}

	c := NewController(uuid.NewString(), m.source, m.bufferSize)
	m.sessions[c.ID()] = c
	metrics.RecordSessionStart()
	logger.Info("Session opened: %s (%d active)", c.ID(), len(m.sessions))
	return c, nil
}

// Get returns the controller for a session ID
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Remove closes a session and drops it from the registry
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	c, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	c.Close()
	metrics.RecordSessionEnd()
	logger.Info("Session removed: %s (lived %v)", id, time.Since(c.CreatedAt()).Round(time.Second))
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns all live controllers
func (m *Manager) List() []*Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		out = append(out, c)
	}
	return out
}

// Close stops the sweep and closes every session
func (m *Manager) Close() {
	m.sweeper.Stop()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	for id, c := range sessions {
		c.Close()
		metrics.RecordSessionEnd()
		logger.Info("Session closed on shutdown: %s", id)
	}
}

// sweepIdle removes sessions with no activity past the idle timeout
func (m *Manager) sweepIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	var stale []string
	for _, c := range m.List() {
		if c.LastActivity().Before(cutoff) {
			stale = append(stale, c.ID())
		}
	}

	if len(stale) > 0 {
		logger.Info("Sweeping %d idle sessions", len(stale))
	}
	for _, id := range stale {
		m.Remove(id)
	}
}
