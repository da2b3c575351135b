package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sqlward/sqlward/internal/domain/auth"
	"github.com/sqlward/sqlward/internal/domain/credential"
)

// Defaults for the session manager.
const (
	// DefaultTimeout is the sliding session expiry.
	DefaultTimeout = 30 * time.Minute
	// DefaultMaxPerUser caps concurrent sessions per user.
	DefaultMaxPerUser = 5
	// DefaultSweepInterval is how often expired sessions are reclaimed.
	DefaultSweepInterval = 5 * time.Minute
)

// Config holds session manager configuration. Zero fields take defaults.
type Config struct {
	// Timeout is the sliding expiry applied on creation and every validation.
	Timeout time.Duration
	// MaxPerUser is the concurrent-session cap per user.
	MaxPerUser int
	// SweepInterval is the reclamation period.
	SweepInterval time.Duration
}

// Manager owns all session state: the primary store and a per-user index.
// Thread-safe. Explicitly constructed and destroyed; no hidden singletons.
// Tests inject a clock via SetClock and drive Sweep directly.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]struct{}

	timeout       time.Duration
	maxPerUser    int
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewManager creates a session manager. A nil logger defaults to
// slog.Default().
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPerUser == 0 {
		cfg.MaxPerUser = DefaultMaxPerUser
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		byUser:        make(map[string]map[string]struct{}),
		timeout:       cfg.Timeout,
		maxPerUser:    cfg.MaxPerUser,
		sweepInterval: cfg.SweepInterval,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// SetClock overrides the manager's clock. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Create allocates a new session for userID. Fails with
// SESSION_LIMIT_EXCEEDED once the user holds MaxPerUser active sessions.
func (m *Manager) Create(userID, userAgent, ipAddress string) (*Session, error) {
	id, err := credential.GenerateSessionID()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.activeCountLocked(userID, now) >= m.maxPerUser {
		return nil, auth.NewSessionError(auth.CodeSessionLimitExceeded, "maximum concurrent sessions reached")
	}

	sess := &Session{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		LastAccess: now,
		ExpiresAt:  now.Add(m.timeout),
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		Active:     true,
	}
	m.sessions[id] = sess
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]struct{})
	}
	m.byUser[userID][id] = struct{}{}

	return sess.clone(), nil
}

// Validate looks up a session, destroying it if expired or inactive.
// On success the sliding expiry is reset to now+timeout and a copy of the
// refreshed session is returned. Returns nil for unknown sessions.
func (m *Manager) Validate(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	now := m.now()
	if !sess.Active || sess.ExpiredAt(now) {
		m.destroyLocked(sessionID)
		return nil
	}
	sess.refresh(now, m.timeout)
	return sess.clone()
}

// Destroy removes a session from the store and the per-user index.
// Idempotent.
func (m *Manager) Destroy(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyLocked(sessionID)
}

// DestroyAll removes every session owned by userID, e.g. on credential
// rotation.
func (m *Manager) DestroyAll(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id := range m.byUser[userID] {
		m.destroyLocked(id)
		removed++
	}
	return removed
}

// ListActive returns all sessions still alive for userID, lazily expiring
// stale entries.
func (m *Manager) ListActive(userID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var result []*Session
	for id := range m.byUser[userID] {
		sess := m.sessions[id]
		if sess == nil {
			delete(m.byUser[userID], id)
			continue
		}
		if !sess.Active || sess.ExpiredAt(now) {
			m.destroyLocked(id)
			continue
		}
		result = append(result, sess.clone())
	}
	return result
}

// Extend is an explicit keep-alive without a full validate cycle.
// Returns false if the session is unknown, expired, or inactive.
func (m *Manager) Extend(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok || !sess.Active {
		return false
	}
	now := m.now()
	if sess.ExpiredAt(now) {
		m.destroyLocked(sessionID)
		return false
	}
	sess.refresh(now, m.timeout)
	return true
}

// CheckBinding returns false if the session recorded a user agent or IP
// and the supplied value disagrees. An anti-hijacking check layered on top
// of Validate; sessions without a recorded binding always pass.
func (m *Manager) CheckBinding(sessionID, userAgent, ipAddress string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok || !sess.Active {
		return false
	}
	if sess.UserAgent != "" && userAgent != "" && sess.UserAgent != userAgent {
		return false
	}
	if sess.IPAddress != "" && ipAddress != "" && sess.IPAddress != ipAddress {
		return false
	}
	return true
}

// OldestActive returns the user's oldest still-valid session, or nil.
// The middleware falls back to this when the concurrent-session cap blocks
// a new session.
func (m *Manager) OldestActive(userID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var oldest *Session
	for id := range m.byUser[userID] {
		sess := m.sessions[id]
		if sess == nil || !sess.Active || sess.ExpiredAt(now) {
			continue
		}
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	if oldest == nil {
		return nil
	}
	return oldest.clone()
}

// ActiveCount returns the number of live sessions for userID.
func (m *Manager) ActiveCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCountLocked(userID, m.now())
}

// Size returns the total number of stored sessions, expired or not.
// Useful for testing sweep behavior.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartSweep starts the background reclamation goroutine. It runs until
// ctx is cancelled or Stop is called.
func (m *Manager) StartSweep(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Sweep destroys every expired or inactive session. Exported so tests can
// drive reclamation with a virtual clock instead of sleeping.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	swept := 0
	for id, sess := range m.sessions {
		if !sess.Active || sess.ExpiredAt(now) {
			m.destroyLocked(id)
			swept++
		}
	}
	if swept > 0 {
		m.logger.Debug("reclaimed expired sessions", "count", swept)
	}
	return swept
}

// Stop halts the sweep goroutine and waits for it to exit. Safe to call
// multiple times.
func (m *Manager) Stop() {
	m.once.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}

// Close stops the sweep and clears all in-memory state.
func (m *Manager) Close() {
	m.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	m.byUser = make(map[string]map[string]struct{})
}

// destroyLocked removes a session from both indexes. Caller holds m.mu.
func (m *Manager) destroyLocked(sessionID string) {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	sess.Active = false
	delete(m.sessions, sessionID)
	if ids, ok := m.byUser[sess.UserID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(m.byUser, sess.UserID)
		}
	}
}

// activeCountLocked counts live sessions for userID. Caller holds m.mu.
func (m *Manager) activeCountLocked(userID string, now time.Time) int {
	count := 0
	for id := range m.byUser[userID] {
		if sess := m.sessions[id]; sess != nil && sess.Active && !sess.ExpiredAt(now) {
			count++
		}
	}
	return count
}
