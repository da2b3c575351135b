package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sqlward/sqlward/internal/domain/credential"
)

// DefaultCapacity bounds the in-memory event log.
const DefaultCapacity = 10000

// DefaultFailedAuthLookback is the default window for failed-auth queries.
const DefaultFailedAuthLookback = 24 * time.Hour

// csvColumns is the fixed export column order.
var csvColumns = []string{
	"eventId", "timestamp", "userId", "sessionId",
	"action", "resource", "outcome", "ipAddress", "userAgent",
}

// Trail is the bounded, append-only audit log. Once capacity is exceeded,
// the oldest entries are dropped (ring-buffer semantics). Thread-safe.
// A slog line is emitted synchronously on every append for operational
// visibility; logging failures never mask the underlying decision.
type Trail struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	enabled  bool
	sink     func(Event) error
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Trail.
type Option func(*Trail)

// WithCapacity sets the ring-buffer capacity (default 10,000).
func WithCapacity(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithSink installs a write-through sink called once per stored event,
// after sanitization. Sink failures are logged and never propagate to the
// decision path.
func WithSink(sink func(Event) error) Option {
	return func(t *Trail) {
		t.sink = sink
	}
}

// NewTrail creates an enabled audit trail. A nil logger defaults to
// slog.Default().
func NewTrail(logger *slog.Logger, opts ...Option) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Trail{
		capacity: DefaultCapacity,
		enabled:  true,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	t.events = make([]Event, 0, t.capacity)
	return t
}

// SetClock overrides the trail's clock. Intended for tests.
func (t *Trail) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// SetEnabled toggles recording at runtime. Disabling never discards
// previously recorded events.
func (t *Trail) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// Enabled reports whether the trail is currently recording.
func (t *Trail) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// LogAuth records an authentication attempt.
func (t *Trail) LogAuth(userID, sessionID, outcome string, details map[string]any) {
	t.append(Event{
		UserID:    userID,
		SessionID: sessionID,
		Action:    ActionAuthenticate,
		Outcome:   outcome,
		Details:   details,
	})
}

// LogAuthz records an authorization decision for an operation.
func (t *Trail) LogAuthz(userID, sessionID, operation, outcome string, details map[string]any) {
	t.append(Event{
		UserID:    userID,
		SessionID: sessionID,
		Action:    ActionAuthorize,
		Resource:  operation,
		Outcome:   outcome,
		Details:   details,
	})
}

// LogToolExecution records the execution outcome of a named operation.
func (t *Trail) LogToolExecution(userID, sessionID, operation, outcome string, details map[string]any) {
	t.append(Event{
		UserID:    userID,
		SessionID: sessionID,
		Action:    ActionToolExecution,
		Resource:  operation,
		Outcome:   outcome,
		Details:   details,
	})
}

// LogSession records a session lifecycle event (created, destroyed, reused).
func (t *Trail) LogSession(userID, sessionID, outcome string, details map[string]any) {
	t.append(Event{
		UserID:    userID,
		SessionID: sessionID,
		Action:    ActionSession,
		Outcome:   outcome,
		Details:   details,
	})
}

// LogClientEvent records an event with client metadata attached.
func (t *Trail) LogClientEvent(event Event) {
	t.append(event)
}

// append stamps, sanitizes, and stores an event, rotating out the oldest
// entries once capacity is exceeded.
func (t *Trail) append(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	now := t.now()
	suffix, err := credential.GenerateEventSuffix()
	if err != nil {
		// Fall back to a time-derived suffix; auditing must not fail the
		// decision path.
		suffix = strconv.FormatInt(now.UnixNano()%1_000_000, 10)
	}
	event.EventID = fmt.Sprintf("audit_%d_%s", now.UnixNano(), suffix)
	event.Timestamp = now
	event.Details = SanitizeDetails(event.Details)

	if len(t.events) >= t.capacity {
		drop := len(t.events) - t.capacity + 1
		t.events = append(t.events[:0], t.events[drop:]...)
	}
	t.events = append(t.events, event)

	if t.sink != nil {
		if err := t.sink(event); err != nil {
			t.logger.Warn("audit sink write failed", "error", err)
		}
	}

	t.logger.Info("audit",
		"event_id", event.EventID,
		"action", event.Action,
		"resource", event.Resource,
		"outcome", event.Outcome,
		"user_id", event.UserID,
		"session_id", event.SessionID,
	)
}

// Recent returns the n most recent events, newest first.
func (t *Trail) Recent(n int) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := len(t.events)
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}
	result := make([]Event, n)
	for i := 0; i < n; i++ {
		result[i] = t.events[total-1-i]
	}
	return result
}

// ByUser returns all events recorded for a user, oldest first.
func (t *Trail) ByUser(userID string) []Event {
	return t.filter(func(e Event) bool { return e.UserID == userID })
}

// BySession returns all events recorded for a session, oldest first.
func (t *Trail) BySession(sessionID string) []Event {
	return t.filter(func(e Event) bool { return e.SessionID == sessionID })
}

// ByAction returns all events with the given action, oldest first.
func (t *Trail) ByAction(action string) []Event {
	return t.filter(func(e Event) bool { return e.Action == action })
}

// FailedAuth returns failed authentication events since the given time.
// A zero time defaults to a 24-hour lookback.
func (t *Trail) FailedAuth(since time.Time) []Event {
	if since.IsZero() {
		t.mu.Lock()
		since = t.now().Add(-DefaultFailedAuthLookback)
		t.mu.Unlock()
	}
	return t.filter(func(e Event) bool {
		return e.Action == ActionAuthenticate &&
			e.Outcome != OutcomeSuccess &&
			!e.Timestamp.Before(since)
	})
}

// StatsWindow computes aggregate security statistics over [start, end].
func (t *Trail) StatsWindow(start, end time.Time) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stats Stats
	users := make(map[string]struct{})
	sessions := make(map[string]struct{})
	for _, e := range t.events {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		stats.TotalEvents++
		switch {
		case e.Action == ActionAuthenticate && e.Outcome == OutcomeSuccess:
			stats.AuthSuccesses++
		case e.Action == ActionAuthenticate:
			stats.AuthFailures++
		case e.Action == ActionAuthorize && e.Outcome != OutcomeSuccess:
			stats.AuthorizationFailures++
		}
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
		if e.SessionID != "" {
			sessions[e.SessionID] = struct{}{}
		}
	}
	stats.UniqueUsers = len(users)
	stats.UniqueSessions = len(sessions)
	return stats
}

// ExportJSON serializes the full in-memory log as a JSON array.
func (t *Trail) ExportJSON() ([]byte, error) {
	t.mu.Lock()
	events := make([]Event, len(t.events))
	copy(events, t.events)
	t.mu.Unlock()

	return json.Marshal(events)
}

// ExportCSV serializes the full in-memory log as flat CSV with the fixed
// column order eventId, timestamp, userId, sessionId, action, resource,
// outcome, ipAddress, userAgent.
func (t *Trail) ExportCSV() ([]byte, error) {
	t.mu.Lock()
	events := make([]Event, len(t.events))
	copy(events, t.events)
	t.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvColumns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range events {
		record := []string{
			e.EventID,
			e.Timestamp.Format(time.RFC3339Nano),
			e.UserID,
			e.SessionID,
			e.Action,
			e.Resource,
			e.Outcome,
			e.IPAddress,
			e.UserAgent,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Size returns the number of stored events.
func (t *Trail) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// filter returns copies of all events matching the predicate, oldest first.
func (t *Trail) filter(keep func(Event) bool) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Event
	for _, e := range t.events {
		if keep(e) {
			result = append(result, e)
		}
	}
	return result
}
