package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Actions recorded by the auth core.
const (
	ActionLogin             = "login"
	ActionLoginFailed       = "login_failed"
	ActionLogout            = "logout"
	ActionSessionRevoked    = "session_revoked"
	ActionSessionTransfer   = "session_transfer"
	ActionMagicLinkIssued   = "magic_link_issued"
	ActionMagicLinkVerified = "magic_link_verified"
	ActionCodeIssued        = "auth_code_issued"
	ActionCodeConsumed      = "auth_code_consumed"
	ActionCodeReplayed      = "auth_code_replayed"
	ActionRefreshRotated    = "refresh_rotated"
	ActionRefreshReuse      = "refresh_reuse_detected"
	ActionClientGrant       = "client_credentials_grant"
	ActionTokenRevoked      = "token_revoked"
	ActionPATCreated        = "pat_created"
	ActionPATRevoked        = "pat_revoked"
)

// Event is one security-relevant occurrence. Token values never appear in
// events; only record ids do.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	FamilyID  string    `json:"family_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
}

// Sink receives audit events. Emit must not fail: implementations swallow
// their own delivery problems, because the auth flow that emitted the event
// has already committed and cannot roll back.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// ZerologSink writes audit events as structured log lines.
type ZerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink creates a sink writing through the given logger.
func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger}
}

func (s *ZerologSink) Emit(_ context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.logger.Info().
		Str("action", event.Action).
		Str("user_id", event.UserID).
		Str("session_id", event.SessionID).
		Str("client_id", event.ClientID).
		Str("token_id", event.TokenID).
		Str("family_id", event.FamilyID).
		Str("ip", event.IP).
		Str("details", event.Details).
		Bool("success", event.Success).
		Time("at", event.Timestamp).
		Msg("audit event")
}

// MemorySink collects events for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, event)
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByAction returns the emitted events with the given action.
func (s *MemorySink) ByAction(action string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// FanoutSink delivers every event to each wrapped sink in order.
type FanoutSink []Sink

func (s FanoutSink) Emit(ctx context.Context, event Event) {
	for _, sink := range s {
		sink.Emit(ctx, event)
	}
}
