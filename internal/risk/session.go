package risk

import (
	"context"
	"sync"
)

// SessionState tracks the two-step set/process lifecycle
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionRequestSet SessionState = "request_set"
	SessionEvaluated  SessionState = "evaluated"
)

// Session wraps an Engine behind a set-then-process call sequence for callers
// that stage the request before asking for a verdict. Calls are serialized.
type Session struct {
	mu      sync.Mutex
	engine  *Engine
	pending *SignRequest
	state   SessionState
	last    *Verdict
}

// NewSession creates a Session in the idle state
func NewSession(engine *Engine) *Session {
	return &Session{engine: engine, state: SessionIdle}
}

// SetRequest stages req for the next Process call. The request is copied.
// A nil request clears any staged one.
func (s *Session) SetRequest(req *SignRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = req.clone()
	if s.pending == nil {
		s.state = SessionIdle
		return
	}
	s.state = SessionRequestSet
}

// Process evaluates the staged request and consumes it. Without a staged
// request the fail-closed verdict is returned.
func (s *Session) Process(ctx context.Context) *Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := s.pending
	s.pending = nil

	v := s.engine.Evaluate(ctx, req)
	s.last = v
	s.state = SessionEvaluated
	return v
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastVerdict returns the verdict of the most recent Process call, or nil
func (s *Session) LastVerdict() *Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
