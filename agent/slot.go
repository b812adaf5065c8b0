package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"
)

// ErrActivationTimeout is returned when an agent did not reach the active
// state within the activation bound. Terminal for that attempt; retrying is
// the orchestrator's business.
var ErrActivationTimeout = errors.New("agent activation timeout")

// Slot is the fixed administrative scope holding the active interception
// agent. Ownership of an activated agent rests here.
type Slot struct {
	mu     sync.RWMutex
	active *Agent
}

// Active returns the active agent, nil when none is live.
func (s *Slot) Active() *Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active != nil && s.active.State() == StateActive {
		return s.active
	}

	return nil
}

// IsActive reports whether a live agent occupies the slot.
func (s *Slot) IsActive() bool {
	return s.Active() != nil
}

// Activate starts the agent and waits for it to reach the active state,
// bounded by timeout. First wins: when a live agent already occupies the
// slot, the started agent is stopped and discarded. Replacement goes through
// Deactivate.
func (s *Slot) Activate(ctx context.Context, a *Agent, timeout time.Duration) error {
	done := make(chan error, 1)

	go func() {
		done <- a.Start(ctx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-timer.C:
		a.Stop()
		return ErrActivationTimeout
	case <-ctx.Done():
		a.Stop()
		return ctx.Err()
	}

	s.mu.Lock()
	if s.active != nil && s.active.State() == StateActive {
		s.mu.Unlock()
		a.Stop()
		zlog.Debug("Discarding agent, slot already occupied", "source", a.payload.Source)

		return nil
	}

	prior := s.active
	s.active = a
	s.mu.Unlock()

	if prior != nil {
		prior.Stop()
	}

	return nil
}

// Deactivate stops and releases the active agent.
func (s *Slot) Deactivate() {
	s.mu.Lock()
	prior := s.active
	s.active = nil
	s.mu.Unlock()

	if prior != nil {
		prior.Stop()
	}
}
