package realtime

import (
	"sync"
	"time"
)

// Poll cadence for realtime-backed views. A slow safety-net poll always runs
// because a channel can report SUBSCRIBED while change events are silently
// missing (server-side replication not enabled for a table, for example).
// Polling speeds up when the transport is known to be down.
const (
	PollIntervalHealthy = 5 * time.Second
	PollIntervalDown    = 1500 * time.Millisecond
	StaleTime           = 5 * time.Second
)

// RefetchPolicy is the refetch behavior consumers combine with their query
// layer.
type RefetchPolicy struct {
	RefetchOnFocus     bool
	RefetchOnReconnect bool
	RefetchInterval    time.Duration
	// RefetchIntervalInBackground keeps the poll running while the surface is
	// unfocused. Only enabled when the push transport is down, because then
	// nothing else will wake the view up.
	RefetchIntervalInBackground bool
}

// Policy returns the refetch policy for the given fallback state.
func Policy(pollWhenDown bool) RefetchPolicy {
	interval := PollIntervalHealthy
	if pollWhenDown {
		interval = PollIntervalDown
	}
	return RefetchPolicy{
		RefetchOnFocus:              true,
		RefetchOnReconnect:          true,
		RefetchInterval:             interval,
		RefetchIntervalInBackground: pollWhenDown,
	}
}

// FallbackState converts raw transport statuses into a single poll-now
// boolean. Exactly StatusSubscribed counts as healthy; every other value,
// including ones this client has never seen, counts as down. Unknown statuses
// must fail safe: silently ignoring them is how staleness hides.
//
// The state is a pure function of the latest status and the reset generation;
// transitions that do not change the classification are dropped so dependent
// schedulers are not thrashed by repeated identical statuses.
type FallbackState struct {
	mu           sync.Mutex
	pollWhenDown bool
	resetKey     string
	hasResetKey  bool
	onChange     func(bool)
}

// NewFallbackState builds a state machine. onChange, if non-nil, runs on
// every classification flip (and on a reset that flips the state), outside
// the internal lock.
func NewFallbackState(onChange func(bool)) *FallbackState {
	return &FallbackState{onChange: onChange}
}

// OnStatus feeds one raw status into the state machine.
func (s *FallbackState) OnStatus(status Status) {
	down := status != StatusSubscribed

	s.mu.Lock()
	if s.pollWhenDown == down {
		s.mu.Unlock()
		return
	}
	s.pollWhenDown = down
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(down)
	}
}

// Reset forces the state back to healthy when key changes (the caller
// switched conversations). Calling Reset with the current key is a no-op.
func (s *FallbackState) Reset(key string) {
	s.mu.Lock()
	if s.hasResetKey && s.resetKey == key {
		s.mu.Unlock()
		return
	}
	s.resetKey = key
	s.hasResetKey = true

	if !s.pollWhenDown {
		s.mu.Unlock()
		return
	}
	s.pollWhenDown = false
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}

// PollWhenDown reports whether consumers should be polling right now.
func (s *FallbackState) PollWhenDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollWhenDown
}

// CurrentPolicy returns the refetch policy for the current state.
func (s *FallbackState) CurrentPolicy() RefetchPolicy {
	return Policy(s.PollWhenDown())
}
