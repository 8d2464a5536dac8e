package terminal

import (
	"context"
	"sync"
	"time"
)

// Kind is the type of program attached to a terminal
type Kind string

const (
	KindSSH   Kind = "ssh"
	KindNvtop Kind = "nvtop"
)

// Label is the user-facing name of the kind
func (k Kind) Label() string {
	if k == KindNvtop {
		return "nvtop"
	}
	return "SSH"
}

// State is a terminal session lifecycle state
type State string

const (
	StateRequested    State = "requested"
	StateEstablishing State = "establishing"
	StateActive       State = "active"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

var transitions = map[State][]State{
	StateRequested:    {StateEstablishing, StateFailed},
	StateEstablishing: {StateActive, StateFailed},
	StateActive:       {StateClosing},
	StateClosing:      {StateClosed},
}

// CanTransition reports whether moving from one state to another is legal
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Close reasons
const (
	ReasonRemoteExit = "remote_exit"
	ReasonDetached   = "viewer_detached"
	ReasonIdle       = "idle_timeout"
	ReasonReplaced   = "replaced"
	ReasonStopped    = "stopped"
	ReasonClosed     = "closed"
	ReasonShutdown   = "shutdown"
)

// Session is one remote terminal owned by the broker
type Session struct {
	ID        string
	Hostname  string
	Kind      Kind
	URL       string
	CreatedAt time.Time

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	closeReason  string
	remote       Remote
	viewer       *viewerConn
	replay       *replayBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	output chan []byte
}

// Info is a point-in-time view of a session
type Info struct {
	Hostname     string    `json:"hostname"`
	SessionID    string    `json:"session_id"`
	URL          string    `json:"url"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

func newSession(id, hostname string, kind Kind, replaySize int) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Hostname:     hostname,
		Kind:         kind,
		CreatedAt:    now,
		state:        StateRequested,
		lastActivity: now,
		replay:       newReplayBuffer(replaySize),
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves to the next state. Callers hold s.mu.
func (s *Session) transition(to State) bool {
	if !CanTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

func (s *Session) setState(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(to)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// idleSince reports whether the session is active and has been idle for at
// least d as of now
func (s *Session) idleSince(now time.Time, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && now.Sub(s.lastActivity) >= d
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Hostname:     s.Hostname,
		SessionID:    s.ID,
		URL:          s.URL,
		State:        s.state,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
}
