package terminal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/samsyeung/mycontrol/internal/history"
	"github.com/samsyeung/mycontrol/internal/hosts"
	"github.com/samsyeung/mycontrol/internal/metrics"
	"github.com/samsyeung/mycontrol/pkg/remote"
)

// Recorder receives the final record of every session
type Recorder interface {
	RecordTerminal(ctx context.Context, rec *history.TerminalRecord)
}

// Options configures the broker
type Options struct {
	ExternalURL      string
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	ReplayBufferSize int
	CloseOnDetach    bool
	// StartTimeout bounds connecting and starting the remote process
	StartTimeout     time.Duration
	History          Recorder
}

// StartResult is the reply to a terminal start request
type StartResult struct {
	Success     bool   `json:"success"`
	TerminalURL string `json:"terminal_url,omitempty"`
	Message     string `json:"message"`
}

// Outcome is the reply to a terminal stop request
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Broker owns all live terminal sessions
type Broker struct {
	registry *hosts.Registry
	opener   Opener
	tokens   *TokenIssuer
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	sweepWG  sync.WaitGroup
}

// NewBroker creates a broker and starts its idle sweep
func NewBroker(registry *hosts.Registry, opener Opener, tokens *TokenIssuer, opts Options) *Broker {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 15 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.ReplayBufferSize <= 0 {
		opts.ReplayBufferSize = 64 * 1024
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	if opts.History == nil {
		opts.History = history.Nop{}
	}
	opts.ExternalURL = strings.TrimRight(opts.ExternalURL, "/")

	b := &Broker{
		registry: registry,
		opener:   opener,
		tokens:   tokens,
		opts:     opts,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}

	b.sweepWG.Add(1)
	go b.sweepWorker()

	return b
}

// Start opens a terminal of the given kind on hostname. An existing session
// for the same host and kind is closed first.
func (b *Broker) Start(ctx context.Context, hostname string, kind Kind) StartResult {
	host, err := b.registry.Lookup(hostname)
	if err != nil {
		return StartResult{Success: false, Message: "Host not found in configuration"}
	}

	switch kind {
	case KindSSH:
		if host.SSHHost == "" {
			return StartResult{Success: false, Message: "No SSH host configured for this server"}
		}
	case KindNvtop:
		if !host.HasSSH() {
			return StartResult{Success: false, Message: "SSH configuration missing for this server"}
		}
	default:
		return StartResult{Success: false, Message: fmt.Sprintf("Unknown terminal kind %q", kind)}
	}

	id, err := GenerateSecureSessionID()
	if err != nil {
		return b.fail(nil, kind, fmt.Errorf("failed to generate session id: %w", err))
	}

	s := newSession(id, host.Name, kind, b.opts.ReplayBufferSize)
	s.setState(StateEstablishing)

	if old := b.findActive(host.Name, kind); old != nil {
		b.closeSession(old, ReasonReplaced)
	}

	openCtx, cancel := context.WithTimeout(ctx, b.opts.StartTimeout)
	rt, err := b.opener.Open(openCtx, host.SSHTarget(), kind)
	cancel()
	if err != nil {
		return b.fail(s, kind, err)
	}

	token, err := b.tokens.Issue(id, host.Name, kind)
	if err != nil {
		rt.Close()
		return b.fail(s, kind, fmt.Errorf("failed to issue access token: %w", err))
	}

	s.remote = rt
	s.URL = b.sessionURL(id, token)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.output = make(chan []byte, 64)

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		s.cancel()
		rt.Close()
		return b.fail(s, kind, ErrBrokerStopped)
	}
	var racing *Session
	for _, other := range b.sessions {
		if other.Hostname == s.Hostname && other.Kind == kind {
			racing = other
		}
	}
	s.setState(StateActive)
	b.sessions[id] = s
	b.mu.Unlock()

	if racing != nil {
		b.closeSession(racing, ReasonReplaced)
	}

	s.wg.Add(1)
	go b.forwardOutput(s)
	go b.readRemote(s)

	metrics.TerminalSessionsStartedTotal.WithLabelValues(string(kind), "success").Inc()
	metrics.TerminalSessionsActive.WithLabelValues(string(kind)).Inc()

	log.Info().
		Str("hostname", s.Hostname).
		Str("kind", string(kind)).
		Msg("Terminal session started")

	return StartResult{
		Success:     true,
		TerminalURL: s.URL,
		Message:     fmt.Sprintf("%s terminal started successfully", kind.Label()),
	}
}

func (b *Broker) fail(s *Session, kind Kind, err error) StartResult {
	metrics.TerminalSessionsStartedTotal.WithLabelValues(string(kind), "failed").Inc()

	if s != nil {
		s.setState(StateFailed)
		b.record(s, "start_failed", time.Now())
		log.Error().Err(err).Str("hostname", s.Hostname).Str("kind", string(kind)).Msg("Failed to start terminal")
	} else {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to start terminal")
	}

	return StartResult{Success: false, Message: "Failed to start terminal: " + startFailureReason(err)}
}

// startFailureReason maps a start error to a message that can be shown to users
func startFailureReason(err error) string {
	var terr *Error
	switch {
	case errors.As(err, &terr):
		return terr.Message
	case errors.Is(err, remote.ErrTimeout), remote.IsConnectError(err):
		return remote.Describe(err)
	default:
		return "could not start the remote process"
	}
}

func (b *Broker) sessionURL(id, token string) string {
	return fmt.Sprintf("%s/terminal/%s?token=%s", b.opts.ExternalURL, url.PathEscape(id), url.QueryEscape(token))
}

// snapshot copies the session table so per-session state is read without
// holding b.mu
func (b *Broker) snapshot() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (b *Broker) findActive(hostname string, kind Kind) *Session {
	for _, s := range b.snapshot() {
		if s.Hostname == hostname && s.Kind == kind && s.State() == StateActive {
			return s
		}
	}
	return nil
}

// Lookup returns an active session by id
func (b *Broker) Lookup(id string) (*Session, error) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	b.mu.Unlock()

	if !ok || s.State() != StateActive {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Authorize returns the session when id is live and token was issued for it
func (b *Broker) Authorize(id, token string) (*Session, error) {
	s, err := b.Lookup(id)
	if err != nil {
		return nil, err
	}
	if _, err := b.tokens.Verify(token, id); err != nil {
		return nil, err
	}
	return s, nil
}

// Close tears down a session by id
func (b *Broker) Close(id, reason string) error {
	s, err := b.Lookup(id)
	if err != nil {
		return err
	}
	if !b.closeSession(s, reason) {
		return ErrSessionNotFound
	}
	return nil
}

// StopByHost closes the session of the given kind on hostname
func (b *Broker) StopByHost(hostname string, kind Kind) Outcome {
	name := hostname
	if host, err := b.registry.Lookup(hostname); err == nil {
		name = host.Name
	}

	s := b.findActive(name, kind)
	if s == nil || !b.closeSession(s, ReasonStopped) {
		return Outcome{Success: false, Message: fmt.Sprintf("No active %s terminal found", kind.Label())}
	}

	return Outcome{Success: true, Message: fmt.Sprintf("%s terminal stopped", kind.Label())}
}

// List returns the sessions of one kind, oldest first
func (b *Broker) List(kind Kind) []Info {
	sessions := b.snapshot()
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		if s.Kind == kind {
			infos = append(infos, s.Info())
		}
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// ActiveSessions returns the number of active sessions per kind
func (b *Broker) ActiveSessions() map[string]int {
	counts := map[string]int{string(KindSSH): 0, string(KindNvtop): 0}
	for _, s := range b.snapshot() {
		if s.State() == StateActive {
			counts[string(s.Kind)]++
		}
	}
	return counts
}

// HostCount returns the number of configured hosts
func (b *Broker) HostCount() int {
	return b.registry.Count()
}

// closeSession runs the teardown sequence once. It reports false when the
// session was not active.
func (b *Broker) closeSession(s *Session, reason string) bool {
	s.mu.Lock()
	if !s.transition(StateClosing) {
		s.mu.Unlock()
		return false
	}
	s.closeReason = reason
	viewer := s.viewer
	s.viewer = nil
	s.mu.Unlock()

	s.cancel()
	if viewer != nil {
		viewer.close("terminal closed: " + reason)
	}

	s.wg.Wait()

	if err := s.remote.Close(); err != nil {
		log.Debug().Err(err).Str("hostname", s.Hostname).Msg("Error releasing remote terminal")
	}

	closedAt := time.Now()
	s.setState(StateClosed)

	b.mu.Lock()
	if b.sessions[s.ID] == s {
		delete(b.sessions, s.ID)
	}
	b.mu.Unlock()

	metrics.TerminalSessionsActive.WithLabelValues(string(s.Kind)).Dec()
	metrics.TerminalSessionsClosedTotal.WithLabelValues(string(s.Kind), reason).Inc()
	b.record(s, reason, closedAt)

	log.Info().
		Str("hostname", s.Hostname).
		Str("kind", string(s.Kind)).
		Str("reason", reason).
		Msg("Terminal session closed")

	return true
}

func (b *Broker) record(s *Session, reason string, closedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b.opts.History.RecordTerminal(ctx, &history.TerminalRecord{
		SessionID:   s.ID,
		Hostname:    s.Hostname,
		Kind:        string(s.Kind),
		FinalState:  string(s.State()),
		CloseReason: reason,
		CreatedAt:   s.CreatedAt.UTC(),
		ClosedAt:    closedAt.UTC(),
	})
}

// readRemote hands PTY output to forwardOutput. It is not part of the
// session wait group because Read only returns once the remote is released.
func (b *Broker) readRemote(s *Session) {
	defer close(s.output)

	out := s.remote.Output()
	buf := make([]byte, 32*1024)
	for {
		n, err := out.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.output <- chunk:
			case <-s.ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (b *Broker) forwardOutput(s *Session) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk, ok := <-s.output:
			if !ok {
				go b.closeSession(s, ReasonRemoteExit)
				return
			}
			deliver(s, chunk)
		}
	}
}

// Sweep closes sessions idle for longer than the idle timeout and returns
// how many were closed
func (b *Broker) Sweep() int {
	now := time.Now()

	var idle []*Session
	for _, s := range b.snapshot() {
		if s.idleSince(now, b.opts.IdleTimeout) {
			idle = append(idle, s)
		}
	}

	closed := 0
	for _, s := range idle {
		if b.closeSession(s, ReasonIdle) {
			closed++
		}
	}

	if closed > 0 {
		log.Info().Int("count", closed).Msg("Closed idle terminal sessions")
	}
	return closed
}

func (b *Broker) sweepWorker() {
	defer b.sweepWG.Done()

	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Sweep()
		}
	}
}

// Stop ends the sweep and closes every session. Later starts fail.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.sweepWG.Wait()

		b.mu.Lock()
		b.stopped = true
		sessions := make([]*Session, 0, len(b.sessions))
		for _, s := range b.sessions {
			sessions = append(sessions, s)
		}
		b.mu.Unlock()

		log.Info().Int("active_sessions", len(sessions)).Msg("Stopping terminal broker")

		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				b.closeSession(s, ReasonShutdown)
			}(s)
		}
		wg.Wait()
	})
}
