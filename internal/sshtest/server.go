// Package sshtest runs an in-process SSH server for tests. It accepts password
// authentication, answers exec requests from a table of canned responses and
// echoes interactive shells.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// Response is the canned reply for an exec request
type Response struct {
	Stdout     string
	Stderr     string
	ExitStatus uint32
	// Delay postpones the reply; the request is abandoned if the client goes away
	Delay time.Duration
	// KeepOpen leaves the channel open after Stdout is written, recording input
	// until the client closes it
	KeepOpen bool
}

// PTYRequest records a pty-req or window-change
type PTYRequest struct {
	Term string
	Cols uint32
	Rows uint32
}

// Server is an SSH server bound to a random loopback port
type Server struct {
	User     string
	Password string

	listener net.Listener
	config   *ssh.ServerConfig
	done     chan struct{}
	wg       sync.WaitGroup

	mu            sync.Mutex
	responses     map[string]Response
	commands      []string
	ptys          []PTYRequest
	windowChanges []PTYRequest
	input         []byte

	openChannels atomic.Int32
	stall        atomic.Bool
}

// NewServer starts a server and registers its shutdown with t.Cleanup
func NewServer(t testing.TB, user, password string) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	s := &Server{
		User:      user,
		Password:  password,
		done:      make(chan struct{}),
		responses: make(map[string]Response),
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if conn.User() == s.User && string(pass) == s.Password {
				return nil, nil
			}
			return nil, errAuth
		},
	}
	s.config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port of the listener
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listener IP
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Handle registers the reply for an exact command line
func (s *Server) Handle(command string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[command] = resp
}

// Commands returns every exec command received so far
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// PTYs returns the pty-req payloads received so far
func (s *Server) PTYs() []PTYRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PTYRequest(nil), s.ptys...)
}

// WindowChanges returns the window-change payloads received so far
func (s *Server) WindowChanges() []PTYRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PTYRequest(nil), s.windowChanges...)
}

// Input returns all bytes clients wrote to shells and kept-open commands
func (s *Server) Input() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.input...)
}

// StallChannels makes the server complete handshakes but never answer
// channel open requests
func (s *Server) StallChannels() {
	s.stall.Store(true)
}

// OpenChannels returns the number of session channels still being served
func (s *Server) OpenChannels() int {
	return int(s.openChannels.Load())
}

// Close stops the server and waits for its goroutines
func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(nConn net.Conn) {
	defer s.wg.Done()

	conn, chans, reqs, err := ssh.NewServerConn(nConn, s.config)
	if err != nil {
		nConn.Close()
		return
	}
	defer conn.Close()

	go ssh.DiscardRequests(reqs)

	go func() {
		<-s.done
		conn.Close()
	}()

	if s.stall.Load() {
		_ = conn.Wait()
		return
	}

	var channels sync.WaitGroup
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		s.openChannels.Add(1)
		channels.Add(1)
		go func() {
			defer channels.Done()
			defer s.openChannels.Add(-1)
			s.serveSession(channel, requests)
		}()
	}
	channels.Wait()
}

type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type windowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

type execMsg struct {
	Command string
}

type exitStatusMsg struct {
	Status uint32
}

func (s *Server) serveSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	var term string
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var msg ptyRequestMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			term = msg.Term
			s.mu.Lock()
			s.ptys = append(s.ptys, PTYRequest{Term: msg.Term, Cols: msg.Columns, Rows: msg.Rows})
			s.mu.Unlock()
			_ = req.Reply(true, nil)

		case "window-change":
			var msg windowChangeMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				s.mu.Lock()
				s.windowChanges = append(s.windowChanges, PTYRequest{Term: term, Cols: msg.Columns, Rows: msg.Rows})
				s.mu.Unlock()
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}

		case "env", "signal":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}

		case "shell":
			_ = req.Reply(true, nil)
			go discardRequests(requests, s)
			s.echo(channel)
			return

		case "exec":
			var msg execMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go discardRequests(requests, s)
			s.exec(channel, msg.Command)
			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

// discardRequests keeps servicing window changes once the session is running
func discardRequests(requests <-chan *ssh.Request, s *Server) {
	for req := range requests {
		if req.Type == "window-change" {
			var msg windowChangeMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				s.mu.Lock()
				s.windowChanges = append(s.windowChanges, PTYRequest{Cols: msg.Columns, Rows: msg.Rows})
				s.mu.Unlock()
			}
		}
		if req.WantReply {
			_ = req.Reply(req.Type == "window-change" || req.Type == "signal", nil)
		}
	}
}

func (s *Server) echo(channel ssh.Channel) {
	_, _ = io.WriteString(channel, "$ ")
	buf := make([]byte, 1024)
	for {
		n, err := channel.Read(buf)
		if n > 0 {
			s.recordInput(buf[:n])
			if _, werr := channel.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) exec(channel ssh.Channel, command string) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	resp, ok := s.responses[command]
	s.mu.Unlock()

	if !ok {
		resp = Response{Stderr: "sh: command not found: " + command, ExitStatus: 127}
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-s.done:
			return
		}
	}

	if resp.Stdout != "" {
		_, _ = io.WriteString(channel, resp.Stdout)
	}
	if resp.Stderr != "" {
		_, _ = io.WriteString(channel.Stderr(), resp.Stderr)
	}

	if resp.KeepOpen {
		buf := make([]byte, 1024)
		for {
			n, err := channel.Read(buf)
			if n > 0 {
				s.recordInput(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}

	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatusMsg{Status: resp.ExitStatus}))
}

func (s *Server) recordInput(p []byte) {
	s.mu.Lock()
	s.input = append(s.input, p...)
	s.mu.Unlock()
}

var errAuth = errors.New("invalid credentials")
