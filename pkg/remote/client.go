package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Target identifies a remote account
type Target struct {
	Address  string // host:port
	Username string
	Password string
	KeyFile  string
}

// Options configures how connections are made
type Options struct {
	ConnectTimeout time.Duration
	KnownHostsFile string
	UseAgent       bool
}

// Result is the outcome of a command that ran to completion
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands on remote hosts
type Runner interface {
	Run(ctx context.Context, target Target, command string) (*Result, error)
}

// Dialer opens SSH connections
type Dialer interface {
	Dial(ctx context.Context, target Target) (*ssh.Client, error)
}

// Client runs commands and opens connections over SSH
type Client struct {
	opts Options
}

// NewClient creates a new SSH client
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Client{opts: opts}
}

// Dial connects and authenticates. The connection attempt is bounded by both
// ctx and the configured connect timeout.
func (c *Client) Dial(ctx context.Context, target Target) (*ssh.Client, error) {
	auth, cleanup, err := c.authMethods(target)
	if err != nil {
		return nil, &ConnectError{Address: target.Address, Reason: "invalid SSH credentials configuration", Err: err}
	}
	defer cleanup()

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, &ConnectError{Address: target.Address, Reason: "host key verification failed", Err: err}
	}

	clientConfig := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.opts.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: c.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, wrapSSHError(err, target.Address)
	}

	deadline := time.Now().Add(c.opts.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	ncc, chans, reqs, err := ssh.NewClientConn(conn, target.Address, clientConfig)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, wrapSSHError(err, target.Address)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(ncc, chans, reqs), nil
}

// Run executes a command and waits for it to exit. A non-zero exit status is
// reported through Result.ExitCode, not as an error. When ctx ends first the
// connection is torn down and ErrTimeout is returned.
func (c *Client) Run(ctx context.Context, target Target, command string) (*Result, error) {
	client, err := c.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	// Closing the connection fails every pending channel request
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, &ConnectError{Address: target.Address, Reason: "failed to open session", Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		log.Debug().
			Str("address", target.Address).
			Str("command", command).
			Msg("Remote command cancelled")
		return nil, ErrTimeout
	case err := <-done:
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("failed to run command: %w", err)
	}
}

func (c *Client) authMethods(target Target) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	cleanup := func() {}

	if target.KeyFile != "" {
		key, err := os.ReadFile(target.KeyFile)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to read key file %s: %w", target.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to parse key file %s: %w", target.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.opts.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
				cleanup = func() { conn.Close() }
			} else {
				log.Debug().Err(err).Msg("SSH agent unavailable")
			}
		}
	}

	if target.Password != "" {
		password := target.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, cleanup, errNoAuthMethod
	}

	return methods, cleanup, nil
}

func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.opts.KnownHostsFile == "" {
		// Managed fleet on a trusted network. Set known_hosts_file to verify keys.
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(c.opts.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", c.opts.KnownHostsFile, err)
	}
	return callback, nil
}

// wrapSSHError turns low level dial and handshake failures into readable errors
func wrapSSHError(err error, address string) error {
	errStr := err.Error()

	reason := "connection failed"
	switch {
	case strings.Contains(errStr, "unable to authenticate"), strings.Contains(errStr, "no supported methods remain"):
		reason = "authentication failed"
	case strings.Contains(errStr, "i/o timeout"), strings.Contains(errStr, "connection timed out"):
		reason = "connection timed out"
	case strings.Contains(errStr, "connection refused"):
		reason = "connection refused"
	case strings.Contains(errStr, "no route to host"):
		reason = "no route to host"
	case strings.Contains(errStr, "knownhosts"):
		reason = "host key verification failed"
	}

	return &ConnectError{Address: address, Reason: reason, Err: err}
}

// ErrTimeout is returned when the context ends before the remote side answers
var ErrTimeout = errors.New("remote operation timed out")

var errNoAuthMethod = errors.New("no authentication method configured")

// ConnectError is returned when a connection cannot be established. Reason
// is safe to show to users; Err carries the detail for logs.
type ConnectError struct {
	Address string
	Reason  string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Err == nil || e.Err.Error() == e.Reason {
		return fmt.Sprintf("%s: %s", e.Address, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Address, e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsConnectError reports whether err came from connecting or authenticating
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}

// Describe returns a message for err that can be shown to users
func Describe(err error) string {
	var ce *ConnectError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "connection timed out"
	case errors.As(err, &ce):
		return ce.Reason
	default:
		return "remote command failed"
	}
}
