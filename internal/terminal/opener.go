package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/samsyeung/mycontrol/pkg/remote"
)

// ErrReadOnly is returned when writing to a read-only terminal
var ErrReadOnly = errors.New("terminal is read-only")

// PTYConfig describes the pseudo-terminal requested on the remote host
type PTYConfig struct {
	Term string
	Cols int
	Rows int
}

// Remote is a running process attached to a remote PTY
type Remote interface {
	// Output yields the PTY output until the remote process exits
	Output() io.Reader
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Close() error
}

// Opener starts remote terminal processes
type Opener interface {
	Open(ctx context.Context, target remote.Target, kind Kind) (Remote, error)
}

// SSHOpener starts login shells and nvtop over SSH
type SSHOpener struct {
	dialer    remote.Dialer
	pty       PTYConfig
	nvtopPath string
}

// NewSSHOpener creates an opener. Zero PTY fields fall back to
// xterm-256color at 120x40.
func NewSSHOpener(dialer remote.Dialer, pty PTYConfig, nvtopPath string) *SSHOpener {
	if pty.Term == "" {
		pty.Term = "xterm-256color"
	}
	if pty.Cols <= 0 {
		pty.Cols = 120
	}
	if pty.Rows <= 0 {
		pty.Rows = 40
	}
	if nvtopPath == "" {
		nvtopPath = "nvtop"
	}
	return &SSHOpener{dialer: dialer, pty: pty, nvtopPath: nvtopPath}
}

// Command returns what is run for kind, or "" for a login shell
func (o *SSHOpener) Command(kind Kind) string {
	if kind == KindNvtop {
		return fmt.Sprintf("export TERM=%s; %s", o.pty.Term, o.nvtopPath)
	}
	return ""
}

// Open dials the target, requests a PTY and starts the process for kind.
// Setup is bounded by ctx. Nothing is left open when an error is returned.
func (o *SSHOpener) Open(ctx context.Context, target remote.Target, kind Kind) (Remote, error) {
	client, err := o.dialer.Dial(ctx, target)
	if err != nil {
		return nil, err
	}

	// Once the process is running the terminal outlives ctx
	stop := context.AfterFunc(ctx, func() { client.Close() })

	rt, err := o.start(client, kind)
	if !stop() {
		if rt != nil {
			rt.Close()
		} else {
			client.Close()
		}
		return nil, remote.ErrTimeout
	}
	if err != nil {
		client.Close()
		return nil, err
	}
	return rt, nil
}

func (o *SSHOpener) start(client *ssh.Client, kind Kind) (*sshRemote, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	rt := &sshRemote{client: client, session: session, readOnly: kind == KindNvtop}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(o.pty.Term, o.pty.Rows, o.pty.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	// stdin stays open for nvtop too so the process never sees EOF
	if rt.stdin, err = session.StdinPipe(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	if rt.stdout, err = session.StdoutPipe(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}

	if command := o.Command(kind); command != "" {
		err = session.Start(command)
	} else {
		err = session.Shell()
	}
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start %s: %w", kind, err)
	}

	return rt, nil
}

type sshRemote struct {
	client   *ssh.Client
	session  *ssh.Session
	stdin    io.WriteCloser
	stdout   io.Reader
	readOnly bool
}

func (r *sshRemote) Output() io.Reader {
	return r.stdout
}

func (r *sshRemote) Write(p []byte) (int, error) {
	if r.readOnly {
		return 0, ErrReadOnly
	}
	return r.stdin.Write(p)
}

func (r *sshRemote) Resize(cols, rows int) error {
	if r.readOnly {
		return ErrReadOnly
	}
	return r.session.WindowChange(rows, cols)
}

func (r *sshRemote) Close() error {
	r.session.Close()
	return r.client.Close()
}
