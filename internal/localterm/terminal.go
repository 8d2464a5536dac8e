// Package localterm connects the local TTY to a remote terminal session.
//
// The local terminal is switched to raw mode so every keystroke, including
// Ctrl+C, reaches the remote shell. The session ends when the remote process
// exits or the user types the exit sequence Ctrl+] followed by q.
package localterm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/samsyeung/mycontrol/internal/terminal"
)

const (
	// exitSequence1 is the first byte of the exit sequence (Ctrl+]), as in telnet
	exitSequence1 = 0x1D

	// exitSequence2 must follow Ctrl+] to leave the session
	exitSequence2 = 'q'
)

var errUserExit = errors.New("closed by user")

// Terminal bridges stdin and stdout to a remote PTY
type Terminal struct {
	remote terminal.Remote
	stdin  io.Reader
	stdout io.Writer

	oldState *term.State
	fd       int

	mu          sync.Mutex
	exitPressed bool
	closeOnce   sync.Once
}

// New creates a terminal using the process stdin and stdout
func New(remote terminal.Remote) *Terminal {
	return NewWithIO(remote, os.Stdin, os.Stdout)
}

// NewWithIO creates a terminal over the given streams. Raw mode is only
// applied when stdin is a TTY.
func NewWithIO(remote terminal.Remote, stdin io.Reader, stdout io.Writer) *Terminal {
	return &Terminal{
		remote: remote,
		stdin:  stdin,
		stdout: stdout,
		fd:     -1,
	}
}

// IsTerminal reports whether f is an interactive terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Start runs the session until the remote exits, the user leaves, a signal
// arrives or ctx is cancelled. The local terminal state is always restored.
func (t *Terminal) Start(ctx context.Context, banner string) error {
	fmt.Fprintf(t.stdout, "%s Press Ctrl+] then 'q' to exit.\r\n", banner)

	if err := t.setRawMode(); err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer t.restore()

	t.syncSize()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(t.stdout, t.remote.Output())
		if err == nil {
			err = io.EOF
		}
		errCh <- err
	}()

	// The stdin reader may stay blocked in Read after the session ends; it
	// exits with the process.
	go func() {
		errCh <- t.stdinToRemote()
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-sigCh:
	case err = <-errCh:
	}
	t.Close()

	switch {
	case errors.Is(err, errUserExit):
		fmt.Fprint(t.stdout, "\r\nSession closed by user.\r\n")
		return nil
	case err == nil, errors.Is(err, io.EOF):
		fmt.Fprint(t.stdout, "\r\nConnection closed.\r\n")
		return nil
	default:
		return err
	}
}

func (t *Terminal) stdinToRemote() error {
	buf := make([]byte, 1024)
	for {
		n, err := t.stdin.Read(buf)
		if n > 0 {
			data := buf[:n]
			if t.checkExitSequence(data) {
				return errUserExit
			}
			if _, werr := t.remote.Write(data); werr != nil {
				return fmt.Errorf("failed to write to remote: %w", werr)
			}
		}
		if err != nil {
			return err
		}
	}
}

// checkExitSequence reports whether Ctrl+] followed by q was typed. The
// sequence may be split across reads.
func (t *Terminal) checkExitSequence(data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range data {
		if t.exitPressed {
			if b == exitSequence2 {
				return true
			}
			t.exitPressed = b == exitSequence1
		} else if b == exitSequence1 {
			t.exitPressed = true
		}
	}
	return false
}

func (t *Terminal) setRawMode() error {
	f, ok := t.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}

	t.fd = int(f.Fd())
	state, err := term.MakeRaw(t.fd)
	if err != nil {
		return err
	}
	t.oldState = state
	return nil
}

func (t *Terminal) restore() {
	if t.oldState != nil {
		_ = term.Restore(t.fd, t.oldState)
		t.oldState = nil
	}
}

// syncSize sends the local window size to the remote PTY
func (t *Terminal) syncSize() {
	if t.fd < 0 {
		return
	}
	cols, rows, err := term.GetSize(t.fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	_ = t.remote.Resize(cols, rows)
}

// Close releases the remote session. It is safe to call more than once.
func (t *Terminal) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.remote.Close()
	})
	return err
}
