package localterm

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	outR *io.PipeReader
	outW *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  int
}

func newFakeRemote() *fakeRemote {
	r, w := io.Pipe()
	return &fakeRemote{outR: r, outW: w}
}

func (f *fakeRemote) Output() io.Reader { return f.outR }

func (f *fakeRemote) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeRemote) Resize(cols, rows int) error { return nil }

func (f *fakeRemote) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	f.outW.Close()
	return nil
}

func (f *fakeRemote) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestCheckExitSequence(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected bool
	}{
		{"exit sequence ctrl+] then q", []byte{0x1D, 'q'}, true},
		{"ctrl+] but not q", []byte{0x1D, 'x'}, false},
		{"normal text", []byte("hello world"), false},
		{"ctrl+] at end", []byte("test\x1D"), false},
		{"double ctrl+] then q", []byte{0x1D, 0x1D, 'q'}, true},
		{"q alone", []byte("q"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term := &Terminal{}
			if got := term.checkExitSequence(tt.input); got != tt.expected {
				t.Errorf("checkExitSequence(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCheckExitSequenceSplitAcrossCalls(t *testing.T) {
	term := &Terminal{}

	if term.checkExitSequence([]byte{0x1D}) {
		t.Error("First call with Ctrl+] should not exit")
	}
	if !term.checkExitSequence([]byte{'q'}) {
		t.Error("Second call with 'q' after Ctrl+] should exit")
	}
}

func TestStartForwardsUntilExitSequence(t *testing.T) {
	remote := newFakeRemote()
	stdinR, stdinW := io.Pipe()
	stdout := &syncBuffer{}

	term := NewWithIO(remote, stdinR, stdout)

	done := make(chan error, 1)
	go func() { done <- term.Start(context.Background(), "Connected to gpu01.") }()

	_, err := stdinW.Write([]byte("ls\r"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return remote.Written() == "ls\r" }, time.Second, 10*time.Millisecond)

	go func() { _, _ = remote.outW.Write([]byte("file.txt\r\n")) }()
	require.Eventually(t, func() bool { return strings.Contains(stdout.String(), "file.txt") }, time.Second, 10*time.Millisecond)

	_, err = stdinW.Write([]byte{0x1D, 'q'})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal did not exit")
	}

	assert.Equal(t, "ls\r", remote.Written(), "exit sequence is not forwarded")
	assert.Contains(t, stdout.String(), "Session closed by user.")
	assert.Equal(t, 1, remote.closed)
	stdinW.Close()
}

func TestStartEndsWhenRemoteExits(t *testing.T) {
	remote := newFakeRemote()
	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()
	stdout := &syncBuffer{}

	term := NewWithIO(remote, stdinR, stdout)

	done := make(chan error, 1)
	go func() { done <- term.Start(context.Background(), "Connected.") }()

	remote.outW.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal did not exit after the remote closed")
	}
	assert.Contains(t, stdout.String(), "Connection closed.")
}

func TestStartHonoursContext(t *testing.T) {
	remote := newFakeRemote()
	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	term := NewWithIO(remote, stdinR, io.Discard)

	done := make(chan error, 1)
	go func() { done <- term.Start(ctx, "Connected.") }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal ignored context cancellation")
	}
}
