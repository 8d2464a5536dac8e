package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Status is the liveness of a host as reported on the wire
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// Target is the address a probe is aimed at
type Target struct {
	Host string
	Port int
}

// Outcome is the result of a single probe
type Outcome struct {
	Status  Status
	Message string
}

// Pinger checks whether a target answers
type Pinger interface {
	Ping(ctx context.Context, target Target) Outcome
}

// ExecPinger runs the system ping binary for a single ICMP echo
type ExecPinger struct {
	Path    string
	Timeout time.Duration
}

// NewExecPinger creates a pinger using the given ping binary
func NewExecPinger(path string, timeout time.Duration) *ExecPinger {
	if path == "" {
		path = "ping"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ExecPinger{Path: path, Timeout: timeout}
}

// Ping sends one echo request with a three second reply wait
func (p *ExecPinger) Ping(ctx context.Context, target Target) Outcome {
	if strings.HasPrefix(target.Host, "-") {
		return Outcome{Status: StatusError, Message: "Ping error: invalid address"}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, p.Path, "-c", "1", "-W", "3", target.Host)
	err := cmd.Run()

	if timeoutCtx.Err() != nil {
		return Outcome{Status: StatusOffline, Message: "Ping timeout"}
	}
	if err == nil {
		return Outcome{Status: StatusOnline, Message: "Host is reachable"}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Outcome{Status: StatusOffline, Message: "Host is not reachable"}
	}
	return Outcome{Status: StatusError, Message: fmt.Sprintf("Ping error: %v", err)}
}

// TCPPinger treats a completed TCP handshake as reachability. It works where
// raw ICMP is unavailable, such as unprivileged containers.
type TCPPinger struct {
	Timeout time.Duration
}

// NewTCPPinger creates a TCP connect pinger
func NewTCPPinger(timeout time.Duration) *TCPPinger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TCPPinger{Timeout: timeout}
}

// Ping dials the target port
func (p *TCPPinger) Ping(ctx context.Context, target Target) Outcome {
	port := target.Port
	if port == 0 {
		port = 22
	}

	dialer := net.Dialer{Timeout: p.Timeout}
	timeoutCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	conn, err := dialer.DialContext(timeoutCtx, "tcp", net.JoinHostPort(target.Host, strconv.Itoa(port)))
	if err == nil {
		conn.Close()
		return Outcome{Status: StatusOnline, Message: "Host is reachable"}
	}

	if timeoutCtx.Err() != nil {
		return Outcome{Status: StatusOffline, Message: "Ping timeout"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Outcome{Status: StatusOffline, Message: "Ping timeout"}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Outcome{Status: StatusError, Message: fmt.Sprintf("Ping error: %v", err)}
	}

	return Outcome{Status: StatusOffline, Message: "Host is not reachable"}
}
