package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsyeung/mycontrol/internal/hosts"
	"github.com/samsyeung/mycontrol/internal/sshtest"
	"github.com/samsyeung/mycontrol/pkg/config"
	"github.com/samsyeung/mycontrol/pkg/dockerengine"
	"github.com/samsyeung/mycontrol/pkg/remote"
)

type fakeEngine struct {
	containers []dockerengine.Container
	err        error
	closed     bool
}

func (f *fakeEngine) List(ctx context.Context) ([]dockerengine.Container, error) {
	return f.containers, f.err
}

func (f *fakeEngine) Start(ctx context.Context, id string) error { return nil }
func (f *fakeEngine) Stop(ctx context.Context, id string) error  { return nil }

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func sshHost(server *sshtest.Server, name string) config.HostConfig {
	return config.HostConfig{
		Name:        name,
		SSHHost:     server.Host(),
		SSHPort:     server.Port(),
		SSHUsername: server.User,
		SSHPassword: server.Password,
	}
}

func newService(hostConfigs []config.HostConfig, opts Options) *Service {
	runner := remote.NewClient(remote.Options{ConnectTimeout: 2 * time.Second})
	return NewService(hosts.NewRegistry(hostConfigs), runner, opts)
}

func TestService_GPUInfo(t *testing.T) {
	server := sshtest.NewServer(t, "ops", "pw")
	server.Handle("nvidia-smi", sshtest.Response{Stdout: "| NVIDIA-SMI 550.54 |\n"})
	server.Handle("nvidia-smi topo -m", sshtest.Response{Stdout: "GPU0\tX\n"})

	svc := newService([]config.HostConfig{sshHost(server, "gpu01")}, Options{})

	res := svc.GPUInfo(context.Background(), "gpu01")
	assert.Equal(t, Result{Success: true, Output: "| NVIDIA-SMI 550.54 |\n"}, res)

	res = svc.GPUTopology(context.Background(), "gpu01")
	assert.Equal(t, Result{Success: true, Output: "GPU0\tX\n"}, res)

	assert.Equal(t, []string{"nvidia-smi", "nvidia-smi topo -m"}, server.Commands())
}

func TestService_Validation(t *testing.T) {
	svc := newService([]config.HostConfig{
		{Name: "bmc-only", IPMIHost: "10.0.0.1"},
		{Name: "nouser", SSHHost: "10.0.0.2"},
		{Name: "cpu", SSHHost: "10.0.0.3", SSHUsername: "ops", Capabilities: []string{"docker"}},
		{Name: "nodocker", SSHHost: "10.0.0.4", SSHUsername: "ops", Capabilities: []string{"gpu"}},
	}, Options{})

	tests := []struct {
		name string
		call func() Result
		want string
	}{
		{"unknown host gpu", func() Result { return svc.GPUInfo(context.Background(), "missing") }, "Host not found in configuration"},
		{"unknown host topo", func() Result { return svc.GPUTopology(context.Background(), "missing") }, "Host not found in configuration"},
		{"unknown host docker", func() Result { return svc.DockerList(context.Background(), "missing") }, "Host not found in configuration"},
		{"no ssh host", func() Result { return svc.GPUInfo(context.Background(), "bmc-only") }, "No SSH host configured for this server"},
		{"no ssh user", func() Result { return svc.DockerList(context.Background(), "nouser") }, "No SSH username configured for this server"},
		{"gpu disabled", func() Result { return svc.GPUTopology(context.Background(), "cpu") }, "GPU inventory not enabled for this host"},
		{"docker disabled", func() Result { return svc.DockerList(context.Background(), "nodocker") }, "Docker inventory not enabled for this host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.call()
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Message)
		})
	}
}

func TestService_CommandFailures(t *testing.T) {
	server := sshtest.NewServer(t, "ops", "pw")
	server.Handle("nvidia-smi", sshtest.Response{Stderr: "NVIDIA-SMI has failed\n", ExitStatus: 9})
	server.Handle("nvidia-smi topo -m", sshtest.Response{ExitStatus: 1})
	server.Handle("docker ps -a --format json", sshtest.Response{Delay: 5 * time.Second})

	svc := newService([]config.HostConfig{sshHost(server, "gpu01")}, Options{CommandTimeout: 300 * time.Millisecond})

	assert.Equal(t, "Command failed: NVIDIA-SMI has failed", svc.GPUInfo(context.Background(), "gpu01").Message)
	assert.Equal(t, "Command failed: nvidia-smi topo -m command failed", svc.GPUTopology(context.Background(), "gpu01").Message)

	start := time.Now()
	res := svc.DockerList(context.Background(), "gpu01")
	assert.Equal(t, failure("Command timed out"), res)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestService_ConnectionFailure(t *testing.T) {
	server := sshtest.NewServer(t, "ops", "pw")
	hc := sshHost(server, "gpu01")
	hc.SSHPassword = "wrong"

	svc := newService([]config.HostConfig{hc}, Options{})

	res := svc.GPUInfo(context.Background(), "gpu01")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "SSH connection failed: ")
}

type errRunner struct{ err error }

func (r errRunner) Run(ctx context.Context, target remote.Target, command string) (*remote.Result, error) {
	return nil, r.err
}

func TestService_RemoteErrorsAreSanitized(t *testing.T) {
	hostConfigs := []config.HostConfig{{Name: "gpu01", SSHHost: "10.0.0.1", SSHUsername: "ops"}}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "connect",
			err:  &remote.ConnectError{Address: "10.0.0.1:22", Reason: "connection failed", Err: errors.New("ssh: handshake failed: read tcp 10.9.9.9:5555->10.0.0.1:22: EOF")},
			want: "SSH connection failed: connection failed",
		},
		{
			name: "unexpected",
			err:  errors.New("ssh: unexpected packet in response to channel open: <nil>"),
			want: "Unexpected error: remote command failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(hosts.NewRegistry(hostConfigs), errRunner{err: tt.err}, Options{})
			res := svc.GPUInfo(context.Background(), "gpu01")
			assert.Equal(t, failure(tt.want), res)
			assert.NotContains(t, res.Message, "ssh:")
		})
	}
}

func TestService_DockerListOverSSH(t *testing.T) {
	server := sshtest.NewServer(t, "ops", "pw")
	server.Handle("docker ps -a --format json", sshtest.Response{Stdout: `{"ID":"0123456789abcdef","Names":"web","Image":"nginx:1.27","Status":"Up 3 hours","Ports":"0.0.0.0:80->80/tcp","CreatedAt":"2024-05-01 10:00:00 +0000 UTC"}
not json
{"ID":"fedcba987654","Names":"job","Image":"busybox","Status":"Exited (0) 2 days ago","Ports":"","CreatedAt":"2024-04-01 10:00:00 +0000 UTC"}
`})

	svc := newService([]config.HostConfig{sshHost(server, "gpu01")}, Options{})

	res := svc.DockerList(context.Background(), "gpu01")
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.HTML, `<table class="docker-table">`)
	assert.Contains(t, res.HTML, "<code>0123456789ab</code>")
	assert.NotContains(t, res.HTML, "0123456789abcdef")
	assert.Contains(t, res.HTML, "container-status status-running")
	assert.Contains(t, res.HTML, "container-status status-exited")
	assert.Contains(t, res.HTML, `<span class="container-ports">-</span>`)
	assert.Contains(t, res.HTML, "'stop', this)")
	assert.Contains(t, res.HTML, "'start', this)")
}

func TestService_DockerListEngine(t *testing.T) {
	engine := &fakeEngine{containers: []dockerengine.Container{
		{ID: "abc123", Names: "db", Image: "postgres:16", Status: "Created"},
	}}
	var endpoint string
	connector := func(ep string) (dockerengine.Engine, error) {
		endpoint = ep
		return engine, nil
	}

	svc := newService([]config.HostConfig{
		{Name: "box", IPMIHost: "10.0.0.9", DockerEndpoint: "tcp://10.0.0.9:2375"},
	}, Options{Connector: connector})

	res := svc.DockerList(context.Background(), "box")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "tcp://10.0.0.9:2375", endpoint)
	assert.Contains(t, res.HTML, "status-created")
	assert.True(t, engine.closed)

	engine.err = errors.New("daemon unavailable")
	res = svc.DockerList(context.Background(), "box")
	assert.Equal(t, failure("Command failed: daemon unavailable"), res)
}
