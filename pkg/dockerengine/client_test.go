package dockerengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon answers the handful of Engine API calls the client makes
type fakeDaemon struct {
	mu    sync.Mutex
	calls []string
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.calls = append(d.calls, r.Method+" "+r.URL.Path)
	d.mu.Unlock()

	w.Header().Set("Api-Version", "1.44")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(r.URL.Path, "/_ping"):
		_, _ = w.Write([]byte("OK"))
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/containers/json"):
		_ = json.NewEncoder(w).Encode([]types.Container{
			{
				ID:      "0123456789abcdef0123",
				Names:   []string{"/web"},
				Image:   "nginx:latest",
				Status:  "Up 2 hours",
				State:   "running",
				Created: 1700000000,
				Ports: []types.Port{
					{IP: "0.0.0.0", PrivatePort: 80, PublicPort: 8080, Type: "tcp"},
					{PrivatePort: 443, Type: "tcp"},
				},
			},
		})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/containers/abc/start"),
		r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/containers/abc/stop"):
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"No such container: missing"}`))
	}
}

func (d *fakeDaemon) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func newFakeDaemon(t *testing.T) (*fakeDaemon, string) {
	daemon := &fakeDaemon{}
	server := httptest.NewServer(daemon)
	t.Cleanup(server.Close)
	return daemon, "tcp://" + strings.TrimPrefix(server.URL, "http://")
}

func TestClient_List(t *testing.T) {
	_, endpoint := newFakeDaemon(t)

	client, err := NewClient(endpoint)
	require.NoError(t, err)
	defer client.Close()

	containers, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, containers, 1)

	c := containers[0]
	assert.Equal(t, "0123456789abcdef0123", c.ID)
	assert.Equal(t, "web", c.Names)
	assert.Equal(t, "nginx:latest", c.Image)
	assert.Equal(t, "Up 2 hours", c.Status)
	assert.Equal(t, "0.0.0.0:8080->80/tcp, 443/tcp", c.Ports)
	assert.NotEmpty(t, c.CreatedAt)
}

func TestClient_StartStop(t *testing.T) {
	daemon, endpoint := newFakeDaemon(t)

	engine, err := Connect(endpoint)
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.Start(context.Background(), "abc"))
	require.NoError(t, engine.Stop(context.Background(), "abc"))

	err = engine.Start(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such container")

	var posts []string
	for _, call := range daemon.Calls() {
		if strings.HasPrefix(call, "POST") {
			posts = append(posts, call)
		}
	}
	require.Len(t, posts, 3)
	assert.True(t, strings.HasSuffix(posts[0], "/containers/abc/start"))
	assert.True(t, strings.HasSuffix(posts[1], "/containers/abc/stop"))
}

func TestFormatPorts(t *testing.T) {
	assert.Equal(t, "", formatPorts(nil))
	assert.Equal(t, "53/udp", formatPorts([]types.Port{{PrivatePort: 53, Type: "udp"}}))
	assert.Equal(t, "0.0.0.0:2222->22/tcp", formatPorts([]types.Port{{PrivatePort: 22, PublicPort: 2222, Type: "tcp"}}))
}
