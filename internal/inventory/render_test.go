package inventory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsyeung/mycontrol/pkg/dockerengine"
)

func TestRenderDockerTable_Empty(t *testing.T) {
	html, err := RenderDockerTable("gpu01", nil)
	require.NoError(t, err)
	assert.Equal(t, `<div style="text-align: center; color: #666; padding: 20px;">No Docker containers found</div>`, strings.TrimSpace(html))
}

func TestRenderDockerTable_EscapesHostileValues(t *testing.T) {
	html, err := RenderDockerTable("gpu01');alert(1);//", []dockerengine.Container{{
		ID:     "<img src=x>",
		Names:  "<script>alert('x')</script>",
		Image:  `"><svg onload=alert(1)>`,
		Status: "Up 1 minute",
	}})
	require.NoError(t, err)

	if strings.Contains(html, "<script>") {
		t.Errorf("container name was not escaped: %s", html)
	}
	if strings.Contains(html, "<svg") || strings.Contains(html, "<img") {
		t.Errorf("markup leaked into output: %s", html)
	}
	if strings.Contains(html, "');alert(1)") {
		t.Errorf("hostname broke out of the onclick string: %s", html)
	}
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestNewContainerRow(t *testing.T) {
	tests := []struct {
		status  string
		class   string
		running bool
	}{
		{"Up 2 hours", "status-running", true},
		{"Up 5 minutes (Paused)", "status-running", true},
		{"Exited (137) 3 days ago", "status-exited", false},
		{"Created", "status-created", false},
		{"Paused", "status-paused", false},
		{"Restarting (1) 4 seconds ago", "status-running", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			row := newContainerRow(dockerengine.Container{ID: "abc", Status: tt.status})
			assert.Equal(t, tt.class, row.StatusClass)
			assert.Equal(t, tt.running, row.Running)
		})
	}
}

func TestNewContainerRow_Defaults(t *testing.T) {
	row := newContainerRow(dockerengine.Container{ID: "0123456789abcdef0123"})
	assert.Equal(t, "0123456789ab", row.ID)
	assert.Equal(t, "Unknown", row.Name)
	assert.Equal(t, "Unknown", row.Image)
	assert.Equal(t, "-", row.Ports)
	assert.Equal(t, "Unknown", row.Created)
}

func TestParseContainers(t *testing.T) {
	output := `{"ID":"a1","Names":"one","Image":"alpine","Status":"Up 1 second","Ports":"","CreatedAt":"x"}

{broken
{"ID":"b2","Names":"two","Image":"alpine","Status":"Exited (0)","Ports":"8080/tcp","CreatedAt":"y"}`

	containers := ParseContainers(output)
	require.Len(t, containers, 2)
	assert.Equal(t, "one", containers[0].Names)
	assert.Equal(t, "8080/tcp", containers[1].Ports)

	assert.Empty(t, ParseContainers(""))
	assert.Empty(t, ParseContainers("\n\n"))
}
