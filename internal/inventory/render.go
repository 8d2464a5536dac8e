package inventory

import (
	"bufio"
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"strings"

	"github.com/samsyeung/mycontrol/pkg/dockerengine"
)

//go:embed templates/*
var embedFS embed.FS

var templates *template.Template

func init() {
	var err error
	templates, err = template.ParseFS(embedFS, "templates/*.html")
	if err != nil {
		panic("Failed to parse embedded templates: " + err.Error())
	}
}

type containerRow struct {
	ID          string
	Name        string
	Image       string
	Status      string
	StatusClass string
	Ports       string
	Created     string
	Running     bool
}

type tableData struct {
	Host string
	Rows []containerRow
}

// ParseContainers decodes `docker ps --format json` output, one object per
// line. Lines that are not valid JSON are skipped.
func ParseContainers(output string) []dockerengine.Container {
	var containers []dockerengine.Container

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var c dockerengine.Container
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			continue
		}
		containers = append(containers, c)
	}

	return containers
}

// RenderDockerTable renders containers as the docker-table HTML fragment with
// start/stop buttons bound to host
func RenderDockerTable(host string, containers []dockerengine.Container) (string, error) {
	data := tableData{Host: host}
	for _, c := range containers {
		data.Rows = append(data.Rows, newContainerRow(c))
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "docker_table", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func newContainerRow(c dockerengine.Container) containerRow {
	id := c.ID
	if len(id) > 12 {
		id = id[:12]
	}

	row := containerRow{
		ID:      id,
		Name:    orUnknown(c.Names),
		Image:   orUnknown(c.Image),
		Status:  orUnknown(c.Status),
		Ports:   c.Ports,
		Created: orUnknown(c.CreatedAt),
	}
	if row.Ports == "" {
		row.Ports = "-"
	}

	switch {
	case strings.Contains(c.Status, "Up"):
		row.StatusClass = "status-running"
		row.Running = true
	case strings.Contains(c.Status, "Exited"):
		row.StatusClass = "status-exited"
	case strings.Contains(c.Status, "Created"):
		row.StatusClass = "status-created"
	case strings.Contains(c.Status, "Paused"):
		row.StatusClass = "status-paused"
	default:
		row.StatusClass = "status-running"
	}

	return row
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
