package webui

import (
	"bytes"
	"io"
)

// TerminalData is the data rendered into the terminal viewer page
type TerminalData struct {
	Title        string
	Hostname     string
	Kind         string
	ReadOnly     bool
	WebSocketURL string
	CloseURL     string
}

// RenderTerminal renders the terminal viewer template
func RenderTerminal(data TerminalData) (io.Reader, error) {
	var buf bytes.Buffer
	err := templates.ExecuteTemplate(&buf, "terminal.html", data)
	if err != nil {
		return nil, err
	}
	return &buf, nil
}
