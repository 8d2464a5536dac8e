package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{" json ", FormatJSON, false},
		{"yaml", FormatText, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatter_Table(t *testing.T) {
	rows := [][]string{{"gpu01", "10.0.0.1"}, {"gpu-long-name", "10.0.0.2"}}

	var buf bytes.Buffer
	text := New(FormatText)
	text.SetWriter(&buf)
	require.NoError(t, text.Table(nil, []string{"NAME", "SSH HOST"}, rows))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME "))
	assert.Equal(t, strings.Index(lines[0], "SSH HOST"), strings.Index(lines[1], "10.0.0.1"), "columns are aligned")

	buf.Reset()
	js := New(FormatJSON)
	js.SetWriter(&buf)
	require.NoError(t, js.Table([]map[string]string{{"name": "gpu01"}}, []string{"NAME"}, rows))

	var decoded []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "gpu01", decoded[0]["name"])
}

func TestFormatter_Result(t *testing.T) {
	var buf bytes.Buffer
	f := New(FormatText)
	f.SetWriter(&buf)

	require.NoError(t, f.Result(map[string]bool{"success": true}, "gpu01: online"))
	assert.Equal(t, "gpu01: online\n", buf.String())

	buf.Reset()
	f = New(FormatJSON)
	f.SetWriter(&buf)
	require.NoError(t, f.Result(map[string]bool{"success": true}, "ignored"))
	assert.Contains(t, buf.String(), `"success": true`)
}

func TestFormatter_UnsupportedFormat(t *testing.T) {
	f := New(Format("xml"))
	f.SetWriter(&bytes.Buffer{})
	if err := f.Output("x"); err == nil {
		t.Error("Output() with unsupported format should fail")
	}
}
