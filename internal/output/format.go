package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Format represents the output format type
type Format string

const (
	// FormatText is the default human-readable text format
	FormatText Format = "text"
	// FormatJSON is the JSON output format
	FormatJSON Format = "json"
)

// ParseFormat validates a --output value
func ParseFormat(value string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(value)))
	switch format {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON:
		return format, nil
	default:
		return FormatText, fmt.Errorf("invalid output format: %s (must be 'text' or 'json')", value)
	}
}

// Formatter handles different output formats
type Formatter struct {
	format Format
	writer io.Writer
}

// New creates a new Formatter writing to stdout
func New(format Format) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// SetWriter sets a custom writer for output
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Writer returns the destination of all output
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// IsJSON returns true if the format is JSON
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// Output writes data as indented JSON, or with %v in text mode
func (f *Formatter) Output(data interface{}) error {
	switch f.format {
	case FormatJSON:
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case FormatText:
		_, err := fmt.Fprintf(f.writer, "%v\n", data)
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// Result prints data as JSON, or the given line in text mode
func (f *Formatter) Result(data interface{}, text string) error {
	if f.IsJSON() {
		return f.Output(data)
	}
	_, err := fmt.Fprintln(f.writer, text)
	return err
}

// Table prints rows under a header in text mode. In JSON mode data is
// encoded instead.
func (f *Formatter) Table(data interface{}, header []string, rows [][]string) error {
	if f.IsJSON() {
		return f.Output(data)
	}

	tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
