// Package output renders CLI results as tables, JSON, or YAML.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format selects how command output is rendered.
type Format string

const (
	// FormatTable renders human-readable columns. The default.
	FormatTable Format = "table"
	// FormatJSON renders indented JSON for scripting.
	FormatJSON Format = "json"
	// FormatYAML renders YAML.
	FormatYAML Format = "yaml"
)

// ParseFormat maps a --output flag value to a Format. The empty string means
// table; "yml" is accepted as YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
}

// Printer writes formatted output to a single destination, remembering the
// format and whether ANSI color is wanted.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter returns a Printer writing to out in the given format.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, format: format, color: color}
}

// Print renders data in the printer's format. Table format requires data to
// implement TableRenderer; anything else falls back to JSON.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	case FormatTable:
		if r, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, r)
		}
		return PrintJSON(p.out, data)
	}
	return fmt.Errorf("unknown format: %s", p.format)
}

// Success prints msg, green when color is enabled.
func (p *Printer) Success(msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "\033[32m%s\033[0m\n", msg)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}

// Error prints msg, red when color is enabled.
func (p *Printer) Error(msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "\033[31m%s\033[0m\n", msg)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}
