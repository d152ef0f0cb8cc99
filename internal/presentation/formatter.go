package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format selects an output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	format Format
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer, format Format) *Formatter {
	return &Formatter{writer: writer, format: format}
}

// FormatProfiles writes profiles in the configured format.
func (f *Formatter) FormatProfiles(profiles []ProfileDTO) error {
	switch f.format {
	case FormatJSON:
		return f.json(profiles)
	case FormatYAML:
		return f.yaml(profiles)
	default:
		return f.table(profiles)
	}
}

// FormatProfile writes a single profile.
func (f *Formatter) FormatProfile(p ProfileDTO) error {
	switch f.format {
	case FormatJSON:
		return f.json(p)
	case FormatYAML:
		return f.yaml(p)
	default:
		return f.table([]ProfileDTO{p})
	}
}

func (f *Formatter) json(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (f *Formatter) yaml(v any) error {
	encoder := yaml.NewEncoder(f.writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func (f *Formatter) table(profiles []ProfileDTO) error {
	tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\tNAME\tACCOUNT\tREGION\tARN")
	for _, p := range profiles {
		mark := ""
		if p.Active {
			mark = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, p.Name, p.AccountID, p.Region, p.ARN)
	}
	return tw.Flush()
}
