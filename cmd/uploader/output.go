package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// printer renders results as an aligned table or as JSON/YAML documents.
type printer struct {
	format string
	w      io.Writer
}

func (p printer) validate() error {
	switch p.format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (table, json or yaml)", p.format)
}

// print writes v in the configured format. table draws the table form; when
// it is nil the table format falls back to JSON.
func (p printer) print(v any, table func(tw *tabwriter.Writer)) error {
	switch {
	case p.format == formatYAML:
		doc, err := generic(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case p.format == formatJSON || table == nil:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

// generic round-trips v through JSON so that YAML keys follow the json tags.
func generic(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
