// Package cli renders command results as text, JSON or markdown and sets up
// the environment contacts commands run in.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Format is an output format selected with --output.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat parses a format name. Unknown names mean text.
func ParseFormat(s string) Format {
	switch s {
	case "json":
		return FormatJSON
	case "markdown", "md":
		return FormatMarkdown
	default:
		return FormatText
	}
}

// Meta describes a result: its type, when it was produced and, for paged
// results, the window it covers and where the next page starts.
type Meta struct {
	Type       string    `json:"type" yaml:"type"`
	Version    string    `json:"version,omitempty" yaml:"version,omitempty"`
	Generated  time.Time `json:"generated" yaml:"generated"`
	Offset     int       `json:"offset,omitempty" yaml:"offset,omitempty"`
	Limit      int       `json:"limit,omitempty" yaml:"limit,omitempty"`
	Total      int       `json:"total,omitempty" yaml:"total,omitempty"`
	NextOffset int       `json:"next_offset,omitempty" yaml:"next_offset,omitempty"`
	HasMore    bool      `json:"has_more,omitempty" yaml:"has_more,omitempty"`
}

// NewMeta returns v1 metadata of the given type stamped with the current time.
func NewMeta(resultType string) Meta {
	return Meta{Type: resultType, Version: "v1", Generated: time.Now().UTC()}
}

// WithWindow records that returned items were read at offset out of total.
// A total of 0 means unknown, in which case a full page implies more.
func (m Meta) WithWindow(offset, limit, returned, total int) Meta {
	m.Offset, m.Limit, m.Total = offset, limit, total
	next := offset + returned
	if total > 0 {
		m.HasMore = next < total
	} else {
		m.HasMore = limit > 0 && returned == limit
	}
	if m.HasMore {
		m.NextOffset = next
	}
	return m
}

// Renderable can render itself in every Format.
type Renderable interface {
	Meta() Meta
	RenderText(w io.Writer) error
	RenderJSON() any
	RenderMarkdown(w io.Writer) error
}

// Output renders results in one format. JSON results are wrapped in a
// {"meta", "data"} envelope and markdown results get YAML frontmatter.
type Output struct {
	format Format
	w      io.Writer
}

// NewOutput creates an output rendering format to w.
func NewOutput(format Format, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// ViperGetter is the part of viper.Viper output selection reads.
type ViperGetter interface {
	GetString(key string) string
}

// NewOutputFromViper renders to stdout in the format named by the "output" key.
func NewOutputFromViper(v ViperGetter) *Output {
	return NewOutput(ParseFormat(v.GetString("output")), os.Stdout)
}

// Format returns the output format.
func (o *Output) Format() Format {
	return o.format
}

// Render writes r in the output's format.
func (o *Output) Render(r Renderable) error {
	switch o.format {
	case FormatJSON:
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(envelope{Meta: r.Meta(), Data: r.RenderJSON()})
	case FormatMarkdown:
		front, err := yaml.Marshal(r.Meta())
		if err != nil {
			return fmt.Errorf("encode frontmatter: %w", err)
		}
		if _, err := fmt.Fprintf(o.w, "---\n%s---\n\n", front); err != nil {
			return err
		}
		return r.RenderMarkdown(o.w)
	default:
		if err := r.RenderText(o.w); err != nil {
			return err
		}
		if m := r.Meta(); m.HasMore {
			_, err := fmt.Fprintf(o.w, "\nMore results: --offset=%d\n", m.NextOffset)
			return err
		}
		return nil
	}
}

type envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// result is embedded by every renderer built from an Output.
type result struct {
	out  *Output
	meta Meta
}

func (o *Output) result(resultType string) result {
	return result{out: o, meta: NewMeta(resultType)}
}

// Meta returns the result metadata.
func (r *result) Meta() Meta {
	return r.meta
}

func (r *result) window(offset, limit, returned, total int) {
	r.meta = r.meta.WithWindow(offset, limit, returned, total)
}
