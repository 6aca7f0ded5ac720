package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// Format represents an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat parses a format string, defaulting to text.
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

// Meta describes a rendered result.
type Meta struct {
	Kind      string    `json:"kind" yaml:"kind"`
	Generated time.Time `json:"generated" yaml:"generated"`
}

// NewMeta creates metadata for the given result kind.
func NewMeta(kind string) Meta {
	return Meta{Kind: kind, Generated: time.Now().UTC()}
}

// Renderable can render itself in multiple formats.
type Renderable interface {
	Meta() Meta
	RenderText(w io.Writer) error
	RenderJSON() any
	RenderMarkdown(w io.Writer) error
}

// Output handles formatted rendering with automatic envelope/frontmatter.
type Output struct {
	format Format
	w      io.Writer
}

// NewOutput creates an output renderer for the given format.
func NewOutput(format Format, w io.Writer) *Output {
	if w == nil {
		w = os.Stdout
	}
	return &Output{format: format, w: w}
}

// ViperGetter is the subset of viper.Viper we need.
type ViperGetter interface {
	GetString(key string) string
}

// NewOutputFromViper reads the "output" key for the format.
func NewOutputFromViper(v ViperGetter, w io.Writer) *Output {
	return NewOutput(ParseFormat(v.GetString("output")), w)
}

// Format returns the configured output format.
func (o *Output) Format() Format { return o.format }

// Writer returns the destination.
func (o *Output) Writer() io.Writer { return o.w }

// Table creates a new table renderer attached to this output.
func (o *Output) Table(kind string, headers ...string) *Table {
	return &Table{out: o, meta: NewMeta(kind), headers: headers}
}

// KV creates a new key-value renderer attached to this output.
func (o *Output) KV(kind string) *KV {
	return &KV{out: o, meta: NewMeta(kind)}
}

// Render outputs r in the configured format.
func (o *Output) Render(r Renderable) error {
	switch o.format {
	case FormatJSON:
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Meta Meta `json:"meta"`
			Data any  `json:"data"`
		}{r.Meta(), r.RenderJSON()})
	case FormatMarkdown:
		return o.renderMarkdown(r)
	default:
		return r.RenderText(o.w)
	}
}

func (o *Output) renderMarkdown(r Renderable) error {
	if _, err := fmt.Fprintln(o.w, "---"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(o.w)
	enc.SetIndent(2)
	if err := enc.Encode(r.Meta()); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if _, err := fmt.Fprint(o.w, "---\n\n"); err != nil {
		return err
	}
	return r.RenderMarkdown(o.w)
}
