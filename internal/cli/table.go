package cli

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table renders rows under fixed headers. JSON output is an array of
// objects keyed by the snake_cased headers.
type Table struct {
	result
	headers []string
	rows    [][]string
	widths  map[string]int
}

// Table starts a table with the given headers.
func (o *Output) Table(resultType string, headers ...string) *Table {
	return &Table{result: o.result(resultType), headers: headers, widths: map[string]int{}}
}

// AddRow appends a row; values line up with the headers.
func (t *Table) AddRow(values ...string) *Table {
	t.rows = append(t.rows, values)
	return t
}

// WithWindow records the page the rows came from.
func (t *Table) WithWindow(offset, limit, total int) *Table {
	t.window(offset, limit, len(t.rows), total)
	return t
}

// MaxWidth soft-wraps the named column in text output beyond width runes.
func (t *Table) MaxWidth(header string, width int) *Table {
	t.widths[header] = width
	return t
}

// Render writes the table.
func (t *Table) Render() error {
	return t.out.Render(t)
}

func (t *Table) RenderText(w io.Writer) error {
	tw := t.writer()
	tw.SetStyle(table.StyleLight)
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

func (t *Table) RenderJSON() any {
	keys := make([]string, len(t.headers))
	for i, h := range t.headers {
		keys[i] = toJSONKey(h)
	}
	out := make([]map[string]string, len(t.rows))
	for r, row := range t.rows {
		obj := make(map[string]string, len(keys))
		for i, v := range row[:min(len(row), len(keys))] {
			obj[keys[i]] = v
		}
		out[r] = obj
	}
	return out
}

func (t *Table) RenderMarkdown(w io.Writer) error {
	_, err := io.WriteString(w, t.writer().RenderMarkdown()+"\n")
	return err
}

func (t *Table) writer() table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(toRow(t.headers))
	for _, row := range t.rows {
		tw.AppendRow(toRow(row))
	}
	var configs []table.ColumnConfig
	for i, h := range t.headers {
		if width, ok := t.widths[h]; ok {
			configs = append(configs, table.ColumnConfig{Number: i + 1, WidthMax: width, WidthMaxEnforcer: text.WrapSoft})
		}
	}
	tw.SetColumnConfigs(configs)
	return tw
}

func toRow(values []string) table.Row {
	row := make(table.Row, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

// toJSONKey turns a header such as "Default Path" into "default_path".
func toJSONKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}
