package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// KV renders ordered key-value pairs, e.g. a count or version details.
type KV struct {
	result
	keys   []string
	values []any
}

// KV starts an empty key-value result.
func (o *Output) KV(resultType string) *KV {
	return &KV{result: o.result(resultType)}
}

// Set appends a pair. Keys keep the order they were set in.
func (k *KV) Set(key string, value any) *KV {
	k.keys = append(k.keys, key)
	k.values = append(k.values, value)
	return k
}

// Render writes the pairs.
func (k *KV) Render() error {
	return k.out.Render(k)
}

func (k *KV) RenderText(w io.Writer) error {
	if len(k.keys) == 0 {
		return nil
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options = table.Options{}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignRight}})
	for i, key := range k.keys {
		tw.AppendRow(table.Row{key + ":", fmt.Sprint(k.values[i])})
	}
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

func (k *KV) RenderJSON() any {
	out := make(map[string]any, len(k.keys))
	for i, key := range k.keys {
		out[toJSONKey(key)] = k.values[i]
	}
	return out
}

func (k *KV) RenderMarkdown(w io.Writer) error {
	for i, key := range k.keys {
		if _, err := fmt.Fprintf(w, "**%s:** %s\n\n", key, formatMarkdownValue(k.values[i])); err != nil {
			return err
		}
	}
	return nil
}

// formatMarkdownValue sets generated contact ids in code spans and escapes
// table pipes in everything else.
func formatMarkdownValue(v any) string {
	s := fmt.Sprint(v)
	if looksLikeID(s) {
		return "`" + s + "`"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

// looksLikeID reports whether s is a generated contact id.
func looksLikeID(s string) bool {
	return len(s) == 36 && uuid.Validate(s) == nil
}
