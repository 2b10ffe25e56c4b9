package cli

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/list"
)

// List renders a sequence of Renderables, one bullet each. JSON output is
// the array of the items' own JSON.
type List struct {
	result
	items []Renderable
}

// List starts an empty list.
func (o *Output) List(resultType string) *List {
	return &List{result: o.result(resultType)}
}

// Add appends items.
func (l *List) Add(items ...Renderable) *List {
	l.items = append(l.items, items...)
	return l
}

// WithWindow records the page the items came from.
func (l *List) WithWindow(offset, limit, total int) *List {
	l.window(offset, limit, len(l.items), total)
	return l
}

// Render writes the list.
func (l *List) Render() error {
	return l.out.Render(l)
}

func (l *List) RenderText(w io.Writer) error {
	lw := list.NewWriter()
	lw.SetStyle(list.StyleBulletCircle)
	for _, item := range l.items {
		lw.AppendItem(capture(item.RenderText))
	}
	_, err := io.WriteString(w, lw.Render()+"\n")
	return err
}

func (l *List) RenderJSON() any {
	out := make([]any, len(l.items))
	for i, item := range l.items {
		out[i] = item.RenderJSON()
	}
	return out
}

func (l *List) RenderMarkdown(w io.Writer) error {
	lw := list.NewWriter()
	for _, item := range l.items {
		lw.AppendItem(capture(item.RenderMarkdown))
	}
	_, err := io.WriteString(w, lw.RenderMarkdown()+"\n")
	return err
}

// capture renders an item into a string for embedding in a list entry.
func capture(render func(io.Writer) error) string {
	var b strings.Builder
	_ = render(&b)
	return strings.TrimSpace(b.String())
}
