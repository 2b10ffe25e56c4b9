package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
)

// Result is a one-line message with details, e.g. the id of a created
// contact. Details are shown in key order.
type Result struct {
	result
	message string
	details map[string]any
}

// Result starts a message result.
func (o *Output) Result(resultType, message string) *Result {
	return &Result{result: o.result(resultType), message: message, details: map[string]any{}}
}

// With adds a detail.
func (r *Result) With(key string, value any) *Result {
	r.details[key] = value
	return r
}

// Render writes the result.
func (r *Result) Render() error {
	return r.out.Render(r)
}

func (r *Result) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, r.message); err != nil {
		return err
	}
	return writeDetails(w, r.details, "  %-*s  %v\n", true)
}

func (r *Result) RenderJSON() any {
	return detailsJSON(r.details, "message", r.message)
}

func (r *Result) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "**%s**\n\n", r.message); err != nil {
		return err
	}
	return writeDetails(w, r.details, "- **%s:** %s\n", false)
}

// Error reports a failed command in the selected format. The result type
// is the command's with an "-error" suffix.
type Error struct {
	result
	err     error
	code    string
	details map[string]any
}

// Error starts an error result for err.
func (o *Output) Error(resultType string, err error) *Error {
	return &Error{result: o.result(resultType + "-error"), err: err, details: map[string]any{}}
}

// WithCode sets a machine-readable error code.
func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

// With adds a detail.
func (e *Error) With(key string, value any) *Error {
	e.details[key] = value
	return e
}

// Render writes the error.
func (e *Error) Render() error {
	return e.out.Render(e)
}

func (e *Error) headline() string {
	if e.code != "" {
		return fmt.Sprintf("Error [%s]: %v", e.code, e.err)
	}
	return fmt.Sprintf("Error: %v", e.err)
}

func (e *Error) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, e.headline()); err != nil {
		return err
	}
	return writeDetails(w, e.details, "  %-*s  %v\n", true)
}

func (e *Error) RenderJSON() any {
	out := detailsJSON(e.details, "error", e.err.Error())
	if e.code != "" {
		out["code"] = e.code
	}
	return out
}

func (e *Error) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "> **%s**\n", e.headline()); err != nil {
		return err
	}
	if len(e.details) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return writeDetails(w, e.details, "- **%s:** %s\n", false)
}

// writeDetails prints details in key order. Aligned formats take the key
// column width as their first argument.
func writeDetails(w io.Writer, details map[string]any, format string, aligned bool) error {
	width := 0
	for k := range details {
		width = max(width, len(k)+1)
	}
	for _, k := range slices.Sorted(maps.Keys(details)) {
		var err error
		if aligned {
			_, err = fmt.Fprintf(w, format, width, k+":", details[k])
		} else {
			_, err = fmt.Fprintf(w, format, k, formatMarkdownValue(details[k]))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func detailsJSON(details map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[toJSONKey(k)] = v
	}
	out[key] = value
	return out
}
