// Package export renders finished reports. Markdown and JSON render
// in-process; binary formats belong to external renderers and are
// rejected with ErrUnsupportedFormat.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/types"
)

// Format is a requested output format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatPPTX     Format = "pptx"
	FormatXLSX     Format = "xlsx"
)

// ErrUnsupportedFormat marks formats this process does not render.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ErrUnknownFormat marks format strings outside the recognized set.
var ErrUnknownFormat = errors.New("unknown export format")

// Render produces the report in the requested format and returns the
// bytes with their media type.
func Render(format Format, r *types.Report) ([]byte, string, error) {
	if r == nil {
		return nil, "", fmt.Errorf("no report to render")
	}
	switch format {
	case FormatMarkdown:
		return []byte(Markdown(r)), "text/markdown; charset=utf-8", nil
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return append(data, '\n'), "application/json", nil
	case FormatPDF, FormatDOCX, FormatPPTX, FormatXLSX:
		return nil, "", fmt.Errorf("%w: %s is rendered by an external exporter", ErrUnsupportedFormat, format)
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Markdown renders the report as a standalone document.
func Markdown(r *types.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Research Report: %s\n\n", r.Query)
	fmt.Fprintf(&b, "Domain: %s · Generated: %s · Overall confidence: %.2f\n\n",
		r.Domain, r.GeneratedAt.Format("2006-01-02 15:04 MST"), r.OverallConfidence)

	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(r.Summary))
	b.WriteString("\n\n")

	b.WriteString("## Findings\n\n")
	if len(r.Findings) == 0 {
		b.WriteString("No findings were established.\n\n")
	}
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "- **%s** _(confidence %.2f)_\n", f.Statement, f.Confidence)
		fmt.Fprintf(&b, "  - Source: %s\n", f.Source)
		for _, s := range f.SupportingSources {
			fmt.Fprintf(&b, "  - Supporting: %s\n", s)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Methodology\n\n")
	m := r.Methodology
	fmt.Fprintf(&b, "- Providers queried: %s\n", strings.Join(m.SourcesQueried, ", "))
	fmt.Fprintf(&b, "- Entities found: %d\n", m.EntitiesFound)
	fmt.Fprintf(&b, "- Facts extracted: %d\n", m.FactsExtracted)
	fmt.Fprintf(&b, "- Contradictions found: %d\n", r.ContradictionsFound)
	fmt.Fprintf(&b, "- Saturation at stop: %.2f\n", m.Saturation.Overall)
	fmt.Fprintf(&b, "- Stop reason: %s\n\n", m.StopReason)

	b.WriteString("## Limitations\n\n")
	for _, l := range r.Limitations {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	b.WriteString("\n")

	b.WriteString("## Sources\n\n")
	for _, s := range r.Sources {
		title := s.Title
		if title == "" {
			title = s.URL
		}
		fmt.Fprintf(&b, "- [%s](%s) via %s\n", title, s.URL, s.Type)
	}
	return b.String()
}

// ParseFormat validates a wire format string.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatMarkdown, FormatJSON, FormatPDF, FormatDOCX, FormatPPTX, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}
