// Package worker implements the OCR worker pool.
//
// This file defines the OCR capability boundary. The pool treats OCR as an
// injected capability so deployments can plug in an external engine; the
// simulated implementation serves development and tests.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"html"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// Input is one OCR invocation.
type Input struct {
	TaskID   string
	Filename string
	MimeType string
	Data     []byte
	Config   models.ProcessingConfig
}

// Output is the rendered OCR result.
type Output struct {
	// HTML is the editor-ready rendered document.
	HTML []byte

	// PageImages are optional per-page preview images, index = page - 1.
	PageImages [][]byte

	PageCount       int
	WordCount       int
	ConfidenceScore float64
	ModelVersion    string
}

// OCR turns an uploaded document into rendered HTML.
type OCR interface {
	Process(ctx context.Context, in *Input) (*Output, error)
}

// Simulated is a deterministic OCR stand-in. It does no recognition: the
// output is a single-page HTML shell describing the input, with the
// requested processing modes echoed as sections.
type Simulated struct{}

// Process implements OCR.
func (Simulated) Process(ctx context.Context, in *Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("empty document %s", in.TaskID)
	}

	var buf bytes.Buffer
	buf.WriteString("<html><head><meta charset=\"utf-8\"></head><body>\n")
	fmt.Fprintf(&buf, "<div class=\"page\" data-page=\"1\">\n")
	fmt.Fprintf(&buf, "<h1>%s</h1>\n", html.EscapeString(in.Filename))
	fmt.Fprintf(&buf, "<p>Processed %d bytes (%s).</p>\n", len(in.Data), html.EscapeString(in.MimeType))

	if in.Config.HasMode(models.ModeKVP) {
		buf.WriteString("<table class=\"kvp\">\n")
		for _, field := range in.Config.KVPFields {
			fmt.Fprintf(&buf, "<tr><td>%s</td><td></td></tr>\n", html.EscapeString(field))
		}
		buf.WriteString("</table>\n")
	}
	if in.Config.HasMode(models.ModeAnon) {
		buf.WriteString("<p class=\"anon\">Anonymization applied.</p>\n")
	}

	buf.WriteString("</div>\n</body></html>\n")

	out := buf.Bytes()
	return &Output{
		HTML:            out,
		PageCount:       1,
		WordCount:       countWords(out),
		ConfidenceScore: 0.95,
		ModelVersion:    "simulated-1",
	}, nil
}

func countWords(data []byte) int {
	return len(bytes.Fields(data))
}
