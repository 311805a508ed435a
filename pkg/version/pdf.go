package version

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// Renderer turns editor HTML into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, html []byte) ([]byte, error)
}

// DownloadPDF renders the given editor content (or the latest version when
// html is empty) to PDF and records the exported state as a new version with
// reason download, so the history shows exactly what left the system.
func (e *Engine) DownloadPDF(ctx context.Context, userID, taskID string, html []byte) ([]byte, *SaveResult, error) {
	_, err := e.access.Authorize(ctx, userID, taskID)
	if err != nil {
		return nil, nil, err
	}

	if len(html) == 0 {
		latest, err := e.Latest(ctx, userID, taskID)
		if err != nil {
			return nil, nil, err
		}
		html = latest.Content
	}

	pdf, err := e.render.Render(ctx, html)
	if err != nil {
		return nil, nil, fmt.Errorf("pdf render failed: %w", err)
	}

	row := &models.DocumentVersion{
		TaskID:          taskID,
		Content:         html,
		ContentChecksum: checksum(html),
		CharacterCount:  charCount(html),
		WordCount:       wordCount(html),
		EditReason:      ReasonDownload,
		EditedBy:        userID,
		EditedAt:        time.Now().UTC(),
	}

	result := &SaveResult{}
	latest, lerr := e.store.GetLatestVersion(ctx, taskID)
	if lerr == nil && latest.ContentChecksum == row.ContentChecksum {
		// Exporting unchanged content does not grow the history.
		result.VersionID = latest.ID
		result.VersionNumber = latest.VersionNumber
		result.NoOp = true
	} else {
		if err := e.store.CreateVersionAsLatest(ctx, row); err != nil {
			return nil, nil, err
		}
		result.VersionID = row.ID
		result.VersionNumber = row.VersionNumber
		result.IsSnapshot = true
	}

	e.access.Audit(ctx, &models.AuditRecord{
		TaskID:    taskID,
		UserID:    userID,
		Action:    models.ActionDownload,
		VersionID: &result.VersionID,
		Details:   models.JSONMap{"target": "pdf"},
	})
	return pdf, result, nil
}

// SimplePDF is a dependency-free renderer producing a single-page text PDF
// from the HTML's visible text. It exists for deployments without a
// rendering sidecar; the output is valid PDF 1.4 but carries no layout.
type SimplePDF struct{}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Render implements Renderer.
func (SimplePDF) Render(_ context.Context, html []byte) ([]byte, error) {
	lines := extractLines(html)
	if len(lines) == 0 {
		lines = []string{" "}
	}

	var content bytes.Buffer
	content.WriteString("BT\n/F1 11 Tf\n12 TL\n50 780 Td\n")
	for _, line := range lines {
		fmt.Fprintf(&content, "(%s) Tj\nT*\n", escapePDFText(line))
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)
	return out.Bytes(), nil
}

// extractLines strips markup and returns non-empty visible text lines,
// truncated to what fits on one page.
func extractLines(html []byte) []string {
	text := tagPattern.ReplaceAllString(string(html), "\n")
	text = strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`,
	).Replace(text)

	const maxLines = 60
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if len(line) > 90 {
			line = line[:90]
		}
		lines = append(lines, line)
		if len(lines) == maxLines {
			break
		}
	}
	return lines
}

func escapePDFText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			if r < 128 {
				b.WriteRune(r)
			} else {
				b.WriteByte('?')
			}
		}
	}
	return b.String()
}
