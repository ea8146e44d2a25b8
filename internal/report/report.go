// Package report renders run summaries as Markdown, or as HTML via goldmark.
package report

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Document accumulates Markdown.
type Document struct {
	title string
	b     strings.Builder
}

// New starts a document with a top-level heading.
func New(title string) *Document {
	d := &Document{title: title}
	fmt.Fprintf(&d.b, "# %s\n\n", title)
	return d
}

// Section adds a second-level heading.
func (d *Document) Section(title string) *Document {
	d.endList()
	fmt.Fprintf(&d.b, "## %s\n\n", title)
	return d
}

// Field adds a "**label:** value" line.
func (d *Document) Field(label string, value any) *Document {
	fmt.Fprintf(&d.b, "- **%s:** %v\n", label, value)
	return d
}

// Paragraph adds free text.
func (d *Document) Paragraph(text string) *Document {
	d.endList()
	fmt.Fprintf(&d.b, "%s\n\n", text)
	return d
}

// List adds one bullet per item as inline code, or a note when empty.
func (d *Document) List(items []string, empty string) *Document {
	d.endList()
	if len(items) == 0 {
		fmt.Fprintf(&d.b, "_%s_\n\n", empty)
		return d
	}
	for _, item := range items {
		fmt.Fprintf(&d.b, "- `%s`\n", item)
	}
	d.b.WriteString("\n")
	return d
}

// Table adds a pipe table. Cells are escaped for pipes and newlines.
func (d *Document) Table(header []string, rows [][]string) *Document {
	d.endList()
	d.b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	d.b.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = escapeCell(c)
		}
		d.b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	d.b.WriteString("\n")
	return d
}

// endList terminates a run of Field lines.
func (d *Document) endList() {
	s := d.b.String()
	if strings.HasSuffix(s, "\n") && !strings.HasSuffix(s, "\n\n") {
		d.b.WriteString("\n")
	}
}

// Markdown returns the document source.
func (d *Document) Markdown() string {
	d.endList()
	return d.b.String()
}

// HTML renders the document as a standalone HTML page.
func (d *Document) HTML() (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(d.Markdown()), &body); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(d.title), body.String()), nil
}

// Write saves the document to path: HTML for .html/.htm, Markdown otherwise.
// The file is written to a temp sibling and renamed into place, so an
// existing report survives a failed write.
func Write(path string, d *Document) error {
	if path == "" {
		return fmt.Errorf("report path is required")
	}
	content := d.Markdown()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		rendered, err := d.HTML()
		if err != nil {
			return err
		}
		content = rendered
	}

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("report path %s must not be a symlink", path)
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return fmt.Errorf("failed to generate temp file name: %w", err)
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync report: %w", err)
	}
	if err := file.Close(); err != nil {
		file = nil
		return fmt.Errorf("failed to close report: %w", err)
	}
	file = nil

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	success = true
	return nil
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
