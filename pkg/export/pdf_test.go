package export_test

import (
	"bytes"
	"testing"

	"cdef-ta-go/pkg/export"
)

const sampleMarkdown = `# Dew Computing

## Concept

Dew computing keeps a local copy of cloud data so devices stay usable offline.

- Offline-first operation
- Synchronizes when connectivity returns

### Applications

Web offline sites and local-first editors are typical examples.`

func TestMarkdownToPDFProducesValidHeader(t *testing.T) {
	pdf, err := export.MarkdownToPDF(sampleMarkdown)
	if err != nil {
		t.Fatalf("MarkdownToPDF: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("output does not look like a PDF, starts with %q", pdf[:min(8, len(pdf))])
	}
	if len(pdf) < 500 {
		t.Fatalf("suspiciously small PDF: %d bytes", len(pdf))
	}
}

func TestMarkdownToPDFHandlesPlainText(t *testing.T) {
	pdf, err := export.MarkdownToPDF("just a single paragraph without any markup")
	if err != nil {
		t.Fatalf("MarkdownToPDF: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatal("plain text should still render to a PDF")
	}
}

func TestMarkdownToPDFRejectsEmptyInput(t *testing.T) {
	if _, err := export.MarkdownToPDF("   "); err == nil {
		t.Fatal("expected error for empty markdown")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
