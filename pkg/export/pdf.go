// Package export 提供了将 Markdown 笔记渲染为分页 PDF 的功能。
package export

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// MarkdownToPDF 将 Markdown 文本渲染为 PDF 字节流。
// 先用 goldmark 转成 HTML，再逐行铺成段落，只保留版式意义上的标题/列表区分。
func MarkdownToPDF(markdown string) ([]byte, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("没有可导出的内容")
	}

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &htmlBuf); err != nil {
		return nil, fmt.Errorf("markdown 转换失败: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, line := range strings.Split(htmlBuf.String(), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		text := html.UnescapeString(strings.TrimSpace(tagPattern.ReplaceAllString(trimmed, "")))

		switch {
		case strings.HasPrefix(trimmed, "<h1"):
			pdf.SetFont("Helvetica", "B", 18)
		case strings.HasPrefix(trimmed, "<h2"):
			pdf.SetFont("Helvetica", "B", 15)
		case strings.HasPrefix(trimmed, "<h3"), strings.HasPrefix(trimmed, "<h4"):
			pdf.SetFont("Helvetica", "B", 13)
		case strings.HasPrefix(trimmed, "<li"):
			pdf.SetFont("Helvetica", "", 12)
			text = "- " + text
		default:
			pdf.SetFont("Helvetica", "", 12)
		}

		if text == "" {
			continue
		}
		pdf.MultiCell(0, 6, tr(text), "", "L", false)
		pdf.Ln(2)
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("PDF 输出失败: %w", err)
	}
	return out.Bytes(), nil
}
