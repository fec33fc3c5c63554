package parser

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

const (
	FileTypeText     = "txt"
	FileTypeMarkdown = "md"
	FileTypePDF      = "pdf"

	maxTitleLen = 100
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// legacyEncodings are tried in order once the input is not valid UTF-8.
var legacyEncodings = []encoding.Encoding{
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
}

type ParsedDocument struct {
	Content   string
	Title     string
	WordCount int
	LineCount int
	FileType  string
}

// FileTypeOf returns the normalized file type for a file name.
func FileTypeOf(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "markdown" {
		return FileTypeMarkdown
	}
	return ext
}

func IsSupported(fileType string) bool {
	switch strings.ToLower(fileType) {
	case FileTypeText, FileTypeMarkdown, FileTypePDF:
		return true
	}
	return false
}

func Parse(data []byte, fileType string) (*ParsedDocument, error) {
	fileType = strings.ToLower(strings.TrimPrefix(fileType, "."))
	switch fileType {
	case FileTypeText:
		return parseText(Decode(data), fileType), nil
	case FileTypeMarkdown, "markdown":
		return parseMarkdown(Decode(data)), nil
	case FileTypePDF:
		content, err := extractPDF(data)
		if err != nil {
			return nil, err
		}
		return parseText(content, FileTypePDF), nil
	default:
		return nil, fmt.Errorf("unsupported file type %q: %w", fileType, appErr.ErrInvalid)
	}
}

// Decode converts raw bytes to a string, trying UTF-8 (with or without BOM)
// first, then GBK and Big5, and finally Latin-1 which accepts any input.
func Decode(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	for _, enc := range legacyEncodings {
		out, err := enc.NewDecoder().Bytes(data)
		if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}

func parseText(content string, fileType string) *ParsedDocument {
	content = strings.TrimSpace(content)
	lines := strings.Split(content, "\n")
	doc := &ParsedDocument{
		Content:   content,
		WordCount: utf8.RuneCountInString(content),
		LineCount: len(lines),
		FileType:  fileType,
	}
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			doc.Title = truncateRunes(line, maxTitleLen)
			break
		}
	}
	return doc
}

func parseMarkdown(content string) *ParsedDocument {
	content = strings.TrimSpace(content)
	doc := &ParsedDocument{
		WordCount: utf8.RuneCountInString(content),
		LineCount: len(strings.Split(content, "\n")),
		FileType:  FileTypeMarkdown,
	}
	body := removeFrontmatter(content)
	doc.Content = body
	doc.Title = markdownTitle(body)
	return doc
}

// markdownTitle returns the first level one heading, or the first non-empty
// line when the document has none.
func markdownTitle(content string) string {
	source := []byte(content)
	root := goldmark.New().Parser().Parse(text.NewReader(source))
	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		h, ok := node.(*ast.Heading)
		if !ok || h.Level != 1 {
			continue
		}
		if title := strings.TrimSpace(string(h.Text(source))); title != "" {
			return truncateRunes(title, maxTitleLen)
		}
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "---") {
			continue
		}
		return truncateRunes(strings.TrimSpace(strings.TrimLeft(line, "#")), maxTitleLen)
	}
	return ""
}

func removeFrontmatter(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}
	end := strings.Index(content[3:], "---")
	if end < 0 {
		return content
	}
	return strings.TrimSpace(content[3+end+3:])
}

func extractPDF(data []byte) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			content = ""
			err = fmt.Errorf("malformed pdf: %v: %w", r, appErr.ErrInvalid)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w: %w", appErr.ErrInvalid, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w: %w", appErr.ErrInvalid, err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(raw), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
