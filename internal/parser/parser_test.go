package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestDecode(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().String("图书馆开放时间")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{name: "utf8", in: []byte("hello 世界"), want: "hello 世界"},
		{name: "utf8 bom", in: append([]byte{0xEF, 0xBB, 0xBF}, []byte("bom text")...), want: "bom text"},
		{name: "gbk", in: []byte(gbk), want: "图书馆开放时间"},
		{name: "latin1", in: []byte("caf\xe9"), want: "café"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Decode(tt.in))
		})
	}
}

func TestParseText(t *testing.T) {
	doc, err := Parse([]byte("\n\n  First line title\nsecond line\n"), "txt")
	require.NoError(t, err)
	require.Equal(t, "First line title\nsecond line", doc.Content)
	require.Equal(t, "First line title", doc.Title)
	require.Equal(t, 2, doc.LineCount)
	require.Equal(t, len("First line title\nsecond line"), doc.WordCount)
	require.Equal(t, FileTypeText, doc.FileType)
}

func TestParseMarkdown(t *testing.T) {
	src := "---\nauthor: someone\n---\n\nintro paragraph\n\n# Opening Hours\n\nThe library opens at nine."
	doc, err := Parse([]byte(src), ".MD")
	require.NoError(t, err)
	require.Equal(t, "Opening Hours", doc.Title)
	require.Equal(t, "intro paragraph\n\n# Opening Hours\n\nThe library opens at nine.", doc.Content)
	require.Equal(t, FileTypeMarkdown, doc.FileType)

	doc, err = Parse([]byte("## Only second level\n\nbody"), "md")
	require.NoError(t, err)
	require.Equal(t, "Only second level", doc.Title)
}

func TestParseUnsupported(t *testing.T) {
	_, err := Parse([]byte("data"), "docx")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestParseInvalidPDF(t *testing.T) {
	_, err := Parse([]byte("definitely not a pdf"), "pdf")
	require.Error(t, err)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestFileTypeOf(t *testing.T) {
	require.Equal(t, "md", FileTypeOf("Notes.Markdown"))
	require.Equal(t, "txt", FileTypeOf("/tmp/a.TXT"))
	require.Equal(t, "pdf", FileTypeOf("report.pdf"))
	require.Equal(t, "", FileTypeOf("README"))
	require.True(t, IsSupported("PDF"))
	require.False(t, IsSupported("docx"))
}
