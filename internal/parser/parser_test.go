package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"multimodal-rag/internal/models"
)

type mockRunner struct {
	output []byte
	err    error
	calls  int
}

func (m *mockRunner) Run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	m.calls++
	return m.output, m.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtract_Text(t *testing.T) {
	path := writeFile(t, "notes.txt", "  Plain notes about alpha.\n")
	ex, err := NewFileExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Plain notes about alpha.", ex.Text)
	assert.Empty(t, ex.Pages)
}

func TestExtract_EmptyTextFails(t *testing.T) {
	path := writeFile(t, "empty.txt", "   \n")
	_, err := NewFileExtractor().Extract(context.Background(), path)
	assert.ErrorIs(t, err, models.ErrExtractionFailure)
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	_, err := NewFileExtractor().Extract(context.Background(), "/tmp/file.xyz")
	assert.ErrorIs(t, err, models.ErrUnsupportedType)
}

func TestExtract_Markdown(t *testing.T) {
	path := writeFile(t, "readme.md", "# Title\n\nSome *emphasis* and `code`.\n\n- one\n- two\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	ex, err := NewFileExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Title\nSome emphasis and code.\none\ntwo\na\tb\n1\t2", ex.Text)
}

func TestExtract_PDFFallsBackToPdftotext(t *testing.T) {
	path := writeFile(t, "broken.pdf", "%PDF-1.4 not really a pdf")
	runner := &mockRunner{output: []byte("First page\fSecond page\f")}

	ex, err := NewFileExtractorWithRunner(runner).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, []Page{{Number: 1, Text: "First page"}, {Number: 2, Text: "Second page"}}, ex.Pages)
	assert.Equal(t, "First page\n\nSecond page", ex.Text)
}

func TestExtract_PDFBothReadersFail(t *testing.T) {
	path := writeFile(t, "broken.pdf", "garbage")
	runner := &mockRunner{err: errors.New("pdftotext crashed")}

	_, err := NewFileExtractorWithRunner(runner).Extract(context.Background(), path)
	assert.ErrorIs(t, err, models.ErrExtractionFailure)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestExtract_XLSXSheetsArePages(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "score"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "alpha"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 3))
	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	ex, err := NewFileExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, ex.Pages, 1)
	assert.Equal(t, 1, ex.Pages[0].Number)
	assert.Equal(t, "## Sheet: Sheet1\nname\tscore\nalpha\t3", ex.Pages[0].Text)
}

func TestExtract_PPTXSlidesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	slides := map[string]string{
		"ppt/slides/slide10.xml": "Tenth",
		"ppt/slides/slide2.xml":  "Second",
	}
	for name, text := range slides {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(`<p:sld xmlns:p="p" xmlns:a="a"><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:sld>`))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	ex, err := NewFileExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []Page{{Number: 2, Text: "Second"}, {Number: 10, Text: "Tenth"}}, ex.Pages)
}

func TestContactInfo(t *testing.T) {
	info := ContactInfo("Mail jane@example.com or jane@example.com, call 555-123-4567.")
	assert.Equal(t, []string{"jane@example.com"}, info["emails"])
	assert.Equal(t, []string{"555-123-4567"}, info["phones"])
	assert.Nil(t, ContactInfo("nothing here"))
}

func TestDecodeImageInfo(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 7, 3))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	info, err := DecodeImageInfo(&buf)
	require.NoError(t, err)
	assert.Equal(t, ImageInfo{Width: 7, Height: 3, Format: "png", Mode: "RGBA"}, info)
	assert.Equal(t, map[string]any{"width": 7, "height": 3, "format": "png", "mode": "RGBA", "size_bytes": 42}, info.Metadata(42))

	buf.Reset()
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	info, err = DecodeImageInfo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "L", info.Mode)

	_, err = DecodeImageInfo(bytes.NewReader([]byte("not an image")))
	assert.ErrorIs(t, err, models.ErrExtractionFailure)
}
