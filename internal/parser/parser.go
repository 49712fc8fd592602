package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"multimodal-rag/internal/models"
)

// Page is the text of one page, slide or sheet. Numbers are 1-based.
type Page struct {
	Number int
	Text   string
}

// Extraction is the text of a document. Pages is empty for formats without pages.
type Extraction struct {
	Text  string
	Pages []Page
}

type Extractor interface {
	Extract(ctx context.Context, filePath string) (*Extraction, error)
}

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// FileExtractor reads pdf, docx, pptx, xlsx, ods, txt and md files from disk.
type FileExtractor struct {
	runner CommandRunner
}

func NewFileExtractor() *FileExtractor {
	return &FileExtractor{runner: execRunner{}}
}

// NewFileExtractorWithRunner uses runner for the pdftotext fallback.
func NewFileExtractorWithRunner(runner CommandRunner) *FileExtractor {
	return &FileExtractor{runner: runner}
}

func (e *FileExtractor) Extract(ctx context.Context, filePath string) (*Extraction, error) {
	var (
		ex  *Extraction
		err error
	)
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		ex, err = e.parsePDF(ctx, filePath)
	case ".docx":
		ex, err = parseDOCX(filePath)
	case ".pptx":
		ex, err = parsePPTX(filePath)
	case ".xlsx":
		ex, err = parseXLSX(filePath)
	case ".ods":
		ex, err = parseODS(filePath)
	case ".txt":
		ex, err = parseText(filePath)
	case ".md":
		ex, err = parseMarkdown(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedType, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrExtractionFailure, filepath.Base(filePath), err)
	}
	if strings.TrimSpace(ex.Text) == "" {
		return nil, fmt.Errorf("%w: %s: no text found", models.ErrExtractionFailure, filepath.Base(filePath))
	}
	return ex, nil
}

func fromPages(pages []Page) *Extraction {
	var kept []Page
	var texts []string
	for _, p := range pages {
		t := strings.TrimSpace(p.Text)
		if t == "" {
			continue
		}
		kept = append(kept, Page{Number: p.Number, Text: t})
		texts = append(texts, t)
	}
	return &Extraction{Text: strings.Join(texts, "\n\n"), Pages: kept}
}

func (e *FileExtractor) parsePDF(ctx context.Context, filePath string) (*Extraction, error) {
	pages, err := readPDFPages(filePath)
	if err == nil {
		if ex := fromPages(pages); len(ex.Pages) > 0 {
			return ex, nil
		}
	}
	log.Warn().Err(err).Str("file", filepath.Base(filePath)).Msg("Native PDF reader found no text, falling back to pdftotext")

	out, runErr := e.runner.Run(ctx, "pdftotext", "-layout", filePath, "-")
	if runErr != nil {
		return nil, fmt.Errorf("pdftotext failed: %v", runErr)
	}
	pages = nil
	for i, text := range strings.Split(string(out), "\f") {
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	return fromPages(pages), nil
}

func readPDFPages(filePath string) (pages []Page, err error) {
	// the reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %v", i, err)
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

func parseDOCX(filePath string) (*Extraction, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	text, err := xmlText([]byte(r.Editable().GetContent()), "t", "p")
	if err != nil {
		return nil, err
	}
	return &Extraction{Text: strings.TrimSpace(text)}, nil
}

func parsePPTX(filePath string) (*Extraction, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for _, file := range f.File {
		num, ok := slideNumber(file.Name)
		if !ok {
			continue
		}
		data, err := readZipFile(file)
		if err != nil {
			return nil, err
		}
		text, err := xmlText(data, "t", "p")
		if err != nil {
			return nil, fmt.Errorf("slide %d: %v", num, err)
		}
		pages = append(pages, Page{Number: num, Text: text})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return fromPages(pages), nil
}

// slideNumber parses names like ppt/slides/slide12.xml.
func slideNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
	return n, err == nil
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func parseXLSX(filePath string) (*Extraction, error) {
	ex, err := parseWithExcelize(filePath)
	if err == nil {
		return ex, nil
	}
	log.Warn().Err(err).Str("file", filepath.Base(filePath)).Msg("excelize failed, retrying with xlsx reader")

	f, xerr := xlsx.OpenFile(filePath)
	if xerr != nil {
		return nil, errors.Join(err, xerr)
	}
	var pages []Page
	for i, sheet := range f.Sheets {
		var text strings.Builder
		fmt.Fprintf(&text, "## Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t") + "\n")
		}
		pages = append(pages, Page{Number: i + 1, Text: text.String()})
	}
	return fromPages(pages), nil
}

func parseWithExcelize(filePath string) (*Extraction, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for i, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %v", sheetName, err)
		}
		var text strings.Builder
		fmt.Fprintf(&text, "## Sheet: %s\n", sheetName)
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t") + "\n")
		}
		pages = append(pages, Page{Number: i + 1, Text: text.String()})
	}
	return fromPages(pages), nil
}

// parseODS tries excelize first and falls back to reading content.xml paragraphs.
func parseODS(filePath string) (*Extraction, error) {
	ex, err := parseWithExcelize(filePath)
	if err == nil {
		return ex, nil
	}

	f, zerr := zip.OpenReader(filePath)
	if zerr != nil {
		return nil, errors.Join(err, zerr)
	}
	defer f.Close()
	for _, file := range f.File {
		if file.Name != "content.xml" {
			continue
		}
		data, err := readZipFile(file)
		if err != nil {
			return nil, err
		}
		text, err := xmlText(data, "p", "p")
		if err != nil {
			return nil, err
		}
		return &Extraction{Text: strings.TrimSpace(text)}, nil
	}
	return nil, errors.New("content.xml not found")
}

func parseText(filePath string) (*Extraction, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return &Extraction{Text: strings.TrimSpace(string(data))}, nil
}

func parseMarkdown(filePath string) (*Extraction, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	text, err := MarkdownToText(data)
	if err != nil {
		return nil, err
	}
	return &Extraction{Text: text}, nil
}

// xmlText concatenates character data found inside textElem elements and
// breaks lines at the end of each paraElem element. Names are local names.
func xmlText(data []byte, textElem, paraElem string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var b strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textElem {
				depth++
			}
		case xml.EndElement:
			if t.Name.Local == textElem && depth > 0 {
				depth--
			}
			if t.Name.Local == paraElem {
				b.WriteString("\n")
			}
		case xml.CharData:
			if depth > 0 {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
