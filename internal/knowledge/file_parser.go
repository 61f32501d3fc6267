package knowledge

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	apperrors "github.com/aihub/docqa-go/internal/errors"
)

// 文档格式
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
	FormatXLSX = "xlsx"
	FormatText = "text"
)

var extensionFormats = map[string]string{
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".xlsx":     FormatXLSX,
	".txt":      FormatText,
	".md":       FormatText,
	".markdown": FormatText,
}

// FileParser 文件解析器接口
type FileParser interface {
	Format() string
	Parse(raw []byte) (string, error)
}

// TextParser 文本文件解析器
type TextParser struct{}

func (p *TextParser) Format() string { return FormatText }

func (p *TextParser) Parse(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", errors.New("text file is not valid UTF-8")
	}
	return string(raw), nil
}

// PDFParser PDF文件解析器
type PDFParser struct{}

func (p *PDFParser) Format() string { return FormatPDF }

func (p *PDFParser) Parse(raw []byte) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("get pdf page count: %w", err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// WordParser Word文档解析器（仅.docx）
type WordParser struct{}

func (p *WordParser) Format() string { return FormatDOCX }

func (p *WordParser) Parse(raw []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// ExcelParser Excel文件解析器（仅.xlsx）
type ExcelParser struct{}

func (p *ExcelParser) Format() string { return FormatXLSX }

func (p *ExcelParser) Parse(raw []byte) (string, error) {
	ss, err := spreadsheet.Read(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("parse xlsx: %w", err)
	}
	defer ss.Close()

	var textBuilder strings.Builder
	for _, sheet := range ss.Sheets() {
		textBuilder.WriteString(sheet.Name())
		textBuilder.WriteString(":\n")
		for _, row := range sheet.Rows() {
			var rowText []string
			for _, cell := range row.Cells() {
				rowText = append(rowText, cell.GetString())
			}
			if len(rowText) > 0 {
				textBuilder.WriteString(strings.Join(rowText, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// FileParserManager 文件解析器管理器
type FileParserManager struct {
	parsers map[string]FileParser
}

// NewFileParserManager 创建文件解析器管理器
func NewFileParserManager() *FileParserManager {
	m := &FileParserManager{parsers: make(map[string]FileParser)}
	for _, p := range []FileParser{&PDFParser{}, &WordParser{}, &ExcelParser{}, &TextParser{}} {
		m.parsers[p.Format()] = p
	}
	return m
}

// IsSupportedFile 按扩展名判断是否支持
func IsSupportedFile(name string) bool {
	_, ok := extensionFormats[strings.ToLower(filepath.Ext(name))]
	return ok
}

// DetectFormat 先按扩展名，再按文件头识别格式；无法识别时返回空串
func DetectFormat(raw []byte, name string) string {
	if format, ok := extensionFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return format
	}

	switch {
	case bytes.HasPrefix(raw, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(raw, []byte("PK\x03\x04")):
		return sniffOfficeArchive(raw)
	case len(raw) > 0 && utf8.Valid(raw) && !bytes.ContainsRune(raw, 0):
		return FormatText
	}
	return ""
}

func sniffOfficeArchive(raw []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			return FormatDOCX
		case "xl/workbook.xml":
			return FormatXLSX
		}
	}
	return ""
}

// ExtractText 解析原始字节为纯文本。
// 格式不支持、解析失败或没有可用文本时返回EXTRACTION_FAILED。
func (m *FileParserManager) ExtractText(raw []byte, name string) (string, error) {
	format := DetectFormat(raw, name)
	parser, ok := m.parsers[format]
	if !ok {
		return "", apperrors.NewExtractionError(fmt.Sprintf("unsupported file format: %s", name), nil).
			WithDetails(map[string]string{"source": name})
	}

	text, err := parser.Parse(raw)
	if err != nil {
		return "", apperrors.NewExtractionError(fmt.Sprintf("failed to extract %s document", format), err).
			WithDetails(map[string]string{"source": name})
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewExtractionError("no text extracted from document", nil).
			WithDetails(map[string]string{"source": name})
	}
	return text, nil
}

// SupportedExtensions 获取支持的文件扩展名
func (m *FileParserManager) SupportedExtensions() []string {
	result := make([]string, 0, len(extensionFormats))
	for ext := range extensionFormats {
		result = append(result, ext)
	}
	return result
}
