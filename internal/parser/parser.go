package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"doc-assistant/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

const defaultPageNumber = 1

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// SupportedExtensions lists the file extensions ExtractPages understands.
var SupportedExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".txt", ".md"}

// ExtractPages turns an uploaded file into one page per PDF page, slide or
// sheet. The source of every page is the file's base name.
func ExtractPages(filename string, data []byte) ([]models.Page, error) {
	source := filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return parsePDF(source, data)
	case ".docx":
		return parseDOCX(source, data)
	case ".pptx":
		return parsePPTX(source, data)
	case ".xlsx":
		return parseXLSX(source, data)
	case ".xlsm":
		return parseExcelize(source, data)
	case ".txt":
		return parseText(source, data), nil
	case ".md":
		return parseMarkdown(source, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func parsePDF(source string, data []byte) ([]models.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var pages []models.Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Text: pageText, Page: i, Source: source})
	}
	return pages, nil
}

// DOCX carries no page numbers, the whole body is one page.
func parseDOCX(source string, data []byte) ([]models.Page, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	body := extractTextFromXML(content, "w:t", "</w:p>")
	return []models.Page{{Text: body, Page: defaultPageNumber, Source: source}}, nil
}

func parsePPTX(source string, data []byte) ([]models.Page, error) {
	f, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pptx: %w", err)
	}

	var pages []models.Page
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		slideNum, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			continue
		}
		xml, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slideText := strings.TrimSpace(extractTextFromXML(string(xml), "a:t", "</a:p>"))
		pages = append(pages, models.Page{Text: slideText, Page: slideNum, Source: source})
	}
	// zip order is not slide order
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })
	return pages, nil
}

func parseXLSX(source string, data []byte) ([]models.Page, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}

	var pages []models.Page
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		pages = append(pages, models.Page{Text: text.String(), Page: sheetNum + 1, Source: source})
	}
	return pages, nil
}

// macro-enabled workbooks are read through excelize
func parseExcelize(source string, data []byte) ([]models.Page, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.Page{Text: text.String(), Page: sheetNum + 1, Source: source})
	}
	return pages, nil
}

func parseText(source string, data []byte) []models.Page {
	return []models.Page{{
		Text:   strings.ToValidUTF8(string(data), ""),
		Page:   defaultPageNumber,
		Source: source,
	}}
}

// parseMarkdown keeps the readable text of a markdown file and drops its
// syntax, so headings and emphasis markers do not become tokens.
func parseMarkdown(source string, data []byte) ([]models.Page, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(data))

	var out strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				out.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			out.Write(node.Segment.Value(data))
			if node.SoftLineBreak() || node.HardLineBreak() {
				out.WriteString("\n")
			}
		case *ast.String:
			out.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				out.Write(seg.Value(data))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk markdown: %w", err)
	}
	return []models.Page{{Text: out.String(), Page: defaultPageNumber, Source: source}}, nil
}

// extractTextFromXML collects the character data of every <tag> element,
// breaking lines at paragraphEnd.
func extractTextFromXML(xmlContent, tag, paragraphEnd string) string {
	var out strings.Builder
	for _, para := range strings.Split(xmlContent, paragraphEnd) {
		var line strings.Builder
		parts := strings.Split(para, "<"+tag)
		for i, part := range parts {
			if i == 0 {
				continue
			}
			// skip attributes and sibling tags sharing the prefix, e.g. <w:tab/>
			start := strings.Index(part, ">")
			if start < 0 || (start > 0 && part[0] != ' ') || strings.HasSuffix(part[:start], "/") {
				continue
			}
			end := strings.Index(part, "</"+tag+">")
			if end < 0 {
				continue
			}
			line.WriteString(unescapeXML(part[start+1 : end]))
		}
		if line.Len() > 0 {
			out.WriteString(line.String())
			out.WriteString("\n")
		}
	}
	return out.String()
}

var xmlUnescaper = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")

func unescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}
