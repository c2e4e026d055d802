// Package docpipe detects and extracts structured text and metadata from
// document files.
//
// Supported formats, detected from content rather than file extension:
//   - pdf  : PDF text extraction via pdfcpu, info dictionary as metadata
//   - docx : Microsoft Word (word/document.xml + docProps)
//   - odt  : OpenDocument Text (content.xml + meta.xml)
//   - html : HTML with charset sniffing, <meta> and readability metadata
//   - md   : Markdown (heading detection; needs a .md/.markdown name)
//   - txt  : Plain text in any charset chardet recognises
//
// Parse drives a ContentHandler (XHTML or plain text) and fills a Metadata
// collector; both belong to the caller and must not be shared between
// concurrent Parse calls. The Pipeline itself is safe for concurrent use.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{})
//	h, md := docpipe.NewXHTMLHandler(), docpipe.NewMetadata()
//	doc, err := pipe.Parse(ctx, f, "report.pdf", h, md)
//	fmt.Println(doc.Title, md.Get(docpipe.KeyContentType), len(h.String()))
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

var (
	// ErrFileTooLarge is returned when the input exceeds Config.MaxFileSize.
	ErrFileTooLarge = errors.New("docpipe: file too large")
	// ErrNotRegular is returned when the path names a directory, device or socket.
	ErrNotRegular = errors.New("docpipe: not a regular file")
)

// Pipeline is the document extraction engine.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	langOnce sync.Once
	lang     lingua.LanguageDetector
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// WarmUp builds the language models ahead of the first Parse. Calling it is
// optional and idempotent.
func (p *Pipeline) WarmUp() {
	p.languageDetector()
}

func (p *Pipeline) languageDetector() lingua.LanguageDetector {
	if p.cfg.DisableLanguageDetection {
		return nil
	}
	p.langOnce.Do(func() {
		p.lang = buildLanguageDetector(p.cfg.Languages)
	})
	return p.lang
}

// OpenFile opens path for reading after checking that it is a regular file
// within the size limit.
func (p *Pipeline) OpenFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}
	if info.Size() > p.cfg.MaxFileSize {
		f.Close()
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), p.cfg.MaxFileSize)
	}
	return f, nil
}

// Detect returns the document format of the file at path, judged from its
// content.
func (p *Pipeline) Detect(path string) (Format, error) {
	f, err := p.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return Sniff(data, path)
}

// Parse reads r to the end, detects its format, extracts it into h and
// records discovered properties in md. name is the resource name used for
// metadata and the Markdown/plain-text hint.
func (p *Pipeline) Parse(ctx context.Context, r io.Reader, name string, h ContentHandler, md *Metadata) (*Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.cfg.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, p.cfg.MaxFileSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, err := Sniff(data, name)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("extracting document", "path", name, "format", format, "bytes", len(data))

	md.Set(KeyResourceName, filepath.Base(name))
	md.Set(KeyContentType, format.MIMEType())

	var res *parsed
	switch format {
	case FormatDocx:
		res, err = extractDocx(data, md)
	case FormatODT:
		res, err = extractODT(data, md)
	case FormatPDF:
		res, err = extractPDF(ctx, data, md)
	case FormatMD:
		res, err = extractMarkdown(data, md)
	case FormatTXT:
		res, err = extractText(data, md)
	case FormatHTML:
		res, err = extractHTML(data, name, md)
	default:
		return nil, fmt.Errorf("%w: no parser for %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s (%s): %w", name, format, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rawText := joinSections(res.sections)

	if md.Get(KeyTitle) == "" {
		md.Set(KeyTitle, res.title)
	}
	if md.Get(KeyWordCount) == "" && rawText != "" {
		md.Set(KeyWordCount, strconv.Itoa(len(strings.Fields(rawText))))
	}
	if md.Get(KeyLanguage) == "" {
		md.Set(KeyLanguage, detectLanguage(p.languageDetector(), rawText))
	}
	md.Add(KeyParsedBy, "docpipe/"+string(format))

	h.StartDocument(res.title, md)
	for _, s := range res.sections {
		h.Section(s)
	}
	h.EndDocument()

	return &Document{
		Path:     name,
		Format:   format,
		Title:    res.title,
		Sections: res.sections,
		RawText:  rawText,
		Metadata: md.Map(),
		Quality:  res.quality,
	}, nil
}

// Extract opens and parses the file at path with a throwaway XHTML handler
// and returns the structured result.
func (p *Pipeline) Extract(ctx context.Context, path string) (*Document, error) {
	f, err := p.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return p.Parse(ctx, f, path, NewXHTMLHandler(), NewMetadata())
}

// joinSections builds raw text from sections.
func joinSections(sections []Section) string {
	var sb strings.Builder
	for i, s := range sections {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if s.Title != "" && s.Title != s.Text {
			sb.WriteString(s.Title)
			sb.WriteByte('\n')
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// SupportedFormats returns all supported format names.
func SupportedFormats() []string {
	return []string{"docx", "odt", "pdf", "md", "txt", "html"}
}
