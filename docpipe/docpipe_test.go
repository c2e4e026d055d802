package docpipe

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- helpers ---

func newTestPipeline() *Pipeline {
	return New(Config{DisableLanguageDetection: true})
}

func buildZip(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	write := func(name string) {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(files[name])); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[string]bool{}
	for _, name := range order {
		write(name)
		seen[name] = true
	}
	for name := range files {
		if !seen[name] {
			write(name)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertWellFormed(t *testing.T, doc string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return
		}
		if err != nil {
			t.Fatalf("not well-formed XML: %v\n%s", err, doc)
		}
	}
}

const docxBody = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Test Title</w:t></w:r></w:p>
<w:p><w:r><w:t>This is body text.</w:t></w:r></w:p>
<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Section Two</w:t></w:r></w:p>
<w:p><w:r><w:t>More content here.</w:t></w:r></w:p>
<w:p><w:pPr><w:pStyle w:val="ListBullet"/></w:pPr><w:r><w:t>First item</w:t></w:r></w:p>
<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Cell A1</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
</w:body>
</w:document>`

const odtContent = `<?xml version="1.0" encoding="UTF-8"?>
<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"
  xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0">
<office:body>
<office:text>
<text:h text:outline-level="1">ODT Title</text:h>
<text:p>First paragraph.</text:p>
<text:h text:outline-level="2">Sub Heading</text:h>
<text:p>Second paragraph.</text:p>
</office:text>
</office:body>
</office:document-content>`

// --- detection ---

func TestSniff(t *testing.T) {
	docx := buildZip(t, map[string]string{"word/document.xml": docxBody})
	odt := buildZip(t, map[string]string{
		"mimetype":    "application/vnd.oasis.opendocument.text",
		"content.xml": odtContent,
	}, "mimetype")
	ods := buildZip(t, map[string]string{
		"mimetype":    "application/vnd.oasis.opendocument.spreadsheet",
		"content.xml": "<x/>",
	}, "mimetype")

	tests := []struct {
		name    string
		data    []byte
		format  Format
		wantErr bool
	}{
		{"report.pdf", buildRealTextPDF("hi"), FormatPDF, false},
		{"renamed.txt", buildRealTextPDF("hi"), FormatPDF, false},
		{"doc.docx", docx, FormatDocx, false},
		{"doc.bin", docx, FormatDocx, false},
		{"doc.odt", odt, FormatODT, false},
		{"sheet.ods", ods, "", true},
		{"page.html", []byte("<!DOCTYPE html><html><body><p>x</p></body></html>"), FormatHTML, false},
		{"page.xhtml", []byte(`<?xml version="1.0"?><html xmlns="http://www.w3.org/1999/xhtml"><body/></html>`), FormatHTML, false},
		{"notes.txt", []byte("plain words only"), FormatTXT, false},
		{"README", []byte("plain words only"), FormatTXT, false},
		{"readme.md", []byte("# Title\n\ntext"), FormatMD, false},
		{"readme.markdown", []byte("# Title\n\ntext"), FormatMD, false},
		{"photo.jpg", []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), "", true},
		{"legacy.doc", []byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1"), "", true},
		{"blob.bin", []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0xfe}, "", true},
		{"bell.txt", []byte("ring the \a bell twice"), FormatTXT, false},
		{"noise.bin", []byte{0x01, 0x02, 0x03, 0x04, 'a', 0x05, 0x06}, "", true},
	}

	for _, tt := range tests {
		got, err := Sniff(tt.data, tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("Sniff(%s): err = %v, want ErrUnsupportedFormat", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Sniff(%s): %v", tt.name, err)
			continue
		}
		if got != tt.format {
			t.Errorf("Sniff(%s) = %q, want %q", tt.name, got, tt.format)
		}
	}
}

func TestDetect(t *testing.T) {
	// WHAT: Detect reads the file and judges by content.
	// WHY: A misnamed file must still route to the right extractor.
	dir := t.TempDir()
	pipe := newTestPipeline()

	path := writeFile(t, dir, "actually-a-pdf.txt", buildRealTextPDF("x"))
	f, err := pipe.Detect(path)
	if err != nil {
		t.Fatal(err)
	}
	if f != FormatPDF {
		t.Errorf("Detect = %q, want pdf", f)
	}

	if _, err := pipe.Detect(filepath.Join(dir, "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v, want os.ErrNotExist", err)
	}
	if _, err := pipe.Detect(dir); !errors.Is(err, ErrNotRegular) {
		t.Errorf("directory: err = %v, want ErrNotRegular", err)
	}
}

func TestOpenFile_TooLarge(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "big.txt", bytes.Repeat([]byte("a"), 64))

	pipe := New(Config{MaxFileSize: 16, DisableLanguageDetection: true})
	if _, err := pipe.OpenFile(path); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
	_, err := pipe.Parse(context.Background(), bytes.NewReader(make([]byte, 64)), "x.txt", NewTextHandler(), NewMetadata())
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Parse err = %v, want ErrFileTooLarge", err)
	}
}

// --- extraction ---

func TestExtractText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.txt", []byte("Hello  world\n\n  test  "))

	doc, err := newTestPipeline().Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Format != FormatTXT {
		t.Fatalf("expected txt format, got %s", doc.Format)
	}
	if !strings.Contains(doc.RawText, "Hello") {
		t.Fatalf("expected text to contain Hello, got %q", doc.RawText)
	}
	if doc.Metadata[KeyResourceName] != "test.txt" {
		t.Errorf("resourceName = %q", doc.Metadata[KeyResourceName])
	}
	if doc.Metadata[KeyParsedBy] != "docpipe/txt" {
		t.Errorf("X-Parsed-By = %q", doc.Metadata[KeyParsedBy])
	}
}

func TestExtractText_Latin1(t *testing.T) {
	// WHAT: Non-UTF-8 text is decoded to UTF-8.
	// WHY: Legacy files must not produce invalid XHTML.
	data := []byte("Le caf\xe9 est pr\xeat \xe0 \xeatre servi dans la soir\xe9e, d\xe9j\xe0 chaud.")
	h := NewXHTMLHandler()
	md := NewMetadata()
	if _, err := newTestPipeline().Parse(context.Background(), bytes.NewReader(data), "menu.txt", h, md); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.String(), "café") {
		t.Errorf("expected decoded text, got:\n%s", h.String())
	}
	if md.Get(KeyContentEncoding) == "" {
		t.Error("expected Content-Encoding to be recorded")
	}
	assertWellFormed(t, h.String())
}

func TestExtractText_ControlByte(t *testing.T) {
	// WHAT: A stray control byte neither blocks detection nor reaches the output.
	// WHY: Log dumps and terminal captures carry BEL or backspace bytes.
	data := []byte("first line\a of the log\n\nsecond paragraph")
	h := NewXHTMLHandler()
	md := NewMetadata()
	doc, err := newTestPipeline().Parse(context.Background(), bytes.NewReader(data), "ctrl.txt", h, md)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Format != FormatTXT {
		t.Fatalf("format = %q, want txt", doc.Format)
	}
	if strings.ContainsRune(h.String(), '\a') {
		t.Error("control byte leaked into XHTML")
	}
	assertWellFormed(t, h.String())
}

func TestExtractText_UTF16BOM(t *testing.T) {
	// WHAT: The byte order mark of UTF-16 text is not part of the content.
	// WHY: A leading U+FEFF ends up invisible inside dc:title and <title>.
	text := "hi there\n\nsecond paragraph of the note"
	data := []byte{0xFF, 0xFE}
	for _, r := range text {
		data = append(data, byte(r), 0)
	}
	h := NewXHTMLHandler()
	md := NewMetadata()
	if _, err := newTestPipeline().Parse(context.Background(), bytes.NewReader(data), "utf16.txt", h, md); err != nil {
		t.Fatal(err)
	}
	if got := md.Get(KeyTitle); got != "hi there" {
		t.Errorf("title = %q, want %q", got, "hi there")
	}
	if strings.ContainsRune(h.String(), '\uFEFF') {
		t.Error("byte order mark leaked into XHTML")
	}
}

func TestExtractMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.md", []byte(`# My Title

This is a paragraph.

## Section Two

Another paragraph here.
`))

	doc, err := newTestPipeline().Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "My Title" {
		t.Fatalf("expected title 'My Title', got %q", doc.Title)
	}
	if doc.Format != FormatMD {
		t.Fatalf("expected md format, got %s", doc.Format)
	}

	headings := 0
	paragraphs := 0
	for _, s := range doc.Sections {
		switch s.Type {
		case "heading":
			headings++
		case "paragraph":
			paragraphs++
		}
	}
	if headings < 2 {
		t.Fatalf("expected at least 2 headings, got %d", headings)
	}
	if paragraphs < 2 {
		t.Fatalf("expected at least 2 paragraphs, got %d", paragraphs)
	}
}

func TestExtractDocx(t *testing.T) {
	data := buildZip(t, map[string]string{"word/document.xml": docxBody})

	md := NewMetadata()
	res, err := extractDocx(data, md)
	if err != nil {
		t.Fatal(err)
	}
	if res.title != "Test Title" {
		t.Fatalf("expected title 'Test Title', got %q", res.title)
	}
	types := map[string]int{}
	for _, s := range res.sections {
		types[s.Type]++
	}
	if types["heading"] != 2 || types["paragraph"] != 2 || types["list"] != 1 || types["table"] != 1 {
		t.Fatalf("section types = %v", types)
	}
}

func TestExtractDocx_CoreProperties(t *testing.T) {
	// WHAT: docProps feed the metadata collector; the core title wins.
	// WHY: Authoring properties are the main metadata of office files.
	data := buildZip(t, map[string]string{
		"word/document.xml": docxBody,
		"docProps/core.xml": `<?xml version="1.0"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties"
  xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/">
<dc:title>Annual Report</dc:title>
<dc:creator>Jane Doe</dc:creator>
<cp:keywords>finance, 2024</cp:keywords>
<dcterms:created>2024-01-15T10:30:00Z</dcterms:created>
</cp:coreProperties>`,
		"docProps/app.xml": `<?xml version="1.0"?>
<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties">
<Application>Microsoft Office Word</Application><Pages>3</Pages>
</Properties>`,
	})

	md := NewMetadata()
	res, err := extractDocx(data, md)
	if err != nil {
		t.Fatal(err)
	}
	if res.title != "Annual Report" {
		t.Errorf("title = %q, want core title", res.title)
	}
	checks := map[string]string{
		KeyTitle:       "Annual Report",
		KeyCreator:     "Jane Doe",
		KeyCreated:     "2024-01-15T10:30:00Z",
		KeyCreatorTool: "Microsoft Office Word",
		KeyPageCount:   "3",
	}
	for k, want := range checks {
		if got := md.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if kws := md.Values(KeyKeywords); len(kws) != 2 {
		t.Errorf("keywords = %v, want 2 values", kws)
	}
}

func TestExtractODT(t *testing.T) {
	data := buildZip(t, map[string]string{
		"mimetype":    "application/vnd.oasis.opendocument.text",
		"content.xml": odtContent,
		"meta.xml":    `<?xml version="1.0"?>
<office:document-meta xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"
  xmlns:meta="urn:oasis:names:tc:opendocument:xmlns:meta:1.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<office:meta>
<meta:initial-creator>Alex Martin</meta:initial-creator>
<meta:generator>LibreOffice/7.6</meta:generator>
<meta:document-statistic meta:page-count="2" meta:word-count="8"/>
</office:meta>
</office:document-meta>`,
	}, "mimetype")

	dir := t.TempDir()
	path := writeFile(t, dir, "test.odt", data)
	doc, err := newTestPipeline().Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "ODT Title" {
		t.Fatalf("expected title 'ODT Title', got %q", doc.Title)
	}
	if len(doc.Sections) < 4 {
		t.Fatalf("expected at least 4 sections, got %d", len(doc.Sections))
	}
	if doc.Metadata[KeyCreator] != "Alex Martin" {
		t.Errorf("creator = %q", doc.Metadata[KeyCreator])
	}
	if doc.Metadata[KeyWordCount] != "8" {
		t.Errorf("word count = %q, want value from meta.xml", doc.Metadata[KeyWordCount])
	}
	if doc.Metadata[KeyContentType] != "application/vnd.oasis.opendocument.text" {
		t.Errorf("Content-Type = %q", doc.Metadata[KeyContentType])
	}
}

func TestExtractHTML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.html", []byte(`<!DOCTYPE html>
<html lang="en"><head><title>HTML Test</title>
<meta name="author" content="Sam Lee">
<meta name="keywords" content="alpha">
</head>
<body>
<article>
<h1>Main Heading</h1>
<p>This is a substantial paragraph of text that should be extracted by the density
algorithm because it contains enough words to pass the minimum threshold for content.</p>
</article>
</body></html>`))

	doc, err := newTestPipeline().Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	if doc.Title != "HTML Test" {
		t.Fatalf("expected title 'HTML Test', got %q", doc.Title)
	}
	if !strings.Contains(doc.RawText, "substantial paragraph") {
		t.Fatalf("expected text to contain content, got %q", doc.RawText)
	}
	if doc.Metadata[KeyCreator] != "Sam Lee" {
		t.Errorf("creator = %q", doc.Metadata[KeyCreator])
	}
	if doc.Metadata[KeyLanguage] != "en" {
		t.Errorf("language = %q, want html lang attribute", doc.Metadata[KeyLanguage])
	}
}

func TestExtractHTML_ReadabilityExcerpt(t *testing.T) {
	// WHAT: Without a description meta tag, the readability excerpt fills it.
	// WHY: Plain blog pages rarely carry <meta name="description">.
	para := "The harbour reopened on Monday after three weeks of repairs to the northern pier, and the first ferries carried commuters across the bay before sunrise. "
	page := "<!DOCTYPE html><html><head><title>Harbour News</title></head><body><article>" +
		"<h1>Harbour reopens</h1><p>" + strings.Repeat(para, 3) + "</p><p>" + strings.Repeat(para, 3) + "</p>" +
		"</article></body></html>"

	md := NewMetadata()
	collectReadabilityMeta([]byte(page), "harbour.html", md)
	if got := md.Get(KeyDescription); !strings.Contains(got, "harbour reopened") {
		t.Errorf("description = %q, want readability excerpt", got)
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := SupportedFormats()
	if len(formats) != 6 {
		t.Fatalf("expected 6 formats, got %d: %v", len(formats), formats)
	}
}

func TestParse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestPipeline().Parse(ctx, strings.NewReader("text"), "a.txt", NewTextHandler(), NewMetadata())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestParse_LanguageDetection(t *testing.T) {
	// WHAT: dc:language is guessed from the body when no source declares it.
	// WHY: Downstream routing keys on language.
	pipe := New(Config{Languages: []string{"en", "fr"}})
	pipe.WarmUp()

	md := NewMetadata()
	text := "The quick brown fox jumps over the lazy dog while the farmer watches from the old wooden barn."
	if _, err := pipe.Parse(context.Background(), strings.NewReader(text), "fox.txt", NewTextHandler(), md); err != nil {
		t.Fatal(err)
	}
	if got := md.Get(KeyLanguage); got != "en" {
		t.Errorf("language = %q, want en", got)
	}
}

// --- handlers ---

func TestXHTMLHandler_WellFormed(t *testing.T) {
	// WHAT: Every section type renders to well-formed XHTML, hostile text included.
	// WHY: The output file is consumed by XML tooling.
	md := NewMetadata()
	md.Set(KeyTitle, `Fish & "Chips" <1>`)
	md.Add(KeyKeywords, "a")
	md.Add(KeyKeywords, "b")

	h := NewXHTMLHandler()
	h.StartDocument(`Fish & "Chips" <1>`, md)
	h.Section(Section{Type: "heading", Level: 9, Title: "T", Text: "Heading <x>"})
	h.Section(Section{Type: "paragraph", Text: "a\x00b & c￾"})
	h.Section(Section{Type: "list", Text: "item"})
	h.Section(Section{Type: "table", Text: "cell"})
	h.Section(Section{Type: "page", Text: "line one\n\nline two"})
	h.EndDocument()

	out := h.String()
	assertWellFormed(t, out)
	for _, want := range []string{
		`<html xmlns="http://www.w3.org/1999/xhtml">`,
		`<meta name="dc:title" content="Fish &amp; &quot;Chips&quot;`,
		`<meta name="meta:keyword" content="a"/>`,
		`<meta name="meta:keyword" content="b"/>`,
		"<h6>Heading &lt;x&gt;</h6>",
		`<div class="page">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestTextHandler(t *testing.T) {
	h := NewTextHandler()
	h.StartDocument("t", nil)
	h.Section(Section{Type: "paragraph", Text: "one"})
	h.Section(Section{Type: "paragraph", Text: "two"})
	h.EndDocument()
	if !strings.Contains(h.String(), "one") || !strings.Contains(h.String(), "two") {
		t.Fatalf("got %q", h.String())
	}
}

// --- metadata ---

func TestMetadata_SetAddClean(t *testing.T) {
	md := NewMetadata()
	md.Set("k", "  <b>bold</b>   text  ")
	if got := md.Get("k"); got != "bold text" {
		t.Errorf("Get = %q, want markup stripped", got)
	}
	md.Set("empty", "   ")
	if md.Len() != 1 {
		t.Errorf("Len = %d, empty value must be ignored", md.Len())
	}
	md.Add("multi", "x")
	md.Add("multi", "x")
	md.Add("multi", "y")
	if got := md.Map()["multi"]; got != "x, y" {
		t.Errorf("Map[multi] = %q", got)
	}
	if names := md.Names(); len(names) != 2 || names[0] != "k" || names[1] != "multi" {
		t.Errorf("Names = %v", names)
	}
}

// --- markdown preview ---

func TestToMarkdown(t *testing.T) {
	h := NewXHTMLHandler()
	h.StartDocument("Doc", NewMetadata())
	h.Section(Section{Type: "heading", Level: 1, Text: "Doc"})
	h.Section(Section{Type: "paragraph", Text: "Body text."})
	h.EndDocument()

	md, err := ToMarkdown(h.String())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "# Doc") || !strings.Contains(md, "Body text.") {
		t.Errorf("markdown = %q", md)
	}
}

// --- HTML hidden text filtering tests ---

func extractHTMLString(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := newTestPipeline().Parse(context.Background(), strings.NewReader(src), "page.html", NewTextHandler(), NewMetadata())
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestHTML_HiddenDisplayNone(t *testing.T) {
	// WHAT: Elements with display:none are excluded.
	// WHY: Hidden text injection vector (SEO spam, prompt injection).
	doc := extractHTMLString(t, `<!DOCTYPE html><html><body>
<p>Visible text here</p>
<div style="display:none">secret hidden text</div>
</body></html>`)
	if strings.Contains(doc.RawText, "secret hidden text") {
		t.Error("display:none text should be excluded")
	}
	if !strings.Contains(doc.RawText, "Visible text") {
		t.Error("visible text should be present")
	}
}

func TestHTML_HiddenVisibility(t *testing.T) {
	// WHAT: Elements with visibility:hidden are excluded.
	// WHY: Another CSS technique for hiding injected text.
	doc := extractHTMLString(t, `<!DOCTYPE html><html><body>
<p>Normal text</p>
<span style="visibility:hidden">hidden payload</span>
</body></html>`)
	if strings.Contains(doc.RawText, "hidden payload") {
		t.Error("visibility:hidden text should be excluded")
	}
}

func TestHTML_HiddenFontSize0(t *testing.T) {
	// WHAT: Elements with font-size:0 are excluded.
	// WHY: Zero-size text is invisible to humans but extractable.
	doc := extractHTMLString(t, `<!DOCTYPE html><html><body>
<p>Readable text</p>
<span style="font-size:0px">tiny invisible</span>
</body></html>`)
	if strings.Contains(doc.RawText, "tiny invisible") {
		t.Error("font-size:0 text should be excluded")
	}
}

func TestHTML_HiddenOpacity0(t *testing.T) {
	// WHAT: Elements with opacity:0 are excluded.
	// WHY: Transparent text is another injection vector.
	doc := extractHTMLString(t, `<!DOCTYPE html><html><body>
<p>Real content</p>
<span style="opacity:0">ghost text</span>
</body></html>`)
	if strings.Contains(doc.RawText, "ghost text") {
		t.Error("opacity:0 text should be excluded")
	}
}

func TestHTML_VisibleTextKept(t *testing.T) {
	// WHAT: Visible text is preserved after hidden filtering.
	// WHY: The filter must not over-strip.
	doc := extractHTMLString(t, `<!DOCTYPE html><html><body>
<h1>Title</h1>
<p style="color:red">Styled but visible</p>
<p>Normal paragraph</p>
</body></html>`)
	if !strings.Contains(doc.RawText, "Styled but visible") {
		t.Error("visible styled text should be kept")
	}
	if !strings.Contains(doc.RawText, "Normal paragraph") {
		t.Error("normal text should be kept")
	}
}

// --- XML bomb tests ---

func nestedXML(prefix, open, inner, close, suffix string, n int) string {
	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i < n; i++ {
		b.WriteString(open)
	}
	b.WriteString(inner)
	for i := 0; i < n; i++ {
		b.WriteString(close)
	}
	b.WriteString(suffix)
	return b.String()
}

func TestDOCX_XMLBomb(t *testing.T) {
	// WHAT: DOCX with deeply nested XML returns depth error.
	// WHY: XML bomb / billion laughs defense.
	body := nestedXML(
		`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`,
		"<w:p>", "<w:r><w:t>deep</w:t></w:r>", "</w:p>", "</w:body></w:document>", 300)
	data := buildZip(t, map[string]string{"word/document.xml": body})

	_, err := extractDocx(data, NewMetadata())
	if err == nil {
		t.Fatal("expected error for deeply nested XML")
	}
	if !strings.Contains(err.Error(), "nesting depth") {
		t.Errorf("expected 'nesting depth' error, got: %v", err)
	}
}

func TestODT_XMLBomb(t *testing.T) {
	// WHAT: ODT with deeply nested XML returns depth error.
	// WHY: XML bomb defense for ODT format.
	body := nestedXML(
		`<?xml version="1.0" encoding="UTF-8"?><office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0"><office:body><office:text>`,
		"<text:p>", "deep text", "</text:p>", "</office:text></office:body></office:document-content>", 300)
	data := buildZip(t, map[string]string{"content.xml": body})

	_, err := extractODT(data, NewMetadata())
	if err == nil {
		t.Fatal("expected error for deeply nested XML")
	}
	if !strings.Contains(err.Error(), "nesting depth") {
		t.Errorf("expected 'nesting depth' error, got: %v", err)
	}
}
