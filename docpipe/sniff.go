package docpipe

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned when the content matches no extractor.
var ErrUnsupportedFormat = errors.New("docpipe: unsupported format")

const sniffLen = 512

// Sniff identifies the document format from its content. The name is only
// consulted to tell Markdown apart from plain text, which look identical
// on the wire.
func Sniff(data []byte, name string) (Format, error) {
	header := data
	if len(header) > sniffLen {
		header = header[:sniffLen]
	}

	switch identifyMagic(header) {
	case "PDF":
		return FormatPDF, nil
	case "ZIP":
		return sniffZip(data)
	case "OLE2":
		return "", fmt.Errorf("%w: legacy OLE2 compound document", ErrUnsupportedFormat)
	case "image":
		return "", fmt.Errorf("%w: image data", ErrUnsupportedFormat)
	}

	ct := http.DetectContentType(header)
	switch {
	case strings.HasPrefix(ct, "text/html"):
		return FormatHTML, nil
	case strings.HasPrefix(ct, "text/xml"):
		if bytes.Contains(bytes.ToLower(header), []byte("<html")) {
			return FormatHTML, nil
		}
		return textFormat(name), nil
	case strings.HasPrefix(ct, "text/plain"):
		return textFormat(name), nil
	case looksLikeText(header):
		return textFormat(name), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ct)
}

// looksLikeText accepts text that DetectContentType rejected for a few
// stray control bytes. NUL never appears in single-byte text.
func looksLikeText(header []byte) bool {
	if len(header) == 0 || bytes.IndexByte(header, 0) >= 0 {
		return false
	}
	var controls int
	for _, b := range header {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' && b != '\f' && b != 0x1b {
			controls++
		}
	}
	return controls*10 <= len(header)
}

func textFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return FormatMD
	}
	return FormatTXT
}

// identifyMagic classifies a header by its leading signature bytes.
func identifyMagic(header []byte) string {
	if len(header) < 4 {
		return "unknown"
	}
	switch {
	case string(header[:4]) == "%PDF":
		return "PDF"
	case header[0] == 'P' && header[1] == 'K' && header[2] == 3 && header[3] == 4:
		return "ZIP"
	case header[0] == 0xd0 && header[1] == 0xcf && header[2] == 0x11 && header[3] == 0xe0:
		return "OLE2"
	case header[0] == 0xff && header[1] == 0xd8 && header[2] == 0xff,
		string(header[:3]) == "GIF",
		header[0] == 0x89 && string(header[1:4]) == "PNG":
		return "image"
	}
	return "unknown"
}

// sniffZip looks inside an archive for the OOXML or OpenDocument markers.
func sniffZip(data []byte) (Format, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: corrupt zip: %v", ErrUnsupportedFormat, err)
	}
	var hasContent bool
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			return FormatDocx, nil
		case "mimetype":
			mt := readZipEntry(f, 128)
			if strings.HasPrefix(mt, "application/vnd.oasis.opendocument.text") {
				return FormatODT, nil
			}
			if mt != "" {
				return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt)
			}
		case "content.xml":
			hasContent = true
		}
	}
	if hasContent {
		return FormatODT, nil
	}
	return "", fmt.Errorf("%w: zip archive", ErrUnsupportedFormat)
}

func readZipEntry(f *zip.File, limit int64) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	b, _ := io.ReadAll(io.LimitReader(rc, limit))
	return strings.TrimSpace(string(b))
}
