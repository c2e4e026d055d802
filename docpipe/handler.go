package docpipe

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ContentHandler receives the structural rendering of a document as the
// pipeline walks it. One handler serves exactly one document.
type ContentHandler interface {
	StartDocument(title string, md *Metadata)
	Section(s Section)
	EndDocument()
	String() string
}

// XHTMLHandler renders a document as a well-formed XHTML page: metadata as
// <meta> elements in the head, sections as block elements in the body.
type XHTMLHandler struct {
	sb strings.Builder
}

// NewXHTMLHandler returns an empty XHTML handler.
func NewXHTMLHandler() *XHTMLHandler {
	return &XHTMLHandler{}
}

func (h *XHTMLHandler) StartDocument(title string, md *Metadata) {
	h.sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	h.sb.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml">` + "\n<head>\n")
	if md != nil {
		for _, name := range md.Names() {
			for _, v := range md.Values(name) {
				h.sb.WriteString(`<meta name="`)
				h.sb.WriteString(xmlEscape(name))
				h.sb.WriteString(`" content="`)
				h.sb.WriteString(xmlEscape(v))
				h.sb.WriteString("\"/>\n")
			}
		}
	}
	h.sb.WriteString("<title>")
	h.sb.WriteString(xmlEscape(title))
	h.sb.WriteString("</title>\n</head>\n<body>\n")
}

func (h *XHTMLHandler) Section(s Section) {
	text := xmlEscape(s.Text)
	switch s.Type {
	case "heading":
		lvl := strconv.Itoa(clampLevel(s.Level))
		h.element("h"+lvl, text)
	case "list":
		h.sb.WriteString("<ul>")
		h.element("li", text)
		h.sb.WriteString("</ul>\n")
	case "table":
		h.sb.WriteString("<table><tbody><tr>")
		h.element("td", text)
		h.sb.WriteString("</tr></tbody></table>\n")
	case "page":
		h.sb.WriteString(`<div class="page">` + "\n")
		for _, p := range splitPDFParagraphs(s.Text) {
			h.element("p", xmlEscape(p))
		}
		h.sb.WriteString("</div>\n")
	default:
		h.element("p", text)
	}
}

func (h *XHTMLHandler) EndDocument() {
	h.sb.WriteString("</body>\n</html>\n")
}

// String returns the markup accumulated so far.
func (h *XHTMLHandler) String() string {
	return h.sb.String()
}

func (h *XHTMLHandler) element(tag, escaped string) {
	h.sb.WriteByte('<')
	h.sb.WriteString(tag)
	h.sb.WriteByte('>')
	h.sb.WriteString(escaped)
	h.sb.WriteString("</")
	h.sb.WriteString(tag)
	h.sb.WriteString(">")
	if tag != "li" && tag != "td" {
		h.sb.WriteByte('\n')
	}
}

// TextHandler renders a document as plain text, one block per section.
type TextHandler struct {
	sb strings.Builder
}

// NewTextHandler returns an empty plain-text handler.
func NewTextHandler() *TextHandler {
	return &TextHandler{}
}

func (h *TextHandler) StartDocument(_ string, _ *Metadata) {}

func (h *TextHandler) Section(s Section) {
	if h.sb.Len() > 0 {
		h.sb.WriteString("\n\n")
	}
	h.sb.WriteString(norm.NFC.String(s.Text))
}

func (h *TextHandler) EndDocument() {
	if h.sb.Len() > 0 {
		h.sb.WriteByte('\n')
	}
}

func (h *TextHandler) String() string {
	return h.sb.String()
}

func clampLevel(l int) int {
	if l < 1 {
		return 1
	}
	if l > 6 {
		return 6
	}
	return l
}

// xmlEscape NFC-normalises s, escapes markup characters and drops runes
// that are not legal in XML 1.0.
func xmlEscape(s string) string {
	s = norm.NFC.String(s)
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == utf8.RuneError && size == 1:
			continue
		case r == '&':
			sb.WriteString("&amp;")
		case r == '<':
			sb.WriteString("&lt;")
		case r == '>':
			sb.WriteString("&gt;")
		case r == '"':
			sb.WriteString("&quot;")
		case r == '\'':
			sb.WriteString("&apos;")
		case r == '\t' || r == '\n' || r == '\r':
			sb.WriteRune(r)
		case r < 0x20, r == 0xFFFE, r == 0xFFFF, r >= 0xD800 && r <= 0xDFFF:
			continue
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
