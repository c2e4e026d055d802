package docpipe

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/net/html/charset"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText converts raw bytes to UTF-8 and reports the source charset.
// Valid UTF-8 passes through untouched; anything else goes through chardet
// and falls back to windows-1252, which never fails to decode.
func decodeText(data []byte) (string, string) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), "UTF-8"
	}

	label := "windows-1252"
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res != nil && res.Charset != "" {
		label = res.Charset
	}
	enc, name := charset.Lookup(label)
	if enc == nil {
		enc, name = charset.Lookup("windows-1252")
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), ""), "UTF-8"
	}
	// UTF-16 decoders keep the byte order mark as U+FEFF.
	return strings.TrimPrefix(string(out), "\uFEFF"), strings.ToUpper(name)
}

// extractText extracts content from a plain text file. Blank lines split
// paragraphs; whitespace inside a paragraph is normalised.
func extractText(data []byte, md *Metadata) (*parsed, error) {
	text, enc := decodeText(data)
	md.Set(KeyContentEncoding, enc)

	var sections []Section
	for _, block := range splitBlocks(text) {
		if p := normalizeWhitespace(block); p != "" {
			sections = append(sections, Section{Text: p, Type: "paragraph"})
		}
	}
	if len(sections) == 0 {
		return &parsed{}, nil
	}
	return &parsed{title: firstLine(sections[0].Text), sections: sections}, nil
}

// extractMarkdown extracts structured sections from a Markdown file.
// Detects headings (# lines) and splits content into sections.
func extractMarkdown(data []byte, md *Metadata) (*parsed, error) {
	text, enc := decodeText(data)
	md.Set(KeyContentEncoding, enc)

	lines := strings.Split(text, "\n")
	var sections []Section
	var title string
	var currentText strings.Builder

	flushParagraph := func() {
		text := strings.TrimSpace(currentText.String())
		if text != "" {
			sections = append(sections, Section{
				Text: text,
				Type: "paragraph",
			})
		}
		currentText.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		// ATX headings: # heading, ## heading, etc.
		if strings.HasPrefix(trimmed, "#") {
			flushParagraph()

			level := 0
			for _, ch := range trimmed {
				if ch != '#' {
					break
				}
				level++
			}
			level = clampLevel(level)

			headingText := strings.TrimSpace(strings.Trim(trimmed, "#"))
			if headingText != "" {
				if title == "" {
					title = headingText
				}
				sections = append(sections, Section{
					Title: headingText,
					Level: level,
					Text:  headingText,
					Type:  "heading",
				})
			}
			continue
		}

		if trimmed == "" {
			flushParagraph()
			continue
		}

		if currentText.Len() > 0 {
			currentText.WriteByte(' ')
		}
		currentText.WriteString(trimmed)
	}
	flushParagraph()

	if title == "" && len(sections) > 0 {
		title = firstLine(sections[0].Text)
	}
	if title != "" {
		md.Set(KeyTitle, title)
	}
	return &parsed{title: title, sections: sections}, nil
}

// splitBlocks splits text on blank lines.
func splitBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var blocks []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if cur.Len() > 0 {
				blocks = append(blocks, cur.String())
				cur.Reset()
			}
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		blocks = append(blocks, cur.String())
	}
	return blocks
}

func normalizeWhitespace(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > 200 {
		text = strings.ToValidUTF8(text[:200], "")
	}
	return text
}
