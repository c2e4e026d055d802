package docpipe

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// extractDocx parses a .docx archive: word/document.xml for the body,
// docProps/core.xml and docProps/app.xml for metadata.
func extractDocx(data []byte, md *Metadata) (*parsed, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, err
	}

	docFile := findZipFile(zr, "word/document.xml")
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in archive")
	}

	collectOfficeMeta(zr, "docProps/core.xml", md)
	collectOfficeMeta(zr, "docProps/app.xml", md)

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var sections []Section
	var title string
	var currentText strings.Builder
	var inParagraph bool
	var paragraphStyle string
	var tableDepth int
	var depth int

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth > maxXMLDepth {
				return nil, fmt.Errorf("document.xml: nesting depth exceeds %d", maxXMLDepth)
			}
			switch {
			case t.Name.Local == "tbl":
				tableDepth++
			case t.Name.Local == "p":
				inParagraph = true
				currentText.Reset()
				paragraphStyle = ""
			case t.Name.Local == "pStyle" && inParagraph:
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						paragraphStyle = attr.Value
					}
				}
			case (t.Name.Local == "tab" || t.Name.Local == "br") && inParagraph:
				currentText.WriteByte(' ')
			}

		case xml.CharData:
			if inParagraph {
				currentText.Write(t)
			}

		case xml.EndElement:
			depth--
			switch {
			case t.Name.Local == "tbl":
				tableDepth--
			case t.Name.Local == "p" && inParagraph:
				inParagraph = false
				text := strings.TrimSpace(currentText.String())
				if text == "" {
					continue
				}

				level := docxHeadingLevel(paragraphStyle)
				switch {
				case level > 0:
					if title == "" {
						title = text
					}
					sections = append(sections, Section{
						Title: text,
						Level: level,
						Text:  text,
						Type:  "heading",
					})
				case tableDepth > 0:
					sections = append(sections, Section{Text: text, Type: "table"})
				case docxIsList(paragraphStyle):
					sections = append(sections, Section{Text: text, Type: "list"})
				default:
					sections = append(sections, Section{Text: text, Type: "paragraph"})
				}
			}
		}
	}

	if t := md.Get(KeyTitle); t != "" {
		title = t
	}
	return &parsed{title: title, sections: sections}, nil
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" → 1, "Heading2" → 2, "Title" → 1, etc.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)

	if lower == "title" {
		return 1
	}
	if lower == "subtitle" {
		return 2
	}

	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := lower[len(prefix):]
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

func docxIsList(style string) bool {
	lower := strings.ToLower(style)
	return strings.HasPrefix(lower, "listparagraph") || strings.HasPrefix(lower, "listbullet") || strings.HasPrefix(lower, "listnumber")
}
