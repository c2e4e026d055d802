package docpipe

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// extractODT parses an .odt archive: content.xml for the body, meta.xml for
// document properties.
func extractODT(data []byte, md *Metadata) (*parsed, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, err
	}

	contentFile := findZipFile(zr, "content.xml")
	if contentFile == nil {
		return nil, fmt.Errorf("content.xml not found in archive")
	}

	collectOfficeMeta(zr, "meta.xml", md)

	rc, err := contentFile.Open()
	if err != nil {
		return nil, fmt.Errorf("open content.xml: %w", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var sections []Section
	var title string
	var currentText strings.Builder
	var inHeading bool
	var headingLevel int
	var inParagraph bool
	var listDepth int
	var tableDepth int
	var depth int

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode content.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth > maxXMLDepth {
				return nil, fmt.Errorf("content.xml: nesting depth exceeds %d", maxXMLDepth)
			}
			switch t.Name.Local {
			case "h": // <text:h>
				inHeading = true
				currentText.Reset()
				headingLevel = 1
				for _, attr := range t.Attr {
					if attr.Name.Local == "outline-level" {
						if n, err := strconv.Atoi(attr.Value); err == nil {
							headingLevel = n
						}
					}
				}
			case "p": // <text:p>
				inParagraph = true
				currentText.Reset()
			case "list": // <text:list>
				listDepth++
			case "table": // <table:table>
				tableDepth++
			case "s", "tab", "line-break":
				if inHeading || inParagraph {
					currentText.WriteByte(' ')
				}
			}

		case xml.CharData:
			if inHeading || inParagraph {
				currentText.Write(t)
			}

		case xml.EndElement:
			depth--
			switch {
			case t.Name.Local == "h" && inHeading:
				inHeading = false
				text := strings.TrimSpace(currentText.String())
				if text == "" {
					continue
				}
				if title == "" {
					title = text
				}
				sections = append(sections, Section{
					Title: text,
					Level: clampLevel(headingLevel),
					Text:  text,
					Type:  "heading",
				})

			case t.Name.Local == "p" && inParagraph:
				inParagraph = false
				text := strings.TrimSpace(currentText.String())
				if text == "" {
					continue
				}
				stype := "paragraph"
				switch {
				case tableDepth > 0:
					stype = "table"
				case listDepth > 0:
					stype = "list"
				}
				sections = append(sections, Section{
					Text: text,
					Type: stype,
				})

			case t.Name.Local == "list":
				listDepth--
			case t.Name.Local == "table":
				tableDepth--
			}
		}
	}

	if t := md.Get(KeyTitle); t != "" {
		title = t
	}
	return &parsed{title: title, sections: sections}, nil
}
