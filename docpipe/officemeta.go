package docpipe

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// maxXMLDepth bounds element nesting in office XML parts.
const maxXMLDepth = 256

// officeMetaKeys maps the element names used by OOXML core/app properties
// and ODF meta.xml onto collector keys. Namespaces are ignored; the local
// names do not collide across the two families.
var officeMetaKeys = map[string]string{
	"title":           KeyTitle,
	"creator":         KeyCreator,
	"initial-creator": KeyCreator,
	"subject":         KeySubject,
	"description":     KeyDescription,
	"keywords":        KeyKeywords,
	"keyword":         KeyKeywords,
	"created":         KeyCreated,
	"creation-date":   KeyCreated,
	"modified":        KeyModified,
	"date":            KeyModified,
	"language":        KeyLanguage,
	"Application":     KeyCreatorTool,
	"generator":       KeyCreatorTool,
	"Pages":           KeyPageCount,
	"Words":           KeyWordCount,
	"lastModifiedBy":  "meta:last-author",
}

// openZip opens an in-memory office archive.
func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	return zr, nil
}

func findZipFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// collectOfficeMeta reads a property part (docProps/core.xml,
// docProps/app.xml, meta.xml) into md. A missing or malformed part only
// costs metadata, so errors are swallowed.
func collectOfficeMeta(zr *zip.Reader, part string, md *Metadata) {
	f := findZipFile(zr, part)
	if f == nil {
		return
	}
	rc, err := f.Open()
	if err != nil {
		return
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var current string
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
			text.Reset()
			if current == "document-statistic" {
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "page-count":
						md.Set(KeyPageCount, a.Value)
					case "word-count":
						md.Set(KeyWordCount, a.Value)
					}
				}
			}
		case xml.CharData:
			if current != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == current {
				applyOfficeMeta(md, current, text.String())
			}
			current = ""
		}
	}
}

func applyOfficeMeta(md *Metadata, element, value string) {
	key, ok := officeMetaKeys[element]
	if !ok {
		return
	}
	switch {
	case key == KeyKeywords:
		for _, kw := range strings.Split(value, ",") {
			md.Add(key, kw)
		}
	case element == "initial-creator":
		md.Set(key, value)
	case md.Get(key) == "":
		md.Set(key, value)
	}
}
