package docpipe

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Well-known metadata keys filled by the extractors.
const (
	KeyResourceName    = "resourceName"
	KeyContentType     = "Content-Type"
	KeyContentEncoding = "Content-Encoding"
	KeyTitle           = "dc:title"
	KeyCreator         = "dc:creator"
	KeySubject         = "dc:subject"
	KeyDescription     = "dc:description"
	KeyKeywords        = "meta:keyword"
	KeyCreated         = "dcterms:created"
	KeyModified        = "dcterms:modified"
	KeyCreatorTool     = "xmp:CreatorTool"
	KeyProducer        = "pdf:producer"
	KeyPageCount       = "xmpTPg:NPages"
	KeyWordCount       = "meta:word-count"
	KeyLanguage        = "dc:language"
	KeyParsedBy        = "X-Parsed-By"
)

// stripPolicy removes any markup smuggled into metadata values (HTML titles,
// docx core properties). Policies are safe for concurrent use once built.
var stripPolicy = bluemonday.StrictPolicy()

// Metadata collects key/value pairs discovered while parsing. Keys keep
// insertion order; a key may carry several values.
//
// A Metadata belongs to a single extraction and is not safe for concurrent use.
type Metadata struct {
	names  []string
	values map[string][]string
}

// NewMetadata returns an empty collector.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string][]string)}
}

// Set replaces all values of key. Empty values are ignored.
func (m *Metadata) Set(key, value string) {
	value = cleanMetadataValue(value)
	if key == "" || value == "" {
		return
	}
	if _, ok := m.values[key]; !ok {
		m.names = append(m.names, key)
	}
	m.values[key] = []string{value}
}

// Add appends a value to key, skipping duplicates.
func (m *Metadata) Add(key, value string) {
	value = cleanMetadataValue(value)
	if key == "" || value == "" {
		return
	}
	existing, ok := m.values[key]
	if !ok {
		m.names = append(m.names, key)
	}
	for _, v := range existing {
		if v == value {
			return
		}
	}
	m.values[key] = append(existing, value)
}

// Get returns the first value of key, or "".
func (m *Metadata) Get(key string) string {
	if v := m.values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns every value recorded for key.
func (m *Metadata) Values(key string) []string {
	return m.values[key]
}

// Names returns the keys in insertion order.
func (m *Metadata) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Len returns the number of distinct keys.
func (m *Metadata) Len() int {
	return len(m.names)
}

// Map flattens the collector. Multi-valued keys are joined with ", ".
func (m *Metadata) Map() map[string]string {
	out := make(map[string]string, len(m.names))
	for _, k := range m.names {
		out[k] = strings.Join(m.values[k], ", ")
	}
	return out
}

func cleanMetadataValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if strings.ContainsAny(v, "<>&") {
		v = html.UnescapeString(stripPolicy.Sanitize(v))
	}
	return strings.Join(strings.Fields(v), " ")
}
