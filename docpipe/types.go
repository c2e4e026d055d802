package docpipe

// Format identifies a document type.
type Format string

const (
	FormatDocx Format = "docx"
	FormatODT  Format = "odt"
	FormatPDF  Format = "pdf"
	FormatMD   Format = "md"
	FormatTXT  Format = "txt"
	FormatHTML Format = "html"
)

// MIMEType returns the media type reported in the Content-Type metadata key.
func (f Format) MIMEType() string {
	switch f {
	case FormatDocx:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatODT:
		return "application/vnd.oasis.opendocument.text"
	case FormatPDF:
		return "application/pdf"
	case FormatMD:
		return "text/markdown"
	case FormatTXT:
		return "text/plain"
	case FormatHTML:
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

// Section is a structural unit of a document.
type Section struct {
	Title    string            `json:"title,omitempty"`
	Level    int               `json:"level"`              // heading level 1-6, 0 for body
	Text     string            `json:"text"`               // extracted text content
	Type     string            `json:"type"`               // heading, paragraph, table, list, page
	Metadata map[string]string `json:"metadata,omitempty"` // extra attributes
}

// Document is the result of extracting content from a file.
type Document struct {
	Path     string             `json:"path"`
	Format   Format             `json:"format"`
	Title    string             `json:"title"`
	Sections []Section          `json:"sections"`
	RawText  string             `json:"raw_text"`          // concatenated full text
	Metadata map[string]string  `json:"metadata"`          // flattened collector contents
	Quality  *ExtractionQuality `json:"quality,omitempty"` // PDF extraction quality metrics
}

// parsed is what a format extractor hands back to the pipeline.
type parsed struct {
	title    string
	sections []Section
	quality  *ExtractionQuality
}
