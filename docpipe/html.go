package docpipe

import (
	"bytes"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
	regexp.MustCompile(`(?i)position\s*:\s*absolute[^;]*-\d{4,}`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

// htmlMetaKeys maps <meta name=...> values onto collector keys.
var htmlMetaKeys = map[string]string{
	"author":           KeyCreator,
	"description":      KeyDescription,
	"keywords":         KeyKeywords,
	"generator":        KeyCreatorTool,
	"subject":          KeySubject,
	"dc.title":         KeyTitle,
	"dc.creator":       KeyCreator,
	"dc.subject":       KeySubject,
	"dc.description":   KeyDescription,
	"dc.language":      KeyLanguage,
	"dcterms.created":  KeyCreated,
	"dcterms.modified": KeyModified,
}

// extractHTML extracts structured content from an HTML document. The
// charset comes from the BOM, a <meta charset> or the content itself.
func extractHTML(data []byte, name string, md *Metadata) (*parsed, error) {
	enc, encName, _ := charset.DetermineEncoding(data, "text/html")
	if encName != "utf-8" {
		if decoded, err := enc.NewDecoder().Bytes(data); err == nil {
			data = decoded
		}
	}
	md.Set(KeyContentEncoding, strings.ToUpper(encName))

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	title := findHTMLTitle(doc)
	if title != "" {
		md.Set(KeyTitle, title)
	}
	collectHTMLMeta(doc, md)
	collectReadabilityMeta(data, name, md)

	var sections []Section
	extractHTMLNodes(doc, &sections)

	if len(sections) == 0 {
		// Fallback: extract all text.
		text := collectHTMLText(doc)
		if text != "" {
			sections = append(sections, Section{Text: text, Type: "paragraph"})
		}
	}

	return &parsed{title: title, sections: sections}, nil
}

// collectHTMLMeta records <meta> and <html lang> properties.
func collectHTMLMeta(doc *html.Node, md *Metadata) {
	gq := goquery.NewDocumentFromNode(doc)

	if lang, ok := gq.Find("html").First().Attr("lang"); ok {
		md.Set(KeyLanguage, lang)
	}
	gq.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		if key, ok := htmlMetaKeys[strings.ToLower(strings.TrimSpace(name))]; ok {
			md.Add(key, content)
		}
	})
	gq.Find(`meta[property="og:site_name"]`).Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		md.Set("og:site_name", content)
	})
}

// collectReadabilityMeta fills gaps (byline, excerpt, publish date) from a
// readability pass. Readability failures only cost metadata.
func collectReadabilityMeta(data []byte, name string, md *Metadata) {
	pageURL := &url.URL{Scheme: "file", Path: filepath.ToSlash(name)}
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(data), pageURL)
	if err != nil {
		return
	}
	if md.Get(KeyCreator) == "" {
		md.Set(KeyCreator, article.Byline)
	}
	if md.Get(KeyDescription) == "" {
		md.Set(KeyDescription, article.Excerpt)
	}
	if md.Get("og:site_name") == "" {
		md.Set("og:site_name", article.SiteName)
	}
	if article.PublishedTime != nil && md.Get(KeyCreated) == "" {
		md.Set(KeyCreated, article.PublishedTime.UTC().Format(time.RFC3339))
	}
}

// findHTMLTitle extracts the <title> text.
func findHTMLTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findHTMLTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// extractHTMLNodes walks the DOM tree and extracts headings and content blocks.
func extractHTMLNodes(n *html.Node, sections *[]Section) {
	if n.Type == html.ElementNode {
		// Skip boilerplate.
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Header, atom.Head:
			return
		}
		if hasHiddenStyle(n) {
			return
		}

		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			text := collectHTMLText(n)
			if text != "" {
				level := int(n.Data[1] - '0')
				*sections = append(*sections, Section{
					Title: text,
					Level: level,
					Text:  text,
					Type:  "heading",
				})
			}
			return

		case atom.P, atom.Pre, atom.Blockquote:
			if text := collectHTMLText(n); text != "" {
				*sections = append(*sections, Section{Text: text, Type: "paragraph"})
			}
			return

		case atom.Table:
			if text := collectHTMLText(n); text != "" {
				*sections = append(*sections, Section{Text: text, Type: "table"})
			}
			return

		case atom.Ul, atom.Ol:
			if text := collectHTMLText(n); text != "" {
				*sections = append(*sections, Section{Text: text, Type: "list"})
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractHTMLNodes(c, sections)
	}
}

// collectHTMLText extracts all visible text from a node subtree.
func collectHTMLText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Title:
				return
			}
			if hasHiddenStyle(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
