package docpipe

import (
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var (
	mdOnce      sync.Once
	mdConverter *converter.Converter
)

// ToMarkdown renders XHTML produced by XHTMLHandler as Markdown. The head
// (meta tags and title) is dropped; the body keeps headings, lists and tables.
func ToMarkdown(xhtml string) (string, error) {
	mdOnce.Do(func() {
		mdConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})
	if i := strings.Index(xhtml, "<body>"); i >= 0 {
		xhtml = xhtml[i:]
	}
	md, err := mdConverter.ConvertString(xhtml)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}
