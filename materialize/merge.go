package materialize

import (
	"strings"

	"github.com/hazyhaar/docmat/docpipe"
)

// mergeMetadata copies every collected property onto attrs as
// prefix+name. Multi-valued properties are joined with ", ". Existing
// attributes with the same key are overwritten.
func mergeMetadata(attrs map[string]string, md *docpipe.Metadata, prefix string) {
	for _, name := range md.Names() {
		attrs[prefix+name] = strings.Join(md.Values(name), ", ")
	}
}
