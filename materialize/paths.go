package materialize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoots is returned when a source path lies outside every
// configured allowed root.
var ErrOutsideRoots = errors.New("materialize: source outside allowed roots")

// checkRoots verifies that path resolves under one of roots. An empty root
// list allows any path. Symlinks are resolved when the target exists.
func checkRoots(roots []string, path string) error {
	if len(roots) == 0 {
		return nil
	}
	resolved := resolve(path)
	for _, root := range roots {
		root = resolve(root)
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrOutsideRoots, path)
}

func resolve(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	return filepath.Clean(p)
}
