package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that escape the document root
var ErrOutsideRoot = errors.New("path is outside the document directory")

// PathGuard confines tool-supplied paths to a document root. A guard with
// an empty root accepts any path.
type PathGuard struct {
	root string
}

// NewPathGuard creates a guard for root
func NewPathGuard(root string) *PathGuard {
	return &PathGuard{root: root}
}

// Root returns the configured document directory
func (g *PathGuard) Root() string {
	return g.root
}

// Resolve returns the absolute form of path. Relative paths are taken
// relative to the root.
func (g *PathGuard) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if g.root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(g.root, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	abs = filepath.Clean(abs)

	if g.root == "" {
		return abs, nil
	}
	ok, err := g.within(abs)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, nil
}

// within checks both the lexical and the symlink-resolved forms of path
func (g *PathGuard) within(path string) (bool, error) {
	absRoot, err := filepath.Abs(g.root)
	if err != nil {
		return false, fmt.Errorf("failed to resolve document directory: %w", err)
	}
	roots := []string{filepath.Clean(absRoot)}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil && resolved != roots[0] {
		roots = append(roots, resolved)
	}

	candidates := []string{path}
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			candidates = append(candidates, resolved)
		}
	}

	for _, c := range candidates {
		if !underAny(c, roots) {
			return false, nil
		}
	}
	return true, nil
}

func underAny(path string, roots []string) bool {
	for _, r := range roots {
		if path == r {
			return true
		}
		prefix := r
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
