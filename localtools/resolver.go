package localtools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathRequired is returned for an empty path argument.
	ErrPathRequired = errors.New("localtools: path is required")

	// ErrPathEscapes is returned for a path outside the workspace root.
	ErrPathEscapes = errors.New("localtools: path escapes workspace")
)

// Resolver resolves workspace-relative paths.
type Resolver struct {
	Root string
}

// Resolve returns the absolute, cleaned form of path inside the root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", ErrPathRequired
	}
	rootAbs, err := r.root()
	if err != nil {
		return "", err
	}

	target := clean
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}
	return targetAbs, nil
}

// Rel returns abs relative to the root, using forward slashes.
func (r Resolver) Rel(abs string) string {
	rootAbs, err := r.root()
	if err != nil {
		return abs
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (r Resolver) root() (string, error) {
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	return abs, nil
}
