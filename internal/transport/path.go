package transport

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrPathViolation indicates a wire path that would resolve outside the
// configured root directory.
var ErrPathViolation = errors.New("transport: path escapes root directory")

// PathViolationError carries the offending wire path. It unwraps to
// ErrPathViolation.
type PathViolationError struct {
	Path string
}

func (e *PathViolationError) Error() string {
	return fmt.Sprintf("transport: unsafe path %q escapes root directory", e.Path)
}

func (e *PathViolationError) Unwrap() error {
	return ErrPathViolation
}

// ResolveTarget maps a relative wire path to an absolute destination
// underneath root, which must already be absolute. Anything that would
// resolve outside root is rejected: absolute paths, drive letters,
// backslashes, NUL bytes, and any `..` traversal surviving
// normalization.
func ResolveTarget(root, relPath string) (string, error) {
	if relPath == "" || strings.ContainsRune(relPath, 0) {
		return "", &PathViolationError{Path: relPath}
	}
	if strings.HasPrefix(relPath, "/") || strings.Contains(relPath, "\\") {
		return "", &PathViolationError{Path: relPath}
	}
	if len(relPath) >= 2 && isDriveLetter(relPath[0]) && relPath[1] == ':' {
		return "", &PathViolationError{Path: relPath}
	}

	// Wire paths are always '/'-separated; normalize before touching
	// the local filesystem flavor.
	clean := path.Clean(relPath)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", &PathViolationError{Path: relPath}
	}

	target := filepath.Join(root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", &PathViolationError{Path: relPath}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", &PathViolationError{Path: relPath}
	}
	return target, nil
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
