package transport

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// DiscoveredFile is one regular file found under the client's source root.
type DiscoveredFile struct {
	AbsPath string // local filesystem path used to open the file
	RelPath string // forward-slash path sent on the wire
}

// DiscoverFiles walks root recursively and returns every regular file
// beneath it. Directories, symlinks and other irregular entries are
// skipped. The order is whatever the filesystem yields; the protocol
// does not depend on it.
func DiscoverFiles(root string) ([]DiscoveredFile, error) {
	var files []DiscoveredFile

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		files = append(files, DiscoveredFile{
			AbsPath: p,
			RelPath: filepath.ToSlash(rel),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
