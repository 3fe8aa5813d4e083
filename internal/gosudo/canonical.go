package gosudo

import "path/filepath"

// CanonicalizeCommand resolves the directory of an absolute command
// path through the filesystem's symlinks while preserving the final
// path component, so /bin/ls canonicalizes via /bin's realpath but
// stays named ls. This is the matcher's single permitted filesystem
// touch; a directory that cannot be resolved leaves the path as
// written.
func CanonicalizeCommand(path string) string {
	cleaned := filepath.Clean(path)
	dir, file := filepath.Split(cleaned)
	if dir == "" {
		return cleaned
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(dir))
	if err != nil {
		return cleaned
	}
	return filepath.Join(resolved, file)
}
