package capability

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxReadDefault is a 1 MiB read ceiling, equal to the default policy.Load
// applies when budgets.max_read_bytes is absent.
const MaxReadDefault = 1 << 20

// ResolvePath applies the path validation protocol to relativePath against
// base (the canonicalized absolute path bound to a directory handle):
//
//  1. reject a leading separator, a null byte, or a ".." segment
//  2. join relativePath onto base
//  3. canonicalize the result (resolving symlinks)
//  4. re-check that the canonical result is a descendant of base
//
// Step 4 is not redundant with step 1: a symlink planted inside base can
// point outside it, and only resolving the link exposes that.
func ResolvePath(relativePath, base string) (string, error) {
	if relativePath == "" {
		return base, nil
	}
	if strings.HasPrefix(relativePath, string(filepath.Separator)) || strings.HasPrefix(relativePath, "/") {
		return "", Errf(PermissionDenied, "relative path must not be absolute: %q", relativePath)
	}
	if strings.ContainsRune(relativePath, 0) {
		return "", Errf(PermissionDenied, "relative path contains a null byte")
	}
	for _, seg := range strings.Split(filepath.ToSlash(relativePath), "/") {
		if seg == ".." {
			return "", Errf(PermissionDenied, "relative path contains a \"..\" segment: %q", relativePath)
		}
	}

	joined := filepath.Join(base, relativePath)

	resolved, err := canonicalize(joined)
	if err != nil {
		return "", Errf(PermissionDenied, "cannot resolve path: %v", err)
	}

	canonicalBase, err := canonicalize(base)
	if err != nil {
		return "", Errf(PermissionDenied, "cannot resolve workspace base: %v", err)
	}

	if !isPathInside(resolved, canonicalBase) {
		return "", Errf(PermissionDenied, "path escapes directory handle: %q", relativePath)
	}
	return resolved, nil
}

// canonicalize resolves symlinks in path as far as they exist, falling back
// to resolving the deepest existing ancestor so that not-yet-created files
// still validate against their parent directory's real location.
func canonicalize(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	resolvedParent, err := canonicalize(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}

// isPathInside reports whether child is parent itself or a descendant of it.
func isPathInside(child, parent string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)
	if child == parent {
		return true
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ListDir returns the names of entries in the directory at path, in the
// order os.ReadDir yields them (sorted by filename). Callers must not assume a sort.
func ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Errf(NotFound, "directory not found: %v", err)
		}
		return nil, Errf(ExternalFailure, "list_dir failed: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// ReadFileResult is the outcome of a bounded, UTF-8-validated file read.
type ReadFileResult struct {
	Contents  string
	Truncated bool
}

// ReadFile reads up to maxBytes from path and UTF-8-validates the result.
// Content exceeding maxBytes is truncated rather than rejected; the caller
// reports truncation in the action report.
func ReadFile(path string, maxBytes int) (ReadFileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadFileResult{}, Errf(NotFound, "file not found: %v", err)
		}
		return ReadFileResult{}, Errf(ExternalFailure, "read_file failed: %v", err)
	}
	defer f.Close()

	limited := io.LimitReader(f, int64(maxBytes)+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return ReadFileResult{}, Errf(ExternalFailure, "read_file failed: %v", err)
	}

	truncated := len(buf) > maxBytes
	if truncated {
		buf = buf[:maxBytes]
	}
	if !utf8.Valid(buf) {
		return ReadFileResult{}, Errf(EncodingError, "file content is not valid UTF-8")
	}
	return ReadFileResult{Contents: string(buf), Truncated: truncated}, nil
}

// WriteFile creates or overwrites path with contents. The parent directory
// must already exist; WriteFile never creates intermediate directories.
func WriteFile(path, contents string) error {
	parent := filepath.Dir(path)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return Errf(NotFound, "parent directory does not exist: %s", parent)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return Errf(ExternalFailure, "write_file failed: %v", err)
	}
	return nil
}
