// Package security confines file access requested by MCP clients to the
// configured upload directory.
package security

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// PathValidator resolves client-supplied paths against the configured
// directory and refuses anything that lands outside it.
type PathValidator struct {
	configuredDirectory string
}

// NewPathValidator creates a new path validator for the given directory
func NewPathValidator(configuredDirectory string) (*PathValidator, error) {
	if configuredDirectory == "" {
		return nil, eris.New("configured directory cannot be empty")
	}
	abs, err := filepath.Abs(configuredDirectory)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve configured directory")
	}
	// The directory may not exist yet; it is created on first write
	return &PathValidator{configuredDirectory: filepath.Clean(abs)}, nil
}

// Directory returns the absolute configured directory.
func (v *PathValidator) Directory() string {
	return v.configuredDirectory
}

// Resolve turns path into an absolute path inside the configured directory.
// Relative paths are taken relative to the directory. Symlinks are followed
// as far as the path exists, so a link pointing out of the directory is
// refused too.
func (v *PathValidator) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if path == "" {
		return "", eris.New("path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(v.configuredDirectory, path)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", eris.Wrap(err, "failed to resolve path")
	}

	if !within(absPath, v.configuredDirectory) {
		return "", eris.Errorf("path is outside configured directory: %s", path)
	}

	realDir := v.configuredDirectory
	if resolved, err := filepath.EvalSymlinks(realDir); err == nil {
		realDir = resolved
	}
	if real, ok := evalExisting(absPath); ok && !within(real, realDir) {
		return "", eris.Errorf("path is outside configured directory: %s", path)
	}
	return absPath, nil
}

// ValidateFile checks that path is a non-empty regular file no larger than
// maxSize and returns its size.
func ValidateFile(path string, maxSize int64) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, eris.Wrapf(err, "cannot access %s", path)
	}
	if info.IsDir() {
		return 0, eris.Errorf("path is a directory, not a file: %s", path)
	}
	if info.Size() == 0 {
		return 0, eris.Errorf("file is empty: %s", path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return 0, eris.Errorf("file too large: %d bytes (max: %d bytes)", info.Size(), maxSize)
	}
	return info.Size(), nil
}

func within(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// evalExisting resolves symlinks in the longest existing prefix of path and
// re-attaches the missing tail.
func evalExisting(path string) (string, bool) {
	var tail []string
	for p := path; ; p = filepath.Dir(p) {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), true
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", false
		}
		tail = append([]string{filepath.Base(p)}, tail...)
	}
}
