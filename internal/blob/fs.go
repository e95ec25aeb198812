package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// FSStore keeps objects as files below a root directory. Writes go to a
// temporary file in the target directory and are renamed into place.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, eris.New("blob: root directory cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrap(err, "blob: resolve root")
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, eris.Wrapf(err, "blob: create root %s", abs)
	}
	return &FSStore{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) Create(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	tmp, err := s.writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	// Link fails if the target exists, unlike Rename.
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return eris.Wrapf(ErrExists, "key %s", key)
		}
		return eris.Wrapf(err, "blob: create %s", key)
	}
	return nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	tmp, err := s.writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "blob: replace %s", key)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "key %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", key)
	}
	return data, nil
}

func (s *FSStore) writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", eris.Wrapf(err, "blob: create %s", dir)
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", eris.Wrap(err, "blob: temp file")
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", eris.Wrap(err, "blob: write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", eris.Wrap(err, "blob: sync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", eris.Wrap(err, "blob: close temp file")
	}
	return name, nil
}

// path maps a key to a file below root, refusing anything that escapes it
// lexically or through a symlink.
func (s *FSStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if !within(s.root, path) {
		return "", eris.Errorf("blob: key %q is outside the store", key)
	}

	realRoot := s.root
	if resolved, err := filepath.EvalSymlinks(s.root); err == nil {
		realRoot = resolved
	}
	// Check the deepest existing ancestor; the rest does not exist yet.
	for dir := filepath.Dir(path); within(s.root, dir); dir = filepath.Dir(dir) {
		resolved, err := filepath.EvalSymlinks(dir)
		if err != nil {
			continue
		}
		if !within(realRoot, resolved) {
			return "", eris.Errorf("blob: key %q resolves outside the store", key)
		}
		break
	}
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil || !within(realRoot, resolved) {
			return "", eris.Errorf("blob: key %q resolves outside the store", key)
		}
	}
	return path, nil
}

func within(dir, path string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}
