package artifacts

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// FS stores artifacts under a local directory.
type FS struct {
	root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *FS) Root() string {
	return s.root
}

// Location returns the absolute path of key.
func (s *FS) Location(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes data to key atomically.
func (s *FS) Put(ctx context.Context, key string, data []byte) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := s.Location(key)
	if err := writeFile(dst, data); err != nil {
		return "", err
	}
	return dst, nil
}

// ReplaceTree removes the directory at prefix and writes files into a fresh one.
func (s *FS) ReplaceTree(ctx context.Context, prefix string, files map[string][]byte) (string, error) {
	prefix, err := cleanKey(prefix)
	if err != nil {
		return "", err
	}
	dir := s.Location(prefix)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("remove %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	for name, data := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rel, err := cleanKey(name)
		if err != nil {
			return "", err
		}
		if err := writeFile(s.Location(path.Join(prefix, rel)), data); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func writeFile(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename to %s: %w", dst, err)
	}
	return nil
}
