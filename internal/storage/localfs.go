package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipcraft/api/internal/apperr"
)

// LocalFS stores artifacts under a root directory.
type LocalFS struct {
	root string
}

func NewLocalFS(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

func (l *LocalFS) Put(_ context.Context, key, path string) (int64, error) {
	dst, err := l.path(key)
	if err != nil {
		return 0, apperr.Storage(err, "localfs.put", "failed to store output")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, apperr.Storage(err, "localfs.put", "failed to create output directory")
	}

	// Rename fails across filesystems; fall back to a copy.
	if err := os.Rename(path, dst); err != nil {
		if err := copyFile(path, dst); err != nil {
			_ = os.Remove(dst)
			return 0, apperr.Storage(err, "localfs.put", "failed to store output")
		}
	}

	st, err := os.Stat(dst)
	if err != nil {
		return 0, apperr.Storage(err, "localfs.put", "failed to stat output")
	}
	return st.Size(), nil
}

func (l *LocalFS) Open(_ context.Context, key string) (io.ReadCloser, int64, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, 0, apperr.NotFound("output", key)
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, apperr.NotFound("output", key)
		}
		return nil, 0, apperr.Storage(err, "localfs.open", "failed to open output")
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, apperr.Storage(err, "localfs.open", "failed to stat output")
	}
	return f, st.Size(), nil
}

func (l *LocalFS) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.Storage(err, "localfs.delete", "failed to delete output")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
