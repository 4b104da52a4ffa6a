package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"
)

// Local stores files under a directory. Writes go through a temporary file
// and a rename, so readers never observe a partial workbook.
type Local struct {
	root string
	log  *logrus.Entry
}

// NewLocal creates dir if needed and returns a storage rooted at it.
func NewLocal(dir string, log *logrus.Entry) (*Local, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	if log == nil {
		log = discardLogger()
	}
	return &Local{root: root, log: log.WithField("storage", "local")}, nil
}

// Root returns the absolute storage directory.
func (l *Local) Root() string { return l.root }

// Save writes r to name below the root, replacing any existing file.
func (l *Local) Save(ctx context.Context, name string, r io.Reader, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := l.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", name, err)
	}
	if err := atomic.WriteFile(path, r); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	uri := (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
	l.log.WithField("path", path).Info("file saved")
	return uri, nil
}

// Delete removes the file behind uri. A missing file is not an error.
func (l *Local) Delete(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	path := filepath.FromSlash(u.Path)
	if !l.contains(path) {
		return fmt.Errorf("%w: %q is outside %s", ErrInvalidURI, uri, l.root)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	l.log.WithField("path", path).Info("file deleted")
	return nil
}

func (l *Local) resolve(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(l.root, name), nil
}

func (l *Local) contains(path string) bool {
	rel, err := filepath.Rel(l.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && filepath.IsLocal(rel)
}
