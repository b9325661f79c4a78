package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirHandle gives read access to file metadata inside one directory,
// normally the graph's pages folder.
type DirHandle interface {
	// Name is the base name of the directory.
	Name() string

	// FileModTime returns the modification time of fileName in epoch
	// milliseconds. Missing files yield an error matching ErrNotExist.
	FileModTime(ctx context.Context, fileName string) (int64, error)
}

// OSDir is a DirHandle over a directory on the local file system.
type OSDir struct {
	path string
}

// NewOSDir returns a handle for path, which must be an existing directory.
func NewOSDir(path string) (*OSDir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	return &OSDir{path: abs}, nil
}

// Path returns the absolute directory path.
func (d *OSDir) Path() string {
	return d.path
}

// Name returns the directory's base name.
func (d *OSDir) Name() string {
	return filepath.Base(d.path)
}

// FileModTime stats a file directly inside the directory.
func (d *OSDir) FileModTime(ctx context.Context, fileName string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if fileName == "" || strings.ContainsAny(fileName, `/\`) || fileName == "." || fileName == ".." {
		return 0, fmt.Errorf("invalid file name %q: %w", fileName, ErrNotExist)
	}
	info, err := os.Stat(filepath.Join(d.path, fileName))
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixMilli(), nil
}

// LastModified returns the file time of a page file in dir: it tries the
// preferred format's extension first, then the other one. ok is false when
// neither file exists, which means the page was never persisted.
func LastModified(ctx context.Context, dir DirHandle, encodedName string, preferred Format) (ms int64, ok bool) {
	for _, f := range []Format{preferred, preferred.Other()} {
		t, err := dir.FileModTime(ctx, encodedName+f.Ext())
		if err == nil {
			return t, true
		}
	}
	return 0, false
}
