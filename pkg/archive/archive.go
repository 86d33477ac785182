// Package archive keeps one copy of every iteration's screenshot. The
// capture runner overwrites a single working file; the archive is what
// survives a run.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ObjectName returns <run>/iteration-NN<ext> for an artifact.
func ObjectName(runID string, ordinal int, path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".png"
	}
	return fmt.Sprintf("%s/iteration-%02d%s", runID, ordinal, ext)
}

// LocalArchiver copies artifacts into a directory tree.
type LocalArchiver struct {
	Dir string
}

// NewLocalArchiver creates an archiver rooted at dir.
func NewLocalArchiver(dir string) *LocalArchiver {
	return &LocalArchiver{Dir: dir}
}

// Archive copies path to <dir>/<run>/iteration-NN.png and returns the copy's path.
func (a *LocalArchiver) Archive(ctx context.Context, runID string, ordinal int, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(a.Dir, filepath.FromSlash(ObjectName(runID, ordinal, path)))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer src.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close archive file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize archive file: %w", err)
	}
	return dst, nil
}
