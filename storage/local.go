package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalSink writes images into a directory on the local filesystem.
type LocalSink struct {
	baseDir string
}

// NewLocalSink creates baseDir if needed and checks it is a directory.
func NewLocalSink(baseDir string) (*LocalSink, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", baseDir, err)
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory %q: %w", baseDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory %q is not a directory", baseDir)
	}
	return &LocalSink{baseDir: baseDir}, nil
}

// Put writes data to baseDir/name and returns the file path.
func (s *LocalSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: file name is required", ErrStorage)
	}

	target := filepath.Join(s.baseDir, name)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(target), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected for %q", ErrStorage, name)
	}

	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrStorage, target, err)
	}
	return target, nil
}
