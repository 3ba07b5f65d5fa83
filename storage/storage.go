// Package storage persists downloaded images.
package storage

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"
)

// ErrStorage marks every failure returned by a Sink.
var ErrStorage = errors.New("storage error")

// Sink writes image bytes under a file name and returns where they landed.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

const fallbackExtension = "bin"

// FileName derives "<name>.<ext>" where ext is the last dot-separated
// segment of resourceURL, lower-cased. Path separators in name are replaced
// so the result is always a single path element.
func FileName(name, resourceURL string) string {
	return sanitize(name) + "." + Extension(resourceURL)
}

// Extension returns the lower-cased last dot-separated segment of
// resourceURL, or "bin" when the URL has no usable segment.
func Extension(resourceURL string) string {
	i := strings.LastIndex(resourceURL, ".")
	if i < 0 || i == len(resourceURL)-1 {
		return fallbackExtension
	}
	ext := strings.ToLower(resourceURL[i+1:])
	if strings.ContainsAny(ext, `/\`) {
		return fallbackExtension
	}
	return ext
}

// ContentType guesses a MIME type from the file name's extension.
func ContentType(fileName string) string {
	if ct := mime.TypeByExtension(path.Ext(fileName)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

func objectKey(prefix, fileName string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fileName
	}
	return prefix + "/" + fileName
}
