package llm

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// AssetDir writes generated media bytes to a local directory and returns
// file:// URLs for them.
type AssetDir struct {
	Dir string
}

// Save writes data and returns its URL.
func (a AssetDir) Save(prefix string, data []byte, mimeType string) (string, error) {
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create asset dir: %w", err)
	}
	name := prefix + "-" + uuid.NewString() + extensionFor(mimeType)
	path := filepath.Join(a.Dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// loadImage resolves a frame reference into a genai image input.
// gs:// URIs pass through; file:// URLs and plain paths are read from disk.
func loadImage(ref string) (imageInput, error) {
	switch {
	case ref == "":
		return imageInput{}, nil
	case strings.HasPrefix(ref, "gs://"):
		return imageInput{gcsURI: ref, mimeType: mimeFromPath(ref)}, nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return imageInput{}, fmt.Errorf("remote frame %s must be uploaded to storage first", ref)
	}
	path := strings.TrimPrefix(ref, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return imageInput{}, fmt.Errorf("failed to read frame: %w", err)
	}
	return imageInput{data: data, mimeType: mimeFromPath(path)}, nil
}

type imageInput struct {
	gcsURI   string
	data     []byte
	mimeType string
}

func (i imageInput) empty() bool {
	return i.gcsURI == "" && len(i.data) == 0
}

func mimeFromPath(p string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(p))); t != "" {
		return t
	}
	return "image/png"
}
