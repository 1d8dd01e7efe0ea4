// Package media prepares downloaded files for the generation backend and
// sweeps the download directory.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/gchat/internal/providers"
)

const (
	defaultMaxBytes = 20 * 1024 * 1024
	defaultMaxSide  = 1600
	jpegQuality     = 85
)

// Loader reads attachments into base64 parts. Images wider or taller than
// MaxSide are downscaled and re-encoded as JPEG.
type Loader struct {
	MaxBytes int64
	MaxSide  int
}

// NewLoader fills zero limits with defaults.
func NewLoader(maxBytes int64, maxSide int) Loader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if maxSide <= 0 {
		maxSide = defaultMaxSide
	}
	return Loader{MaxBytes: maxBytes, MaxSide: maxSide}
}

// Load returns one part per readable image. Files the model cannot take
// (pdf, audio, video, other documents) and files that fail are skipped.
func (l Loader) Load(paths []string) []providers.ImageContent {
	var out []providers.ImageContent
	for _, p := range paths {
		part, err := l.LoadFile(p)
		if errors.Is(err, providers.ErrUnsupportedAttachment) {
			slog.Debug("media: attachment not sent to model", "path", p, "error", err)
			continue
		}
		if err != nil {
			slog.Warn("media: skipping attachment", "path", p, "error", err)
			continue
		}
		out = append(out, part)
	}
	return out
}

// LoadFile reads a single image. Other types fail with
// providers.ErrUnsupportedAttachment.
func (l Loader) LoadFile(path string) (providers.ImageContent, error) {
	mimeType := InferMime(path)
	if !strings.HasPrefix(mimeType, "image/") {
		return providers.ImageContent{}, fmt.Errorf("%w: %s", providers.ErrUnsupportedAttachment, mimeType)
	}

	info, err := os.Stat(path)
	if err != nil {
		return providers.ImageContent{}, err
	}
	if l.MaxBytes > 0 && info.Size() > l.MaxBytes {
		return providers.ImageContent{}, fmt.Errorf("file too large: %d bytes", info.Size())
	}

	if mimeType != "image/gif" {
		if data, ok := l.downscale(path); ok {
			return providers.ImageContent{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(data)}, nil
		}
	}
	if !providers.SupportsAttachment(mimeType) {
		return providers.ImageContent{}, fmt.Errorf("%w: %s", providers.ErrUnsupportedAttachment, mimeType)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return providers.ImageContent{}, err
	}
	return providers.ImageContent{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}, nil
}

// downscale re-encodes an oversized image. ok is false when the image is
// already small enough or cannot be decoded.
func (l Loader) downscale(path string) ([]byte, bool) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		slog.Debug("media: decode failed, sending raw bytes", "path", path, "error", err)
		return nil, false
	}
	b := img.Bounds()
	if b.Dx() <= l.MaxSide && b.Dy() <= l.MaxSide {
		return nil, false
	}
	img = imaging.Fit(img, l.MaxSide, l.MaxSide, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		slog.Debug("media: encode failed", "path", path, "error", err)
		return nil, false
	}
	return buf.Bytes(), true
}

// InferMime maps a file extension to a MIME type.
func InferMime(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}

// Remove deletes files, ignoring ones that are already gone.
func Remove(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Debug("media: remove failed", "path", p, "error", err)
		}
	}
}
