package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mymmrac/telego"
)

const (
	// defaultMediaMaxBytes is the default max download size (20MB, Telegram Bot API limit).
	defaultMediaMaxBytes int64 = 20 * 1024 * 1024

	// downloadMaxRetries is the number of GetFile attempts.
	downloadMaxRetries = 3
)

func (c *Channel) maxBytes() int64 {
	if c.config.MediaMaxBytes > 0 {
		return c.config.MediaMaxBytes
	}
	return defaultMediaMaxBytes
}

// downloadMedia downloads a file from Telegram by file_id into the media
// directory and returns the local path. The caller owns the file.
func (c *Channel) downloadMedia(ctx context.Context, fileID string, announced int64) (string, error) {
	maxBytes := c.maxBytes()
	if announced > maxBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", announced, maxBytes)
	}

	var file *telego.File
	var err error
	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			slog.Debug("retrying file download", "file_id", fileID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > maxBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, maxBytes)
	}

	return fetchTo(ctx, c.client, c.bot.FileDownloadURL(file.FilePath), c.mediaDir, filepath.Ext(file.FilePath), maxBytes)
}

// fetchTo streams url into a new file under dir, rejecting bodies larger
// than maxBytes.
func fetchTo(ctx context.Context, client *http.Client, url, dir, ext string, maxBytes int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	if ext == "" {
		ext = ".bin"
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create media dir: %w", err)
		}
	}
	tmpFile, err := os.CreateTemp(dir, "gchat_media_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmpFile.Close()

	written, err := io.Copy(tmpFile, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("save file: %w", err)
	}
	if written > maxBytes {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("file exceeds max size during download: %d bytes", written)
	}

	return tmpFile.Name(), nil
}
