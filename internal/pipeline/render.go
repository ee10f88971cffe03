package pipeline

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
)

var errNotRenderable = errors.New("document cannot be rendered for ocr")

// renderForOCR prepares the document payload for a vision provider and
// reports the mime type to send. Images and PDFs are passed through as-is;
// the providers accept both. Plain text never reaches OCR.
func renderForOCR(data []byte, name string) ([]byte, string, error) {
	mime := sniffMime(data, name)
	switch mime {
	case "image/png", "image/jpeg", "image/webp", "application/pdf":
		return data, mime, nil
	}
	return nil, "", errNotRenderable
}

// sniffMime detects the payload type by magic bytes, falling back to the
// file extension.
func sniffMime(data []byte, name string) string {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return "application/pdf"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".txt", ".xml", ".csv":
		return "text/plain"
	}
	return "application/octet-stream"
}
