package dataurl

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Detect picks the MIME type of raw image bytes, sniffing the content first
// and falling back to the file name extension (SVG is text and cannot be
// sniffed as an image).
func Detect(data []byte, filename string) (string, error) {
	sniffed := strings.ToLower(strings.TrimSpace(strings.Split(http.DetectContentType(data), ";")[0]))
	if IsSupported(sniffed) {
		return sniffed, nil
	}
	if container := containerType(data); container != "" {
		return container, nil
	}
	ext := strings.ToLower(filepath.Ext(filename))
	byExt := strings.ToLower(strings.Split(mime.TypeByExtension(ext), ";")[0])
	if IsSupported(byExt) {
		return byExt, nil
	}
	for mimeType, known := range extensions {
		if ext == "."+known {
			return mimeType, nil
		}
	}
	return "", fmt.Errorf("%s is not a supported image (detected %s)", filename, sniffed)
}

// FromImage builds a payload string for raw image bytes.
func FromImage(data []byte, filename string) (string, error) {
	mimeType, err := Detect(data, filename)
	if err != nil {
		return "", err
	}
	return Encode(mimeType, data), nil
}
