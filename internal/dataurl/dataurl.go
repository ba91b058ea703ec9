// Package dataurl parses and builds the self-describing image payloads
// exchanged between the capture client and the upload API.
//
// A payload has the shape "data:image/<subtype>;base64,<body>". Parse is
// strict: anything that deviates from that grammar is rejected with a
// *ParseError rather than guessed at.
package dataurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	scheme       = "data:"
	base64Marker = ";base64"
	imagePrefix  = "image/"
)

// ErrMalformed is matched by every error returned from Parse.
var ErrMalformed = errors.New("malformed data url")

// ParseError describes why a payload was rejected.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformed.Error(), e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformed
}

// Payload is a decoded image payload.
type Payload struct {
	MIME string
	Data []byte
}

// extensions maps the accepted image MIME types to file extensions.
var extensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/bmp":     "bmp",
	"image/tiff":    "tiff",
	"image/svg+xml": "svg",
	"image/heic":    "heic",
	"image/heif":    "heif",
	"image/avif":    "avif",
}

// Parse decodes s into a Payload. It never falls back to a default MIME type.
func Parse(s string) (Payload, error) {
	if s == "" {
		return Payload{}, &ParseError{Reason: "empty payload"}
	}
	if !strings.HasPrefix(s, scheme) {
		return Payload{}, &ParseError{Reason: "missing data: scheme"}
	}

	header, body, found := strings.Cut(s[len(scheme):], ",")
	if !found {
		return Payload{}, &ParseError{Reason: "missing ',' separator"}
	}

	mime, ok := strings.CutSuffix(header, base64Marker)
	if !ok {
		return Payload{}, &ParseError{Reason: "payload is not base64 encoded"}
	}
	mime = strings.ToLower(mime)
	if !strings.HasPrefix(mime, imagePrefix) {
		return Payload{}, &ParseError{Reason: fmt.Sprintf("media type %q is not an image", mime)}
	}
	if !validSubtype(mime[len(imagePrefix):]) {
		return Payload{}, &ParseError{Reason: fmt.Sprintf("invalid image subtype in %q", mime)}
	}
	if _, supported := extensions[mime]; !supported {
		return Payload{}, &ParseError{Reason: fmt.Sprintf("unsupported image type %q", mime)}
	}

	if body == "" {
		return Payload{}, &ParseError{Reason: "empty body"}
	}
	data, err := base64.StdEncoding.Strict().DecodeString(body)
	if err != nil {
		return Payload{}, &ParseError{Reason: fmt.Sprintf("invalid base64 body: %v", err)}
	}

	return Payload{MIME: mime, Data: data}, nil
}

// Encode builds a payload string from a MIME type and raw bytes.
func Encode(mime string, data []byte) string {
	var b strings.Builder
	b.Grow(len(scheme) + len(mime) + len(base64Marker) + 1 + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(scheme)
	b.WriteString(mime)
	b.WriteString(base64Marker)
	b.WriteByte(',')
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// String re-encodes the payload.
func (p Payload) String() string {
	return Encode(p.MIME, p.Data)
}

// Extension returns the file extension for the payload's MIME type.
func (p Payload) Extension() string {
	return extensions[p.MIME]
}

// IsSupported reports whether mime is an accepted image type.
func IsSupported(mime string) bool {
	_, ok := extensions[strings.ToLower(mime)]
	return ok
}

func validSubtype(subtype string) bool {
	if subtype == "" {
		return false
	}
	for _, r := range subtype {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '+' || r == '-':
		default:
			return false
		}
	}
	return true
}
