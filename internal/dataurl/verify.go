package dataurl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"slices"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decoderFormats maps MIME types to the format names registered with the image package.
var decoderFormats = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpeg",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
}

// containerBrands lists the ftyp brands accepted for each ISO base media image type.
var containerBrands = map[string][]string{
	"image/heic": {"heic", "heix", "heim", "heis", "hevc", "hevx"},
	"image/heif": {"mif1", "msf1", "heic", "heix"},
	"image/avif": {"avif", "avis"},
}

// svgCanvasSize is the edge length of the canvas an SVG is rendered onto.
const svgCanvasSize = 32

// Verify checks that the decoded bytes really are an image of the declared type.
// Raster formats are checked with image.DecodeConfig. SVG documents must parse
// and paint at least one pixel. HEIF and AVIF only get their ftyp box checked.
func Verify(p Payload) error {
	if p.MIME == "image/svg+xml" {
		return verifySVG(p.Data)
	}
	if brands, ok := containerBrands[p.MIME]; ok {
		for _, brand := range fileBrands(p.Data) {
			if slices.Contains(brands, brand) {
				return nil
			}
		}
		return &ParseError{Reason: fmt.Sprintf("declared %s but body has no matching ftyp brand", p.MIME)}
	}

	want, ok := decoderFormats[p.MIME]
	if !ok {
		return &ParseError{Reason: fmt.Sprintf("unsupported image type %q", p.MIME)}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		return &ParseError{Reason: fmt.Sprintf("body is not a decodable image: %v", err)}
	}
	if format != want {
		return &ParseError{Reason: fmt.Sprintf("declared %s but body is %s", p.MIME, format)}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return &ParseError{Reason: fmt.Sprintf("image has invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	return nil
}

func verifySVG(data []byte) error {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.StrictErrorMode)
	if err != nil {
		return &ParseError{Reason: fmt.Sprintf("invalid svg document: %v", err)}
	}
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		return &ParseError{Reason: "svg has no size"}
	}

	icon.SetTarget(0, 0, svgCanvasSize, svgCanvasSize)
	canvas := image.NewRGBA(image.Rect(0, 0, svgCanvasSize, svgCanvasSize))
	scanner := rasterx.NewScannerGV(svgCanvasSize, svgCanvasSize, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(svgCanvasSize, svgCanvasSize, scanner), 1.0)

	for i := 3; i < len(canvas.Pix); i += 4 {
		if canvas.Pix[i] != 0 {
			return nil
		}
	}
	return &ParseError{Reason: "svg renders nothing"}
}

// fileBrands returns the major and compatible brands of a leading ftyp box.
func fileBrands(data []byte) []string {
	if len(data) < 16 || string(data[4:8]) != "ftyp" {
		return nil
	}
	size := int(binary.BigEndian.Uint32(data[0:4]))
	if size < 16 || size > len(data) {
		return nil
	}
	brands := []string{string(data[8:12])}
	for i := 16; i+4 <= size; i += 4 {
		brands = append(brands, string(data[i:i+4]))
	}
	return brands
}

// containerType maps a leading ftyp box to the image type it declares.
func containerType(data []byte) string {
	brands := fileBrands(data)
	if len(brands) == 0 {
		return ""
	}
	for _, mimeType := range []string{"image/avif", "image/heic", "image/heif"} {
		if slices.Contains(containerBrands[mimeType], brands[0]) {
			return mimeType
		}
	}
	return ""
}
