package upload

import (
	"bytes"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	// Recognised so that a BMP, TIFF or WEBP is reported by its real type
	// rather than as an undecodable file.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format is the real type of an image, as read from its content.
type Format string

const (
	FormatGIF  Format = "gif"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// IsSupported reports whether testimonials accept images of this type.
func (f Format) IsSupported() bool {
	switch f {
	case FormatGIF, FormatJPEG, FormatPNG:
		return true
	}
	return false
}

// imageInfo is what the header of an image tells us.
type imageInfo struct {
	Width  int
	Height int
	Format Format
}

// inspect reads the image header. The returned format may be unsupported.
func inspect(data []byte) (imageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return imageInfo{}, err
	}
	return imageInfo{Width: cfg.Width, Height: cfg.Height, Format: Format(format)}, nil
}
