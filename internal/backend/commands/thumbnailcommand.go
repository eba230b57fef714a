package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"
)

const jpegThumbnailQuality = 90

// ThumbnailParams represents typed parameters for the thumbnail command
type ThumbnailParams struct {
	Width int
}

// NewThumbnailParamsFromMap creates ThumbnailParams from a generic map
func NewThumbnailParamsFromMap(params map[string]any) (*ThumbnailParams, error) {
	if err := ValidateRequiredParams(params, []string{"width"}); err != nil {
		return nil, err
	}

	width := GetIntParam(params, "width", 0)
	if width <= 0 {
		return nil, fmt.Errorf("width must be positive, got %d", width)
	}

	return &ThumbnailParams{Width: width}, nil
}

// ThumbnailCommand scales an image to a fixed width, keeping the aspect ratio,
// and re-encodes it in the format it was decoded from.
type ThumbnailCommand struct {
	name   string
	params *ThumbnailParams
}

// NewThumbnailCommand creates a new thumbnail command from configuration parameters
func NewThumbnailCommand(params map[string]any) (Command, error) {
	typedParams, err := NewThumbnailParamsFromMap(params)
	if err != nil {
		return nil, err
	}

	return &ThumbnailCommand{
		name:   ThumbnailCommandName,
		params: typedParams,
	}, nil
}

// NewThumbnailCommandWithParams creates a new thumbnail command from a concrete width
func NewThumbnailCommandWithParams(width int) (*ThumbnailCommand, error) {
	if width <= 0 {
		return nil, fmt.Errorf("width must be positive, got %d", width)
	}

	return &ThumbnailCommand{
		name:   ThumbnailCommandName,
		params: &ThumbnailParams{Width: width},
	}, nil
}

// Name returns the command name
func (c *ThumbnailCommand) Name() string {
	return c.name
}

// GetWidth returns the configured width
func (c *ThumbnailCommand) GetWidth() int {
	return c.params.Width
}

// Execute scales the image to the configured width. Only the first frame of
// an animated GIF is kept.
func (c *ThumbnailCommand) Execute(imageData []byte) ([]byte, error) {
	slog.Debug("ThumbnailCommand: decoding image",
		"input_size_bytes", len(imageData))

	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		slog.Error("ThumbnailCommand: failed to decode image", "error", err)
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	originalWidth := bounds.Dx()
	originalHeight := bounds.Dy()
	if originalWidth == 0 || originalHeight == 0 {
		return nil, fmt.Errorf("image has no pixels (%dx%d)", originalWidth, originalHeight)
	}

	targetWidth, targetHeight := ThumbnailDimensions(originalWidth, originalHeight, c.params.Width)
	slog.Debug("ThumbnailCommand: scaling image",
		"format", format,
		"original_width", originalWidth,
		"original_height", originalHeight,
		"target_width", targetWidth,
		"target_height", targetHeight)

	targetImg := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.CatmullRom.Scale(targetImg, targetImg.Bounds(), img, bounds, draw.Src, nil)

	out, err := encode(targetImg, format)
	if err != nil {
		slog.Error("ThumbnailCommand: failed to encode thumbnail", "format", format, "error", err)
		return nil, fmt.Errorf("failed to encode %s thumbnail: %w", format, err)
	}

	slog.Debug("ThumbnailCommand: scaling complete",
		"output_size_bytes", len(out))

	return out, nil
}

// ThumbnailDimensions returns the fixed width and the proportional height,
// never less than one pixel.
func ThumbnailDimensions(originalWidth, originalHeight, width int) (int, int) {
	height := int(float64(originalHeight) * (float64(width) / float64(originalWidth)))
	if height < 1 {
		height = 1
	}
	return width, height
}

func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	bb := img.Bounds()
	// Pre-grow buffer to reduce re-allocations; rough heuristic: 1 byte per pixel
	buf.Grow(bb.Dx() * bb.Dy())

	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegThumbnailQuality})
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
