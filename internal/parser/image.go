package parser

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"multimodal-rag/internal/models"
)

// ImageInfo is what ingestion records about a stored image.
type ImageInfo struct {
	Width  int
	Height int
	Format string
	// Mode names the color model: RGB, RGBA, L, P or CMYK.
	Mode string
}

// Metadata is the document metadata recorded for an image of size bytes.
func (i ImageInfo) Metadata(size int) map[string]any {
	return map[string]any{
		"width":      i.Width,
		"height":     i.Height,
		"format":     i.Format,
		"mode":       i.Mode,
		"size_bytes": size,
	}
}

// DecodeImageInfo reads only the image header.
func DecodeImageInfo(r io.Reader) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: decode image: %v", models.ErrExtractionFailure, err)
	}
	return ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format, Mode: colorMode(cfg.ColorModel)}, nil
}

func colorMode(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	switch m {
	case color.GrayModel, color.Gray16Model:
		return "L"
	case color.NRGBAModel, color.NRGBA64Model, color.NYCbCrAModel:
		return "RGBA"
	case color.CMYKModel:
		return "CMYK"
	}
	return "RGB"
}
