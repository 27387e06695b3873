package compressor

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Encoded describes the image that was written by an Encoder.
type Encoded struct {
	Width  int
	Height int
}

// Encoder turns one source image into a lossy output file.
type Encoder interface {
	Encode(inputPath, outputPath string, setting Setting) (Encoded, error)
}

// ImagingEncoder encodes JPEG outputs with the imaging package.
type ImagingEncoder struct{}

// NewImagingEncoder creates a new ImagingEncoder instance.
func NewImagingEncoder() *ImagingEncoder {
	return &ImagingEncoder{}
}

// Encode opens inputPath, drops alpha and palette indexing, scales it down to
// setting.MaxWidth if wider and writes a JPEG at setting.Quality to
// outputPath. The file is written to a temporary name first so a failed encode
// never leaves a truncated output behind.
func (e *ImagingEncoder) Encode(inputPath, outputPath string, setting Setting) (Encoded, error) {
	if err := setting.Validate(); err != nil {
		return Encoded{}, err
	}

	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return Encoded{}, fmt.Errorf("open error: %w", err)
	}

	if needsFlatten(img) {
		img = flatten(img)
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w > setting.MaxWidth {
		nw, nh := scaledSize(w, h, setting.MaxWidth)
		img = imaging.Resize(img, nw, nh, imaging.Lanczos)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return Encoded{}, fmt.Errorf("mkdir error: %w", err)
	}

	tmpPath := outputPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return Encoded{}, fmt.Errorf("create tmp file error: %w", err)
	}
	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(setting.Quality)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return Encoded{}, fmt.Errorf("encode error: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Encoded{}, fmt.Errorf("close tmp file error: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		return Encoded{}, fmt.Errorf("rename error: %w", err)
	}

	return Encoded{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}, nil
}

// scaledSize returns the size of a w x h image scaled to maxWidth wide with
// the aspect ratio kept.
func scaledSize(w, h, maxWidth int) (int, int) {
	nh := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
	if nh < 1 {
		nh = 1
	}
	return maxWidth, nh
}

// needsFlatten reports whether the colour model carries alpha or is palette
// indexed. Fully opaque RGBA still counts; the decision follows the model, not
// the pixels.
func needsFlatten(img image.Image) bool {
	if _, ok := img.(*image.Paletted); ok {
		return true
	}
	switch img.ColorModel() {
	case color.NRGBAModel, color.NRGBA64Model, color.RGBAModel, color.RGBA64Model,
		color.NYCbCrAModel, color.AlphaModel, color.Alpha16Model:
		return true
	}
	_, ok := img.ColorModel().(color.Palette)
	return ok
}

// flatten converts img to an opaque three-channel image. Colour values of
// translucent pixels are kept as they are and the alpha channel is discarded.
func flatten(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
