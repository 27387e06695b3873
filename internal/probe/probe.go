// Package probe reads the intrinsic properties of an image file from its
// content.
package probe

import (
	"fmt"
	"image"
	"image/color"
	"os"

	// register decoders for DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"img-budget-go/internal/logger"

	"github.com/sirupsen/logrus"
)

// ColorMode is a coarse name for the colour representation of an image.
type ColorMode string

const (
	ModeRGB     ColorMode = "RGB"
	ModeRGBA    ColorMode = "RGBA"
	ModeGray    ColorMode = "L"
	ModePalette ColorMode = "P"
	ModeYCbCr   ColorMode = "YCbCr"
	ModeCMYK    ColorMode = "CMYK"
	ModeAlpha   ColorMode = "A"
	ModeUnknown ColorMode = "unknown"
)

// Info is what Inspect learns about an image.
type Info struct {
	Path   string    `json:"path"`
	Format string    `json:"format"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Mode   ColorMode `json:"mode"`
	Size   int64     `json:"size"`
	EXIF   *EXIF     `json:"exif,omitempty"`
}

// NeedsFlatten reports whether the image carries transparency or palette
// indexing and has to be converted before a JPEG encode.
func (i *Info) NeedsFlatten() bool {
	return i.Mode == ModeRGBA || i.Mode == ModePalette || i.Mode == ModeAlpha
}

// Prober inspects files and logs what it could not read.
type Prober struct {
	logger *logrus.Logger
}

// NewProber returns a new Prober.
func NewProber(logger *logrus.Logger) *Prober {
	if logger == nil {
		logger = logrus.New()
	}
	return &Prober{logger: logger}
}

// Inspect decodes the header of path and, when present, its EXIF block. A
// missing or broken EXIF block is not an error.
func (p *Prober) Inspect(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	info := &Info{
		Path:   path,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Mode:   modeOf(cfg.ColorModel),
		Size:   fi.Size(),
	}

	if x, err := readEXIF(path); err == nil {
		info.EXIF = x
	} else {
		logger.WithFile(p.logger, path).Debugf("No EXIF data: %v", err)
	}

	return info, nil
}

func modeOf(m color.Model) ColorMode {
	if _, ok := m.(color.Palette); ok {
		return ModePalette
	}
	switch m {
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.NYCbCrAModel:
		return ModeRGBA
	case color.GrayModel, color.Gray16Model:
		return ModeGray
	case color.AlphaModel, color.Alpha16Model:
		return ModeAlpha
	case color.YCbCrModel:
		return ModeYCbCr
	case color.CMYKModel:
		return ModeCMYK
	default:
		return ModeUnknown
	}
}
