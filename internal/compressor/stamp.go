package compressor

import (
	"fmt"

	"github.com/barasher/go-exiftool"
)

// DefaultSoftwareTag is written to the Software EXIF tag of stamped outputs.
const DefaultSoftwareTag = "img-budget Compressed"

// Stamper writes metadata onto a freshly encoded output before it is measured.
type Stamper interface {
	Stamp(path string) error
	Close() error
}

// ExiftoolStamper stamps outputs through a long-running exiftool process.
type ExiftoolStamper struct {
	et  *exiftool.Exiftool
	tag string
}

// NewExiftoolStamper starts exiftool. It fails when the exiftool binary is not
// installed.
func NewExiftoolStamper(tag string) (*ExiftoolStamper, error) {
	if tag == "" {
		tag = DefaultSoftwareTag
	}
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &ExiftoolStamper{et: et, tag: tag}, nil
}

// Stamp sets the Software tag of path in place.
func (s *ExiftoolStamper) Stamp(path string) error {
	files := s.et.ExtractMetadata(path)
	if len(files) == 0 {
		return fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if files[0].Err != nil {
		return fmt.Errorf("exiftool read failed: %w", files[0].Err)
	}

	files[0].SetString("Software", s.tag)
	s.et.WriteMetadata(files)
	if files[0].Err != nil {
		return fmt.Errorf("exiftool set Software failed: %w", files[0].Err)
	}
	return nil
}

// Close stops the exiftool process.
func (s *ExiftoolStamper) Close() error {
	return s.et.Close()
}
