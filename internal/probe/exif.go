package probe

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// EXIF holds the few tags that matter before a re-encode.
type EXIF struct {
	Orientation int        `json:"orientation,omitempty"`
	DateTime    *time.Time `json:"date_time,omitempty"`
	Make        string     `json:"make,omitempty"`
	Model       string     `json:"model,omitempty"`
	Software    string     `json:"software,omitempty"`
}

// Rotated reports whether the orientation tag asks for a rotation or flip.
// Encoders that honour it change the pixel dimensions of 90 degree turns.
func (e *EXIF) Rotated() bool {
	return e != nil && e.Orientation > 1
}

// readEXIF extracts EXIF metadata using the rwcarlsen/goexif library.
func readEXIF(path string) (*EXIF, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	out := &EXIF{}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			out.Orientation = v
		}
	}
	if tm, err := x.DateTime(); err == nil {
		out.DateTime = &tm
	}
	out.Make = stringTag(x, exif.Make)
	out.Model = stringTag(x, exif.Model)
	out.Software = stringTag(x, exif.Software)

	return out, nil
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(val, "\x00"))
}
