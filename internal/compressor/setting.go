package compressor

import (
	"errors"
	"fmt"
)

// ErrInvalidSetting is returned by Setting.Validate.
var ErrInvalidSetting = errors.New("invalid compression setting")

// Setting is a (quality, max width) pair. Lower values are more aggressive.
type Setting struct {
	Quality  int `json:"quality" mapstructure:"quality"`
	MaxWidth int `json:"max_width" mapstructure:"max_width"`
}

// Validate reports whether quality is in [1,100] and MaxWidth is positive.
func (s Setting) Validate() error {
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("%w: quality %d out of range 1..100", ErrInvalidSetting, s.Quality)
	}
	if s.MaxWidth <= 0 {
		return fmt.Errorf("%w: max width %d must be positive", ErrInvalidSetting, s.MaxWidth)
	}
	return nil
}

// MoreAggressiveThan reports whether s is at least as aggressive as other in
// both dimensions and strictly more in one.
func (s Setting) MoreAggressiveThan(other Setting) bool {
	if s.Quality > other.Quality || s.MaxWidth > other.MaxWidth {
		return false
	}
	return s != other
}

func (s Setting) String() string {
	return fmt.Sprintf("q%d/w%d", s.Quality, s.MaxWidth)
}

// NextSetting steps cur towards floor: quality drops by qualityStep and max
// width by widthStep, neither going below the floor.
func NextSetting(cur, floor Setting, qualityStep, widthStep int) Setting {
	next := Setting{
		Quality:  cur.Quality - qualityStep,
		MaxWidth: cur.MaxWidth - widthStep,
	}
	if next.Quality < floor.Quality {
		next.Quality = floor.Quality
	}
	if next.MaxWidth < floor.MaxWidth {
		next.MaxWidth = floor.MaxWidth
	}
	return next
}

// MaxAttempts is the upper bound of encodes the aggressive pass spends on a
// single asset starting from start: the first encode plus one per quality step.
func MaxAttempts(start, floor Setting, qualityStep int) int {
	if qualityStep <= 0 || start.Quality <= floor.Quality {
		return 1
	}
	span := start.Quality - floor.Quality
	return 1 + (span+qualityStep-1)/qualityStep
}
