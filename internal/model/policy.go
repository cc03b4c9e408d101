package model

import (
	"fmt"

	"github.com/and161185/skin-sync/internal/errs"
)

// Accepted-size policy bounds.
const (
	MinResolution        = 64
	DefaultMaxResolution = 8192

	LegacyWidth       = 64
	LegacyHeight      = 64
	LegacyShortHeight = 32
)

// ValidDimensions reports whether w x h is accepted: the legacy 64x64 / 64x32
// pair, or a square power of two in [MinResolution, maxRes].
// maxRes <= 0 means DefaultMaxResolution.
func ValidDimensions(w, h, maxRes int) bool {
	if w == LegacyWidth && (h == LegacyHeight || h == LegacyShortHeight) {
		return true
	}
	if maxRes <= 0 {
		maxRes = DefaultMaxResolution
	}
	return w == h && w >= MinResolution && w <= maxRes && w&(w-1) == 0
}

// CheckDimensions is ValidDimensions returning errs.ErrDimensions.
func CheckDimensions(w, h, maxRes int) error {
	if !ValidDimensions(w, h, maxRes) {
		return fmt.Errorf("%dx%d: %w", w, h, errs.ErrDimensions)
	}
	return nil
}
