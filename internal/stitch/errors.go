package stitch

import (
	"errors"
)

// Failure kinds. Every component returns one of these (wrapped with context)
// instead of substituting a default.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInsufficientFeatures = errors.New("insufficient features")
	ErrInsufficientMatches  = errors.New("insufficient matches")
	ErrDegenerateHomography = errors.New("degenerate homography")
	ErrCompositingFailure   = errors.New("compositing failure")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "InvalidInput"},
	{ErrInsufficientFeatures, "InsufficientFeatures"},
	{ErrInsufficientMatches, "InsufficientMatches"},
	{ErrDegenerateHomography, "DegenerateHomography"},
	{ErrCompositingFailure, "CompositingFailure"},
}

// Kind names the failure kind of err, "" for nil and "Internal" for errors
// that did not originate in the stitching core.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
