//go:build !gocv

package stitch

import (
	"fmt"
)

func newSIFTExtractor(Config) (FeatureExtractor, error) {
	return nil, fmt.Errorf("sift detector requires a build with the gocv tag")
}
