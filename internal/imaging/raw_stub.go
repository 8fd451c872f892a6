//go:build !imagick
// +build !imagick

package imaging

import "fmt"

// decodeRAW returns an error when built without the imagick tag.
func decodeRAW(path string) (*Image, error) {
	return nil, fmt.Errorf("%s: RAW decoding requires the imagick build tag", path)
}
