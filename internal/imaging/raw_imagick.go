//go:build imagick
// +build imagick

package imaging

import (
	"bytes"
	"fmt"
	"image/png"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// decodeRAW develops a camera RAW file with ImageMagick and decodes the
// resulting PNG blob.
func decodeRAW(path string) (*Image, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("read RAW %s: %w", path, err)
	}
	if err := mw.AutoOrientImage(); err != nil {
		return nil, fmt.Errorf("orient RAW %s: %w", path, err)
	}
	if err := mw.SetImageDepth(8); err != nil {
		return nil, fmt.Errorf("set depth for %s: %w", path, err)
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return nil, fmt.Errorf("convert RAW %s: %w", path, err)
	}

	img, err := png.Decode(bytes.NewReader(mw.GetImageBlob()))
	if err != nil {
		return nil, fmt.Errorf("decode developed RAW %s: %w", path, err)
	}
	return FromStd(img), nil
}
