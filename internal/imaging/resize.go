package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// ResizeToWidth scales m to the given width keeping its aspect ratio. The new
// height is truncated, never rounded. A non-positive width returns a copy.
func ResizeToWidth(m *Image, width int) *Image {
	if width <= 0 {
		return m.Clone()
	}
	ratio := float64(width) / float64(m.Width)
	return Resize(m, width, int(float64(m.Height)*ratio))
}

// ResizeToHeight scales m to the given height keeping its aspect ratio. The
// new width is truncated, never rounded. A non-positive height returns a copy.
func ResizeToHeight(m *Image, height int) *Image {
	if height <= 0 {
		return m.Clone()
	}
	ratio := float64(height) / float64(m.Height)
	return Resize(m, int(float64(m.Width)*ratio), height)
}

// Resize resamples m to exactly width x height with a Catmull-Rom kernel.
func Resize(m *Image, width, height int) *Image {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width == m.Width && height == m.Height {
		return m.Clone()
	}

	rect := image.Rect(0, 0, width, height)
	var dst draw.Image
	if m.Channels == 1 {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.CatmullRom.Scale(dst, rect, m.ToStd(), m.Bounds(), draw.Src, nil)
	return FromStd(dst)
}
