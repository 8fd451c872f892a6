package stitch

import (
	"image/color"

	"github.com/fogleman/gg"

	"panoramer/internal/imaging"
)

var (
	inlierColor  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	outlierColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	matchColor   = color.RGBA{R: 0, G: 128, B: 255, A: 255}
	markerColor  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

const markerRadius = 3

// DrawMatches places left and right side by side on a black canvas and joins
// every matched keypoint pair. A match's DstIndex refers to left and its
// SrcIndex to right. With an inlier mask lines are green for inliers and red
// for outliers, without one every line is blue.
func DrawMatches(left, right *imaging.Image, leftKps, rightKps KeypointSet, matches []Match, inliers []bool) *imaging.Image {
	width := left.Width + right.Width
	height := max(left.Height, right.Height)

	dc := gg.NewContext(width, height)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.DrawImage(left.ToStd(), 0, 0)
	dc.DrawImage(right.ToStd(), left.Width, 0)
	dc.SetLineWidth(1)

	shift := float64(left.Width)
	for i, m := range matches {
		p := leftKps[m.DstIndex].Point
		q := rightKps[m.SrcIndex].Point
		q.X += shift

		switch {
		case inliers == nil:
			dc.SetColor(matchColor)
		case inliers[i]:
			dc.SetColor(inlierColor)
		default:
			dc.SetColor(outlierColor)
		}
		dc.DrawLine(p.X, p.Y, q.X, q.Y)
		dc.Stroke()

		dc.SetColor(markerColor)
		dc.DrawCircle(p.X, p.Y, markerRadius)
		dc.Stroke()
		dc.DrawCircle(q.X, q.Y, markerRadius)
		dc.Stroke()
	}
	return imaging.FromStd(dc.Image())
}
