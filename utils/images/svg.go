// Package images keeps raster helpers used for cover thumbnails.
package images

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// size used when SVG has no usable viewBox
const defaultSVGSize = 1024

// maxRasterDim limits width and height of rasterized SVG, enormous viewBox
// values would otherwise allocate gigabytes for RGBA buffer.
var maxRasterDim = 4096

// FitBox returns size of w x h scaled to fit into boxW x boxH keeping aspect
// ratio. Zero box dimension means "unconstrained".
func FitBox(w, h, boxW, boxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return max(boxW, 1), max(boxH, 1)
	}
	switch {
	case boxW <= 0 && boxH <= 0:
		// keep size
	case boxH <= 0:
		h = int(math.Round(float64(boxW) * float64(h) / float64(w)))
		w = boxW
	case boxW <= 0:
		w = int(math.Round(float64(boxH) * float64(w) / float64(h)))
		h = boxH
	default:
		scale := math.Min(float64(boxW)/float64(w), float64(boxH)/float64(h))
		w = int(math.Round(float64(w) * scale))
		h = int(math.Round(float64(h) * scale))
	}
	return max(w, 1), max(h, 1)
}

// RasterizeSVG renders SVG on white background. Size is viewBox size fitted
// into targetW x targetH (see FitBox).
func RasterizeSVG(svgData []byte, targetW, targetH int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData), oksvg.WarnErrorMode)
	if err != nil {
		return nil, err
	}

	intrW := int(math.Ceil(icon.ViewBox.W))
	intrH := int(math.Ceil(icon.ViewBox.H))
	if intrW <= 0 {
		intrW = defaultSVGSize
	}
	if intrH <= 0 {
		intrH = defaultSVGSize
	}

	w, h := FitBox(intrW, intrH, targetW, targetH)
	if w > maxRasterDim || h > maxRasterDim {
		w, h = FitBox(w, h, maxRasterDim, maxRasterDim)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)
	return dst, nil
}
