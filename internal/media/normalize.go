package media

import (
	"image"

	"github.com/disintegration/imaging"
)

// ImageNet channel statistics.
var (
	channelMean = [Channels]float32{0.485, 0.456, 0.406}
	channelStd  = [Channels]float32{0.229, 0.224, 0.225}
)

// NormalizeImage resizes img to width x height and returns its normalized
// CHW tensor.
func NormalizeImage(img image.Image, width, height int) []float32 {
	resized := imaging.Resize(img, width, height, imaging.Lanczos)
	return NormalizeRGB(resized.Pix, resized.Stride, 4, width, height)
}

// NormalizeRGB converts interleaved 8-bit pixels into a normalized CHW
// tensor. step is the byte distance between pixels (3 for rgb24, 4 for RGBA).
func NormalizeRGB(pix []byte, stride, step, width, height int) []float32 {
	plane := width * height
	out := make([]float32, Channels*plane)
	for y := 0; y < height; y++ {
		row := pix[y*stride:]
		for x := 0; x < width; x++ {
			px := row[x*step:]
			i := y*width + x
			for c := 0; c < Channels; c++ {
				v := float32(px[c]) / 255
				out[c*plane+i] = (v - channelMean[c]) / channelStd[c]
			}
		}
	}
	return out
}
