package frame

import "image"

// Ditherer maps each grayscale sample to a binary decision. Apply quantizes
// img in place; every sample is 0x00 or 0xff afterwards. The kernel is a
// replaceable strategy: only the bilevel output contract is fixed.
type Ditherer interface {
	Apply(img *image.Gray)
}

// bayer8 is a classic 8x8 ordered dither matrix, values 0..63.
var bayer8 = [8][8]uint8{
	{0, 32, 8, 40, 2, 34, 10, 42},
	{48, 16, 56, 24, 50, 18, 58, 26},
	{12, 44, 4, 36, 14, 46, 6, 38},
	{60, 28, 52, 20, 62, 30, 54, 22},
	{3, 35, 11, 43, 1, 33, 9, 41},
	{51, 19, 59, 27, 49, 17, 57, 25},
	{15, 47, 7, 39, 13, 45, 5, 37},
	{63, 31, 55, 23, 61, 29, 53, 21},
}

// Bayer is an ordered (threshold-matrix) ditherer. It is position-stable:
// the same sample at the same coordinate always quantizes the same way,
// which keeps static regions of consecutive video frames from shimmering.
type Bayer struct {
	thresholds [8][8]uint8
}

func NewBayer() *Bayer {
	var d Bayer
	for y := range bayer8 {
		for x := range bayer8[y] {
			// Spread 0..63 over the 0..255 sample range, centered.
			d.thresholds[y][x] = bayer8[y][x]*4 + 2
		}
	}
	return &d
}

func (d *Bayer) Apply(img *image.Gray) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		// Matrix phase follows absolute pixel coordinates, so sub-images
		// quantize identically to the full frame.
		trow := &d.thresholds[y&7]
		for x := 0; x < b.Dx(); x++ {
			if row[x] > trow[(b.Min.X+x)&7] {
				row[x] = 0xff
			} else {
				row[x] = 0x00
			}
		}
	}
}

// FloydSteinberg is an error-diffusion ditherer. It produces smoother
// gradients than the ordered matrix at the cost of frame-to-frame noise in
// static regions, so it suits stills better than video.
type FloydSteinberg struct{}

func NewFloydSteinberg() *FloydSteinberg {
	return &FloydSteinberg{}
}

func (FloydSteinberg) Apply(img *image.Gray) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// Quantization error carried into the current and next row.
	cur := make([]int32, w+2)
	next := make([]int32, w+2)

	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			v := int32(row[x]) + cur[x+1]

			var out uint8
			if v >= 128 {
				out = 0xff
			}
			row[x] = out

			// 7/16 right, 3/16 below-left, 5/16 below, 1/16 below-right.
			e := v - int32(out)
			cur[x+2] += e * 7 / 16
			next[x] += e * 3 / 16
			next[x+1] += e * 5 / 16
			next[x+2] += e / 16
		}
		cur, next = next, cur
		for i := range next {
			next[i] = 0
		}
	}
}

// DithererByName resolves the CLI/config spelling of a kernel.
func DithererByName(name string) (Ditherer, bool) {
	switch name {
	case "", "bayer", "ordered":
		return NewBayer(), true
	case "floyd-steinberg", "fs":
		return NewFloydSteinberg(), true
	default:
		return nil, false
	}
}
