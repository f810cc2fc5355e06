// Package frame converts decoded grayscale video frames into the packed
// 1bpp format the IT8951 consumes in packed-pixel mode.
//
// The conversion is the only lossy stage of the pipeline and runs exactly
// once per frame, during the offline convert pass: error diffusion over every
// pixel is far too expensive to repeat at display refresh rates.
package frame

import (
	"errors"
	"fmt"
	"image"
)

// ErrDimensionMismatch is returned when a decoded frame's geometry disagrees
// with the configured panel geometry.
var ErrDimensionMismatch = errors.New("frame: dimension mismatch")

// Packed is a 1bpp frame of exactly width*height/8 bytes. Bit i of the
// frame (MSB-first within each byte) encodes pixel i: 0 = black, 1 = white.
// A Packed buffer is never modified after Encode returns it.
type Packed []byte

// Codec encodes decoded frames for one fixed geometry.
type Codec struct {
	width  int
	height int
	dither Ditherer
}

// NewCodec validates the geometry and returns a codec using the given
// dithering strategy. The pixel count must be divisible by 8; packing does
// not pad partial bytes.
func NewCodec(width, height int, dither Ditherer) (*Codec, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frame: invalid geometry %dx%d", width, height)
	}
	if (width*height)%8 != 0 {
		return nil, fmt.Errorf("frame: %dx%d pixels do not pack to whole bytes", width, height)
	}
	if dither == nil {
		dither = NewBayer()
	}
	return &Codec{width: width, height: height, dither: dither}, nil
}

// Size is the packed frame size in bytes.
func (c *Codec) Size() int {
	return c.width * c.height / 8
}

// Encode dithers src down to black/white and packs it MSB-first, one bit per
// pixel, 1 = white. src is consumed: the dithering pass quantizes its samples
// in place and the caller must not reuse it afterwards.
func (c *Codec) Encode(src *image.Gray) (Packed, error) {
	b := src.Bounds()
	if b.Dx() != c.width || b.Dy() != c.height {
		return nil, fmt.Errorf("%w: frame is %dx%d, configured %dx%d",
			ErrDimensionMismatch, b.Dx(), b.Dy(), c.width, c.height)
	}

	c.dither.Apply(src)

	packed := make(Packed, c.Size())
	for y := 0; y < c.height; y++ {
		rowOff := src.PixOffset(b.Min.X, b.Min.Y+y)
		srcRow := src.Pix[rowOff : rowOff+c.width]
		for x := 0; x < c.width; x++ {
			if srcRow[x] >= 0x80 {
				i := y*c.width + x
				packed[i>>3] |= 0x80 >> (i & 7)
			}
		}
	}

	return packed, nil
}

// Unpack expands a packed frame back into a bilevel grayscale image
// (0x00/0xff samples). Used for previews and round-trip verification.
func Unpack(p Packed, width, height int) (*image.Gray, error) {
	if len(p)*8 != width*height {
		return nil, fmt.Errorf("frame: packed buffer is %d bytes, geometry %dx%d needs %d",
			len(p), width, height, width*height/8)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		if p[i>>3]&(0x80>>(i&7)) != 0 {
			img.Pix[i] = 0xff
		}
	}
	return img, nil
}
