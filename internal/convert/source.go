package convert

import (
	"errors"
	"fmt"
	"image"
	"io"
)

// GraySource yields decoded frames from a raw gray8 video stream: width x
// height bytes per frame, one byte per pixel, no header, frames back to
// back. That is exactly what
//
//	ffmpeg -i input.mp4 -f rawvideo -pix_fmt gray -
//
// writes on stdout, keeping container/codec decoding outside this module.
type GraySource struct {
	r      io.Reader
	width  int
	height int
	count  int
}

func NewGraySource(r io.Reader, width, height int) (*GraySource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("convert: invalid source geometry %dx%d", width, height)
	}
	return &GraySource{r: r, width: width, height: height}, nil
}

// Next reads the next frame into a fresh image. It returns io.EOF at a clean
// end of stream; a stream ending mid-frame is reported as an error.
func (s *GraySource) Next() (*image.Gray, error) {
	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	if _, err := io.ReadFull(s.r, img.Pix); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("convert: input truncated mid-frame at frame %d", s.count)
		}
		return nil, fmt.Errorf("convert: read frame %d: %w", s.count, err)
	}
	s.count++
	return img, nil
}
