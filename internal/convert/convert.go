// Package convert is the offline conversion pass: decoded grayscale frames
// in, packed 1bpp records out. It runs once per clip; playback replays the
// resulting raw file without touching pixels again.
package convert

import (
	"context"
	"errors"
	"image"
	"io"

	xdraw "golang.org/x/image/draw"

	"github.com/adzialocha/it8951-video/internal/config"
	"github.com/adzialocha/it8951-video/internal/frame"
	"github.com/adzialocha/it8951-video/internal/log"
	"github.com/adzialocha/it8951-video/internal/rawfile"
)

// progressEvery controls how often conversion progress is logged.
const progressEvery = 50

// Run converts every frame from src into the raw file at outPath. Frames
// whose geometry differs from the configured panel geometry are rescaled
// first. The take stride is not applied here: all frames are stored, and
// playback skips.
//
// On failure the output is left truncated at a record boundary, complete up
// to the failing frame.
func Run(ctx context.Context, src *GraySource, outPath string, cfg *config.Config, dither frame.Ditherer) (int, error) {
	codec, err := frame.NewCodec(cfg.Width, cfg.Height, dither)
	if err != nil {
		return 0, err
	}

	writer, err := rawfile.Create(outPath, cfg.FrameSize())
	if err != nil {
		return 0, err
	}

	target := image.Rect(0, 0, cfg.Width, cfg.Height)
	for {
		if err := ctx.Err(); err != nil {
			writer.Close()
			return writer.Count(), err
		}

		img, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writer.Close()
			return writer.Count(), err
		}

		if img.Bounds() != target {
			scaled := image.NewGray(target)
			xdraw.BiLinear.Scale(scaled, target, img, img.Bounds(), xdraw.Src, nil)
			img = scaled
		}

		packed, err := codec.Encode(img)
		if err != nil {
			writer.Close()
			return writer.Count(), err
		}
		if err := writer.Append(packed); err != nil {
			writer.Close()
			return writer.Count(), err
		}

		if writer.Count()%progressEvery == 0 {
			log.Info("converting", "frames", writer.Count())
		}
	}

	count := writer.Count()
	if err := writer.Close(); err != nil {
		return count, err
	}
	return count, nil
}
