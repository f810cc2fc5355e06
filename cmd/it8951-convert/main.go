// it8951-convert turns a decoded video stream into a packed 1bpp raw frame
// file for later playback on an IT8951-driven e-paper panel.
//
// The heavy lifting (container demuxing, codec decoding) stays outside: the
// input is a raw gray8 stream, typically piped from ffmpeg:
//
//	ffmpeg -i clip.mp4 -f rawvideo -pix_fmt gray - | it8951-convert -out clip.raw
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/adzialocha/it8951-video/internal/config"
	"github.com/adzialocha/it8951-video/internal/convert"
	"github.com/adzialocha/it8951-video/internal/frame"
	appLog "github.com/adzialocha/it8951-video/internal/log"
)

type flagConfig struct {
	configPath string
	in         string
	out        string
	srcWidth   int
	srcHeight  int
	width      int
	height     int
	dither     string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if flags.width > 0 {
		conf.Width = flags.width
	}
	if flags.height > 0 {
		conf.Height = flags.height
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid configuration", err)
		os.Exit(1)
	}
	if flags.out == "" {
		appLog.Error("missing required flag", nil, "flag", "-out")
		os.Exit(1)
	}

	dither, ok := frame.DithererByName(flags.dither)
	if !ok {
		appLog.Error("unknown dither kernel", nil, "dither", flags.dither)
		os.Exit(1)
	}

	// Source geometry defaults to the panel geometry (no rescaling).
	srcWidth, srcHeight := flags.srcWidth, flags.srcHeight
	if srcWidth == 0 {
		srcWidth = conf.Width
	}
	if srcHeight == 0 {
		srcHeight = conf.Height
	}

	in := os.Stdin
	if flags.in != "-" {
		f, err := os.Open(flags.in)
		if err != nil {
			appLog.Error("failed to open input", err, "path", flags.in)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	src, err := convert.NewGraySource(in, srcWidth, srcHeight)
	if err != nil {
		appLog.Error("invalid source geometry", err)
		os.Exit(1)
	}

	appLog.Info("conversion starting",
		"out", flags.out,
		"width", conf.Width,
		"height", conf.Height,
		"src_width", srcWidth,
		"src_height", srcHeight,
		"dither", flags.dither,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, stopping conversion", "signal", sig.String())
		cancel()
	}()

	count, err := convert.Run(ctx, src, flags.out, conf, dither)
	if err != nil {
		appLog.Error("conversion failed", err, "frames_written", count)
		os.Exit(1)
	}

	appLog.Info("conversion complete",
		"frames", count,
		"frame_size", conf.FrameSize(),
		"out", flags.out,
	)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/it8951-video/config.yaml", "Path to config file")
	flag.StringVar(&cfg.in, "in", "-", "Raw gray8 input stream (file path or - for stdin)")
	flag.StringVar(&cfg.out, "out", "", "Output raw frame file")
	flag.IntVar(&cfg.srcWidth, "src-width", 0, "Decoder frame width (defaults to panel width)")
	flag.IntVar(&cfg.srcHeight, "src-height", 0, "Decoder frame height (defaults to panel height)")
	flag.IntVar(&cfg.width, "width", 0, "Video width on the panel (overrides config)")
	flag.IntVar(&cfg.height, "height", 0, "Video height on the panel (overrides config)")
	flag.StringVar(&cfg.dither, "dither", "bayer", "Dither kernel: bayer or floyd-steinberg")

	flag.Parse()

	return cfg
}
