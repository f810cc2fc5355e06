// it8951-play plays a converted raw frame file on an IT8951-controlled
// e-paper panel over USB. With -schedule (or a schedule in the config file)
// it runs as a signage daemon and replays the clip at each cron tick.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/adzialocha/it8951-video/internal/config"
	"github.com/adzialocha/it8951-video/internal/it8951"
	appLog "github.com/adzialocha/it8951-video/internal/log"
	"github.com/adzialocha/it8951-video/internal/player"
	"github.com/adzialocha/it8951-video/internal/usb"
)

type flagConfig struct {
	configPath string
	in         string
	take       int
	ghost      int
	vcom       float64
	schedule   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if flags.take > 0 {
		conf.Take = flags.take
	}
	if flags.ghost > 0 {
		conf.Ghost = flags.ghost
	}
	if flags.vcom != 0 {
		conf.VCOM = flags.vcom
	}
	if flags.schedule != "" {
		conf.Schedule = flags.schedule
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid configuration", err)
		os.Exit(1)
	}
	if flags.in == "" {
		appLog.Error("missing required flag", nil, "flag", "-in")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	transport, err := usb.Open(usb.Config{
		VendorID:  conf.USB.VendorID,
		ProductID: conf.USB.ProductID,
	})
	if err != nil {
		appLog.Error("failed to open USB transport", err,
			"vendor_id", fmt.Sprintf("0x%04x", conf.USB.VendorID),
			"product_id", fmt.Sprintf("0x%04x", conf.USB.ProductID),
		)
		os.Exit(1)
	}

	dev, err := it8951.Open(transport)
	if err != nil {
		appLog.Error("failed to talk to controller", err)
		transport.Close()
		os.Exit(1)
	}
	defer dev.Close()

	if inq, err := dev.Inquiry(); err == nil {
		appLog.Info("controller identified",
			"vendor", inq.Vendor,
			"product", inq.Product,
			"revision", inq.Revision,
		)
	}

	info := dev.SystemInfo()
	appLog.Info("panel connected",
		"panel_width", info.Width,
		"panel_height", info.Height,
		"video_width", conf.Width,
		"video_height", conf.Height,
		"buffer_base", fmt.Sprintf("0x%08x", info.ImageBufferBase),
		"vcom", conf.VCOM,
	)

	if conf.Schedule == "" {
		if err := player.New(conf, dev).Play(ctx, flags.in); err != nil {
			appLog.Error("playback failed", err)
			os.Exit(1)
		}
		return
	}

	runScheduled(ctx, conf, dev, flags.in)
}

// runScheduled replays the clip at every cron tick until the context is
// cancelled. A tick that fires while the previous session is still playing
// is skipped rather than queued.
func runScheduled(ctx context.Context, conf *config.Config, dev *it8951.Device, path string) {
	var busy atomic.Bool

	c := cron.New()
	_, err := c.AddFunc(conf.Schedule, func() {
		if !busy.CompareAndSwap(false, true) {
			appLog.Info("previous session still playing, skipping tick")
			return
		}
		defer busy.Store(false)

		if err := player.New(conf, dev).Play(ctx, path); err != nil {
			appLog.Error("scheduled playback failed", err)
			// A failed command may leave the controller desynchronized;
			// reset it so the next tick starts from a known state.
			if errors.Is(err, it8951.ErrDeviceCommand) {
				if _, rerr := dev.Reset(); rerr != nil {
					appLog.Error("controller reset failed", rerr)
				} else {
					appLog.Info("controller reset after failed session")
				}
			}
		}
	})
	if err != nil {
		appLog.Error("invalid cron schedule", err, "schedule", conf.Schedule)
		os.Exit(1)
	}

	appLog.Info("signage mode", "schedule", conf.Schedule, "input", path)
	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	appLog.Info("signage mode stopped")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/it8951-video/config.yaml", "Path to config file")
	flag.StringVar(&cfg.in, "in", "", "Input raw frame file")
	flag.IntVar(&cfg.take, "take", 0, "Render every nth stored frame (overrides config)")
	flag.IntVar(&cfg.ghost, "ghost", 0, "Full refresh every nth displayed frame (overrides config)")
	flag.Float64Var(&cfg.vcom, "vcom", 0, "Panel VCOM voltage (overrides config)")
	flag.StringVar(&cfg.schedule, "schedule", "", "Cron expression for signage mode (overrides config)")

	flag.Parse()

	return cfg
}
