// Package player is the playback engine: it pulls packed frames from a raw
// file, pushes them through the slot ring into device memory, and times
// refresh-mode switching so the panel sustains video-like playback.
package player

import (
	"context"
	"fmt"

	"github.com/adzialocha/it8951-video/internal/config"
	"github.com/adzialocha/it8951-video/internal/frame"
	"github.com/adzialocha/it8951-video/internal/imagebuf"
	"github.com/adzialocha/it8951-video/internal/it8951"
	"github.com/adzialocha/it8951-video/internal/log"
	"github.com/adzialocha/it8951-video/internal/rawfile"
)

// State tracks a playback session. A Player runs exactly one session and is
// not reusable once it reaches a terminal state.
type State int

const (
	StateUninitialized State = iota
	StateModeActivated
	StatePlaying
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateModeActivated:
		return "mode-activated"
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Protocol is the controller surface the player drives. *it8951.Device
// implements it; tests substitute a recording fake.
type Protocol interface {
	SystemInfo() it8951.SystemInfo
	SetVCOM(volts float64) error
	EnablePackedPixel(width uint32) error
	FastWrite(addr uint32, data []byte) error
	Display(addr uint32, mode it8951.Mode, region it8951.Region) error
	ClearDisplay() error
}

// Player drives one playback session.
type Player struct {
	cfg       *config.Config
	dev       Protocol
	state     State
	displayed int
}

func New(cfg *config.Config, dev Protocol) *Player {
	return &Player{cfg: cfg, dev: dev}
}

// State returns the session state.
func (p *Player) State() State {
	return p.state
}

// Displayed is the number of frames shown so far.
func (p *Player) Displayed() int {
	return p.displayed
}

// prefetched is one raw-file read handed from the lookahead goroutine to the
// device-facing loop.
type prefetched struct {
	index int
	data  frame.Packed
	err   error
}

// Play runs the session against the raw file at path: activate packed-pixel
// mode once, then stream frames until the file is exhausted, the context is
// cancelled, or a device command fails.
func (p *Player) Play(ctx context.Context, path string) error {
	if p.state != StateUninitialized {
		return fmt.Errorf("player: session already %s", p.state)
	}

	// Uninitialized -> ModeActivated: one-time controller setup.
	info := p.dev.SystemInfo()
	if uint32(p.cfg.Width) > info.Width || uint32(p.cfg.Height) > info.Height {
		p.state = StateAborted
		return fmt.Errorf("player: video %dx%d exceeds panel %dx%d",
			p.cfg.Width, p.cfg.Height, info.Width, info.Height)
	}
	if err := p.dev.SetVCOM(p.cfg.VCOM); err != nil {
		p.state = StateAborted
		return err
	}
	if err := p.dev.EnablePackedPixel(uint32(p.cfg.Width)); err != nil {
		p.state = StateAborted
		return err
	}
	p.state = StateModeActivated

	// ModeActivated -> Playing: open the store, size the slot ring. The
	// image buffer region normally holds one 8bpp panel frame; packed
	// frames are 8x smaller, which is where the slots come from.
	reader, err := rawfile.Open(path, p.cfg.FrameSize())
	if err != nil {
		p.state = StateAborted
		return err
	}
	defer reader.Close()

	ring, err := imagebuf.NewRing(info.ImageBufferBase, info.Width*info.Height, p.cfg.FrameSize())
	if err != nil {
		p.state = StateAborted
		return err
	}
	p.state = StatePlaying

	log.Info("playback starting",
		"frames", reader.Count(),
		"take", p.cfg.Take,
		"ghost", p.cfg.Ghost,
		"slots", ring.Slots(),
		"buffer_base", fmt.Sprintf("0x%08x", info.ImageBufferBase),
	)

	// Session-scoped context: whatever way Play returns, the prefetch
	// goroutine must observe cancellation rather than block on a send to a
	// channel nobody drains anymore.
	ctx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	frames := p.prefetch(ctx, reader)
	region := it8951.Region{W: uint32(p.cfg.Width), H: uint32(p.cfg.Height)}

	for {
		// Cooperative cancel, checked between frames only (never
		// mid-command). The panel is cleared so it is not left holding
		// the last frame.
		if ctx.Err() != nil {
			return p.cancel()
		}

		select {
		case <-ctx.Done():
			return p.cancel()

		case pf, ok := <-frames:
			if !ok {
				p.state = StateFinished
				log.Info("playback finished", "displayed", p.displayed)
				return nil
			}
			if pf.err != nil {
				p.state = StateAborted
				return pf.err
			}

			slot := ring.Acquire()
			if err := p.dev.FastWrite(slot.Address(), pf.data); err != nil {
				p.state = StateAborted
				return err
			}

			mode := it8951.ModeFast
			if p.displayed%p.cfg.Ghost == 0 {
				mode = it8951.ModeFull
			}
			if err := p.dev.Display(slot.Address(), mode, region); err != nil {
				p.state = StateAborted
				return err
			}

			log.Debug("frame displayed",
				"source_index", pf.index,
				"slot", slot.Index(),
				"mode", mode,
			)
			p.displayed++
		}
	}
}

func (p *Player) cancel() error {
	p.state = StateAborted
	if err := p.dev.ClearDisplay(); err != nil {
		log.Error("clear on cancel failed", err)
	}
	log.Info("playback cancelled", "displayed", p.displayed)
	return nil
}

// prefetch reads every take-th frame one step ahead of the device loop. The
// channel capacity of 1 bounds the lookahead to a single frame; the
// device-facing calls stay serialized on the Play goroutine.
func (p *Player) prefetch(ctx context.Context, reader *rawfile.Reader) <-chan prefetched {
	out := make(chan prefetched, 1)
	go func() {
		defer close(out)
		for n := 0; ; n++ {
			index := n * p.cfg.Take
			if index >= reader.Count() {
				return
			}
			data, err := reader.ReadAt(index)
			select {
			case out <- prefetched{index: index, data: data, err: err}:
				if err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
