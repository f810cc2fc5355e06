package it8951

import "fmt"

// Mode is an IT8951 waveform/refresh mode, attached per display command.
type Mode uint32

const (
	ModeINIT  Mode = iota // full clear to white
	ModeDU                // direct update, 1bpp, fast
	ModeGC16              // 16-level grayscale clear
	ModeGL16              // 16-level grayscale, reduced flash
	ModeGLR16             // GL16 with reduced temperature range
	ModeGLD16             // GL16 with dithering
	ModeDU4               // 4-level direct update
	ModeA2                // 2-level animation mode, flashless
)

// Playback uses exactly two of the waveforms: A2 for every frame by default
// (lowest latency, no visible flash, 1bpp payloads only) and GL16 as the
// periodic ghost-clearing full refresh.
const (
	ModeFast = ModeA2
	ModeFull = ModeGL16
)

func (m Mode) String() string {
	switch m {
	case ModeINIT:
		return "INIT"
	case ModeDU:
		return "DU"
	case ModeGC16:
		return "GC16"
	case ModeGL16:
		return "GL16"
	case ModeGLR16:
		return "GLR16"
	case ModeGLD16:
		return "GLD16"
	case ModeDU4:
		return "DU4"
	case ModeA2:
		return "A2"
	default:
		// Some panels (Waveshare 7.8") report modes past A2.
		return fmt.Sprintf("Mode(%d)", uint32(m))
	}
}
