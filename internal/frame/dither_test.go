package frame

import (
	"bytes"
	"image"
	"testing"
)

func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = uint8((x * 255) / (w - 1))
		}
	}
	return img
}

func TestDitherOutputIsBilevel(t *testing.T) {
	for _, d := range []struct {
		name   string
		dither Ditherer
	}{
		{"bayer", NewBayer()},
		{"floyd-steinberg", NewFloydSteinberg()},
	} {
		t.Run(d.name, func(t *testing.T) {
			img := gradient(64, 16)
			d.dither.Apply(img)
			for i, v := range img.Pix {
				if v != 0x00 && v != 0xff {
					t.Fatalf("sample %d = %#02x, want 0x00 or 0xff", i, v)
				}
			}
		})
	}
}

func TestBayerIsPositionStable(t *testing.T) {
	// Identical frames must quantize identically, so static regions of a
	// video do not shimmer between frames.
	a := gradient(64, 16)
	b := gradient(64, 16)

	d := NewBayer()
	d.Apply(a)
	d.Apply(b)

	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("identical input frames dithered differently")
	}
}

func TestBayerSubImagePhase(t *testing.T) {
	// Dithering a sub-image must quantize its pixels exactly as dithering
	// the full frame would: the matrix phase is tied to absolute
	// coordinates, not to the region origin.
	full := gradient(16, 8)
	other := gradient(16, 8)
	sub := other.SubImage(image.Rect(4, 2, 12, 8)).(*image.Gray)

	d := NewBayer()
	d.Apply(full)
	d.Apply(sub)

	for y := 2; y < 8; y++ {
		for x := 4; x < 12; x++ {
			got := other.Pix[y*other.Stride+x]
			want := full.Pix[y*full.Stride+x]
			if got != want {
				t.Fatalf("pixel (%d,%d) = %#02x via sub-image, %#02x via full frame", x, y, got, want)
			}
		}
	}
}

func TestBayerPreservesMeanRoughly(t *testing.T) {
	// A flat mid-gray field should come out roughly half white.
	img := grayFilled(64, 64, 0x80)
	NewBayer().Apply(img)

	white := 0
	for _, v := range img.Pix {
		if v == 0xff {
			white++
		}
	}
	total := len(img.Pix)
	if white < total*4/10 || white > total*6/10 {
		t.Errorf("mid-gray dithered to %d/%d white pixels", white, total)
	}
}

func TestDithererByName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"", true},
		{"bayer", true},
		{"ordered", true},
		{"floyd-steinberg", true},
		{"fs", true},
		{"random", false},
	}
	for _, tt := range tests {
		d, ok := DithererByName(tt.name)
		if ok != tt.ok {
			t.Errorf("DithererByName(%q) ok = %v, want %v", tt.name, ok, tt.ok)
		}
		if ok && d == nil {
			t.Errorf("DithererByName(%q) returned nil ditherer", tt.name)
		}
	}
}
