package purfectdrive

import (
	"testing"

	colorful "github.com/lucasb-eyer/go-colorful"
)

func TestPaletteEndpoints(t *testing.T) {
	for _, size := range []int{2, 256, 512, 1024, 2048} {
		p := NewSixelPalette(size)
		if p.Size() != size {
			t.Fatalf("size %d: got %d", size, p.Size())
		}
		if p.Color(0) != (RGB{0, 0, 0}) {
			t.Errorf("size %d: register 0 = %+v, want black", size, p.Color(0))
		}
		if p.Color(size-1) != (RGB{255, 255, 255}) {
			t.Errorf("size %d: register %d = %+v, want white", size, size-1, p.Color(size-1))
		}
	}
}

func TestPaletteInvalidSizeFallsBack(t *testing.T) {
	p := NewSixelPalette(77)
	if p.Size() != 256 {
		t.Fatalf("invalid size coerced to %d, want 256", p.Size())
	}
}

func TestPaletteSortedAscending(t *testing.T) {
	p := NewSixelPalette(256)
	// Interior registers are sorted by packed RGB; the pinned endpoints sit
	// at the extremes by construction.
	for i := 2; i < p.Size()-1; i++ {
		if p.Color(i).Packed() < p.Color(i-1).Packed() {
			t.Fatalf("palette not sorted at %d: %v then %v", i, p.Color(i-1), p.Color(i))
		}
	}
}

func TestPaletteBucketMembership(t *testing.T) {
	p := NewSixelPalette(256)
	for h := 0; h < p.hueBins; h++ {
		for s := 0; s < p.satBins; s++ {
			for l := 0; l < p.lumBins; l++ {
				ins := p.bucketIndex(h, s, l)
				reg := p.RegisterForBucket(ins)
				if reg == 0 || reg == p.Size()-1 {
					continue // pinned endpoints replace their bucket color
				}
				c := p.Color(reg)
				cf := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
				hue, _, _ := cf.Hsl()
				// Saturation and luminance drift under RGB clamping, but
				// the hue must stay inside the generating bin for
				// chromatic buckets.
				_, sat, _ := cf.Hsl()
				if sat < 1e-6 {
					continue // achromatic, hue undefined
				}
				hb := int(hue / 360.0 * float64(p.hueBins))
				if hb >= p.hueBins {
					hb = p.hueBins - 1
				}
				if hb != h {
					t.Fatalf("bucket (%d,%d,%d) register %d has hue bin %d", h, s, l, reg, hb)
				}
			}
		}
	}
}

func TestMonoPaletteThreshold(t *testing.T) {
	p := NewSixelPalette(2)
	if p.Nearest(RGB{0, 0, 0}) != 0 {
		t.Fatal("black must map to register 0")
	}
	if p.Nearest(RGB{255, 255, 255}) != 1 {
		t.Fatal("white must map to register 1")
	}
	// 108^2 * 3 = 34992 < 35568; just below the threshold stays black
	if p.Nearest(RGB{108, 108, 108}) != 0 {
		t.Fatal("dark gray must map to black")
	}
	if p.Nearest(RGB{110, 110, 110}) != 1 {
		t.Fatal("light gray must map to white")
	}
}

func TestNearestExactColors(t *testing.T) {
	p := NewSixelPalette(1024)
	cases := []RGB{
		{0, 0, 0},
		{255, 255, 255},
		{255, 0, 0},
		{0, 128, 255},
		{40, 200, 90},
	}
	for _, want := range cases {
		reg := p.Nearest(want)
		got := p.Color(reg)
		// The nearest register must be at least as close as pure black
		// and pure white, which are always probed.
		if sqDist(want, got) > sqDist(want, RGB{0, 0, 0}) ||
			sqDist(want, got) > sqDist(want, RGB{255, 255, 255}) {
			t.Errorf("Nearest(%v) = %v (register %d) is worse than an endpoint", want, got, reg)
		}
	}
}

func TestNearestIsStable(t *testing.T) {
	p := NewSixelPalette(256)
	probe := RGB{123, 45, 210}
	first := p.Nearest(probe)
	for i := 0; i < 10; i++ {
		if p.Nearest(probe) != first {
			t.Fatal("Nearest is not deterministic")
		}
	}
}
