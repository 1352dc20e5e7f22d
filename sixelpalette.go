package purfectdrive

import (
	"sort"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Brightness threshold (squared RGB magnitude) separating black from white
// in the 2-color palette.
const monoThreshold = 35568

// sixelBits maps a requested palette size to the hue/saturation/luminance
// bucket subdivision.  Size 2 is handled separately as a black/white
// palette; any other size not listed falls back to 256.
var sixelBits = map[int][3]int{
	256:  {4, 2, 2},
	512:  {5, 2, 2},
	1024: {5, 3, 2},
	2048: {5, 3, 3},
}

// SixelPalette is a fixed set of RGB registers for sixel emission.  The
// registers are generated from an HSL grid, sorted ascending by packed RGB
// value, with register 0 pinned to pure black and register N-1 pinned to
// pure white.  A reverse map preserves each bucket's original bin position
// so nearest-color lookups can be answered by scanning only the buckets
// bracketing the probe's hue and saturation.
type SixelPalette struct {
	size    int
	hueBins int
	satBins int
	lumBins int

	// colors is the final palette in sorted register order.
	colors []RGB
	// sortedIndex maps an HSL bucket's linear (insertion) index to its
	// register number after sorting.
	sortedIndex []int
}

// NewSixelPalette builds a palette of the requested size.  Valid sizes are
// 2, 256, 512, 1024 and 2048; invalid sizes are coerced to 256.
func NewSixelPalette(size int) *SixelPalette {
	if size == 2 {
		return &SixelPalette{
			size:        2,
			colors:      []RGB{{0, 0, 0}, {255, 255, 255}},
			sortedIndex: []int{0, 1},
		}
	}
	bits, ok := sixelBits[size]
	if !ok {
		size = 256
		bits = sixelBits[256]
	}
	p := &SixelPalette{
		size:    size,
		hueBins: 1 << bits[0],
		satBins: 1 << bits[1],
		lumBins: 1 << bits[2],
	}
	p.build()
	return p
}

// build fills every HSL bucket with its midpoint RGB, sorts by packed value
// and pins the endpoints.
func (p *SixelPalette) build() {
	n := p.hueBins * p.satBins * p.lumBins
	insertion := make([]RGB, n)
	for h := 0; h < p.hueBins; h++ {
		for s := 0; s < p.satBins; s++ {
			for l := 0; l < p.lumBins; l++ {
				hue := (float64(h) + 0.5) * 360.0 / float64(p.hueBins)
				sat := (float64(s) + 0.5) / float64(p.satBins)
				lum := (float64(l) + 0.5) / float64(p.lumBins)
				c := colorful.Hsl(hue, sat, lum).Clamped()
				insertion[p.bucketIndex(h, s, l)] = RGB{
					R: uint8(c.R*255 + 0.5),
					G: uint8(c.G*255 + 0.5),
					B: uint8(c.B*255 + 0.5),
				}
			}
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return insertion[order[a]].Packed() < insertion[order[b]].Packed()
	})

	p.colors = make([]RGB, n)
	p.sortedIndex = make([]int, n)
	for reg, ins := range order {
		p.colors[reg] = insertion[ins]
		p.sortedIndex[ins] = reg
	}
	// Registers 0 and N-1 always decode to pure black and pure white, so
	// thresholded bilevel content renders exactly.
	p.colors[0] = RGB{0, 0, 0}
	p.colors[n-1] = RGB{255, 255, 255}
}

func (p *SixelPalette) bucketIndex(h, s, l int) int {
	return (h*p.satBins+s)*p.lumBins + l
}

// Size returns the register count.
func (p *SixelPalette) Size() int { return p.size }

// Color returns the RGB value of register reg.
func (p *SixelPalette) Color(reg int) RGB {
	if reg < 0 || reg >= len(p.colors) {
		return RGB{}
	}
	return p.colors[reg]
}

// RegisterForBucket translates an HSL bucket's insertion index to its final
// register number.
func (p *SixelPalette) RegisterForBucket(idx int) int {
	if idx < 0 || idx >= len(p.sortedIndex) {
		return 0
	}
	return p.sortedIndex[idx]
}

func sqDist(a, b RGB) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}

// Nearest returns the register whose color is closest to rgb.  For the
// 2-color palette a plain brightness threshold decides; otherwise only the
// buckets bracketing the probe's hue and saturation bins are scanned, plus
// the pinned black and white registers.
func (p *SixelPalette) Nearest(rgb RGB) int {
	if p.size == 2 {
		mag := int(rgb.R)*int(rgb.R) + int(rgb.G)*int(rgb.G) + int(rgb.B)*int(rgb.B)
		if mag < monoThreshold {
			return 0
		}
		return 1
	}

	c := colorful.Color{R: float64(rgb.R) / 255, G: float64(rgb.G) / 255, B: float64(rgb.B) / 255}
	hue, sat, _ := c.Hsl()

	hb := int(hue / 360.0 * float64(p.hueBins))
	if hb >= p.hueBins {
		hb = p.hueBins - 1
	}
	sb := int(sat * float64(p.satBins))
	if sb >= p.satBins {
		sb = p.satBins - 1
	}

	best := 0
	bestDist := sqDist(rgb, p.colors[0])
	if d := sqDist(rgb, p.colors[p.size-1]); d < bestDist {
		best = p.size - 1
		bestDist = d
	}
	for dh := 0; dh <= 1; dh++ {
		h := (hb + dh) % p.hueBins
		for ds := 0; ds <= 1; ds++ {
			s := sb + ds
			if s >= p.satBins {
				continue
			}
			for l := 0; l < p.lumBins; l++ {
				reg := p.sortedIndex[p.bucketIndex(h, s, l)]
				if d := sqDist(rgb, p.colors[reg]); d < bestDist {
					best = reg
					bestDist = d
				}
			}
		}
	}
	return best
}
