package purfectdrive

import (
	"image"
	"image/draw"
	"strconv"
	"strings"

	"github.com/soniakeys/quant/median"
)

// SixelEncoder turns an RGB bitmap into a DECSIXEL string.  Two renditions
// are available: the high-quality path dithers against a fixed HSL-derived
// palette (optionally shared across images), and the fast path quantizes
// each image independently with a median-cut palette.
type SixelEncoder struct {
	palette *SixelPalette
	shared  bool
	fast    bool
	decsdm  bool // allow the DECSDM transparent bottom-row trick
}

// NewSixelEncoder builds an encoder for the given options.
func NewSixelEncoder(paletteSize int, shared, fastAndDirty, allowDECSDM bool) *SixelEncoder {
	return &SixelEncoder{
		palette: NewSixelPalette(paletteSize),
		shared:  shared,
		fast:    fastAndDirty,
		decsdm:  allowDECSDM,
	}
}

// Palette exposes the register set, shared with nearest-color tests.
func (e *SixelEncoder) Palette() *SixelPalette { return e.palette }

// SharedPalette reports whether images are emitted against a palette that
// was defined once up front.
func (e *SixelEncoder) SharedPalette() bool { return e.shared && !e.fast }

// SupportsTransparency reports whether this encoder can rasterize with
// unset background pixels, which the bottom-row path requires.
func (e *SixelEncoder) SupportsTransparency() bool { return !e.fast && e.decsdm }

// MaxPixelWidth is the widest single emission; larger runs are chunked.
// The high-quality encoder scales the limit with the palette since its
// per-band cost is proportional to the register count.
func (e *SixelEncoder) MaxPixelWidth() int {
	if e.fast {
		return 1000
	}
	if v := 4 * e.palette.Size(); v > 1000 {
		return v
	}
	return 1000
}

// PaletteHeader returns the color definitions for every register.  When the
// palette is shared the session emits this once instead of per image.
func (e *SixelEncoder) PaletteHeader() string {
	var sb strings.Builder
	writePaletteEntries(&sb, e.palette.colors, 0)
	return sb.String()
}

func writePaletteEntries(sb *strings.Builder, colors []RGB, base int) {
	for i, c := range colors {
		// DECGCI color definitions take percentages
		r := (int(c.R)*100 + 127) / 255
		g := (int(c.G)*100 + 127) / 255
		b := (int(c.B)*100 + 127) / 255
		sb.WriteByte('#')
		sb.WriteString(strconv.Itoa(base + i))
		sb.WriteString(";2;")
		sb.WriteString(strconv.Itoa(r))
		sb.WriteByte(';')
		sb.WriteString(strconv.Itoa(g))
		sb.WriteByte(';')
		sb.WriteString(strconv.Itoa(b))
	}
}

// Encode produces the full DCS string for one bitmap.  With transparent set
// (and supported), fully transparent pixels are left unset so the terminal
// background shows through.
func (e *SixelEncoder) Encode(bm Bitmap, transparent bool) string {
	if bm == nil || bm.Width() < 1 || bm.Height() < 1 {
		return ""
	}
	if e.fast {
		return e.encodeFast(bm)
	}
	w, h := bm.Width(), bm.Height()
	idx := e.Dither(bm, transparent && e.SupportsTransparency())

	var sb strings.Builder
	p2 := "0"
	if transparent && e.SupportsTransparency() {
		p2 = "1"
	}
	sb.WriteString("\x1bP0;" + p2 + ";8q")
	sb.WriteString("\"1;1;" + strconv.Itoa(w) + ";" + strconv.Itoa(h))
	if !e.SharedPalette() {
		writePaletteEntries(&sb, e.palette.colors, 0)
	}
	writeSixelBands(&sb, w, h, e.palette.Size(), func(x, y int) int {
		return idx[y][x]
	})
	sb.WriteString("\x1b\\")
	return sb.String()
}

// Dither applies one Floyd-Steinberg pass over a working copy, resolving
// each pixel to a palette register.  Transparent pixels get register -1 and
// neither receive nor propagate error.
func (e *SixelEncoder) Dither(bm Bitmap, transparent bool) [][]int {
	w, h := bm.Width(), bm.Height()
	type px struct {
		r, g, b int
		skip    bool
	}
	work := make([][]px, h)
	for y := 0; y < h; y++ {
		work[y] = make([]px, w)
		for x := 0; x < w; x++ {
			r, g, b, a := bm.RGBA(x, y)
			if transparent && a < 128 {
				work[y][x].skip = true
				continue
			}
			work[y][x] = px{r: int(r), g: int(g), b: int(b)}
		}
	}

	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return v
	}

	idx := make([][]int, h)
	for y := 0; y < h; y++ {
		idx[y] = make([]int, w)
		for x := 0; x < w; x++ {
			if work[y][x].skip {
				idx[y][x] = -1
				continue
			}
			r := clamp(work[y][x].r)
			g := clamp(work[y][x].g)
			b := clamp(work[y][x].b)
			reg := e.palette.Nearest(RGB{R: uint8(r), G: uint8(g), B: uint8(b)})
			idx[y][x] = reg
			pc := e.palette.Color(reg)
			er := r - int(pc.R)
			eg := g - int(pc.G)
			eb := b - int(pc.B)
			spread := func(dx, dy, num int) {
				nx, ny := x+dx, y+dy
				if nx < 0 || nx >= w || ny >= h || work[ny][nx].skip {
					return
				}
				work[ny][nx].r += er * num / 16
				work[ny][nx].g += eg * num / 16
				work[ny][nx].b += eb * num / 16
			}
			spread(1, 0, 7)
			spread(-1, 1, 3)
			spread(0, 1, 5)
			spread(1, 1, 1)
		}
	}
	return idx
}

// encodeFast quantizes with a per-image median-cut palette; registers 1..N
// are defined inline and register usage follows the paletted image.
func (e *SixelEncoder) encodeFast(bm Bitmap) string {
	img := bitmapToImage(bm)
	w, h := bm.Width(), bm.Height()

	nc := e.palette.Size()
	if nc > 255 {
		nc = 255
	}
	if nc < 2 {
		nc = 2
	}
	q := median.Quantizer(nc - 1)
	paletted := q.Paletted(img)
	draw.FloydSteinberg.Draw(paletted, img.Bounds(), img, image.Point{})

	var sb strings.Builder
	sb.WriteString("\x1bP0;0;8q")
	sb.WriteString("\"1;1;" + strconv.Itoa(w) + ";" + strconv.Itoa(h))
	colors := make([]RGB, len(paletted.Palette))
	for i, v := range paletted.Palette {
		r, g, b, _ := v.RGBA()
		colors[i] = RGB{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
	}
	writePaletteEntries(&sb, colors, 1)
	writeSixelBands(&sb, w, h, len(colors)+1, func(x, y int) int {
		return int(paletted.ColorIndexAt(x, y)) + 1
	})
	sb.WriteString("\x1b\\")
	return sb.String()
}

// writeSixelBands renders six-row bands: per band, a color select for every
// register present, RLE-packed sextet columns, DECGCR between colors and
// DECGNL between bands (no trailing newline).
func writeSixelBands(sb *strings.Builder, w, h, registers int, indexAt func(x, y int) int) {
	buf := make([]byte, w*registers)
	used := make([]bool, registers)
	for z := 0; z < (h+5)/6; z++ {
		if z > 0 {
			sb.WriteByte('-') // DECGNL
		}
		for i := range used {
			used[i] = false
		}
		for p := 0; p < 6; p++ {
			y := z*6 + p
			if y >= h {
				break
			}
			for x := 0; x < w; x++ {
				reg := indexAt(x, y)
				if reg < 0 || reg >= registers {
					continue
				}
				used[reg] = true
				buf[reg*w+x] |= 1 << uint(p)
			}
		}
		firstColor := true
		for reg := 0; reg < registers; reg++ {
			if !used[reg] {
				continue
			}
			if !firstColor {
				sb.WriteByte('$') // DECGCR
			}
			firstColor = false
			sb.WriteByte('#')
			sb.WriteString(strconv.Itoa(reg))

			row := buf[reg*w : reg*w+w]
			// skip trailing empty columns
			end := w
			for end > 0 && row[end-1] == 0 {
				end--
			}
			writeSixelRow(sb, row[:end])
			for x := range row {
				row[x] = 0
			}
		}
	}
}

// writeSixelRow RLE-encodes one color's sextet row with DECGRI repeats.
func writeSixelRow(sb *strings.Builder, row []byte) {
	count := 0
	var prev byte = 0xFF
	flush := func() {
		if count == 0 {
			return
		}
		ch := byte(63 + prev)
		for count > 255 {
			sb.WriteString("!255")
			sb.WriteByte(ch)
			count -= 255
		}
		switch {
		case count <= 3:
			for i := 0; i < count; i++ {
				sb.WriteByte(ch)
			}
		default:
			sb.WriteByte('!')
			sb.WriteString(strconv.Itoa(count))
			sb.WriteByte(ch)
		}
		count = 0
	}
	for _, ch := range row {
		if ch != prev {
			flush()
			prev = ch
		}
		count++
	}
	flush()
}
