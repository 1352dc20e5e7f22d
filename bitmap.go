package purfectdrive

import (
	"image"
	"image/color"
)

// Bitmap is the pixel access interface image cells carry.  Applications
// supply bitmaps as opaque references; the driver only reads pixels during
// the flush that emits them.
type Bitmap interface {
	// Width and Height in device pixels.
	Width() int
	Height() int
	// RGBA returns the pixel at (x, y). Coordinates outside the bitmap
	// return transparent black.
	RGBA(x, y int) (r, g, b, a uint8)
	// Sub returns a view of the given region. The view shares pixels with
	// the parent.
	Sub(x, y, w, h int) Bitmap
	// Hash is a content hash used for cell fingerprints and cache keys.
	Hash() uint64
}

// ImageBitmap adapts a stdlib image.Image to the Bitmap interface.  The hash
// is computed once on construction, so the underlying image must not change
// while the bitmap is referenced by a cell.
type ImageBitmap struct {
	img  image.Image
	hash uint64
}

// NewImageBitmap wraps img. The full image content is hashed up front.
func NewImageBitmap(img image.Image) *ImageBitmap {
	b := &ImageBitmap{img: img}
	b.hash = hashImage(img)
	return b
}

func hashImage(img image.Image) uint64 {
	h := uint64(fnvOffset)
	mix := func(v uint64) {
		h ^= v
		h *= fnvPrime
	}
	bounds := img.Bounds()
	mix(uint64(bounds.Dx()))
	mix(uint64(bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			mix(uint64(r>>8)<<24 | uint64(g>>8)<<16 | uint64(b>>8)<<8 | uint64(a>>8))
		}
	}
	return h
}

// Width returns the pixel width.
func (b *ImageBitmap) Width() int { return b.img.Bounds().Dx() }

// Height returns the pixel height.
func (b *ImageBitmap) Height() int { return b.img.Bounds().Dy() }

// RGBA returns the pixel at (x, y) in 8-bit channels.
func (b *ImageBitmap) RGBA(x, y int) (uint8, uint8, uint8, uint8) {
	bounds := b.img.Bounds()
	if x < 0 || y < 0 || x >= bounds.Dx() || y >= bounds.Dy() {
		return 0, 0, 0, 0
	}
	c := color.NRGBAModel.Convert(b.img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
	return c.R, c.G, c.B, c.A
}

// Sub returns a shared-pixel view of the region.
func (b *ImageBitmap) Sub(x, y, w, h int) Bitmap {
	return &subBitmap{parent: b, x: x, y: y, w: w, h: h}
}

// Hash returns the content hash computed at construction.
func (b *ImageBitmap) Hash() uint64 { return b.hash }

type subBitmap struct {
	parent     Bitmap
	x, y, w, h int
}

func (s *subBitmap) Width() int  { return s.w }
func (s *subBitmap) Height() int { return s.h }

func (s *subBitmap) RGBA(x, y int) (uint8, uint8, uint8, uint8) {
	if x < 0 || y < 0 || x >= s.w || y >= s.h {
		return 0, 0, 0, 0
	}
	return s.parent.RGBA(s.x+x, s.y+y)
}

func (s *subBitmap) Sub(x, y, w, h int) Bitmap {
	return &subBitmap{parent: s, x: x, y: y, w: w, h: h}
}

func (s *subBitmap) Hash() uint64 {
	h := s.parent.Hash()
	for _, v := range [...]int{s.x, s.y, s.w, s.h} {
		h ^= uint64(v)
		h *= fnvPrime
	}
	return h
}

// bitmapToImage copies a Bitmap into a stdlib RGBA image for the encoders
// that work through image.Image (PNG, JPEG, median-cut quantization).
func bitmapToImage(b Bitmap) *image.RGBA {
	w, h := b.Width(), b.Height()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, a := b.RGBA(x, y)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: bl, A: a})
		}
	}
	return img
}

// GlyphMaker produces a bitmap rendition of a cell when the host font cannot
// be trusted to carry the glyph (legacy computing blocks, braille patterns).
// Implementations typically rasterize from an embedded fallback font.
type GlyphMaker interface {
	// MakeGlyph renders the cell at the given pixel geometry, or returns
	// nil when it has no rendition for the rune.
	MakeGlyph(cell Cell, cellWidth, cellHeight int) Bitmap
}

// NeedsGlyphBitmap reports whether a rune falls in the ranges the fallback
// rasterizer covers: braille patterns and the legacy-computing block.
func NeedsGlyphBitmap(r rune) bool {
	if r >= 0x2800 && r <= 0x28FF {
		return true
	}
	if r >= 0x1FB00 && r <= 0x1FBFF {
		return true
	}
	return false
}
