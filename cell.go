package purfectdrive

import (
	"github.com/mattn/go-runewidth"
)

// CellWidth describes how a cell participates in full-width glyph pairs.
type CellWidth int

const (
	WidthSingle CellWidth = iota // Normal single-column glyph
	WidthLeft                    // Left half of a full-width glyph
	WidthRight                   // Right half; shares the left cell's rune
)

// Attr holds the display attributes of one cell.  Foreground and Background
// may be indexed or 24-bit colors; a 24-bit value is emitted as RGB SGR in
// preference to the indexed path.
type Attr struct {
	Foreground Color
	Background Color
	Bold       bool
	Underline  bool
	Blink      bool
	Reverse    bool
	Pulse      bool // time-varying foreground computed per flush
}

// DefaultAttr returns white-on-black with no flags set.
func DefaultAttr() Attr {
	return Attr{Foreground: DefaultForeground, Background: DefaultBackground}
}

// Equal reports whether two attribute records would render identically.
func (a Attr) Equal(b Attr) bool {
	return a == b
}

// Cell is one character cell of the grid: a glyph plus attributes, or an
// image fragment carrying a bitmap.
type Cell struct {
	Attr
	Ch          rune
	Width       CellWidth
	Bitmap      Bitmap // non-nil for image cells
	Inverted    bool   // image drawn with inverted colors; never cached
	Transparent bool   // image drawn over the terminal background
}

// NewCell returns a blank single-width cell with default attributes.
func NewCell() Cell {
	return Cell{Attr: DefaultAttr(), Ch: ' '}
}

// NewCellCh returns a cell holding ch with default attributes.  A full-width
// rune yields a WidthLeft cell; the matching right half is not created.
func NewCellCh(ch rune) Cell {
	c := NewCell()
	c.Ch = ch
	if runewidth.RuneWidth(ch) == 2 {
		c.Width = WidthLeft
	}
	return c
}

// Image reports whether this cell carries a bitmap.
func (c Cell) Image() bool {
	return c.Bitmap != nil
}

// Blank reports whether the cell is a plain space with default attributes,
// i.e. erasable by clear-to-end-of-line.
func (c Cell) Blank() bool {
	return !c.Image() && c.Ch == ' ' && c.Width == WidthSingle &&
		c.Attr == DefaultAttr()
}

// Equal reports whether two cells would render identically.  Image cells
// compare by bitmap hash so that re-supplied identical frames do not redraw.
func (c Cell) Equal(o Cell) bool {
	if c.Image() != o.Image() {
		return false
	}
	if c.Image() {
		return c.Inverted == o.Inverted &&
			c.Transparent == o.Transparent &&
			c.Bitmap.Hash() == o.Bitmap.Hash()
	}
	return c.Ch == o.Ch && c.Width == o.Width && c.Attr == o.Attr
}

const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

// Fingerprint returns a content hash of the cell, used to build image cache
// keys.  FNV-1a over the glyph, attribute bits and bitmap hash.
func (c Cell) Fingerprint() uint64 {
	h := uint64(fnvOffset)
	mix := func(v uint64) {
		h ^= v
		h *= fnvPrime
	}
	mix(uint64(c.Ch))
	mix(uint64(c.Width))
	var flags uint64
	for i, b := range [...]bool{c.Bold, c.Underline, c.Blink, c.Reverse,
		c.Pulse, c.Inverted, c.Transparent} {
		if b {
			flags |= 1 << uint(i)
		}
	}
	mix(flags)
	mix(colorBits(c.Foreground))
	mix(colorBits(c.Background))
	if c.Bitmap != nil {
		mix(c.Bitmap.Hash())
	}
	return h
}

func colorBits(c Color) uint64 {
	return uint64(c.Type)<<32 | uint64(c.Index)<<24 |
		uint64(c.R)<<16 | uint64(c.G)<<8 | uint64(c.B)
}

// PutRune writes a rune into a grid row at column x, expanding full-width
// runes into a LEFT/RIGHT pair.  Returns the number of columns consumed.
func PutRune(row []Cell, x int, ch rune, attr Attr) int {
	if x < 0 || x >= len(row) {
		return 0
	}
	wide := runewidth.RuneWidth(ch) == 2
	c := Cell{Attr: attr, Ch: ch}
	if !wide {
		row[x] = c
		return 1
	}
	if x+1 >= len(row) {
		// No room for the right half; degrade to a space
		c.Ch = ' '
		row[x] = c
		return 1
	}
	c.Width = WidthLeft
	row[x] = c
	right := Cell{Attr: attr, Ch: ch, Width: WidthRight}
	row[x+1] = right
	return 2
}
