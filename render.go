package purfectdrive

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Renderer turns the screen's logical/physical difference into one escape
// sequence burst per flush: images first, then text line by line, then the
// cursor.  SGR state is tracked across the burst so only flipped attribute
// subfields are re-emitted.
type Renderer struct {
	term *Terminal

	// lastAttr is the most recently emitted SGR state for this flush.
	lastAttr  Attr
	attrValid bool

	// Device cursor position after the last emission, -1 when unknown.
	devX, devY int

	sharedPaletteSent bool
	pixelMouseEnabled bool

	meter byteMeter

	now func() time.Time
}

// newRenderer binds a renderer to its terminal.
func newRenderer(t *Terminal) *Renderer {
	return &Renderer{term: t, devX: -1, devY: -1, now: time.Now}
}

// byteMeter tracks emitted bytes per wall-clock second.
type byteMeter struct {
	mu          sync.Mutex
	windowStart time.Time
	windowBytes int64
	rate        int64
}

func (m *byteMeter) add(n int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.windowStart.IsZero() {
		m.windowStart = at
	}
	m.windowBytes += int64(n)
	if elapsed := at.Sub(m.windowStart); elapsed >= time.Second {
		m.rate = int64(float64(m.windowBytes) / elapsed.Seconds())
		m.windowBytes = 0
		m.windowStart = at
	}
}

// Rate returns the most recent bytes-per-second reading.
func (m *byteMeter) Rate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// String renders the rate for a status line.
func (m *byteMeter) String() string {
	r := m.Rate()
	switch {
	case r >= 1<<20:
		return fmt.Sprintf("%.1f MB/s", float64(r)/(1<<20))
	case r >= 1<<10:
		return fmt.Sprintf("%.1f KB/s", float64(r)/(1<<10))
	default:
		return fmt.Sprintf("%d B/s", r)
	}
}

// BytesPerSecond returns the output throughput over the last second.
func (r *Renderer) BytesPerSecond() int64 { return r.meter.Rate() }

// ThroughputString returns a readable throughput figure.
func (r *Renderer) ThroughputString() string { return r.meter.String() }

// imageRun is a horizontal stretch of changed image cells.
type imageRun struct {
	x, y   int
	cells  []Cell
	bottom bool
}

// Flush emits everything needed to reconcile the device with the logical
// grid.  The burst is optionally wrapped in synchronized output.
func (r *Renderer) Flush() error {
	t := r.term
	s := t.screen

	var body strings.Builder
	r.attrValid = false
	r.devX, r.devY = -1, -1

	if t.caps.PixelMouse() && !r.pixelMouseEnabled {
		body.WriteString("\x1b[?1016h")
		r.pixelMouseEnabled = true
	}

	s.mu.Lock()
	cleared := s.reallyCleared
	if cleared {
		s.reallyCleared = false
		body.WriteString("\x1b[0m\x1b[2J\x1b[H")
		for y := 0; y < s.height; y++ {
			for x := 0; x < s.width; x++ {
				s.physical[y][x] = NewCell()
			}
		}
		r.devX, r.devY = 0, 0
	}

	skip := r.flushImages(&body, s)
	for y := 0; y < s.height; y++ {
		r.flushRow(&body, s, y, skip[y])
	}

	cx, cy, cvis := s.cursorX, s.cursorY, s.cursorVisible
	s.mu.Unlock()

	if cvis {
		body.WriteString(cursorPos(cx, cy))
		body.WriteString("\x1b[?25h")
	} else {
		body.WriteString("\x1b[?25l")
	}

	burst := body.String()
	if t.caps.SyncOutput() {
		burst = "\x1b[?2026h" + burst + "\x1b[?2026l"
	}
	if _, err := t.sink.Write([]byte(burst)); err != nil {
		return fmt.Errorf("write burst: %w", err)
	}
	if err := t.sink.Flush(); err != nil {
		return fmt.Errorf("flush sink: %w", err)
	}
	r.meter.add(len(burst), r.now())
	return nil
}

func cursorPos(x, y int) string {
	return "\x1b[" + strconv.Itoa(y+1) + ";" + strconv.Itoa(x+1) + "H"
}

// imageProtocol names the protocol chosen for a flush.
type imageProtocol int

const (
	protoNone imageProtocol = iota
	protoJexer
	protoITerm2
	protoSixel
)

// pickImageProtocol chooses the richest protocol the terminal advertised.
func (r *Renderer) pickImageProtocol() imageProtocol {
	t := r.term
	if t.jexer.Format != JexerDisabled && t.caps.JexerImages() {
		return protoJexer
	}
	if !t.opts.ITerm2ImagesOff && (t.opts.ITerm2Images || t.caps.ITerm2Images()) {
		return protoITerm2
	}
	if t.opts.Sixel && (t.caps.SixelImages() || !t.caps.DAResponseSeen()) {
		return protoSixel
	}
	return protoNone
}

// flushImages finds the changed image runs, dispatches them to the encode
// pool, and appends the results in submission order.  It returns a per-row
// mask of cells the text pass must skip.  Callers hold the screen lock.
func (r *Renderer) flushImages(body *strings.Builder, s *LogicalScreen) [][]bool {
	t := r.term
	skip := make([][]bool, s.height)
	for y := range skip {
		skip[y] = make([]bool, s.width)
	}

	runs := r.collectRuns(s, skip)
	if len(runs) == 0 {
		return skip
	}

	proto := r.pickImageProtocol()
	if proto == protoNone {
		// No protocol: degrade every run to spaces, leaving physical
		// untouched so a later capability report retries them.
		for _, run := range runs {
			r.emitRunSpaces(body, run)
		}
		return skip
	}

	cellW, cellH := t.caps.CellPixelSize()

	if proto == protoSixel && t.sixel.SharedPalette() && !r.sharedPaletteSent {
		body.WriteString("\x1bP0;0;8q")
		body.WriteString(t.sixel.PaletteHeader())
		body.WriteString("\x1b\\")
		r.sharedPaletteSent = true
	}

	type pending struct {
		run    imageRun
		result *encodeResult
		spaces bool
	}
	var queue []pending
	for _, run := range runs {
		bottomBlocked := run.bottom && !r.bottomRowAllowed(proto)
		if bottomBlocked {
			queue = append(queue, pending{run: run, spaces: true})
			continue
		}
		for _, chunk := range chunkRun(run, cellW, t.maxRunPixels(proto)) {
			chunk := chunk
			transparent := run.bottom || anyTransparent(chunk.cells)
			res := t.pool.Submit(func() string {
				return r.encodeRun(proto, chunk, cellW, cellH, transparent)
			})
			queue = append(queue, pending{run: chunk, result: res})
		}
	}

	for _, p := range queue {
		if p.spaces {
			r.emitRunSpaces(body, p.run)
			continue
		}
		encoded := p.result.Wait()
		if encoded == "" {
			// Encode failure degrades to spaces and is retried next flush.
			r.emitRunSpaces(body, p.run)
			continue
		}
		body.WriteString(cursorPos(p.run.x, p.run.y))
		if p.run.bottom && proto == protoSixel {
			body.WriteString("\x1b[?80h")
			body.WriteString(encoded)
			body.WriteString("\x1b[?80l")
		} else {
			body.WriteString(encoded)
		}
		r.devX, r.devY = -1, -1
		for i, c := range p.run.cells {
			s.physical[p.run.y][p.run.x+i] = c
		}
	}
	return skip
}

// bottomRowAllowed reports whether the protocol may draw on the last text
// row without scrolling the screen.
func (r *Renderer) bottomRowAllowed(proto imageProtocol) bool {
	switch proto {
	case protoSixel:
		return r.term.sixel.SupportsTransparency()
	case protoITerm2, protoJexer:
		return r.term.caps.BottomRowImages()
	}
	return false
}

// collectRuns walks the grid for horizontal runs of image cells that differ
// from physical, substituting GlyphMaker bitmaps for fallback-rendered
// glyphs.  Unless imagesOverText is set, it marks every collected cell in
// the skip mask.
func (r *Renderer) collectRuns(s *LogicalScreen, skip [][]bool) []imageRun {
	t := r.term
	var runs []imageRun
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; {
			cell, ok := r.imageCell(s.logical[y][x])
			if !ok || cell.Equal(s.physical[y][x]) {
				x++
				continue
			}
			run := imageRun{x: x, y: y, bottom: y == s.height-1}
			for x < s.width {
				c, isImg := r.imageCell(s.logical[y][x])
				if !isImg || c.Equal(s.physical[y][x]) {
					break
				}
				run.cells = append(run.cells, c)
				if !t.opts.ImagesOverText {
					skip[y][x] = true
				}
				x++
			}
			runs = append(runs, run)
		}
	}
	return runs
}

// imageCell resolves a logical cell to its image form: either it already
// carries a bitmap, or the GlyphMaker can rasterize it.
func (r *Renderer) imageCell(c Cell) (Cell, bool) {
	t := r.term
	if c.Image() {
		return c, true
	}
	if t.opts.WideCharImages && t.glyphMaker != nil && NeedsGlyphBitmap(c.Ch) {
		cw, ch := t.caps.CellPixelSize()
		if bm := t.glyphMaker.MakeGlyph(c, cw, ch); bm != nil {
			c.Bitmap = bm
			return c, true
		}
	}
	return c, false
}

// chunkRun splits a run that would exceed the encoder's pixel width into
// contiguous sub-runs of at least 8 cells.
func chunkRun(run imageRun, cellW, maxPixels int) []imageRun {
	if cellW < 1 {
		cellW = 1
	}
	maxCells := maxPixels / cellW
	if maxCells < 8 {
		maxCells = 8
	}
	if len(run.cells) <= maxCells {
		return []imageRun{run}
	}
	var chunks []imageRun
	for start := 0; start < len(run.cells); {
		end := start + maxCells
		if end > len(run.cells) {
			end = len(run.cells)
		}
		// never leave a tail shorter than 8 cells
		if rem := len(run.cells) - end; rem > 0 && rem < 8 {
			end = len(run.cells) - 8
			if end <= start {
				end = len(run.cells)
			}
		}
		chunks = append(chunks, imageRun{
			x:      run.x + start,
			y:      run.y,
			cells:  run.cells[start:end],
			bottom: run.bottom,
		})
		start = end
	}
	return chunks
}

func anyTransparent(cells []Cell) bool {
	for _, c := range cells {
		if c.Transparent {
			return true
		}
	}
	return false
}

func anyInverted(cells []Cell) bool {
	for _, c := range cells {
		if c.Inverted {
			return true
		}
	}
	return false
}

// maxRunPixels is the widest single emission for the protocol.
func (t *Terminal) maxRunPixels(proto imageProtocol) int {
	if proto == protoSixel {
		return t.sixel.MaxPixelWidth()
	}
	return 1000
}

// encodeRun runs on a pool worker: cache lookup, encode on miss, insert
// unless any cell is inverted.
func (r *Renderer) encodeRun(proto imageProtocol, run imageRun, cellW, cellH int, transparent bool) string {
	t := r.term
	key := strconv.Itoa(int(proto)) + ":" + MakeKey(run.cells)
	inverted := anyInverted(run.cells)
	if !inverted {
		if data, ok := t.cache.Get(key); ok {
			return data
		}
	}
	bm := &runBitmap{cells: run.cells, cellW: cellW, cellH: cellH, invert: inverted}
	var encoded string
	switch proto {
	case protoSixel:
		encoded = t.sixel.Encode(bm, transparent)
	case protoITerm2:
		encoded = t.iterm2.Encode(bm)
	case protoJexer:
		encoded = t.jexer.Encode(bm)
	}
	if encoded != "" && !inverted {
		t.cache.Put(key, encoded)
	}
	return encoded
}

// emitRunSpaces paints a run's footprint with blank cells without updating
// physical, so the run is retried once capabilities allow.
func (r *Renderer) emitRunSpaces(body *strings.Builder, run imageRun) {
	body.WriteString(cursorPos(run.x, run.y))
	r.emitAttr(body, DefaultAttr())
	body.WriteString(strings.Repeat(" ", len(run.cells)))
	r.devX, r.devY = run.x+len(run.cells), run.y
}

// runBitmap stitches the per-cell bitmaps of one run into a single image
// the encoders can consume.  Cells render into cellW x cellH tiles;
// inversion is applied at read time.
type runBitmap struct {
	cells  []Cell
	cellW  int
	cellH  int
	invert bool
}

func (b *runBitmap) Width() int  { return len(b.cells) * b.cellW }
func (b *runBitmap) Height() int { return b.cellH }

func (b *runBitmap) RGBA(x, y int) (uint8, uint8, uint8, uint8) {
	if x < 0 || y < 0 || y >= b.cellH {
		return 0, 0, 0, 0
	}
	idx := x / b.cellW
	if idx >= len(b.cells) {
		return 0, 0, 0, 0
	}
	bm := b.cells[idx].Bitmap
	if bm == nil {
		return 0, 0, 0, 0
	}
	r, g, bl, a := bm.RGBA(x%b.cellW, y)
	if b.invert {
		r, g, bl = 255-r, 255-g, 255-bl
	}
	return r, g, bl, a
}

func (b *runBitmap) Sub(x, y, w, h int) Bitmap {
	return &subBitmap{parent: b, x: x, y: y, w: w, h: h}
}

func (b *runBitmap) Hash() uint64 {
	h := uint64(fnvOffset)
	for _, c := range b.cells {
		h ^= c.Fingerprint()
		h *= fnvPrime
	}
	if b.invert {
		h ^= 1
		h *= fnvPrime
	}
	return h
}

// flushRow emits the differential update for one text row.  Callers hold
// the screen lock.
func (r *Renderer) flushRow(body *strings.Builder, s *LogicalScreen, y int, skip []bool) {
	// Rightmost non-blank logical cell
	textEnd := -1
	for x := s.width - 1; x >= 0; x-- {
		if !s.logical[y][x].Blank() {
			textEnd = x
			break
		}
	}

	// Fully blank row: one erase covers every difference.
	if textEnd < 0 {
		dirty := false
		for x := 0; x < s.width; x++ {
			if !s.logical[y][x].Equal(s.physical[y][x]) {
				dirty = true
				break
			}
		}
		if dirty {
			body.WriteString(cursorPos(0, y))
			r.emitAttr(body, DefaultAttr())
			body.WriteString("\x1b[K")
			r.devX, r.devY = 0, y
			copy(s.physical[y], s.logical[y])
		}
		return
	}

	for x := 0; x < s.width; x++ {
		if skip[x] {
			continue
		}
		cell := s.logical[y][x]
		if cell.Image() {
			// Drawn (or deliberately deferred) by the image phase.
			continue
		}
		if cell.Width == WidthRight {
			// Emitted together with its left half.
			continue
		}

		// Trailing blanks collapse into one erase-to-end-of-line.
		if x > textEnd {
			tailDirty := false
			for tx := x; tx < s.width; tx++ {
				if !s.logical[y][tx].Equal(s.physical[y][tx]) {
					tailDirty = true
					break
				}
			}
			if tailDirty {
				if r.devX != x || r.devY != y {
					body.WriteString(cursorPos(x, y))
				}
				r.emitAttr(body, DefaultAttr())
				body.WriteString("\x1b[K")
				r.devX, r.devY = x, y
				for tx := x; tx < s.width; tx++ {
					s.physical[y][tx] = s.logical[y][tx]
				}
			}
			return
		}

		need := cell.Pulse || !cell.Equal(s.physical[y][x])
		if cell.Width == WidthLeft && x+1 < s.width &&
			!s.logical[y][x+1].Equal(s.physical[y][x+1]) {
			need = true
		}
		if !need {
			continue
		}

		if r.devX != x || r.devY != y {
			body.WriteString(cursorPos(x, y))
		}
		r.emitAttr(body, r.resolveAttr(cell.Attr))
		body.WriteRune(cell.Ch)
		s.physical[y][x] = cell
		if cell.Width == WidthLeft && x+1 < s.width {
			s.physical[y][x+1] = s.logical[y][x+1]
			x++
		}
		r.devX, r.devY = x+1, y
	}
}

// resolveAttr computes the effective attribute for emission: pulse cells
// get a time-dependent foreground.
func (r *Renderer) resolveAttr(a Attr) Attr {
	if !a.Pulse {
		return a
	}
	base := r.term.palette.Resolve(a.Foreground, a.Bold)
	rgb := pulseColor(base, r.now())
	a.Foreground = TrueColor(rgb.R, rgb.G, rgb.B)
	a.Pulse = false
	return a
}

// pulseColor blends the base color toward white on a one second cosine
// cycle.
func pulseColor(base RGB, at time.Time) RGB {
	phase := float64(at.UnixMilli()%1000) / 1000.0
	f := (1 - math.Cos(2*math.Pi*phase)) / 2 * 0.6
	blend := func(v uint8) uint8 {
		return uint8(float64(v) + (255-float64(v))*f)
	}
	return RGB{R: blend(base.R), G: blend(base.G), B: blend(base.B)}
}

// emitAttr writes the SGR delta between the last emitted attributes and
// attr.  Only flipped subfields appear; attributes that turn off use their
// explicit off codes.
func (r *Renderer) emitAttr(body *strings.Builder, attr Attr) {
	var params []string
	if !r.attrValid {
		params = append(params, "0")
		r.lastAttr = DefaultAttr()
		r.attrValid = true
	}
	last := r.lastAttr

	if attr.Bold != last.Bold {
		if attr.Bold {
			params = append(params, "1")
		} else {
			params = append(params, "22")
		}
	}
	if attr.Underline != last.Underline {
		if attr.Underline {
			params = append(params, "4")
		} else {
			params = append(params, "24")
		}
	}
	if attr.Blink != last.Blink {
		if attr.Blink {
			params = append(params, "5")
		} else {
			params = append(params, "25")
		}
	}
	if attr.Reverse != last.Reverse {
		if attr.Reverse {
			params = append(params, "7")
		} else {
			params = append(params, "27")
		}
	}
	if attr.Foreground != last.Foreground || attr.Bold != last.Bold {
		params = append(params, r.colorCode(attr.Foreground, attr.Bold, true))
	}
	if attr.Background != last.Background {
		params = append(params, r.colorCode(attr.Background, false, false))
	}

	if len(params) > 0 {
		body.WriteString("\x1b[")
		body.WriteString(strings.Join(params, ";"))
		body.WriteByte('m')
	}
	attr.Pulse = false
	r.lastAttr = attr
}

// colorCode picks the emission form for a color: a valid 24-bit value wins;
// the rgbColor option resolves indexed colors through the system palette.
func (r *Renderer) colorCode(c Color, bold, isFg bool) string {
	if c.IsRGB() {
		return c.ToSGRCode(isFg)
	}
	if r.term.opts.RGBColor {
		rgb := r.term.palette.Resolve(c, bold && isFg)
		return TrueColor(rgb.R, rgb.G, rgb.B).ToSGRCode(isFg)
	}
	return c.ToSGRCode(isFg)
}
