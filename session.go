package purfectdrive

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"
)

const (
	// readerIdleSleep is how long the reader naps when no bytes are
	// pending.
	readerIdleSleep = 20 * time.Millisecond
	// windowSizeInterval is how often the reader re-queries the host
	// geometry while idle.
	windowSizeInterval = time.Second
)

// Terminal is a driver session: it owns the screen double buffer, the
// renderer, the input parser and the reader goroutine, and implements
// Screen so applications can treat it like any other cell sink.
type Terminal struct {
	mu sync.Mutex

	opts    Options
	screen  *LogicalScreen
	render  *Renderer
	parser  *Parser
	caps    *Capabilities
	palette *SystemPalette
	cache   *ImageCache
	pool    *encodePool

	sixel  *SixelEncoder
	iterm2 ITerm2Encoder
	jexer  JexerEncoder

	source ByteSource
	sink   ByteSink
	info   SessionInfo

	glyphMaker GlyphMaker

	token    string
	readOnly bool

	evMu     sync.Mutex
	evCond   *sync.Cond
	events   []Event
	listener func()

	stopFlag   atomic.Bool
	readerDone chan struct{}
	started    bool

	rawState *term.State
	rawFd    int
}

// NewTerminal builds a session over the given byte streams.  info may be
// nil when the source is a real terminal; the winsize ioctl then supplies
// geometry.
func NewTerminal(source ByteSource, sink ByteSink, info SessionInfo, opts Options) (*Terminal, error) {
	if source == nil || sink == nil {
		return nil, fmt.Errorf("terminal needs both a byte source and a byte sink")
	}
	opts.Normalize()

	if info == nil {
		if fs, ok := source.(*FileSource); ok {
			info = NewTTYSessionInfo(fs.File())
		} else {
			info = StaticSessionInfo{W: 80, H: 24}
		}
	}

	t := &Terminal{
		opts:       opts,
		caps:       NewCapabilities(),
		palette:    NewSystemPalette(),
		cache:      NewImageCache(opts.ImageCacheSize),
		source:     source,
		sink:       sink,
		info:       info,
		token:      uuid.NewString(),
		readerDone: make(chan struct{}),
	}
	t.evCond = sync.NewCond(&t.evMu)
	t.screen = NewLogicalScreen(info.Width(), info.Height())
	t.render = newRenderer(t)
	t.pool = newEncodePool(opts.ImageThreadCount)

	t.sixel = NewSixelEncoder(opts.SixelPaletteSize, opts.SharedPaletteEnabled(),
		opts.SixelEncoder == "legacy" || opts.SixelFastAndDirty, opts.BottomRowSixel)
	t.jexer = JexerEncoder{Format: ParseJexerImageFormat(opts.JexerImages)}

	// Palette overrides from config take effect before any OSC 4 report.
	rgb, set := opts.PaletteOverrides()
	for i := range rgb {
		if set[i] {
			t.palette.Set(i, rgb[i])
		}
	}

	t.parser = NewParser(t.token, t.caps, t.palette, t.postEvent)
	t.parser.SetPaletteChangeHook(func() {
		t.debugf("palette changed, forcing full redraw")
		t.screen.ForceRedraw()
	})
	if opts.ITerm2ImagesOff {
		t.caps.disableITerm2()
	}
	return t, nil
}

// Token returns the backend token stamped on every event this session
// produces.
func (t *Terminal) Token() string { return t.token }

// SetReadOnly marks the session as view-only for applications that check.
func (t *Terminal) SetReadOnly(ro bool) { t.readOnly = ro }

// ReadOnly reports whether the session is view-only.
func (t *Terminal) ReadOnly() bool { return t.readOnly }

// SetGlyphMaker installs the fallback glyph rasterizer used when
// wideCharImages is enabled.
func (t *Terminal) SetGlyphMaker(g GlyphMaker) { t.glyphMaker = g }

// Capabilities exposes the handshake results.
func (t *Terminal) Capabilities() *Capabilities { return t.caps }

// Palette exposes the session's 16-color system palette.
func (t *Terminal) Palette() *SystemPalette { return t.palette }

// Renderer exposes throughput statistics.
func (t *Terminal) Renderer() *Renderer { return t.render }

func (t *Terminal) debugf(format string, args ...interface{}) {
	if t.opts.Debug {
		log.Printf("[DEBUG] purfectdrive: "+format, args...)
	}
}

// emit writes a raw escape sequence to the sink without flushing.
func (t *Terminal) emit(s string) {
	if _, err := t.sink.Write([]byte(s)); err != nil {
		t.debugf("emit failed: %v", err)
	}
}

// Start performs the startup handshake in its fixed order, sizes the
// screen, and launches the reader goroutine.  Call exactly once.
func (t *Terminal) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("session already started")
	}
	t.started = true

	// Raw mode only when the byte source is the controlling terminal.
	if fs, ok := t.source.(*FileSource); ok {
		fd := int(fs.File().Fd())
		if term.IsTerminal(fd) {
			state, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("enter raw mode: %w", err)
			}
			t.rawState = state
			t.rawFd = fd
		}
	}

	// Capability queries; the parser routes the replies.
	t.parser.ArmXTVersion()
	t.emit("\x1b[>0q") // XTVERSION
	t.emit("\x1b[c")   // DA
	t.emit("\x1b[16t") // cell pixel geometry
	t.emit("\x1b[14t") // window pixel geometry

	// Input plumbing and screen takeover.
	t.emit("\x1b[?1002;1003;1005;1006h") // mouse reporting
	t.emit("\x1b[?1049h")                // alternate screen
	t.emit("\x1b[>3p")                   // hide pointer while typing
	t.emit("\x1b[?1036h")                // meta sends escape
	t.emit("\x1b[?2026$p")               // DECRQM synchronized output
	t.emit("\x1b[?1016$p")               // DECRQM pixel mouse
	for i := 0; i < 16; i++ {
		t.emit("\x1b]4;" + strconv.Itoa(i) + ";?\x07")
	}

	t.info.QueryWindowSize()
	t.screen.Resize(t.info.Width(), t.info.Height())

	if t.opts.ModifyOtherKeys {
		t.emit("\x1b[>4;2m")
	}

	go t.readLoop()

	t.emit("\x1b[2J")
	if err := t.sink.Flush(); err != nil {
		return fmt.Errorf("flush startup burst: %w", err)
	}
	t.debugf("session %s started (%dx%d)", t.token[:8], t.screen.Width(), t.screen.Height())
	return nil
}

// Stop tears the session down: the reader is joined, the terminal modes
// are restored, and raw mode is undone if it was set.
func (t *Terminal) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	t.started = false

	if !t.stopFlag.Swap(true) {
		<-t.readerDone
	}

	t.emit("\x1b[?1002;1003;1005;1006l")
	t.emit("\x1b[?1016l")
	t.emit("\x1b[?25h")
	t.emit("\x1b[0m")
	t.emit("\x1b[?80l")
	t.emit("\x1b[>4;0m")
	t.emit("\x1b[?1049l")
	err := t.sink.Flush()

	if t.rawState != nil {
		if rerr := term.Restore(t.rawFd, t.rawState); rerr != nil && err == nil {
			err = rerr
		}
		t.rawState = nil
	}
	t.pool.Close()
	t.evCond.Broadcast()
	if err != nil {
		return fmt.Errorf("teardown: %w", err)
	}
	return nil
}

// Close is an alias for Stop.
func (t *Terminal) Close() error { return t.Stop() }

// readLoop consumes the byte source, advancing the parser and draining the
// idle work (escape timeouts, window size re-queries).
func (t *Terminal) readLoop() {
	defer close(t.readerDone)
	buf := make([]byte, 4096)
	lastWinCheck := time.Now()
	for !t.stopFlag.Load() {
		avail := t.source.Available()
		if avail <= 0 {
			time.Sleep(readerIdleSleep)
			t.parser.CheckTimeout()
			if time.Since(lastWinCheck) >= windowSizeInterval {
				t.checkWindowSize()
				lastWinCheck = time.Now()
			}
			continue
		}
		if avail > len(buf) {
			avail = len(buf)
		}
		n, err := t.source.Read(buf[:avail])
		if n > 0 {
			t.parser.Parse(buf[:n])
		}
		if err != nil {
			t.debugf("read failed: %v", err)
			t.postEvent(CommandEvent{
				baseEvent: baseEvent{backend: t.token},
				Kind:      CommandDisconnect,
			})
			return
		}
	}
}

// checkWindowSize re-queries the host and resizes on change.
func (t *Terminal) checkWindowSize() {
	t.info.QueryWindowSize()
	w, h := t.info.Width(), t.info.Height()
	if w == t.screen.Width() && h == t.screen.Height() {
		return
	}
	t.debugf("resize to %dx%d", w, h)
	t.screen.Resize(w, h)
	t.postEvent(ResizeEvent{
		baseEvent: baseEvent{backend: t.token},
		Width:     w,
		Height:    h,
	})
}

// postEvent appends to the shared queue and wakes every waiter; the
// optional listener is notified outside the lock.
func (t *Terminal) postEvent(ev Event) {
	t.evMu.Lock()
	t.events = append(t.events, ev)
	t.evCond.Broadcast()
	listener := t.listener
	t.evMu.Unlock()
	if listener != nil {
		listener()
	}
}

// SetListener installs a callback run after each event is queued.
func (t *Terminal) SetListener(fn func()) {
	t.evMu.Lock()
	t.listener = fn
	t.evMu.Unlock()
}

// PollEvents drains the queue without blocking.
func (t *Terminal) PollEvents() []Event {
	t.evMu.Lock()
	defer t.evMu.Unlock()
	evs := t.events
	t.events = nil
	return evs
}

// WaitEvents blocks until at least one event is queued or the session
// stops, then drains the queue.
func (t *Terminal) WaitEvents() []Event {
	t.evMu.Lock()
	defer t.evMu.Unlock()
	for len(t.events) == 0 && !t.stopFlag.Load() {
		t.evCond.Wait()
	}
	evs := t.events
	t.events = nil
	return evs
}

// --- Screen interface ---

// PutCell writes one logical cell.
func (t *Terminal) PutCell(x, y int, cell Cell) { t.screen.PutCell(x, y, cell) }

// PutString writes a string of cells starting at (x, y).
func (t *Terminal) PutString(x, y int, s string, attr Attr) int {
	return t.screen.PutString(x, y, s, attr)
}

// CellAt reads one logical cell.
func (t *Terminal) CellAt(x, y int) Cell { return t.screen.CellAt(x, y) }

// Clear blanks the logical grid and schedules a whole-screen erase.
func (t *Terminal) Clear() { t.screen.Clear() }

// Resize changes the grid geometry.
func (t *Terminal) Resize(w, h int) { t.screen.Resize(w, h) }

// Width returns the grid width.
func (t *Terminal) Width() int { return t.screen.Width() }

// Height returns the grid height.
func (t *Terminal) Height() int { return t.screen.Height() }

// SetCursor places the cursor for the next flush.
func (t *Terminal) SetCursor(x, y int, visible bool) { t.screen.SetCursor(x, y, visible) }

// Snapshot copies the logical grid.
func (t *Terminal) Snapshot() [][]Cell { return t.screen.Snapshot() }

// Flush renders the pending difference as one output burst.
func (t *Terminal) Flush() error { return t.render.Flush() }

// --- Conveniences beyond the Screen surface ---

// SetTitle sets the terminal window title via OSC 0.
func (t *Terminal) SetTitle(title string) {
	t.emit("\x1b]0;" + title + "\x07")
	if err := t.sink.Flush(); err != nil {
		t.debugf("title flush failed: %v", err)
	}
}

// Bell rings the terminal bell.
func (t *Terminal) Bell() {
	t.emit("\x07")
	if err := t.sink.Flush(); err != nil {
		t.debugf("bell flush failed: %v", err)
	}
}
