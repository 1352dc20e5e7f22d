package purfectdrive

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Parser states
type parserState int

const (
	stateGround             parserState = iota
	stateEscape                         // After ESC
	stateEscapeIntermediate             // After ESC O
	stateCSIEntry                       // After ESC [
	stateCSIParam                       // Reading CSI parameters
	stateXTVersion                      // Reading an XTVERSION DCS reply
	stateOSC                            // Reading an OSC reply
	stateMouse                          // Reading an X10 mouse triplet
	stateMouseSGR                       // Reading an SGR mouse report
)

// Bare-escape resolution windows.  A lone ESC is only a keystroke once
// nothing has followed it for longer than these.
const (
	escapeIdleTimeout = 100 * time.Millisecond
	escapeByteTimeout = 250 * time.Millisecond
)

// Parser consumes the terminal's byte stream one byte at a time and emits
// key, mouse and command events, while routing query responses (DA,
// XTVERSION, DECRPM, OSC 4, window reports) into the session's capability
// record and palette.
type Parser struct {
	state parserState

	params     []string
	decPrivate bool
	decDollar  bool

	// xtversionQuery is a one-shot armed before the XTVERSION query is
	// sent; it disambiguates the DCS reply from stray ESC P input.
	xtversionQuery bool

	xtversionBuf strings.Builder
	oscBuf       strings.Builder
	stPending    bool // saw ESC inside a string, expecting '\'

	mouseBytes [3]byte
	mouseLen   int

	// UTF-8 multi-byte handling for ground-state character events
	utf8Buf  []byte
	utf8Need int

	escapeTime time.Time
	now        func() time.Time

	backend string
	caps    *Capabilities
	palette *SystemPalette

	emit            func(Event)
	onPaletteChange func()
}

// NewParser creates an input parser bound to a capability record and
// palette.  emit receives every decoded event.
func NewParser(backend string, caps *Capabilities, palette *SystemPalette, emit func(Event)) *Parser {
	return &Parser{
		state:   stateGround,
		now:     time.Now,
		backend: backend,
		caps:    caps,
		palette: palette,
		emit:    emit,
	}
}

// SetPaletteChangeHook installs the callback run after an OSC 4 install;
// the session uses it to invalidate the physical grid.
func (p *Parser) SetPaletteChangeHook(fn func()) {
	p.onPaletteChange = fn
}

// ArmXTVersion arms the one-shot that routes the next DCS into the
// XTVERSION collector.  Called immediately before the query is written.
func (p *Parser) ArmXTVersion() {
	p.xtversionQuery = true
}

// AtGround reports whether the parser is back at ground; every event emission
// and timeout must leave it there.
func (p *Parser) AtGround() bool {
	return p.state == stateGround
}

// Parse consumes a buffer of bytes.
func (p *Parser) Parse(data []byte) {
	for _, b := range data {
		p.Consume(b)
	}
}

// Consume advances the state machine by one byte.
func (p *Parser) Consume(b byte) {
	// A stalled bare escape resolves to a true ESC keypress before the new
	// byte is considered.
	if p.state == stateEscape && p.now().Sub(p.escapeTime) > escapeByteTimeout {
		p.keypress(KeyEsc, 0, false, false, false)
		p.reset()
	}

	switch p.state {
	case stateGround:
		p.handleGround(b)
	case stateEscape:
		p.handleEscape(b)
	case stateEscapeIntermediate:
		p.handleEscapeIntermediate(b)
	case stateCSIEntry, stateCSIParam:
		p.handleCSI(b)
	case stateXTVersion:
		p.handleString(b, &p.xtversionBuf, false)
	case stateOSC:
		p.handleString(b, &p.oscBuf, true)
	case stateMouse:
		p.handleMouse(b)
	case stateMouseSGR:
		p.handleMouseSGR(b)
	}
}

// CheckTimeout resolves a bare escape that has been pending longer than the
// idle window.  The reader calls this on every idle poll.
func (p *Parser) CheckTimeout() {
	if p.state == stateEscape && p.now().Sub(p.escapeTime) > escapeIdleTimeout {
		p.keypress(KeyEsc, 0, false, false, false)
		p.reset()
	}
}

func (p *Parser) reset() {
	p.state = stateGround
	p.params = p.params[:0]
	p.decPrivate = false
	p.decDollar = false
	p.stPending = false
	p.mouseLen = 0
	p.xtversionBuf.Reset()
	p.oscBuf.Reset()
}

func (p *Parser) keypress(key Key, ch rune, alt, ctrl, shift bool) {
	p.emit(KeypressEvent{
		baseEvent: baseEvent{backend: p.backend},
		Key:       key,
		Ch:        ch,
		Alt:       alt,
		Ctrl:      ctrl,
		Shift:     shift,
	})
}

// controlKeypress emits the event for a C0 control byte.
func (p *Parser) controlKeypress(b byte, alt bool) {
	switch b {
	case 0x08:
		p.keypress(KeyBackspace, 0, alt, false, false)
	case 0x09:
		p.keypress(KeyTab, 0, alt, false, false)
	case 0x0D:
		p.keypress(KeyEnter, 0, alt, false, false)
	case 0x1B:
		p.keypress(KeyEsc, 0, alt, false, false)
	default:
		if b < 0x1B {
			// Ctrl-A .. Ctrl-Z and friends
			p.keypress(KeyNone, rune('a'+b-1), alt, true, false)
		}
	}
}

func (p *Parser) handleGround(b byte) {
	// UTF-8 continuation handling for character events
	if p.utf8Need > 0 {
		if b&0xC0 == 0x80 {
			p.utf8Buf = append(p.utf8Buf, b)
			p.utf8Need--
			if p.utf8Need == 0 {
				p.keypress(KeyNone, decodeUTF8(p.utf8Buf), false, false, false)
				p.utf8Buf = p.utf8Buf[:0]
			}
			return
		}
		p.utf8Buf = p.utf8Buf[:0]
		p.utf8Need = 0
	}

	switch {
	case b == 0x1B:
		p.state = stateEscape
		p.escapeTime = p.now()
	case b == 0x7F:
		p.keypress(KeyBackspace, 0, false, false, false)
	case b < 0x20:
		p.controlKeypress(b, false)
	case b&0xE0 == 0xC0:
		p.utf8Buf = append(p.utf8Buf[:0], b)
		p.utf8Need = 1
	case b&0xF0 == 0xE0:
		p.utf8Buf = append(p.utf8Buf[:0], b)
		p.utf8Need = 2
	case b&0xF8 == 0xF0:
		p.utf8Buf = append(p.utf8Buf[:0], b)
		p.utf8Need = 3
	default:
		p.keypress(KeyNone, rune(b), false, false, false)
	}
}

func decodeUTF8(buf []byte) rune {
	switch len(buf) {
	case 2:
		return rune(buf[0]&0x1F)<<6 | rune(buf[1]&0x3F)
	case 3:
		return rune(buf[0]&0x0F)<<12 | rune(buf[1]&0x3F)<<6 | rune(buf[2]&0x3F)
	case 4:
		return rune(buf[0]&0x07)<<18 | rune(buf[1]&0x3F)<<12 | rune(buf[2]&0x3F)<<6 | rune(buf[3]&0x3F)
	default:
		return 0xFFFD
	}
}

func (p *Parser) handleEscape(b byte) {
	switch {
	case b == 'P':
		if p.xtversionQuery {
			p.xtversionQuery = false
			p.state = stateXTVersion
			p.xtversionBuf.Reset()
			return
		}
		// Unsolicited DCS: nothing we asked for, drop the introducer
		p.reset()
	case b == ']':
		p.state = stateOSC
		p.oscBuf.Reset()
	case b == '[':
		p.state = stateCSIEntry
		p.params = p.params[:0]
		p.decPrivate = false
		p.decDollar = false
	case b == 'O':
		p.state = stateEscapeIntermediate
	case b < 0x20:
		p.controlKeypress(b, true)
		p.reset()
	default:
		// Alt-keystroke; uppercase implies shift was held
		ch := rune(b)
		shift := unicode.IsUpper(ch)
		p.keypress(KeyNone, ch, true, false, shift)
		p.reset()
	}
}

func (p *Parser) handleEscapeIntermediate(b byte) {
	// SS3 function keys
	switch b {
	case 'P':
		p.keypress(KeyF1, 0, false, false, false)
	case 'Q':
		p.keypress(KeyF2, 0, false, false, false)
	case 'R':
		p.keypress(KeyF3, 0, false, false, false)
	case 'S':
		p.keypress(KeyF4, 0, false, false, false)
	}
	p.reset()
}

func (p *Parser) handleCSI(b byte) {
	switch {
	case b >= '0' && b <= '9':
		if len(p.params) == 0 {
			p.params = append(p.params, "")
		}
		p.params[len(p.params)-1] += string(b)
		p.state = stateCSIParam
	case b == ';':
		if len(p.params) == 0 {
			p.params = append(p.params, "")
		}
		p.params = append(p.params, "")
		p.state = stateCSIParam
	case b == '?':
		p.decPrivate = true
	case b == '$':
		p.decDollar = true
	case b == '<' && p.state == stateCSIEntry:
		p.state = stateMouseSGR
		p.params = p.params[:0]
	case b == 'M' && p.state == stateCSIEntry:
		p.state = stateMouse
		p.mouseLen = 0
	default:
		if b >= 0x40 && b <= 0x7E {
			p.executeCSI(b)
		}
		// Anything else is an unrecognized sequence; either way we are done
		p.reset()
	}
}

func (p *Parser) getParam(idx, def int) int {
	if idx >= len(p.params) || p.params[idx] == "" {
		return def
	}
	n, err := strconv.Atoi(p.params[idx])
	if err != nil {
		return def
	}
	return n
}

// Modifier decoding for the second CSI parameter per xterm's encoding.
func decodeShift(mod int) bool { return mod == 2 || mod == 4 || mod == 6 || mod == 8 }
func decodeAlt(mod int) bool   { return mod == 3 || mod == 4 || mod == 7 || mod == 8 }
func decodeCtrl(mod int) bool  { return mod >= 5 && mod <= 8 }

func (p *Parser) modifiers() (alt, ctrl, shift bool) {
	mod := p.getParam(1, 1)
	return decodeAlt(mod), decodeCtrl(mod), decodeShift(mod)
}

func (p *Parser) executeCSI(finalByte byte) {
	alt, ctrl, shift := p.modifiers()
	switch finalByte {
	case 'A':
		p.keypress(KeyUp, 0, alt, ctrl, shift)
	case 'B':
		p.keypress(KeyDown, 0, alt, ctrl, shift)
	case 'C':
		p.keypress(KeyRight, 0, alt, ctrl, shift)
	case 'D':
		p.keypress(KeyLeft, 0, alt, ctrl, shift)
	case 'H':
		p.keypress(KeyHome, 0, alt, ctrl, shift)
	case 'F':
		p.keypress(KeyEnd, 0, alt, ctrl, shift)
	case 'Z':
		p.keypress(KeyBacktab, 0, false, false, false)
	case '~':
		p.executeTilde()
	case 'c':
		if p.decPrivate {
			p.caps.setDAResponse(p.params)
		}
	case 't':
		p.executeWindowOp()
	case 'S':
		// XTSMGRAPHICS reply: item ; status ; value
		if p.decPrivate && p.getParam(0, 0) == 1 && p.getParam(1, 1) == 0 {
			p.caps.setPaletteRegisters(p.getParam(2, 0))
		}
	case 'y':
		// DECRPM reply: mode ; value $ y
		if p.decPrivate && p.decDollar {
			p.caps.setMode(p.getParam(0, 0), p.getParam(1, 0))
		}
	}
}

func (p *Parser) executeTilde() {
	pn := p.getParam(0, 0)
	if pn == 27 {
		// modifyOtherKeys payload: 27 ; modifier ; codepoint ~
		mod := p.getParam(1, 1)
		ch := rune(p.getParam(2, 0))
		if ch == 0 {
			return
		}
		alt, ctrl, shift := decodeAlt(mod), decodeCtrl(mod), decodeShift(mod)
		if shift && unicode.IsLower(ch) {
			ch = unicode.ToUpper(ch)
		}
		p.keypress(KeyNone, ch, alt, ctrl, shift)
		return
	}
	alt, ctrl, shift := p.modifiers()
	if key, ok := tildeKeys[pn]; ok {
		p.keypress(key, 0, alt, ctrl, shift)
	}
}

func (p *Parser) executeWindowOp() {
	switch p.getParam(0, 0) {
	case 4:
		// Window size in pixels: 4 ; height ; width t
		p.caps.setWindowPixels(p.getParam(2, 0), p.getParam(1, 0))
	case 6:
		// Cell size in pixels: 6 ; height ; width t
		p.caps.setCellPixels(p.getParam(2, 0), p.getParam(1, 0))
	}
}

// handleMouse collects the three X10 bytes (buttons, x, y), each offset by
// 32.
func (p *Parser) handleMouse(b byte) {
	p.mouseBytes[p.mouseLen] = b - 32
	p.mouseLen++
	if p.mouseLen < 3 {
		return
	}
	buttons := int(p.mouseBytes[0])
	x := int(p.mouseBytes[1]) - 1
	y := int(p.mouseBytes[2]) - 1
	ev := p.decodeMouseButtons(buttons)
	ev.X, ev.Y = x, y
	if buttons&3 == 3 && !ev.WheelUp && !ev.WheelDown {
		ev.Type = MouseUp
		ev.Button1 = true
	}
	p.emit(ev)
	p.reset()
}

// handleMouseSGR accumulates SGR mouse params; M terminates as a press (or
// motion) and m as a release.
func (p *Parser) handleMouseSGR(b byte) {
	switch {
	case b >= '0' && b <= '9':
		if len(p.params) == 0 {
			p.params = append(p.params, "")
		}
		p.params[len(p.params)-1] += string(b)
	case b == ';':
		if len(p.params) == 0 {
			p.params = append(p.params, "")
		}
		p.params = append(p.params, "")
	case b == 'M' || b == 'm':
		buttons := p.getParam(0, 0)
		x := p.getParam(1, 1) - 1
		y := p.getParam(2, 1) - 1
		ev := p.decodeMouseButtons(buttons)
		if p.caps.PixelMouse() {
			cw, ch := p.caps.CellPixelSize()
			if cw > 0 && ch > 0 {
				ev.PixelX = x % cw
				ev.PixelY = y % ch
				x /= cw
				y /= ch
			}
		}
		ev.X, ev.Y = x, y
		if b == 'm' {
			ev.Type = MouseUp
		}
		p.emit(ev)
		p.reset()
	default:
		p.reset()
	}
}

// decodeMouseButtons translates the xterm button code shared by X10 and SGR
// encodings into event fields.
func (p *Parser) decodeMouseButtons(buttons int) MouseEvent {
	ev := MouseEvent{baseEvent: baseEvent{backend: p.backend}, Type: MouseDown}
	if buttons&64 != 0 {
		switch buttons & 3 {
		case 0:
			ev.WheelUp = true
		case 1:
			ev.WheelDown = true
		}
	} else {
		switch buttons & 3 {
		case 0:
			ev.Button1 = true
		case 1:
			ev.Button2 = true
		case 2:
			ev.Button3 = true
		}
	}
	if buttons&32 != 0 {
		ev.Type = MouseMotion
	}
	ev.Shift = buttons&4 != 0
	ev.Alt = buttons&8 != 0
	ev.Ctrl = buttons&16 != 0
	return ev
}

// handleString accumulates OSC/XTVERSION bodies.  The terminator is ST
// (ESC \), or BEL for OSC.
func (p *Parser) handleString(b byte, buf *strings.Builder, allowBel bool) {
	if p.stPending {
		p.stPending = false
		if b == '\\' {
			p.finishString(buf)
			p.reset()
			return
		}
		buf.WriteByte(0x1B)
	}
	switch {
	case b == 0x1B:
		p.stPending = true
	case allowBel && b == 0x07:
		p.finishString(buf)
		p.reset()
	default:
		buf.WriteByte(b)
	}
}

func (p *Parser) finishString(buf *strings.Builder) {
	body := buf.String()
	if buf == &p.xtversionBuf {
		p.caps.fingerprint(strings.TrimPrefix(body, ">|"))
		return
	}
	p.dispatchOSC(body)
}

// dispatchOSC handles OSC responses; only OSC 4 palette reports are acted
// on.
func (p *Parser) dispatchOSC(body string) {
	parts := strings.Split(body, ";")
	if len(parts) < 3 || parts[0] != "4" {
		return
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil || idx < 0 || idx > 15 {
		return
	}
	rgb, ok := ParseXColor(strings.Join(parts[2:], ";"))
	if !ok {
		return
	}
	p.palette.Set(idx, rgb)
	if p.onPaletteChange != nil {
		p.onPaletteChange()
	}
}
