package purfectdrive

import (
	"testing"
	"time"
)

type parserHarness struct {
	parser  *Parser
	caps    *Capabilities
	palette *SystemPalette
	events  []Event
	redraws int
}

func newParserHarness() *parserHarness {
	h := &parserHarness{
		caps:    NewCapabilities(),
		palette: NewSystemPalette(),
	}
	h.parser = NewParser("test-backend", h.caps, h.palette, func(ev Event) {
		h.events = append(h.events, ev)
	})
	h.parser.SetPaletteChangeHook(func() { h.redraws++ })
	return h
}

func (h *parserHarness) feed(t *testing.T, s string) {
	t.Helper()
	h.parser.Parse([]byte(s))
}

func (h *parserHarness) keypress(t *testing.T, idx int) KeypressEvent {
	t.Helper()
	if idx >= len(h.events) {
		t.Fatalf("expected at least %d events, got %d", idx+1, len(h.events))
	}
	kp, ok := h.events[idx].(KeypressEvent)
	if !ok {
		t.Fatalf("event %d is %T, expected KeypressEvent", idx, h.events[idx])
	}
	return kp
}

func TestCtrlUpArrow(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "\x1b[1;5A")
	kp := h.keypress(t, 0)
	if kp.Key != KeyUp || !kp.Ctrl || kp.Alt || kp.Shift {
		t.Fatalf("expected ctrl-Up, got %+v", kp)
	}
	if !h.parser.AtGround() {
		t.Fatal("parser did not return to ground")
	}
}

func TestModifyOtherKeysPayload(t *testing.T) {
	// CSI 27;6;97~ is ctrl+shift+a; the character uppercases under shift.
	h := newParserHarness()
	h.feed(t, "\x1b[27;6;97~")
	kp := h.keypress(t, 0)
	if kp.Ch != 'A' || !kp.Ctrl || !kp.Shift || kp.Alt {
		t.Fatalf("expected ctrl+shift A, got %+v", kp)
	}
}

func TestSGRMousePressRelease(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "\x1b[<0;10;20M")
	h.feed(t, "\x1b[<0;10;20m")
	if len(h.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(h.events))
	}
	down := h.events[0].(MouseEvent)
	up := h.events[1].(MouseEvent)
	if down.Type != MouseDown || !down.Button1 || down.X != 9 || down.Y != 19 {
		t.Fatalf("bad press: %+v", down)
	}
	if up.Type != MouseUp || !up.Button1 || up.X != 9 || up.Y != 19 {
		t.Fatalf("bad release: %+v", up)
	}
}

func TestSGRMouseWheelAndModifiers(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "\x1b[<64;5;6M")  // wheel up
	h.feed(t, "\x1b[<81;5;6M")  // wheel down + ctrl (65|16)
	h.feed(t, "\x1b[<32;7;8M")  // drag with button 1
	wheelUp := h.events[0].(MouseEvent)
	if !wheelUp.WheelUp || wheelUp.WheelDown {
		t.Fatalf("bad wheel up: %+v", wheelUp)
	}
	wheelDown := h.events[1].(MouseEvent)
	if !wheelDown.WheelDown || !wheelDown.Ctrl {
		t.Fatalf("bad wheel down: %+v", wheelDown)
	}
	drag := h.events[2].(MouseEvent)
	if drag.Type != MouseMotion || !drag.Button1 || drag.X != 6 || drag.Y != 7 {
		t.Fatalf("bad drag: %+v", drag)
	}
}

func TestX10Mouse(t *testing.T) {
	h := newParserHarness()
	// button 0 press at cell (3,4): bytes are 32+0, 32+4, 32+5
	h.feed(t, "\x1b[M")
	h.parser.Parse([]byte{32 + 0, 32 + 4, 32 + 5})
	ev := h.events[0].(MouseEvent)
	if ev.Type != MouseDown || !ev.Button1 || ev.X != 3 || ev.Y != 4 {
		t.Fatalf("bad X10 press: %+v", ev)
	}
	if !h.parser.AtGround() {
		t.Fatal("parser did not return to ground")
	}
}

func TestOSC4InstallsPaletteAndForcesRedraw(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "\x1b]4;1;rgb:ff/00/00\x1b\\")
	if got := h.palette.Get(1); got != (RGB{R: 0xFF}) {
		t.Fatalf("palette slot 1 = %+v", got)
	}
	if h.redraws != 1 {
		t.Fatalf("expected 1 redraw trigger, got %d", h.redraws)
	}
	// 16-bit channels are right-shifted to 8 bits.
	h.feed(t, "\x1b]4;2;rgb:1234/5678/9abc\x07")
	if got := h.palette.Get(2); got != (RGB{R: 0x12, G: 0x56, B: 0x9a}) {
		t.Fatalf("palette slot 2 = %+v", got)
	}
}

func TestModifierDecodeTable(t *testing.T) {
	for mod := 1; mod <= 8; mod++ {
		wantShift := mod == 2 || mod == 4 || mod == 6 || mod == 8
		wantAlt := mod == 3 || mod == 4 || mod == 7 || mod == 8
		wantCtrl := mod >= 5
		if decodeShift(mod) != wantShift {
			t.Errorf("shift(%d) = %v", mod, decodeShift(mod))
		}
		if decodeAlt(mod) != wantAlt {
			t.Errorf("alt(%d) = %v", mod, decodeAlt(mod))
		}
		if decodeCtrl(mod) != wantCtrl {
			t.Errorf("ctrl(%d) = %v", mod, decodeCtrl(mod))
		}
	}
}

func TestCSITerminators(t *testing.T) {
	cases := []struct {
		input string
		key   Key
	}{
		{"\x1b[A", KeyUp},
		{"\x1b[B", KeyDown},
		{"\x1b[C", KeyRight},
		{"\x1b[D", KeyLeft},
		{"\x1b[H", KeyHome},
		{"\x1b[F", KeyEnd},
		{"\x1b[Z", KeyBacktab},
		{"\x1b[2~", KeyInsert},
		{"\x1b[3~", KeyDelete},
		{"\x1b[5~", KeyPgUp},
		{"\x1b[6~", KeyPgDn},
		{"\x1b[15~", KeyF5},
		{"\x1b[24~", KeyF12},
		{"\x1bOP", KeyF1},
		{"\x1bOS", KeyF4},
	}
	for _, tc := range cases {
		h := newParserHarness()
		h.feed(t, tc.input)
		kp := h.keypress(t, 0)
		if kp.Key != tc.key {
			t.Errorf("%q: got %v, want %v", tc.input, kp.Key, tc.key)
		}
		if !h.parser.AtGround() {
			t.Errorf("%q: parser not at ground", tc.input)
		}
	}
}

func TestDAResponse(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "\x1b[?62;4;444c")
	if !h.caps.DAResponseSeen() || !h.caps.SixelImages() || !h.caps.JexerImages() {
		t.Fatalf("DA response not recorded: %+v", h.caps)
	}
	if len(h.events) != 0 {
		t.Fatalf("DA response must not produce events, got %d", len(h.events))
	}
}

func TestDECRPMResponses(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "\x1b[?2026;2$y")
	h.feed(t, "\x1b[?1016;1$y")
	if !h.caps.SyncOutput() || !h.caps.PixelMouse() {
		t.Fatal("DECRPM modes not recorded")
	}
	// value 0 means unrecognized
	h2 := newParserHarness()
	h2.feed(t, "\x1b[?2026;0$y")
	if h2.caps.SyncOutput() {
		t.Fatal("unrecognized mode must not enable sync output")
	}
}

func TestWindowOpsReports(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "\x1b[4;600;1000t")
	h.feed(t, "\x1b[6;20;10t")
	if w, hh := h.caps.ScreenPixelSize(); w != 1000 || hh != 600 {
		t.Fatalf("screen pixels = %dx%d", w, hh)
	}
	if w, hh := h.caps.CellPixelSize(); w != 10 || hh != 20 {
		t.Fatalf("cell pixels = %dx%d", w, hh)
	}
}

func TestXTVersionFingerprint(t *testing.T) {
	h := newParserHarness()
	h.parser.ArmXTVersion()
	h.feed(t, "\x1bP>|WezTerm 20240203\x1b\\")
	if !h.caps.ITerm2Images() || !h.caps.BottomRowImages() {
		t.Fatal("WezTerm fingerprint not applied")
	}
	if h.caps.VersionString() != "WezTerm 20240203" {
		t.Fatalf("version = %q", h.caps.VersionString())
	}

	h2 := newParserHarness()
	h2.parser.ArmXTVersion()
	h2.feed(t, "\x1bP>|mintty 3.6.1\x1b\\")
	if !h2.caps.ITerm2Images() || h2.caps.BottomRowImages() {
		t.Fatal("mintty must enable iTerm2 images only")
	}
}

func TestPixelMouseCoordinates(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "\x1b[?1016;1$y")
	h.caps.setCellPixels(10, 20)
	// pixel (105, 46) with 10x20 cells is cell (10, 2), offset (5, 6)
	h.feed(t, "\x1b[<0;106;47M")
	ev := h.events[0].(MouseEvent)
	if ev.X != 10 || ev.Y != 2 || ev.PixelX != 5 || ev.PixelY != 6 {
		t.Fatalf("pixel mouse decode: %+v", ev)
	}
}

func TestAltKeystrokes(t *testing.T) {
	h := newParserHarness()
	now := time.Now()
	h.parser.now = func() time.Time { return now }
	h.feed(t, "\x1bx")
	kp := h.keypress(t, 0)
	if kp.Ch != 'x' || !kp.Alt || kp.Shift {
		t.Fatalf("alt-x: %+v", kp)
	}
	h.feed(t, "\x1bX")
	kp = h.keypress(t, 1)
	if kp.Ch != 'X' || !kp.Alt || !kp.Shift {
		t.Fatalf("alt-shift-X: %+v", kp)
	}
}

func TestBareEscapeTimeout(t *testing.T) {
	h := newParserHarness()
	now := time.Now()
	h.parser.now = func() time.Time { return now }

	h.feed(t, "\x1b")
	h.parser.CheckTimeout()
	if len(h.events) != 0 {
		t.Fatal("escape resolved too early")
	}

	now = now.Add(150 * time.Millisecond)
	h.parser.CheckTimeout()
	kp := h.keypress(t, 0)
	if kp.Key != KeyEsc {
		t.Fatalf("expected Esc, got %+v", kp)
	}
	if !h.parser.AtGround() {
		t.Fatal("parser not at ground after timeout")
	}
}

func TestBareEscapeNextByteTimeout(t *testing.T) {
	h := newParserHarness()
	now := time.Now()
	h.parser.now = func() time.Time { return now }

	h.feed(t, "\x1b")
	now = now.Add(300 * time.Millisecond)
	h.feed(t, "a")
	if len(h.events) != 2 {
		t.Fatalf("expected Esc then 'a', got %d events", len(h.events))
	}
	if h.keypress(t, 0).Key != KeyEsc {
		t.Fatalf("first event: %+v", h.events[0])
	}
	if h.keypress(t, 1).Ch != 'a' {
		t.Fatalf("second event: %+v", h.events[1])
	}
}

func TestGroundCharacters(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "hi")
	h.feed(t, "é") // two-byte UTF-8
	h.feed(t, "\x09")
	h.feed(t, "\x0d")
	h.feed(t, "\x03") // Ctrl-C
	want := []struct {
		key Key
		ch  rune
	}{
		{KeyNone, 'h'}, {KeyNone, 'i'}, {KeyNone, 'é'},
		{KeyTab, 0}, {KeyEnter, 0}, {KeyNone, 'c'},
	}
	if len(h.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(h.events))
	}
	for i, w := range want {
		kp := h.keypress(t, i)
		if kp.Key != w.key || kp.Ch != w.ch {
			t.Errorf("event %d: got %+v, want %+v", i, kp, w)
		}
	}
	if kp := h.keypress(t, 5); !kp.Ctrl {
		t.Error("Ctrl-C must carry ctrl")
	}
}

func TestUnknownCSIResetsSilently(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "\x1b[99;42X")
	if len(h.events) != 0 {
		t.Fatalf("unknown CSI must not produce events, got %d", len(h.events))
	}
	if !h.parser.AtGround() {
		t.Fatal("parser not at ground after unknown CSI")
	}
}

func TestEventsCarryBackendToken(t *testing.T) {
	h := newParserHarness()
	h.feed(t, "q")
	if h.events[0].Backend() != "test-backend" {
		t.Fatalf("backend token = %q", h.events[0].Backend())
	}
}
