package purfectdrive

import "fmt"

// Event is anything the input side produces: a keypress, a mouse action, a
// resize, or a driver command.  Every event carries the backend token of the
// session that observed it so fan-in applications can identify the origin.
type Event interface {
	// Backend returns the token of the originating session.
	Backend() string
}

// CommandKind enumerates driver commands surfaced as events.
type CommandKind int

const (
	// CommandDisconnect reports that the byte source failed or closed.
	CommandDisconnect CommandKind = iota
	// CommandAbort requests an orderly shutdown (e.g. host hangup).
	CommandAbort
)

type baseEvent struct {
	backend string
}

func (e baseEvent) Backend() string { return e.backend }

// KeypressEvent is a single keystroke: either a named key or a character,
// plus modifier state.
type KeypressEvent struct {
	baseEvent
	Key   Key  // KeyNone for character keys
	Ch    rune // valid when Key == KeyNone
	Alt   bool
	Ctrl  bool
	Shift bool
}

// String renders the keystroke for logs.
func (e KeypressEvent) String() string {
	mods := ""
	if e.Ctrl {
		mods += "C-"
	}
	if e.Alt {
		mods += "M-"
	}
	if e.Shift {
		mods += "S-"
	}
	if e.Key != KeyNone {
		return mods + e.Key.String()
	}
	return mods + string(e.Ch)
}

// MouseEventType distinguishes press, release and motion.
type MouseEventType int

const (
	MouseDown MouseEventType = iota
	MouseUp
	MouseMotion
)

// MouseEvent is a decoded mouse report.  Cell coordinates are always valid;
// pixel offsets are populated only when the terminal reports pixel
// coordinates (DEC private mode 1016).
type MouseEvent struct {
	baseEvent
	Type      MouseEventType
	X, Y      int // cell coordinates, 0-based
	PixelX    int // offset within the cell, device pixels
	PixelY    int
	Button1   bool
	Button2   bool
	Button3   bool
	WheelUp   bool
	WheelDown bool
	Alt       bool
	Ctrl      bool
	Shift     bool
}

// String renders the mouse report for logs.
func (e MouseEvent) String() string {
	kind := "motion"
	switch e.Type {
	case MouseDown:
		kind = "down"
	case MouseUp:
		kind = "up"
	}
	return fmt.Sprintf("mouse %s (%d,%d) b1=%v b2=%v b3=%v", kind, e.X, e.Y,
		e.Button1, e.Button2, e.Button3)
}

// ResizeEvent reports a new terminal geometry in cells.
type ResizeEvent struct {
	baseEvent
	Width  int
	Height int
}

// CommandEvent carries driver-level conditions such as disconnects.
type CommandEvent struct {
	baseEvent
	Kind CommandKind
}
