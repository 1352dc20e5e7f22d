//go:build !windows

package purfectdrive

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileAvailable returns the pending byte count via FIONREAD.
func fileAvailable(f *os.File) int {
	n, err := unix.IoctlGetInt(int(f.Fd()), unix.TIOCINQ)
	if err != nil {
		return 0
	}
	return n
}

// queryWinsize reads the terminal geometry via TIOCGWINSZ.
func queryWinsize(f *os.File) (cols, rows int, ok bool) {
	ws, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 || ws.Row == 0 {
		return 0, 0, false
	}
	return int(ws.Col), int(ws.Row), true
}
