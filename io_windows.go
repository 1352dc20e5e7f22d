//go:build windows

package purfectdrive

import (
	"os"

	"golang.org/x/term"
)

// fileAvailable has no FIONREAD equivalent on this platform; report one
// pending byte so the reader falls through to a blocking Read.
func fileAvailable(f *os.File) int {
	return 1
}

// queryWinsize reads the console geometry.
func queryWinsize(f *os.File) (cols, rows int, ok bool) {
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil || w == 0 || h == 0 {
		return 0, 0, false
	}
	return w, h, true
}
