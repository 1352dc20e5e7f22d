package purfectdrive

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strconv"
	"strings"
)

// ITerm2Encoder wraps bitmaps in the iTerm2 inline image protocol
// (OSC 1337).  The doNotMoveCursor argument keeps the cursor where the
// driver positioned it, which the differential renderer depends on.
type ITerm2Encoder struct{}

// Encode produces the OSC 1337 File sequence for one bitmap.
func (ITerm2Encoder) Encode(bm Bitmap) string {
	if bm == nil || bm.Width() < 1 || bm.Height() < 1 {
		return ""
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, bitmapToImage(bm)); err != nil {
		return ""
	}
	b64 := base64.StdEncoding.EncodeToString(pngBuf.Bytes())
	name := base64.StdEncoding.EncodeToString([]byte("image"))

	var sb strings.Builder
	sb.WriteString("\x1b]1337;File=name=")
	sb.WriteString(name)
	sb.WriteString(";inline=1;doNotMoveCursor=1;width=")
	sb.WriteString(strconv.Itoa(bm.Width()))
	sb.WriteString("px;height=")
	sb.WriteString(strconv.Itoa(bm.Height()))
	sb.WriteString("px;preserveAspectRatio=1:")
	sb.WriteString(b64)
	sb.WriteByte(0x07)
	return sb.String()
}
