package purfectdrive

import (
	"bytes"
	"encoding/base64"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"
)

// JexerImageFormat selects the payload encoding for OSC 444 images.
type JexerImageFormat int

const (
	JexerDisabled JexerImageFormat = iota
	JexerJPG
	JexerPNG
	JexerRGB
)

// ParseJexerImageFormat maps a config string to a format, defaulting to PNG
// for unrecognized values.
func ParseJexerImageFormat(s string) JexerImageFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "false":
		return JexerDisabled
	case "jpg", "jpeg":
		return JexerJPG
	case "rgb":
		return JexerRGB
	default:
		return JexerPNG
	}
}

// JexerEncoder wraps bitmaps in the Jexer image protocol (OSC 444), which
// places the image at the cursor without moving it.
type JexerEncoder struct {
	Format JexerImageFormat
}

// Encode produces the OSC 444 sequence for one bitmap.
func (e JexerEncoder) Encode(bm Bitmap) string {
	if bm == nil || bm.Width() < 1 || bm.Height() < 1 || e.Format == JexerDisabled {
		return ""
	}
	var payload bytes.Buffer
	fmtCode := 0
	dims := ""
	switch e.Format {
	case JexerPNG:
		fmtCode = 1
		if err := png.Encode(&payload, bitmapToImage(bm)); err != nil {
			return ""
		}
	case JexerJPG:
		fmtCode = 2
		if err := jpeg.Encode(&payload, bitmapToImage(bm), nil); err != nil {
			return ""
		}
	case JexerRGB:
		// Raw RGB needs an explicit dimension prefix
		dims = strconv.Itoa(bm.Width()) + ";" + strconv.Itoa(bm.Height()) + ";0;"
		w, h := bm.Width(), bm.Height()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b, _ := bm.RGBA(x, y)
				payload.WriteByte(r)
				payload.WriteByte(g)
				payload.WriteByte(b)
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("\x1b]444;")
	sb.WriteString(strconv.Itoa(fmtCode))
	sb.WriteString(";0;")
	sb.WriteString(dims)
	sb.WriteString(base64.StdEncoding.EncodeToString(payload.Bytes()))
	sb.WriteByte(0x07)
	return sb.String()
}
