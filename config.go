package purfectdrive

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options configures a Terminal session.  Every field tolerates a bad value:
// Normalize falls back to the default rather than failing, so a hand-edited
// config file can never keep the driver from starting.
type Options struct {
	// ModifyOtherKeys requests xterm's extended key reporting.
	ModifyOtherKeys bool `yaml:"modifyOtherKeys"`

	// RGBColor emits 24-bit SGR for attribute colors instead of the
	// 16-color codes.
	RGBColor bool `yaml:"rgbColor"`

	// Sixel enables sixel image output (on unless the DA response lacks
	// the capability).
	Sixel bool `yaml:"sixel"`

	// SixelEncoder picks the rendition: "hq" or "legacy".
	SixelEncoder string `yaml:"sixelEncoder"`

	// SixelFastAndDirty trades palette quality for speed.
	SixelFastAndDirty bool `yaml:"sixelFastAndDirty"`

	// SixelSharedPalette emits the palette once, on the first flush that
	// draws a sixel image, instead of per image.  When unset it is derived
	// from the palette size.
	SixelSharedPalette *bool `yaml:"sixelSharedPalette"`

	// SixelPaletteSize is one of 2, 256, 512, 1024, 2048.
	SixelPaletteSize int `yaml:"sixelPaletteSize"`

	// BottomRowSixel permits the DECSDM transparent trick on the last text
	// row.  Kill switch for terminals that scroll anyway.
	BottomRowSixel bool `yaml:"bottomRowSixel"`

	// WideCharImages renders braille and legacy-computing glyphs through
	// the GlyphMaker as image cells.
	WideCharImages bool `yaml:"wideCharImages"`

	// ITerm2Images forces the iTerm2 protocol on; normally it is enabled
	// by the XTVERSION fingerprint.  ITerm2ImagesOff disables it even when
	// fingerprinted.
	ITerm2Images    bool `yaml:"iTerm2Images"`
	ITerm2ImagesOff bool `yaml:"iTerm2ImagesOff"`

	// JexerImages selects the OSC 444 payload: disabled, jpg, png or rgb.
	JexerImages string `yaml:"jexerImages"`

	// ImagesOverText redraws text cells underneath images after emission.
	ImagesOverText bool `yaml:"imagesOverText"`

	// ImageThreadCount sizes the encode worker pool.
	ImageThreadCount int `yaml:"imageThreadCount"`

	// ImageCacheSize bounds the encoded-run cache.
	ImageCacheSize int `yaml:"imageCacheSize"`

	// Debug routes engineering logs to stderr.
	Debug bool `yaml:"debug"`

	// Palette overrides for the 16 system colors, hex or rgb: forms.
	Color0  string `yaml:"color0"`
	Color1  string `yaml:"color1"`
	Color2  string `yaml:"color2"`
	Color3  string `yaml:"color3"`
	Color4  string `yaml:"color4"`
	Color5  string `yaml:"color5"`
	Color6  string `yaml:"color6"`
	Color7  string `yaml:"color7"`
	Color8  string `yaml:"color8"`
	Color9  string `yaml:"color9"`
	Color10 string `yaml:"color10"`
	Color11 string `yaml:"color11"`
	Color12 string `yaml:"color12"`
	Color13 string `yaml:"color13"`
	Color14 string `yaml:"color14"`
	Color15 string `yaml:"color15"`
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		Sixel:            true,
		SixelEncoder:     "hq",
		SixelPaletteSize: 1024,
		BottomRowSixel:   true,
		WideCharImages:   true,
		JexerImages:      "png",
		ImageThreadCount: 2,
		ImageCacheSize:   256,
	}
}

var validPaletteSizes = map[int]bool{2: true, 256: true, 512: true, 1024: true, 2048: true}

// Normalize replaces invalid values with defaults.  It never fails.
func (o *Options) Normalize() {
	def := DefaultOptions()
	if o.SixelEncoder != "hq" && o.SixelEncoder != "legacy" {
		o.SixelEncoder = def.SixelEncoder
	}
	if !validPaletteSizes[o.SixelPaletteSize] {
		o.SixelPaletteSize = def.SixelPaletteSize
	}
	if o.ImageThreadCount < 1 {
		o.ImageThreadCount = def.ImageThreadCount
	}
	if o.ImageCacheSize < 1 {
		o.ImageCacheSize = def.ImageCacheSize
	}
	switch o.JexerImages {
	case "disabled", "jpg", "png", "rgb":
	default:
		o.JexerImages = def.JexerImages
	}
}

// SharedPaletteEnabled resolves the tri-state shared palette option: an
// explicit value wins; otherwise sharing kicks in for the large palettes
// whose inline definitions would dominate small images.
func (o *Options) SharedPaletteEnabled() bool {
	if o.SixelSharedPalette != nil {
		return *o.SixelSharedPalette
	}
	return o.SixelPaletteSize >= 512
}

// PaletteOverrides parses the color0..color15 options into per-slot RGB
// values. The second array reports which slots are set.
func (o *Options) PaletteOverrides() ([16]RGB, [16]bool) {
	var rgb [16]RGB
	var set [16]bool
	raw := [16]string{
		o.Color0, o.Color1, o.Color2, o.Color3,
		o.Color4, o.Color5, o.Color6, o.Color7,
		o.Color8, o.Color9, o.Color10, o.Color11,
		o.Color12, o.Color13, o.Color14, o.Color15,
	}
	for i, s := range raw {
		if s == "" {
			continue
		}
		if v, ok := ParseXColor(s); ok {
			rgb[i] = v
			set[i] = true
		}
	}
	return rgb, set
}

// LoadOptions reads a YAML config file over the defaults.  A missing file
// yields the defaults; a malformed file is an error.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return DefaultOptions(), fmt.Errorf("parse config: %w", err)
	}
	opts.Normalize()
	return opts, nil
}
