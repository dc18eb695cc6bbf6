package report

import (
	"image/color"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
)

// Page geometry: A4 portrait at 300 DPI.
const (
	dpi        = 300
	pageWidth  = 2481
	pageHeight = 3507
)

// Palette.
var (
	colorBackground = color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF}
	colorGreen      = color.NRGBA{0x00, 0xD9, 0xA3, 0xFF}
	colorRed        = color.NRGBA{0xFF, 0x6B, 0x6B, 0xFF}
	colorGray       = color.NRGBA{0xE8, 0xE8, 0xE8, 0xFF}
	colorText       = color.NRGBA{0x2E, 0x34, 0x40, 0xFF}
	colorAmber      = color.NRGBA{0xFF, 0xB8, 0x00, 0xFF}
	colorOrange     = color.NRGBA{0xFF, 0x95, 0x00, 0xFF}
	colorWhite      = color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF}
)

func withAlpha(c color.NRGBA, alpha float64) color.NRGBA {
	c.A = uint8(alpha*255 + 0.5)
	return c
}

// points converts a length in points to pixels.
func points(pt float64) float64 {
	return pt * dpi / 72
}

// weight selects a typeface.
type weight int

const (
	regular weight = iota
	bold
)

type faceKey struct {
	weight weight
	size   float64
}

// canvas draws in figure coordinates: x and y in [0, 1] from the bottom
// left corner of the page. Faces are created per canvas since truetype
// faces keep a glyph cache and are not safe for concurrent use.
type canvas struct {
	dc    *gg.Context
	fonts [2]*truetype.Font
	faces map[faceKey]font.Face
}

func newCanvas(fonts [2]*truetype.Font) *canvas {
	dc := gg.NewContext(pageWidth, pageHeight)
	dc.SetColor(colorBackground)
	dc.Clear()
	return &canvas{dc: dc, fonts: fonts, faces: make(map[faceKey]font.Face)}
}

func (c *canvas) px(x float64) float64 { return x * pageWidth }
func (c *canvas) py(y float64) float64 { return (1 - y) * pageHeight }

func (c *canvas) face(w weight, size float64) font.Face {
	key := faceKey{w, size}
	if f, ok := c.faces[key]; ok {
		return f
	}
	f := truetype.NewFace(c.fonts[w], &truetype.Options{
		Size:    size,
		DPI:     dpi,
		Hinting: font.HintingNone,
	})
	c.faces[key] = f
	return f
}

func (c *canvas) close() {
	for _, f := range c.faces {
		_ = f.Close()
	}
}

// anchor is the horizontal and vertical text alignment.
type anchor struct{ x, y float64 }

var (
	alignCenter   = anchor{0.5, 0}
	alignLeft     = anchor{0, 0}
	alignCentered = anchor{0.5, 0.35}
)

// text draws s with its baseline at figure point (x, y). Multi-line text
// grows upwards so that the last line sits on the baseline.
func (c *canvas) text(s string, x, y float64, a anchor, w weight, size float64, col color.NRGBA) {
	c.dc.SetFontFace(c.face(w, size))
	c.dc.SetColor(col)

	lines := strings.Split(s, "\n")
	lineHeight := c.dc.FontHeight() * 1.2
	baseline := c.py(y) - float64(len(lines)-1)*lineHeight
	for i, line := range lines {
		c.dc.DrawStringAnchored(line, c.px(x), baseline+float64(i)*lineHeight, a.x, a.y)
	}
}

// rect fills a rectangle given by its bottom left corner and size.
func (c *canvas) rect(x, y, w, h float64, col color.NRGBA) {
	c.dc.DrawRectangle(c.px(x), c.py(y+h), w*pageWidth, h*pageHeight)
	c.dc.SetColor(col)
	c.dc.Fill()
}

// roundedRect fills a rectangle grown by pad pixels on every side, with
// corners of radius pad.
func (c *canvas) roundedRect(x, y, w, h, pad float64, col color.NRGBA) {
	c.dc.DrawRoundedRectangle(c.px(x)-pad, c.py(y+h)-pad, w*pageWidth+2*pad, h*pageHeight+2*pad, pad)
	c.dc.SetColor(col)
	c.dc.Fill()
}

// axes is a panel placed at [left, bottom, width, height] in figure
// coordinates. Its own coordinates run from 0 to 1 in both directions.
type axes struct {
	c                        *canvas
	left, bottom, width, hgt float64
}

func (c *canvas) axes(left, bottom, width, height float64) *axes {
	return &axes{c: c, left: left, bottom: bottom, width: width, hgt: height}
}

func (a *axes) fx(x float64) float64 { return a.left + x*a.width }
func (a *axes) fy(y float64) float64 { return a.bottom + y*a.hgt }

func (a *axes) text(s string, x, y float64, an anchor, w weight, size float64, col color.NRGBA) {
	a.c.text(s, a.fx(x), a.fy(y), an, w, size, col)
}

func (a *axes) rect(x, y, w, h float64, col color.NRGBA) {
	a.c.rect(a.fx(x), a.fy(y), w*a.width, h*a.hgt, col)
}

func (a *axes) roundedRect(x, y, w, h, pad float64, col color.NRGBA) {
	a.c.roundedRect(a.fx(x), a.fy(y), w*a.width, h*a.hgt, pad*a.width*pageWidth, col)
}

// square maps data coordinates in [-lim, lim] on both axes to pixels with
// equal aspect, centred in the panel.
type square struct {
	cx, cy, scale float64
}

func (a *axes) square(lim float64) square {
	w := a.width * pageWidth
	h := a.hgt * pageHeight
	return square{
		cx:    a.c.px(a.fx(0.5)),
		cy:    a.c.py(a.fy(0.5)),
		scale: min(w, h) / (2 * lim),
	}
}

func (s square) x(v float64) float64 { return s.cx + v*s.scale }
func (s square) y(v float64) float64 { return s.cy - v*s.scale }

// figure returns the figure coordinates of a data point.
func (s square) figure(x, y float64) (float64, float64) {
	return s.x(x) / pageWidth, 1 - s.y(y)/pageHeight
}
