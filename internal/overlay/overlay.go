// Package overlay renders verdict entities onto key frames: a dashed offside
// line, player markers and a decision banner with the decision, confidence
// and explanation written in a bitmap face.
package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

var (
	colorOffsideLine = color.RGBA{R: 255, A: 255}
	colorAttacker    = color.RGBA{B: 255, A: 255}
	colorDefender    = color.RGBA{G: 255, A: 255}
	colorViolation   = color.RGBA{R: 255, A: 255}
	colorReviewing   = color.RGBA{R: 255, G: 255, A: 255}
	colorBanner      = color.RGBA{A: 180}
	colorExplanation = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)

const (
	lineThickness = 3
	dashLength    = 20
	gapLength     = 10
	markerRadius  = 20
	bannerHeight  = 80
	bannerMark    = 24
	bannerPad     = 10

	// text rows, as the top edge of each line of the 7x13 face
	labelScale     = 2
	confidenceRow  = 40
	explanationRow = 60
)

// Renderer draws overlays and re-encodes frames as JPEG.
type Renderer struct {
	quality int
}

var _ ports.Overlay = (*Renderer)(nil)

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{quality: 90}
}

// Annotate draws the verdict's entities on frame. Entities with malformed
// boxes are skipped.
func (r *Renderer) Annotate(frame domain.Image, verdict *domain.ClipVerdict) (domain.Image, error) {
	if verdict == nil {
		return domain.Image{}, errors.New("nil verdict")
	}
	src, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return domain.Image{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	b := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Src)

	drawBanner(canvas, verdict)
	// line before markers so markers sit on top of it
	for _, e := range verdict.Entities {
		if e.Label == domain.EntityOffsideLine && len(e.Box) >= 4 {
			drawDashedLine(canvas, e.Box, colorOffsideLine)
		}
	}
	for _, e := range verdict.Entities {
		if len(e.Box) < 4 {
			continue
		}
		cx := scale((e.Box[1]+e.Box[3])/2, canvas.Bounds().Dx())
		cy := scale((e.Box[0]+e.Box[2])/2, canvas.Bounds().Dy())
		switch e.Label {
		case domain.EntityAttacker:
			if verdict.Decision == domain.DecisionOffside {
				drawRing(canvas, cx, cy, markerRadius+10, colorViolation)
			} else {
				drawRing(canvas, cx, cy, markerRadius, colorAttacker)
			}
		case domain.EntityDefender:
			drawRing(canvas, cx, cy, markerRadius, colorDefender)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: r.quality}); err != nil {
		return domain.Image{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	return domain.Image{Data: buf.Bytes(), MediaType: "image/jpeg"}, nil
}

// scale maps a normalised coordinate onto [0, size).
func scale(v float64, size int) int {
	p := int(v * float64(size))
	return max(0, min(size-1, p))
}

// drawDashedLine extends the normalised segment [x0, y0, x1, y1] across the
// full frame width.
func drawDashedLine(img *image.RGBA, seg []float64, c color.Color) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x0, y0, x1, y1 := seg[0], seg[1], seg[2], seg[3]
	yAt := func(x float64) float64 { return (y0 + y1) / 2 }
	if x1 != x0 {
		slope := (y1 - y0) / (x1 - x0)
		yAt = func(x float64) float64 { return y0 + slope*(x-x0) }
	}

	fill := image.NewUniform(c)
	for x := 0; x < w; x++ {
		if x%(dashLength+gapLength) >= dashLength {
			continue
		}
		y := int(yAt(float64(x)/float64(w)) * float64(h))
		r := image.Rect(x, y-lineThickness/2, x+1, y+lineThickness/2+1).Intersect(img.Bounds())
		draw.Draw(img, r, fill, image.Point{}, draw.Src)
	}
}

// drawRing paints a ring of lineThickness pixels around (cx, cy).
func drawRing(img *image.RGBA, cx, cy, radius int, c color.Color) {
	outer := radius * radius
	inner := (radius - lineThickness) * (radius - lineThickness)
	bounds := img.Bounds()
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			d := (x-cx)*(x-cx) + (y-cy)*(y-cy)
			if d > outer || d < inner || !image.Pt(x, y).In(bounds) {
				continue
			}
			img.Set(x, y, c)
		}
	}
}

// drawBanner paints the VAR strip across the top of the frame: a decision
// swatch and label, the confidence as text and bar, and the explanation when
// one is available.
func drawBanner(img *image.RGBA, verdict *domain.ClipVerdict) {
	w := img.Bounds().Dx()
	h := min(bannerHeight, img.Bounds().Dy())
	draw.Draw(img, image.Rect(0, 0, w, h), image.NewUniform(colorBanner), image.Point{}, draw.Over)

	label, mark := decisionLabel(verdict.Decision)
	draw.Draw(img, image.Rect(bannerPad, bannerPad, bannerPad+bannerMark, bannerPad+bannerMark), image.NewUniform(mark), image.Point{}, draw.Src)
	drawText(img, label, image.Pt(2*bannerPad+bannerMark, bannerPad), labelScale, mark)

	conf := fmt.Sprintf("Confidence: %.0f%%", verdict.Confidence*100)
	confWidth := textWidth(conf)
	drawText(img, conf, image.Pt(bannerPad, confidenceRow), 1, color.White)

	barStart := 2*bannerPad + confWidth
	barEnd := barStart + int(domain.ClampConfidence(verdict.Confidence)*float64(max(0, w-barStart-bannerPad)))
	barMid := confidenceRow + basicfont.Face7x13.Height/2
	draw.Draw(img, image.Rect(barStart, barMid-2, barEnd, barMid+2), image.NewUniform(color.White), image.Point{}, draw.Src)

	if verdict.Explanation != "" {
		drawText(img, fitText(verdict.Explanation, w-2*bannerPad), image.Pt(bannerPad, explanationRow), 1, colorExplanation)
	}
}

func decisionLabel(d domain.Decision) (string, color.Color) {
	switch d {
	case domain.DecisionOffside, domain.DecisionHandball:
		return string(d), colorViolation
	case domain.DecisionOnside:
		return "ONSIDE", colorDefender
	case domain.DecisionNoInfraction:
		return "NO INFRACTION", colorDefender
	case domain.DecisionAPIError:
		return "API ERROR", colorReviewing
	default:
		return "REVIEWING...", colorReviewing
	}
}

// drawText writes s with its top-left corner at pt, magnified by factor.
// Glyphs are rendered at native size and scaled nearest-neighbour so the
// bitmap face stays crisp.
func drawText(img *image.RGBA, s string, pt image.Point, factor int, c color.Color) {
	face := basicfont.Face7x13
	if factor <= 1 {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(c),
			Face: face,
			Dot:  fixed.P(pt.X, pt.Y+face.Ascent),
		}
		d.DrawString(s)
		return
	}

	glyphs := image.NewRGBA(image.Rect(0, 0, textWidth(s), face.Height))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)

	dst := image.Rect(pt.X, pt.Y, pt.X+factor*glyphs.Bounds().Dx(), pt.Y+factor*glyphs.Bounds().Dy())
	xdraw.NearestNeighbor.Scale(img, dst, glyphs, glyphs.Bounds(), draw.Over, nil)
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil()
}

// fitText truncates s with an ellipsis so it fits in width pixels.
func fitText(s string, width int) string {
	if textWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && textWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
