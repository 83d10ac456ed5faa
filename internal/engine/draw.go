package engine

import (
	"fmt"
	"image/color"

	"github.com/fogleman/gg"
)

// Drawing colors and sizes.
var (
	colorFace    = color.RGBA{R: 0x4f, G: 0xc3, B: 0xf7, A: 0xff}
	colorMesh    = color.RGBA{R: 0xb3, G: 0xe5, B: 0xfc, A: 0xb0}
	colorIris    = color.RGBA{R: 0xff, G: 0xd5, B: 0x4f, A: 0xff}
	colorBody    = color.RGBA{R: 0x81, G: 0xc7, B: 0x84, A: 0xff}
	colorHand    = color.RGBA{R: 0xff, G: 0x8a, B: 0x65, A: 0xff}
	colorLabel   = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	lineWidth    = 2.0
	pointRadius  = 2.5
	meshRadius   = 1.0
	labelSize    = 14.0
	minPartScore = 0.2
)

// DrawAll paints every detected feature of result onto dc: face boxes and
// labels, face mesh, iris, body skeletons, hand skeletons and gestures.
// A nil result draws nothing.
func DrawAll(dc *gg.Context, result *Result) {
	if dc == nil || result == nil {
		return
	}
	face, release := LabelFace(labelSize)
	defer release()
	dc.SetFontFace(face)

	for i := range result.Face {
		drawFace(dc, &result.Face[i])
	}
	for i := range result.Body {
		drawBody(dc, &result.Body[i])
	}
	for i := range result.Hand {
		drawHand(dc, &result.Hand[i])
	}
	drawGestures(dc, result.Gesture)
}

func drawFace(dc *gg.Context, f *Face) {
	strokeBox(dc, f.Box, colorFace)

	dc.SetColor(colorMesh)
	for _, p := range f.Mesh {
		dc.DrawCircle(p.X, p.Y, meshRadius)
	}
	dc.Fill()

	if f.Iris != nil {
		dc.SetColor(colorIris)
		drawLabel(dc, fmt.Sprintf("distance: %.2fm", *f.Iris), f.Box.X, f.Box.Y+f.Box.Height+labelSize)
	}

	label := fmt.Sprintf("face %.0f%%", f.Score*100)
	if f.Age != nil {
		label += fmt.Sprintf(" age: %.1f", *f.Age)
	}
	if f.Gender != "" {
		label += fmt.Sprintf(" %s %.0f%%", f.Gender, f.GenderScore*100)
	}
	if e := f.DominantEmotion(); e != "" {
		label += " " + e
	}
	dc.SetColor(colorLabel)
	drawLabel(dc, label, f.Box.X, f.Box.Y-4)
}

func drawBody(dc *gg.Context, b *Body) {
	strokeBox(dc, b.Box, colorBody)

	dc.SetColor(colorBody)
	dc.SetLineWidth(lineWidth)
	for _, c := range BodyConnections {
		from, ok1 := b.Keypoint(c[0])
		to, ok2 := b.Keypoint(c[1])
		if !ok1 || !ok2 || from.Score < minPartScore || to.Score < minPartScore {
			continue
		}
		dc.DrawLine(from.Position.X, from.Position.Y, to.Position.X, to.Position.Y)
		dc.Stroke()
	}
	for _, k := range b.Keypoints {
		if k.Score < minPartScore {
			continue
		}
		dc.DrawCircle(k.Position.X, k.Position.Y, pointRadius)
		dc.Fill()
	}
}

func drawHand(dc *gg.Context, h *Hand) {
	strokeBox(dc, h.Box, colorHand)

	dc.SetColor(colorHand)
	dc.SetLineWidth(lineWidth)
	for _, c := range HandConnections {
		from, to := h.Landmarks[c[0]], h.Landmarks[c[1]]
		dc.DrawLine(from.X, from.Y, to.X, to.Y)
		dc.Stroke()
	}
	for _, p := range h.Landmarks {
		dc.DrawCircle(p.X, p.Y, pointRadius)
		dc.Fill()
	}
	if h.Handedness != "" {
		dc.SetColor(colorLabel)
		drawLabel(dc, h.Handedness, h.Box.X, h.Box.Y-4)
	}
}

func drawGestures(dc *gg.Context, gestures []Gesture) {
	if len(gestures) == 0 {
		return
	}
	dc.SetColor(colorLabel)
	y := float64(dc.Height()) - 8
	for i := len(gestures) - 1; i >= 0; i-- {
		g := gestures[i]
		drawLabel(dc, fmt.Sprintf("%s#%d: %s", g.Family, g.Index, g.Gesture), 8, y)
		y -= labelSize + 4
	}
}

func strokeBox(dc *gg.Context, b Box, c color.Color) {
	if b.Width <= 0 || b.Height <= 0 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(lineWidth)
	dc.DrawRectangle(b.X, b.Y, b.Width, b.Height)
	dc.Stroke()
}

// drawLabel draws text in the face set by DrawAll.
func drawLabel(dc *gg.Context, text string, x, y float64) {
	dc.DrawString(text, x, y)
}
