package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/fogleman/gg"

	"github.com/ayusman/humanoverlay/internal/engine"
)

// Text block placement and style.
const (
	TextLeft     = 20.0
	TextTop      = 20.0
	TextSize     = 24.0
	TextLeading  = 1.5
	textShadowDX = 1.0
)

var (
	textColor   = color.White
	shadowColor = color.RGBA{A: 0xc0}
)

// Surface is the drawable overlay region. The render loop draws into the back
// buffer returned by Context; Present publishes it for readers.
type Surface struct {
	mu     sync.Mutex
	dc     *gg.Context
	width  int
	height int
	front  *image.RGBA
}

var _ engine.Surface = (*Surface)(nil)

// NewSurface creates an empty surface. It must be resized before drawing.
func NewSurface() *Surface {
	return &Surface{dc: gg.NewContext(1, 1), width: 0, height: 0}
}

// Resize sets the pixel dimensions of the surface. The drawing buffer is only
// reallocated when the dimensions change. Non-positive sizes are ignored.
func (s *Surface) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if width == s.width && height == s.height {
		return
	}
	s.dc = gg.NewContext(width, height)
	s.width = width
	s.height = height
}

// Clear erases the drawing buffer to fully transparent.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.dc.Image().(*image.RGBA)
	if !ok {
		s.dc = gg.NewContext(s.dc.Width(), s.dc.Height())
		return
	}
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// Size returns the pixel dimensions of the surface.
func (s *Surface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Context returns the drawing context of the back buffer.
func (s *Surface) Context() *gg.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dc
}

// Present publishes a copy of the back buffer for Snapshot.
func (s *Surface) Present() {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.dc.Image()
	front := image.NewRGBA(src.Bounds())
	draw.Draw(front, front.Bounds(), src, src.Bounds().Min, draw.Src)
	s.front = front
}

// Snapshot returns the last presented overlay, or nil if nothing has been
// presented yet. The returned image must not be modified.
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.front
}

// Composite returns frame with overlay scaled over it and the text block drawn
// at the top left. With mirror set, the video and overlay are flipped
// horizontally; the text is not.
func Composite(frame image.Image, overlay image.Image, a Annotations, mirror bool) *image.RGBA {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	dc := gg.NewContext(w, h)

	dc.Push()
	if mirror {
		dc.Translate(float64(w), 0)
		dc.Scale(-1, 1)
	}
	dc.DrawImage(frame, -b.Min.X, -b.Min.Y)
	if overlay != nil {
		ob := overlay.Bounds()
		if ob.Dx() > 0 && ob.Dy() > 0 {
			dc.Scale(float64(w)/float64(ob.Dx()), float64(h)/float64(ob.Dy()))
			dc.DrawImage(overlay, -ob.Min.X, -ob.Min.Y)
		}
	}
	dc.Pop()

	DrawAnnotations(dc, a)

	out, ok := dc.Image().(*image.RGBA)
	if !ok {
		out = image.NewRGBA(dc.Image().Bounds())
		draw.Draw(out, out.Bounds(), dc.Image(), image.Point{}, draw.Src)
	}
	return out
}

// DrawAnnotations draws the text block onto dc. Nothing is drawn before the
// first result.
func DrawAnnotations(dc *gg.Context, a Annotations) {
	lines := a.Lines()
	if len(lines) == 0 {
		return
	}
	face, release := engine.BoldFace(TextSize)
	defer release()
	dc.SetFontFace(face)
	y := TextTop + TextSize
	for _, line := range lines {
		dc.SetColor(shadowColor)
		dc.DrawString(line, TextLeft+textShadowDX, y+textShadowDX)
		dc.SetColor(textColor)
		dc.DrawString(line, TextLeft, y)
		y += TextSize * TextLeading
	}
}
