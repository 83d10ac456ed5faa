package engine

import (
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce sync.Once
	regular  *truetype.Font
	bold     *truetype.Font
)

func loadFonts() {
	var err error
	regular, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
	bold, err = truetype.Parse(gobold.TTF)
	if err != nil {
		panic(err)
	}
}

type faceKey struct {
	bold bool
	size float64
}

// faces pools font faces per style and size. A truetype face keeps a glyph
// cache and a shared mask buffer, so each one is held by a single goroutine
// between acquire and release.
var faces sync.Map // faceKey -> *sync.Pool

func acquireFace(key faceKey) (font.Face, func()) {
	fontOnce.Do(loadFonts)

	p, ok := faces.Load(key)
	if !ok {
		p, _ = faces.LoadOrStore(key, &sync.Pool{New: func() any {
			f := regular
			if key.bold {
				f = bold
			}
			return truetype.NewFace(f, &truetype.Options{Size: key.size})
		}})
	}
	pool := p.(*sync.Pool)
	face := pool.Get().(font.Face)
	return face, func() { pool.Put(face) }
}

// LabelFace returns a regular font face for annotation labels and a function
// handing it back. The face must not be used after release.
func LabelFace(size float64) (font.Face, func()) {
	return acquireFace(faceKey{size: size})
}

// BoldFace returns a bold font face for the text block and a function handing
// it back. The face must not be used after release.
func BoldFace(size float64) (font.Face, func()) {
	return acquireFace(faceKey{bold: true, size: size})
}
