// Package testdata provides synthetic camera frames for tests.
package testdata

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Frame returns a BGR frame of the given size filled with a horizontal
// gradient, so that mirrored output differs from the input.
func Frame(width, height int) (*gocv.Mat, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	for x := 0; x < width; x++ {
		v := uint8(x * 255 / width)
		for y := 0; y < height; y++ {
			mat.SetUCharAt(y, x*3, v)
			mat.SetUCharAt(y, x*3+1, 0)
			mat.SetUCharAt(y, x*3+2, 255-v)
		}
	}
	return &mat, nil
}

// Sequence returns one frame per size given as width/height pairs.
func Sequence(sizes ...[2]int) ([]*gocv.Mat, error) {
	var frames []*gocv.Mat
	for _, s := range sizes {
		frame, err := Frame(s[0], s[1])
		if err != nil {
			// Clean up already created frames
			Close(frames)
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// Close releases every frame.
func Close(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
