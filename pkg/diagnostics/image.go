// Package diagnostics renders per-peak pictures of the flood fill: the
// TOF-integrated window with the accepted region, and the focused spectrum
// against the summed fitted curve.
package diagnostics

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"braggflood/internal/models"
	"braggflood/pkg/integration"
)

// Pixel colouring of the window image
var (
	invalidColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	seedColor    = color.RGBA{R: 0, G: 200, B: 0, A: 255}
)

// WindowImage draws the TOF-integrated counts of win as grey levels, one
// cell x cell block per pixel. Accepted pixels are tinted red and rejected
// attempts blue; the seed pixel gets a green border. state may be nil.
func WindowImage(win *models.PixelWindow, state *integration.FitState, seed integration.Pixel, cell int) (*image.RGBA, error) {
	rows, cols := win.Rows(), win.Cols()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("diagnostics: empty window")
	}
	if cell < 1 {
		cell = 1
	}

	peak := 0.0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if win.Valid(r, c) {
				peak = math.Max(peak, win.Integrated(r, c))
			}
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, cols*cell, rows*cell))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			px := integration.Pixel{Row: r, Col: c}
			var fill color.RGBA
			switch {
			case !win.Valid(r, c):
				fill = invalidColor
			default:
				g := uint8(0)
				if peak > 0 {
					g = uint8(math.Max(0, math.Min(255, 255*win.Integrated(r, c)/peak)))
				}
				fill = color.RGBA{R: g, G: g, B: g, A: 255}
				if state != nil && state.Successful(px) {
					fill = color.RGBA{R: 255, G: g / 2, B: g / 2, A: 255}
				} else if state != nil && state.Attempted(px) {
					fill = color.RGBA{R: g / 2, G: g / 2, B: 255, A: 255}
				}
			}

			isSeed := state != nil && px == seed && state.Attempted(px)
			for y := 0; y < cell; y++ {
				for x := 0; x < cell; x++ {
					border := x == 0 || y == 0 || x == cell-1 || y == cell-1
					if isSeed && border && cell > 2 {
						img.SetRGBA(c*cell+x, r*cell+y, seedColor)
						continue
					}
					img.SetRGBA(c*cell+x, r*cell+y, fill)
				}
			}
		}
	}
	return img, nil
}

// SaveImage writes img as a PNG file
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return file.Close()
}
