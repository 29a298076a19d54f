// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package imgen

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/starsim/internal/fits"
	"github.com/mlnoga/starsim/internal/stats"
)

// A crop window or placement exceeds the sized buffers
var ErrBounds = errors.New("out of bounds")

// Non-finite or otherwise unusable inputs, rejected before any canvas work
var ErrValidation = errors.New("invalid input")

// A square accumulation canvas of float64 intensity, flat row-major.
// Sized larger than the final output to absorb PSF wings without edge
// clipping; owned exclusively by one image generation run.
type Field struct {
	Data     []float64
	Width    int
	PixScale float64 // arcsec per pixel
}

func NewField(width int, pixScale float64) *Field {
	return &Field{Data: make([]float64, width*width), Width: width, PixScale: pixScale}
}

// Pixel-wise addition of another field of identical geometry
func (f *Field) Add(other *Field) error {
	if other.Width != f.Width || len(other.Data) != len(f.Data) {
		return fmt.Errorf("%w: adding %d pixel field to %d pixel field", ErrBounds, other.Width, f.Width)
	}
	for i, v := range other.Data {
		f.Data[i] += v
	}
	return nil
}

// Total intensity over the canvas
func (f *Field) Sum() float64 {
	sum := 0.0
	for _, v := range f.Data {
		sum += v
	}
	return sum
}

// Flux-weighted center of gravity in pixel units relative to the field center
func (f *Field) CoG() (x, y float64) {
	return stats.CoG(f.Data, f.Width)
}

// Exact block summation: every factor x factor block of pixels maps to one
// output pixel holding their sum, so total flux is preserved exactly.
// The width must be divisible by the factor.
func (f *Field) Rebin(factor int) (*Field, error) {
	if factor < 1 {
		return nil, fmt.Errorf("%w: rebin factor %d", ErrValidation, factor)
	}
	if f.Width%factor != 0 {
		return nil, fmt.Errorf("%w: rebin factor %d does not divide width %d", ErrBounds, factor, f.Width)
	}
	if factor == 1 {
		out := NewField(f.Width, f.PixScale)
		copy(out.Data, f.Data)
		return out, nil
	}

	w := f.Width / factor
	out := NewField(w, f.PixScale*float64(factor))
	for y := 0; y < w; y++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			for dy := 0; dy < factor; dy++ {
				row := (y*factor + dy) * f.Width
				for dx := 0; dx < factor; dx++ {
					sum += f.Data[row+x*factor+dx]
				}
			}
			out.Data[y*w+x] = sum
		}
	}
	return out, nil
}

// Extracts a centered square sub-window of n pixels under the bin-centered
// coordinate convention, so a source at the origin stays at the origin.
// Windows that exceed the canvas, or that cannot be centered exactly because
// the parities of n and the width differ, are errors rather than silent
// truncations.
func (f *Field) Crop(n int) (*Field, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: crop width %d", ErrValidation, n)
	}
	if n > f.Width {
		return nil, fmt.Errorf("%w: crop width %d exceeds canvas width %d", ErrBounds, n, f.Width)
	}
	if (f.Width-n)%2 != 0 {
		return nil, fmt.Errorf("%w: crop width %d cannot be centered on canvas width %d", ErrBounds, n, f.Width)
	}

	start := (f.Width - n) / 2
	out := NewField(n, f.PixScale)
	for y := 0; y < n; y++ {
		copy(out.Data[y*n:(y+1)*n], f.Data[(start+y)*f.Width+start:(start+y)*f.Width+start+n])
	}
	return out, nil
}

// Crops to a centered window of the given angular width in arcseconds,
// rounded to whole pixels
func (f *Field) CropAngular(widthAs float64) (*Field, error) {
	return f.Crop(int(math.Round(widthAs / f.PixScale)))
}

// Converts the field to a FITS image for persistence, with float32 precision
func (f *Field) ToImage() *fits.Image {
	return fits.NewImageFromFloat64(f.Data, int32(f.Width), float32(f.PixScale))
}
