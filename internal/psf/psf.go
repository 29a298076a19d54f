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

package psf

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/mlnoga/starsim/internal/fits"
	"github.com/mlnoga/starsim/internal/stats"
)

// Lookup of a PSF index not present in the library
var ErrUnknownIndex = errors.New("unknown PSF index")

// A malformed stamp, e.g. non-square or with invalid values
var ErrInvalidStamp = errors.New("invalid PSF stamp")

// A square point-spread function stamp.
//
// Stored stamps follow a fixed centroid convention: the flux-weighted center
// of gravity sits at (0.5, 0.5) pixel units from the stamp's geometric
// center. This half-pixel offset corresponds to zero average tip/tilt in the
// phase space of common adaptive optics simulation codes, and the placement
// arithmetic in imgen folds it back out.
type Stamp struct {
	Data     []float64 // Size*Size row-major weights, non-negative
	Size     int       // width and height in pixels; odd and even both occur
	PixScale float64   // arcsec per pixel
}

// Creates a stamp from raw weights. The data is not copied.
func NewStamp(data []float64, size int, pixScale float64) (*Stamp, error) {
	if len(data) != size*size {
		return nil, fmt.Errorf("%w: %d values for %dx%d stamp", ErrInvalidStamp, len(data), size, size)
	}
	return &Stamp{Data: data, Size: size, PixScale: pixScale}, nil
}

// Creates a stamp from a FITS image HDU. The image must be square 2D.
func NewStampFromImage(img *fits.Image) (*Stamp, error) {
	if len(img.Naxisn) != 2 || img.Naxisn[0] != img.Naxisn[1] {
		return nil, fmt.Errorf("%w: HDU %d has dimensions %s, want square 2D", ErrInvalidStamp, img.ID, img.DimensionsToString())
	}
	return &Stamp{
		Data:     img.DataFloat64(),
		Size:     int(img.Naxisn[0]),
		PixScale: float64(img.PixScale),
	}, nil
}

// Creates a gaussian test stamp with the given standard deviation in pixels,
// centered to satisfy the library centroid convention. The gaussian decays to
// numerical zero well inside the window for sigma below roughly size/15, so
// the stamp behaves as band-limited for fractional shifting.
func NewGaussStamp(size int, sigma, pixScale float64) *Stamp {
	data := make([]float64, size*size)
	sum := 0.0
	c := float64(size) / 2
	for row := 0; row < size; row++ {
		dy := float64(row) - c
		for col := 0; col < size; col++ {
			dx := float64(col) - c
			v := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			data[row*size+col] = v
			sum += v
		}
	}
	for i := range data {
		data[i] /= sum
	}
	return &Stamp{Data: data, Size: size, PixScale: pixScale}
}

// Creates a Moffat test stamp with broad, truncated wings. Unlike the
// gaussian, the profile has non-zero strength all the way to the stamp edges,
// which limits centroiding accuracy after cyclic shifts; good for exercising
// the relaxed non-band-limited tolerances.
func NewMoffatStamp(size int, coreRadius, beta, pixScale float64) *Stamp {
	data := make([]float64, size*size)
	sum := 0.0
	c := float64(size) / 2
	for row := 0; row < size; row++ {
		dy := float64(row) - c
		for col := 0; col < size; col++ {
			dx := float64(col) - c
			r2 := (dx*dx + dy*dy) / (coreRadius * coreRadius)
			v := math.Pow(1+r2, -beta)
			data[row*size+col] = v
			sum += v
		}
	}
	for i := range data {
		data[i] /= sum
	}
	return &Stamp{Data: data, Size: size, PixScale: pixScale}
}

// Total weight of the stamp. 1 for normalized stamps.
func (s *Stamp) Sum() float64 {
	sum := 0.0
	for _, d := range s.Data {
		sum += d
	}
	return sum
}

// Flux-weighted center of gravity in pixel units relative to the stamp's
// geometric center. (0.5, 0.5) for stamps following the library convention.
func (s *Stamp) CoG() (x, y float64) {
	return stats.CoG(s.Data, s.Size)
}

// Returns a copy of the stamp rescaled so its total weight is exactly 1
func (s *Stamp) Normalized() (*Stamp, error) {
	sum := s.Sum()
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: stamp sum %g, cannot normalize", ErrInvalidStamp, sum)
	}
	data := make([]float64, len(s.Data))
	for i, d := range s.Data {
		data[i] = d / sum
	}
	return &Stamp{Data: data, Size: s.Size, PixScale: s.PixScale}, nil
}

// A library of PSF stamps addressable by index
type Library struct {
	FileName string
	Stamps   []*Stamp
}

func NewLibrary(stamps []*Stamp) *Library {
	return &Library{Stamps: stamps}
}

// Loads a PSF library from a multi-extension FITS file, one stamp per
// image HDU, each tagged with its pixel scale via the PIXSCALE header key
func LoadLibrary(fileName string, logWriter io.Writer) (*Library, error) {
	imgs, err := fits.NewImagesFromFile(fileName, logWriter)
	if err != nil {
		return nil, err
	}
	stamps := make([]*Stamp, len(imgs))
	for i, img := range imgs {
		if stamps[i], err = NewStampFromImage(img); err != nil {
			return nil, err
		}
	}
	fmt.Fprintf(logWriter, "Loaded %d PSF stamps from %s\n", len(stamps), fileName)
	return &Library{FileName: fileName, Stamps: stamps}, nil
}

func (l *Library) Len() int { return len(l.Stamps) }

// Returns the stamp with the given index, or a lookup error
func (l *Library) Stamp(i int) (*Stamp, error) {
	if i < 0 || i >= len(l.Stamps) {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnknownIndex, i, len(l.Stamps))
	}
	return l.Stamps[i], nil
}

// Verifies the library-wide centroid invariant: every stored stamp has its
// center of gravity at (0.5, 0.5) pixel units from the geometric center,
// within the given tolerance
func (l *Library) ValidateCentroids(tol float64) error {
	for i, s := range l.Stamps {
		x, y := s.CoG()
		if math.Abs(x-0.5) > tol || math.Abs(y-0.5) > tol {
			return fmt.Errorf("%w: stamp %d centroid (%g,%g), want (0.5,0.5) within %g", ErrInvalidStamp, i, x, y, tol)
		}
	}
	return nil
}
