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
	"fmt"
	"math"
	"runtime"

	"github.com/mlnoga/starsim/internal/catalog"
	"github.com/mlnoga/starsim/internal/psf"
)

// Generation parameters for one simulated exposure
type Params struct {
	ArrayWidthPix int     `json:"arrayWidthPix"` // fine canvas width in pixels, sized to absorb PSF wings
	Pixsize       float64 `json:"pixsize"`       // arcsec per fine pixel
	PSFIndex      int     `json:"psfIndex"`      // PSF variant for all sources; -1 selects per-row indices
	NormPSF       bool    `json:"normPSF"`       // rescale stamps to unit sum before flux scaling
	PadPix        int     `json:"padPix"`        // zero border around stamps during the fractional shift, 0=off
	MaxThreads    int     `json:"maxThreads"`    // concurrent placement workers, 0=GOMAXPROCS
}

// Generates one simulated exposure: places every source from the table onto
// a fine canvas at its exact sub-pixel position, flux-scaled, summed with all
// other sources. Each generator owns its canvas; no state is shared across
// generation runs.
type Generator struct {
	params Params
	src    *catalog.Table
	lib    *psf.Library
	field  *Field
}

func NewGenerator(params Params, src *catalog.Table, lib *psf.Library) (*Generator, error) {
	if params.ArrayWidthPix < 1 {
		return nil, fmt.Errorf("%w: array width %d pixels", ErrValidation, params.ArrayWidthPix)
	}
	if !(params.Pixsize > 0) || math.IsInf(params.Pixsize, 0) {
		return nil, fmt.Errorf("%w: pixel size %g", ErrValidation, params.Pixsize)
	}
	if params.PadPix < 0 {
		return nil, fmt.Errorf("%w: pad %d pixels", ErrValidation, params.PadPix)
	}
	if params.MaxThreads == 0 {
		params.MaxThreads = runtime.GOMAXPROCS(0)
	}
	return &Generator{
		params: params,
		src:    src,
		lib:    lib,
		field:  NewField(params.ArrayWidthPix, params.Pixsize),
	}, nil
}

// The accumulation canvas. Valid after Run.
func (g *Generator) Field() *Field { return g.field }

// Composites all sources onto the canvas. Placements are independent and run
// on a bounded worker pool; every worker accumulates into a private partial
// canvas, and the partial canvases are summed sequentially at the end.
// Parallel summation order can move the last few significant bits, callers
// validating batching equivalence must allow a nonzero tolerance.
func (g *Generator) Run() error {
	stamps, err := g.resolveStamps()
	if err != nil {
		return err
	}

	numWorkers := g.params.MaxThreads
	if numWorkers > g.src.NStars() {
		numWorkers = g.src.NStars()
	}
	if numWorkers <= 1 {
		for i := 0; i < g.src.NStars(); i++ {
			if err := g.place(g.field, stamps[i], g.src.Pos[i], g.src.Flux[i]); err != nil {
				return err
			}
		}
		return nil
	}

	partials := make([]*Field, numWorkers)
	errs := make(chan error, numWorkers)
	for w := 0; w < numWorkers; w++ {
		partials[w] = NewField(g.params.ArrayWidthPix, g.params.Pixsize)
		go func(w int) {
			for i := w; i < g.src.NStars(); i += numWorkers {
				if err := g.place(partials[w], stamps[i], g.src.Pos[i], g.src.Flux[i]); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}(w)
	}
	for w := 0; w < numWorkers; w++ {
		if e := <-errs; e != nil && err == nil {
			err = e
		}
	}
	if err != nil {
		return err
	}
	for _, p := range partials {
		if err := g.field.Add(p); err != nil {
			return err
		}
	}
	return nil
}

// Looks up and optionally normalizes the stamp for every source. Stamps are
// resolved once up front so workers share read-only data.
func (g *Generator) resolveStamps() ([]*psf.Stamp, error) {
	cache := map[int]*psf.Stamp{}
	resolve := func(index int) (*psf.Stamp, error) {
		if s, ok := cache[index]; ok {
			return s, nil
		}
		s, err := g.lib.Stamp(index)
		if err != nil {
			return nil, err
		}
		if g.params.NormPSF {
			if s, err = s.Normalized(); err != nil {
				return nil, err
			}
		}
		cache[index] = s
		return s, nil
	}

	stamps := make([]*psf.Stamp, g.src.NStars())
	for i := range stamps {
		index := g.params.PSFIndex
		if index < 0 {
			index = g.src.PSFIndex[i]
		}
		var err error
		if stamps[i], err = resolve(index); err != nil {
			return nil, err
		}
	}
	return stamps, nil
}

// Places one source onto the given canvas: converts its position to fine
// pixels, splits off the integer anchor, shifts the stamp by the fractional
// remainder in frequency space, scales by the derived flux and accumulates.
//
// The stored stamps carry their center of gravity at (0.5,0.5) from the
// geometric center; the -0.5 term in the anchor computation folds that
// convention back out, so the placed centroid lands exactly on the catalog
// position in bin-centered canvas coordinates.
func (g *Generator) place(f *Field, stamp *psf.Stamp, pos [2]float64, flux float64) error {
	if math.IsNaN(pos[0]) || math.IsInf(pos[0], 0) || math.IsNaN(pos[1]) || math.IsInf(pos[1], 0) {
		return fmt.Errorf("%w: source position (%g,%g)", ErrValidation, pos[0], pos[1])
	}
	if math.IsNaN(flux) || math.IsInf(flux, 0) || flux < 0 {
		return fmt.Errorf("%w: source flux %g", ErrValidation, flux)
	}

	w, s := f.Width, stamp.Size

	// real-valued top-left corner of the stamp on the canvas
	qx := pos[0]/g.params.Pixsize + float64(w)/2 - float64(s)/2 - 0.5
	qy := pos[1]/g.params.Pixsize + float64(w)/2 - float64(s)/2 - 0.5
	ox, oy := int(math.Round(qx)), int(math.Round(qy))
	dx, dy := qx-float64(ox), qy-float64(oy)

	shifted := shiftPadded(stamp.Data, s, g.params.PadPix, dx, dy)

	// accumulate with identical clipping of the stamp and destination window;
	// flux falling entirely outside the canvas is legitimately lost
	rowLo, rowHi := clipRange(oy, s, w)
	colLo, colHi := clipRange(ox, s, w)
	for r := rowLo; r < rowHi; r++ {
		dst := f.Data[(oy+r)*w : (oy+r)*w+w]
		src := shifted[r*s : (r+1)*s]
		for c := colLo; c < colHi; c++ {
			dst[ox+c] += flux * src[c]
		}
	}
	return nil
}

// Clips the stamp index range [0,s) so that offset+index stays within [0,w)
func clipRange(offset, s, w int) (lo, hi int) {
	lo, hi = 0, s
	if offset < 0 {
		lo = -offset
	}
	if offset+hi > w {
		hi = w - offset
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Block-sums the canvas to a coarser grid and extracts a centered window of
// the given angular width. The output width in pixels is
// round(croppedWidthAs/pixsize/rebinFactor); cropping happens on the fine
// grid first, which is exactly equivalent to rebinning first because block
// summation and centered cropping commute for aligned windows.
func (g *Generator) RebinnedCropped(rebinFactor int, croppedWidthAs float64) (*Field, error) {
	if rebinFactor < 1 {
		return nil, fmt.Errorf("%w: rebin factor %d", ErrValidation, rebinFactor)
	}
	nOut := int(math.Round(croppedWidthAs / g.params.Pixsize / float64(rebinFactor)))
	if nOut < 1 {
		return nil, fmt.Errorf("%w: cropped width %g arcsec yields no pixels", ErrBounds, croppedWidthAs)
	}
	cropped, err := g.field.Crop(nOut * rebinFactor)
	if err != nil {
		return nil, err
	}
	return cropped.Rebin(rebinFactor)
}
