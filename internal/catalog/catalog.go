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

package catalog

import (
	"errors"
	"fmt"
	"math"

	"github.com/valyala/fastrand"
)

// Rows that fail validation are rejected with this error before any derived
// quantities are computed
var ErrValidation = errors.New("invalid catalog row")

// A single point source from the input catalog
type Row struct {
	X        float64 `json:"x"`        // position in arcsec
	Y        float64 `json:"y"`        // position in arcsec
	Flux     float64 `json:"flux"`     // photons per second
	PSFIndex int     `json:"psfIndex"` // selects the PSF variant for this source
	Tag      string  `json:"tag,omitempty"`
}

// A source catalog. Build derives a finalized table for one exposure;
// the catalog itself is never mutated.
type Catalog struct {
	Rows        []Row   `json:"rows"`
	JitterSigma float64 `json:"jitterSigma"` // per-axis gaussian jitter in arcsec, 0=off
	StaticDist  bool    `json:"staticDist"`  // hold positions fixed across builds

	rng        fastrand.RNG
	staticPos  [][2]float64 // jittered positions frozen on first build when StaticDist
	staticOnce bool
}

func New(rows []Row) *Catalog {
	return &Catalog{Rows: rows}
}

// The finalized source table for one exposure. Positions and fluxes are
// fixed after Build; SetPositions exists for controlled test scenarios only.
type Table struct {
	Pos      [][2]float64 // per-star position in arcsec
	Flux     []float64    // per-star flux integrated over the exposure
	PSFIndex []int
	ExpTime  float64
}

func (t *Table) NStars() int { return len(t.Flux) }

// Total flux over all stars in the table
func (t *Table) FluxSum() float64 {
	sum := 0.0
	for _, f := range t.Flux {
		sum += f
	}
	return sum
}

// Overwrites all star positions with the given coordinates, in arcsec
func (t *Table) SetPositions(pos [][2]float64) error {
	if len(pos) != len(t.Pos) {
		return fmt.Errorf("%w: %d positions for %d stars", ErrValidation, len(pos), len(t.Pos))
	}
	copy(t.Pos, pos)
	return nil
}

// Moves every star to the same position, in arcsec
func (t *Table) SetPosition(x, y float64) {
	for i := range t.Pos {
		t.Pos[i] = [2]float64{x, y}
	}
}

// Build validates the catalog rows and produces a finalized table with
// per-exposure derived flux. With StaticDist false, atmospheric/field jitter
// positions are redrawn on every call; with true, the first draw is held
// fixed across calls.
func (c *Catalog) Build(expTime float64) (*Table, error) {
	if expTime <= 0 || math.IsNaN(expTime) || math.IsInf(expTime, 0) {
		return nil, fmt.Errorf("%w: exposure time %g", ErrValidation, expTime)
	}
	for i, r := range c.Rows {
		if !isFinite(r.X) || !isFinite(r.Y) {
			return nil, fmt.Errorf("%w: row %d has non-finite position (%g,%g)", ErrValidation, i, r.X, r.Y)
		}
		if !isFinite(r.Flux) || r.Flux < 0 {
			return nil, fmt.Errorf("%w: row %d has invalid flux %g", ErrValidation, i, r.Flux)
		}
		if r.PSFIndex < 0 {
			return nil, fmt.Errorf("%w: row %d has negative PSF index %d", ErrValidation, i, r.PSFIndex)
		}
	}

	t := &Table{
		Pos:      make([][2]float64, len(c.Rows)),
		Flux:     make([]float64, len(c.Rows)),
		PSFIndex: make([]int, len(c.Rows)),
		ExpTime:  expTime,
	}
	for i, r := range c.Rows {
		t.Pos[i] = [2]float64{r.X, r.Y}
		t.Flux[i] = r.Flux * expTime
		t.PSFIndex[i] = r.PSFIndex
	}

	if c.JitterSigma > 0 {
		if c.StaticDist {
			if !c.staticOnce {
				c.staticPos = c.drawJitter()
				c.staticOnce = true
			}
			copy(t.Pos, c.staticPos)
		} else {
			copy(t.Pos, c.drawJitter())
		}
	}
	return t, nil
}

// Draws one batch of jittered positions from the catalog rows
func (c *Catalog) drawJitter() [][2]float64 {
	pos := make([][2]float64, len(c.Rows))
	for i, r := range c.Rows {
		pos[i] = [2]float64{
			r.X + c.JitterSigma*c.gauss(),
			r.Y + c.JitterSigma*c.gauss(),
		}
	}
	return pos
}

// Standard normal deviate via Box-Muller over fastrand uniforms
func (c *Catalog) gauss() float64 {
	u1 := (float64(c.rng.Uint32()) + 1) / (1 << 32) // in (0,1]
	u2 := float64(c.rng.Uint32()) / (1 << 32)       // in [0,1)
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
