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

package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mlnoga/starsim/internal/catalog"
	"github.com/mlnoga/starsim/internal/fits"
	"github.com/mlnoga/starsim/internal/imgen"
	"github.com/mlnoga/starsim/internal/psf"
)

func testContext() *Context {
	c := NewContext(&bytes.Buffer{})
	c.PSFs = psf.NewLibrary([]*psf.Stamp{psf.NewGaussStamp(32, 2.0, 1.0)})
	return c
}

func testRows() []catalog.Row {
	return []catalog.Row{
		{X: 0, Y: 0, Flux: 100},
		{X: 1.1, Y: -0.7, Flux: 250},
	}
}

func testParams() imgen.Params {
	return imgen.Params{ArrayWidthPix: 96, Pixsize: 0.1}
}

func TestOpSimulate(t *testing.T) {
	c := testContext()
	op := NewOpSimulate(3, testRows(), 2.0, testParams())
	promises, err := op.MakePromises(nil, c)
	if err != nil {
		t.Fatal(err)
	}
	if len(promises) != 1 {
		t.Fatalf("got %d promises, want 1", len(promises))
	}
	f, err := promises[0]()
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != 3 {
		t.Errorf("got id %d, want 3", f.ID)
	}
	if f.Naxisn[0] != 96 || f.Naxisn[1] != 96 {
		t.Errorf("got dimensions %v, want 96x96", f.Naxisn)
	}
	want := (100.0 + 250.0) * 2.0
	if got := f.Stats.Sum(); math.Abs(got-want)/want > 1e-3 {
		t.Errorf("total flux %v, want %v within 0.1%%", got, want)
	}
}

func TestOpSimulateRequiresPSFs(t *testing.T) {
	c := NewContext(&bytes.Buffer{})
	op := NewOpSimulate(0, testRows(), 1.0, testParams())
	if _, err := op.MakePromises(nil, c); err == nil {
		t.Error("got nil error, want missing PSF library error")
	}
}

func TestOpSimulateRejectsInputs(t *testing.T) {
	c := testContext()
	op := NewOpSimulate(0, testRows(), 1.0, testParams())
	in := Promise(func() (*fits.Image, error) { return nil, nil })
	if _, err := op.MakePromises([]Promise{in}, c); err == nil {
		t.Error("got nil error, want non-zero input error")
	}
}

func TestOpRebinCrop(t *testing.T) {
	c := testContext()
	sim := NewOpSimulate(0, testRows(), 1.0, testParams())
	promises, err := sim.MakePromises(nil, c)
	if err != nil {
		t.Fatal(err)
	}
	f, err := promises[0]()
	if err != nil {
		t.Fatal(err)
	}

	op := NewOpRebinCrop(4, 8.0)
	out, err := op.Apply(f, c)
	if err != nil {
		t.Fatal(err)
	}
	if want := int32(20); out.Naxisn[0] != want || out.Naxisn[1] != want { // round(8.0/0.1/4)
		t.Errorf("got dimensions %v, want %dx%d", out.Naxisn, want, want)
	}
	if math.Abs(float64(out.PixScale)-0.4) > 1e-6 {
		t.Errorf("got pixscale %v, want 0.4", out.PixScale)
	}
}

func TestOpRebinCropInactivePassthrough(t *testing.T) {
	c := testContext()
	f := fits.NewImageFromNaxisn([]int32{8, 8}, nil)
	op := NewOpRebinCrop(1, 0)
	out, err := op.Apply(f, c)
	if err != nil {
		t.Fatal(err)
	}
	if out != f {
		t.Error("inactive rebin/crop must pass the image through unchanged")
	}
}

func TestOpSaveRejectsUnsafePaths(t *testing.T) {
	c := testContext()
	f := fits.NewImageFromNaxisn([]int32{4, 4}, nil)
	for _, pattern := range []string{"/abs/path.fits", "../up/out.fits"} {
		op := NewOpSave(pattern)
		if _, err := op.Apply(f, c); err == nil {
			t.Errorf("pattern %s: got nil error, want path rejection", pattern)
		}
	}
}

func TestOpSaveRejectsUnknownSuffix(t *testing.T) {
	c := testContext()
	f := fits.NewImageFromNaxisn([]int32{4, 4}, nil)
	op := NewOpSave("out.bmp")
	if _, err := op.Apply(f, c); err == nil || !strings.Contains(err.Error(), "unknown suffix") {
		t.Errorf("got %v, want unknown suffix error", err)
	}
}

func TestOpSequenceJSONRoundtrip(t *testing.T) {
	seq := NewOpSequence(
		NewOpLoadPSFs("psfs.fits", 1e-6),
		NewOpSimulate(0, testRows(), 30.0, testParams()),
		NewOpRebinCrop(2, 4.0),
		NewOpSave("out%d.fits"),
	)
	data, err := json.Marshal(seq)
	if err != nil {
		t.Fatal(err)
	}

	var decoded OpSequence
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Steps) != 4 {
		t.Fatalf("got %d steps, want 4", len(decoded.Steps))
	}
	wantTypes := []string{"loadPSFs", "simulate", "rebinCrop", "save"}
	for i, w := range wantTypes {
		if got := decoded.Steps[i].GetType(); got != w {
			t.Errorf("step %d: got type %s, want %s", i, got, w)
		}
	}
	sim, ok := decoded.Steps[1].(*OpSimulate)
	if !ok {
		t.Fatal("step 1 did not decode to OpSimulate")
	}
	if sim.ExpTime != 30.0 || len(sim.Rows) != 2 || sim.Params.ArrayWidthPix != 96 {
		t.Errorf("decoded simulate operator %+v lost fields", sim)
	}
}

func TestOpSequenceUnknownType(t *testing.T) {
	var decoded OpSequence
	err := json.Unmarshal([]byte(`{"type":"seq","active":true,"steps":[{"type":"nonsuch"}]}`), &decoded)
	if err == nil || !strings.Contains(err.Error(), "unknown operator type") {
		t.Errorf("got %v, want unknown operator type error", err)
	}
}

func TestMaterializeAll(t *testing.T) {
	mk := func(id int) Promise {
		return func() (*fits.Image, error) {
			f := fits.NewImageFromNaxisn([]int32{2, 2}, nil)
			f.ID = id
			return f, nil
		}
	}
	outs, err := MaterializeAll([]Promise{mk(0), mk(1), mk(2)}, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 3 {
		t.Fatalf("got %d images, want 3", len(outs))
	}
	for i, f := range outs {
		if f.ID != i {
			t.Errorf("index %d: got id %d", i, f.ID)
		}
	}
}

func TestMaterializeAllCollectsErrors(t *testing.T) {
	bad := Promise(func() (*fits.Image, error) { return nil, errors.New("materialization failed") })
	good := Promise(func() (*fits.Image, error) { return fits.NewImageFromNaxisn([]int32{2, 2}, nil), nil })
	outs, err := MaterializeAll([]Promise{good, bad}, 2, false)
	if err == nil {
		t.Error("got nil error, want propagated promise error")
	}
	if len(outs) != 1 {
		t.Errorf("got %d images, want 1 surviving", len(outs))
	}
}
