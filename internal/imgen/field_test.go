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
	"math"
	"testing"
)

func sequentialField(width int, pixScale float64) *Field {
	f := NewField(width, pixScale)
	for i := range f.Data {
		f.Data[i] = float64(i)
	}
	return f
}

func TestFieldAdd(t *testing.T) {
	a := sequentialField(4, 1)
	b := sequentialField(4, 1)
	if err := a.Add(b); err != nil {
		t.Fatal(err)
	}
	for i, v := range a.Data {
		if v != 2*float64(i) {
			t.Fatalf("index %d: got %v, want %v", i, v, 2*float64(i))
		}
	}
	if err := a.Add(NewField(5, 1)); !errors.Is(err, ErrBounds) {
		t.Errorf("mismatched add: got %v, want ErrBounds", err)
	}
}

func TestRebinExactBlockSums(t *testing.T) {
	f := sequentialField(4, 0.5)
	r, err := f.Rebin(2)
	if err != nil {
		t.Fatal(err)
	}
	if r.Width != 2 || r.PixScale != 1.0 {
		t.Fatalf("got width %d pixscale %v, want 2 and 1.0", r.Width, r.PixScale)
	}
	want := []float64{0 + 1 + 4 + 5, 2 + 3 + 6 + 7, 8 + 9 + 12 + 13, 10 + 11 + 14 + 15}
	for i, w := range want {
		if r.Data[i] != w {
			t.Errorf("bin %d: got %v, want %v", i, r.Data[i], w)
		}
	}
	if math.Abs(r.Sum()-f.Sum()) > 1e-12 {
		t.Errorf("rebin sum %v, want %v", r.Sum(), f.Sum())
	}
}

func TestRebinRejectsNonDivisor(t *testing.T) {
	f := sequentialField(5, 1)
	if _, err := f.Rebin(2); !errors.Is(err, ErrBounds) {
		t.Errorf("got %v, want ErrBounds", err)
	}
}

func TestCropCentered(t *testing.T) {
	f := sequentialField(6, 1)
	c, err := f.Crop(2)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2*6 + 2, 2*6 + 3, 3*6 + 2, 3*6 + 3}
	for i, w := range want {
		if c.Data[i] != w {
			t.Errorf("index %d: got %v, want %v", i, c.Data[i], w)
		}
	}
}

func TestCropBounds(t *testing.T) {
	f := sequentialField(6, 1)
	if _, err := f.Crop(8); !errors.Is(err, ErrBounds) {
		t.Errorf("oversize crop: got %v, want ErrBounds", err)
	}
	if _, err := f.Crop(3); !errors.Is(err, ErrBounds) {
		t.Errorf("parity mismatch: got %v, want ErrBounds", err)
	}
}

// block summation and centered cropping must commute for aligned windows
func TestCropRebinCommute(t *testing.T) {
	f := sequentialField(8, 1)
	cropFirst, err := f.Crop(4)
	if err != nil {
		t.Fatal(err)
	}
	cropFirst, err = cropFirst.Rebin(2)
	if err != nil {
		t.Fatal(err)
	}
	rebinFirst, err := f.Rebin(2)
	if err != nil {
		t.Fatal(err)
	}
	rebinFirst, err = rebinFirst.Crop(2)
	if err != nil {
		t.Fatal(err)
	}
	for i := range cropFirst.Data {
		if cropFirst.Data[i] != rebinFirst.Data[i] {
			t.Fatalf("index %d: crop-first %v, rebin-first %v", i, cropFirst.Data[i], rebinFirst.Data[i])
		}
	}
}

func TestFieldCoGOrigin(t *testing.T) {
	f := NewField(4, 1)
	f.Data[1*4+1], f.Data[1*4+2], f.Data[2*4+1], f.Data[2*4+2] = 1, 1, 1, 1
	x, y := f.CoG()
	if x != 0 || y != 0 {
		t.Errorf("got (%v,%v), want origin", x, y)
	}
}

func TestFieldToImage(t *testing.T) {
	f := sequentialField(3, 0.25)
	img := f.ToImage()
	if img.Naxisn[0] != 3 || img.Naxisn[1] != 3 {
		t.Fatalf("got dimensions %v, want 3x3", img.Naxisn)
	}
	if img.PixScale != 0.25 {
		t.Errorf("got pixscale %v, want 0.25", img.PixScale)
	}
	for i, v := range img.Data {
		if v != float32(i) {
			t.Fatalf("index %d: got %v, want %v", i, v, float32(i))
		}
	}
}
