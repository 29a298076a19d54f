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
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/mlnoga/starsim/internal/fits"
)

func TestGaussStampCentroidConvention(t *testing.T) {
	for _, size := range []int{32, 33} {
		s := NewGaussStamp(size, 2.0, 0.00375)
		x, y := s.CoG()
		if math.Abs(x-0.5) > 1e-9 || math.Abs(y-0.5) > 1e-9 {
			t.Errorf("size %d: CoG=(%g,%g); want (0.5,0.5)", size, x, y)
		}
		if math.Abs(s.Sum()-1) > 1e-12 {
			t.Errorf("size %d: sum=%g; want 1", size, s.Sum())
		}
	}
}

func TestMoffatStampCentroidConvention(t *testing.T) {
	s := NewMoffatStamp(32, 2.5, 2.5, 0.00375)
	x, y := s.CoG()
	// broad truncated wings leave a small residual against the convention
	if math.Abs(x-0.5) > 1e-2 || math.Abs(y-0.5) > 1e-2 {
		t.Errorf("CoG=(%g,%g); want (0.5,0.5) within 1e-2", x, y)
	}
}

func TestNormalized(t *testing.T) {
	s, err := NewStamp([]float64{1, 1, 1, 5}, 2, 1)
	if err != nil {
		t.Fatalf("newStamp: %s", err.Error())
	}
	n, err := s.Normalized()
	if err != nil {
		t.Fatalf("normalized: %s", err.Error())
	}
	if math.Abs(n.Sum()-1) > 1e-15 {
		t.Errorf("sum=%g; want 1", n.Sum())
	}
	if s.Sum() != 8 {
		t.Errorf("original mutated, sum=%g; want 8", s.Sum())
	}

	z, _ := NewStamp([]float64{0, 0, 0, 0}, 2, 1)
	if _, err := z.Normalized(); !errors.Is(err, ErrInvalidStamp) {
		t.Errorf("zero stamp err=%v; want ErrInvalidStamp", err)
	}
}

func TestNewStampValidation(t *testing.T) {
	if _, err := NewStamp([]float64{1, 2, 3}, 2, 1); !errors.Is(err, ErrInvalidStamp) {
		t.Errorf("err=%v; want ErrInvalidStamp", err)
	}
}

func TestLibraryLookup(t *testing.T) {
	l := NewLibrary([]*Stamp{NewGaussStamp(8, 1, 1)})
	if _, err := l.Stamp(0); err != nil {
		t.Errorf("stamp(0): %s", err.Error())
	}
	if _, err := l.Stamp(1); !errors.Is(err, ErrUnknownIndex) {
		t.Errorf("stamp(1) err=%v; want ErrUnknownIndex", err)
	}
	if _, err := l.Stamp(-1); !errors.Is(err, ErrUnknownIndex) {
		t.Errorf("stamp(-1) err=%v; want ErrUnknownIndex", err)
	}
}

func TestValidateCentroids(t *testing.T) {
	l := NewLibrary([]*Stamp{NewGaussStamp(32, 2, 1), NewGaussStamp(17, 1.5, 1)})
	if err := l.ValidateCentroids(1e-6); err != nil {
		t.Errorf("validate: %s", err.Error())
	}

	skewed, _ := NewStamp([]float64{9, 0, 0, 0}, 2, 1)
	l = NewLibrary([]*Stamp{skewed})
	if err := l.ValidateCentroids(1e-6); !errors.Is(err, ErrInvalidStamp) {
		t.Errorf("skewed stamp err=%v; want ErrInvalidStamp", err)
	}
}

func TestLoadLibrary(t *testing.T) {
	a := NewGaussStamp(16, 1.5, 0.00375)
	b := NewGaussStamp(9, 1.0, 0.0075)
	imgs := make([]*fits.Image, 2)
	for i, s := range []*Stamp{a, b} {
		data := make([]float32, len(s.Data))
		for j, v := range s.Data {
			data[j] = float32(v)
		}
		imgs[i] = fits.NewImageFromNaxisn([]int32{int32(s.Size), int32(s.Size)}, data)
		imgs[i].PixScale = float32(s.PixScale)
	}

	fileName := filepath.Join(t.TempDir(), "psfs.fits")
	if err := fits.WriteHDUsToFile(fileName, imgs); err != nil {
		t.Fatalf("write: %s", err.Error())
	}

	l, err := LoadLibrary(fileName, io.Discard)
	if err != nil {
		t.Fatalf("load: %s", err.Error())
	}
	if l.Len() != 2 {
		t.Fatalf("len=%d; want 2", l.Len())
	}
	s0, _ := l.Stamp(0)
	s1, _ := l.Stamp(1)
	if s0.Size != 16 || s1.Size != 9 {
		t.Errorf("sizes=%d,%d; want 16,9", s0.Size, s1.Size)
	}
	if math.Abs(s1.PixScale-0.0075) > 1e-9 {
		t.Errorf("pixScale=%g; want 0.0075", s1.PixScale)
	}
	if err := l.ValidateCentroids(1e-5); err != nil {
		t.Errorf("centroids after roundtrip: %s", err.Error())
	}
}
