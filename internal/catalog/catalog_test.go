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
	"math"
	"strings"
	"testing"
)

func TestBuildScalesFlux(t *testing.T) {
	c := New([]Row{{X: 1, Y: -2, Flux: 3}, {X: 0, Y: 0, Flux: 5}})
	tab, err := c.Build(10)
	if err != nil {
		t.Fatalf("build: %s", err.Error())
	}
	if tab.NStars() != 2 {
		t.Fatalf("nStars=%d; want 2", tab.NStars())
	}
	if tab.Flux[0] != 30 || tab.Flux[1] != 50 {
		t.Errorf("flux=%v; want [30 50]", tab.Flux)
	}
	if tab.FluxSum() != 80 {
		t.Errorf("fluxSum=%g; want 80", tab.FluxSum())
	}
	if tab.Pos[0] != [2]float64{1, -2} {
		t.Errorf("pos[0]=%v; want [1 -2]", tab.Pos[0])
	}
}

func TestBuildRejectsBadRows(t *testing.T) {
	cases := []Row{
		{X: math.NaN(), Y: 0, Flux: 1},
		{X: 0, Y: math.Inf(1), Flux: 1},
		{X: 0, Y: 0, Flux: -1},
		{X: 0, Y: 0, Flux: math.NaN()},
		{X: 0, Y: 0, Flux: 1, PSFIndex: -1},
	}
	for i, row := range cases {
		c := New([]Row{row})
		if _, err := c.Build(10); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: err=%v; want ErrValidation", i, err)
		}
	}

	c := New([]Row{{Flux: 1}})
	if _, err := c.Build(0); !errors.Is(err, ErrValidation) {
		t.Errorf("zero exposure: err=%v; want ErrValidation", err)
	}
}

func TestBuildJitter(t *testing.T) {
	rows := []Row{{X: 1, Y: 2, Flux: 1}}

	// non-static: fresh jitter each build
	c := New(rows)
	c.JitterSigma = 0.1
	t1, err := c.Build(1)
	if err != nil {
		t.Fatalf("build: %s", err.Error())
	}
	t2, err := c.Build(1)
	if err != nil {
		t.Fatalf("build: %s", err.Error())
	}
	if t1.Pos[0] == t2.Pos[0] {
		t.Errorf("non-static builds drew identical jitter %v", t1.Pos[0])
	}

	// static: jitter frozen on first build
	c = New(rows)
	c.JitterSigma = 0.1
	c.StaticDist = true
	t1, _ = c.Build(1)
	t2, _ = c.Build(1)
	if t1.Pos[0] != t2.Pos[0] {
		t.Errorf("static builds differ: %v vs %v", t1.Pos[0], t2.Pos[0])
	}
}

func TestJitterStatistics(t *testing.T) {
	rows := make([]Row, 10000)
	for i := range rows {
		rows[i] = Row{Flux: 1}
	}
	c := New(rows)
	c.JitterSigma = 0.5
	tab, err := c.Build(1)
	if err != nil {
		t.Fatalf("build: %s", err.Error())
	}
	mean, sumSq := 0.0, 0.0
	for _, p := range tab.Pos {
		mean += p[0]
	}
	mean /= float64(len(tab.Pos))
	for _, p := range tab.Pos {
		sumSq += (p[0] - mean) * (p[0] - mean)
	}
	sigma := math.Sqrt(sumSq / float64(len(tab.Pos)-1))
	if math.Abs(mean) > 0.02 {
		t.Errorf("jitter mean=%g; want ~0", mean)
	}
	if math.Abs(sigma-0.5) > 0.02 {
		t.Errorf("jitter sigma=%g; want ~0.5", sigma)
	}
}

func TestSetPositions(t *testing.T) {
	c := New([]Row{{Flux: 1}, {Flux: 2}})
	tab, _ := c.Build(1)
	if err := tab.SetPositions([][2]float64{{1, 2}, {3, 4}}); err != nil {
		t.Fatalf("setPositions: %s", err.Error())
	}
	if tab.Pos[1] != [2]float64{3, 4} {
		t.Errorf("pos[1]=%v; want [3 4]", tab.Pos[1])
	}
	if err := tab.SetPositions([][2]float64{{1, 2}}); !errors.Is(err, ErrValidation) {
		t.Errorf("length mismatch err=%v; want ErrValidation", err)
	}
	tab.SetPosition(7, 8)
	if tab.Pos[0] != [2]float64{7, 8} || tab.Pos[1] != [2]float64{7, 8} {
		t.Errorf("setPosition pos=%v; want all [7 8]", tab.Pos)
	}
}

func TestReadCSV(t *testing.T) {
	in := `x,y,flux,psfIndex,tag
1.5, -2.5, 100, 0, bright
0, 0, 50
`
	rows, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("readCSV: %s", err.Error())
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows)=%d; want 2", len(rows))
	}
	if rows[0].X != 1.5 || rows[0].Y != -2.5 || rows[0].Flux != 100 || rows[0].Tag != "bright" {
		t.Errorf("rows[0]=%+v", rows[0])
	}
	if rows[1].Flux != 50 || rows[1].PSFIndex != 0 {
		t.Errorf("rows[1]=%+v", rows[1])
	}

	if _, err := ReadCSV(strings.NewReader("1,2\n")); !errors.Is(err, ErrValidation) {
		t.Errorf("short row err=%v; want ErrValidation", err)
	}
}
