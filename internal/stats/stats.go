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

package stats

import (
	"fmt"
	"math"
)

// Basic image statistics: minimum, maximum, mean and sum of the pixel values.
type Basic struct {
	min  float32
	max  float32
	mean float32
	sum  float64
}

// Calculates basic statistics over the given data in a single pass
func NewBasic(data []float32) *Basic {
	min, max, sum := float32(math.MaxFloat32), float32(-math.MaxFloat32), float64(0)
	for _, d := range data {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
		sum += float64(d)
	}
	mean := float32(0)
	if len(data) > 0 {
		mean = float32(sum / float64(len(data)))
	}
	return &Basic{min: min, max: max, mean: mean, sum: sum}
}

// Creates basic statistics from precomputed values, e.g. gathered while reading a file
func NewBasicWithMMM(min, max, mean float32, sum float64) *Basic {
	return &Basic{min: min, max: max, mean: mean, sum: sum}
}

func (s *Basic) Min() float32  { return s.min }
func (s *Basic) Max() float32  { return s.max }
func (s *Basic) Mean() float32 { return s.mean }
func (s *Basic) Sum() float64  { return s.sum }

func (s *Basic) String() string {
	return fmt.Sprintf("min %.4g mean %.4g max %.4g sum %.6g", s.min, s.mean, s.max, s.sum)
}
