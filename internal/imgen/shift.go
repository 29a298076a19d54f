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
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Fractional image translation via the Fourier shift theorem: transform to
// frequency space, multiply by a complex phase ramp, transform back and take
// the real part. This realizes a continuous sub-pixel translation without
// resampling artifacts. The transform is inherently cyclic: energy shifted
// past one edge re-enters at the opposite edge, and the DC term is untouched,
// so the total flux of the stamp is conserved exactly.
//
// Stamps must carry enough dark margin that the wrapped energy is negligible;
// optional zero padding (see shiftPadded) turns the wrap-around into a
// documented truncation loss instead.

// Shifts a square n x n image by (dx, dy) pixels, dx and dy typically in
// [-0.5, 0.5]. Positive shifts move content towards higher indices.
func fftShift(data []float64, n int, dx, dy float64) []float64 {
	fft := fourier.NewCmplxFFT(n)

	buf := make([]complex128, n*n)
	for i, v := range data {
		buf[i] = complex(v, 0)
	}

	// forward transform, rows then columns
	tmp := make([]complex128, n)
	for y := 0; y < n; y++ {
		fft.Coefficients(buf[y*n:(y+1)*n], buf[y*n:(y+1)*n])
	}
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			tmp[y] = buf[y*n+x]
		}
		fft.Coefficients(tmp, tmp)
		for y := 0; y < n; y++ {
			buf[y*n+x] = tmp[y]
		}
	}

	// phase ramp exp(-2 pi i (fx dx + fy dy)) with fftfreq frequency mapping
	rampX := make([]complex128, n)
	rampY := make([]complex128, n)
	for k := 0; k < n; k++ {
		rampX[k] = cmplx.Exp(complex(0, -2*math.Pi*fftFreq(k, n)*dx))
		rampY[k] = cmplx.Exp(complex(0, -2*math.Pi*fftFreq(k, n)*dy))
	}
	for ky := 0; ky < n; ky++ {
		for kx := 0; kx < n; kx++ {
			buf[ky*n+kx] *= rampY[ky] * rampX[kx]
		}
	}

	// inverse transform, columns then rows; gonum transforms are unnormalized
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			tmp[y] = buf[y*n+x]
		}
		fft.Sequence(tmp, tmp)
		for y := 0; y < n; y++ {
			buf[y*n+x] = tmp[y]
		}
	}
	scale := 1 / float64(n*n)
	out := make([]float64, n*n)
	for y := 0; y < n; y++ {
		fft.Sequence(buf[y*n:(y+1)*n], buf[y*n:(y+1)*n])
		for x := 0; x < n; x++ {
			out[y*n+x] = real(buf[y*n+x]) * scale
		}
	}
	return out
}

// Normalized frequency of bin k for an n-point transform, in cycles per
// sample: 0, 1/n, ..., then negative frequencies for the upper half
func fftFreq(k, n int) float64 {
	if k >= (n+1)/2 {
		k -= n
	}
	return float64(k) / float64(n)
}

// Shifts an n x n stamp by (dx, dy) after embedding it in a zero border of
// pad pixels on each side, then crops back to the original size. Padding
// converts cyclic wrap-around into truncation: energy pushed past the stamp
// edge is dropped rather than re-entering on the far side.
func shiftPadded(data []float64, n, pad int, dx, dy float64) []float64 {
	if pad <= 0 {
		return fftShift(data, n, dx, dy)
	}
	m := n + 2*pad
	padded := make([]float64, m*m)
	for y := 0; y < n; y++ {
		copy(padded[(y+pad)*m+pad:(y+pad)*m+pad+n], data[y*n:(y+1)*n])
	}
	shifted := fftShift(padded, m, dx, dy)
	out := make([]float64, n*n)
	for y := 0; y < n; y++ {
		copy(out[y*n:(y+1)*n], shifted[(y+pad)*m+pad:(y+pad)*m+pad+n])
	}
	return out
}
