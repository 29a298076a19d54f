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

// Flux-weighted center of gravity calculations.
//
// Pixels are bins of continuous space, not point samples. The coordinate of
// pixel index k on an axis of length n is k-n/2+0.5, which puts the origin
// in the absolute center of the image: on the boundary between the two
// central bins for even n, and in the middle of the central bin for odd n.
// The full image width is then exactly n times the pixel scale, with no
// fencepost offset. All placement and cropping arithmetic shares this
// convention.

// Returns the flux-weighted center of gravity of the given row-major image
// in pixel units relative to the image center. Data length must be a
// multiple of width.
func CoG(data []float64, width int) (x, y float64) {
	height := len(data) / width
	sum, sumX, sumY := 0.0, 0.0, 0.0
	for row := 0; row < height; row++ {
		cy := float64(row) - float64(height)/2 + 0.5
		rowSum := 0.0
		for col := 0; col < width; col++ {
			d := data[row*width+col]
			rowSum += d
			sumX += d * (float64(col) - float64(width)/2 + 0.5)
		}
		sum += rowSum
		sumY += rowSum * cy
	}
	if sum == 0 {
		return 0, 0
	}
	return sumX / sum, sumY / sum
}

// Returns the center of gravity of a square sub-window of the given image,
// expressed in the full image coordinate system. offX and offY are the
// top-left corner of the window, w its width in pixels.
func CoGWindow(data []float64, width, offX, offY, w int) (x, y float64) {
	win := make([]float64, w*w)
	for row := 0; row < w; row++ {
		copy(win[row*w:(row+1)*w], data[(offY+row)*width+offX:(offY+row)*width+offX+w])
	}
	x, y = CoG(win, w)
	height := len(data) / width
	x += float64(offX) + float64(w)/2 - float64(width)/2
	y += float64(offY) + float64(w)/2 - float64(height)/2
	return x, y
}
