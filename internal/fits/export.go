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

package fits

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"
)

// Maps a data value to [0,1] given min, max and gamma, scrubbing NaNs
func toUnit(d, min, max, gammaInv float32) float32 {
	d = (d - min) / (max - min)
	if math.IsNaN(float64(d)) || d < 0 {
		d = 0
	}
	if d > 1 {
		d = 1
	}
	if gammaInv != 1.0 {
		d = float32(math.Pow(float64(d), float64(gammaInv)))
	}
	return d
}

// Write a grayscale FITS image to 8-bit JPG, using the given min, max and gamma
func (f *Image) WriteMonoJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteMonoJPG(writer, min, max, gamma, quality)
}

// Write a grayscale FITS image to 8-bit JPG, using the given min, max and gamma
func (f *Image) WriteMonoJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewGray(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	gammaInv := 1.0 / gamma
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := toUnit(f.Data[yoffset+x], min, max, gammaInv)
			img.SetGray(x, y, color.Gray{uint8(gray * 255)})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a grayscale FITS image to 8-bit false-color JPG, mapping intensity
// onto a perceptually even blue-to-yellow luminance ramp in CIE L*u*v* space.
// Star fields have extreme dynamic range, a color ramp makes faint sources
// visible next to saturated ones in quick-look previews.
func (f *Image) WriteFalseColorJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteFalseColorJPG(writer, min, max, gamma, quality)
}

// Write a grayscale FITS image to 8-bit false-color JPG
func (f *Image) WriteFalseColorJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})

	// 256-entry lookup table for the ramp, blending in Luv keeps lightness monotonic
	low, _ := colorful.Hex("#0d1a50")
	high, _ := colorful.Hex("#ffd75e")
	var lut [256]color.RGBA
	for i := range lut {
		r, g, b := low.BlendLuv(high, float64(i)/255).Clamped().RGB255()
		lut[i] = color.RGBA{r, g, b, 255}
	}

	gammaInv := 1.0 / gamma
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := toUnit(f.Data[yoffset+x], min, max, gammaInv)
			img.SetRGBA(x, y, lut[uint8(gray*255)])
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a grayscale FITS image to 16-bit TIFF, using the given min, max and gamma
func (f *Image) WriteMonoTIFF16ToFile(fileName string, min, max, gamma float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteMonoTIFF16(writer, min, max, gamma)
}

// Write a grayscale FITS image to 16-bit TIFF, using the given min, max and gamma
func (f *Image) WriteMonoTIFF16(writer io.Writer, min, max, gamma float32) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	gammaInv := 1.0 / gamma
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := toUnit(f.Data[yoffset+x], min, max, gammaInv)
			img.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
		}
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
