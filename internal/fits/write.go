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
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Writes an in-memory FITS image to a file with given filename,
// gzipping transparently for .gz and .gzip suffixes.
// Creates/overwrites the file if necessary
func (f *Image) WriteFile(fileName string) error {
	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	lower := strings.ToLower(fileName)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".gzip") {
		zw := gzip.NewWriter(file)
		if err := f.Write(zw); err != nil {
			return err
		}
		return zw.Close()
	}

	w := bufio.NewWriter(file)
	if err := f.Write(w); err != nil {
		return err
	}
	return w.Flush()
}

// Writes a set of images as a multi-extension FITS file: a headers-only
// primary HDU followed by one IMAGE extension per image
func WriteHDUsToFile(fileName string, imgs []*Image) error {
	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	if err := WriteHDUs(w, imgs); err != nil {
		return err
	}
	return w.Flush()
}

// Writes a headers-only primary HDU followed by one IMAGE extension per image
func WriteHDUs(w io.Writer, imgs []*Image) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeInt32(&sb, "BITPIX", 8, "    headers-only primary HDU")
	writeInt32(&sb, "NAXIS", 0, "[1] Number of axis")
	writeBool(&sb, "EXTEND", true, "    extensions follow")
	writeEnd(&sb)
	padHeader(&sb)
	if _, err := w.Write([]byte(sb.String())); err != nil {
		return err
	}

	for _, img := range imgs {
		if err := img.writeExtensionHDU(w); err != nil {
			return err
		}
	}
	return nil
}

// Writes an image as a FITS IMAGE extension HDU, as 32-bit floating point
func (f *Image) writeExtensionHDU(w io.Writer) error {
	sb := strings.Builder{}
	writeString(&sb, "XTENSION", "IMAGE   ", "    image extension")
	writeInt32(&sb, "BITPIX", -32, "    32-bit floating point")
	writeInt32(&sb, "NAXIS", int32(len(f.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(f.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), f.Naxisn[i], "[1] Axis size")
	}
	writeInt32(&sb, "PCOUNT", 0, "[1] Parameter count")
	writeInt32(&sb, "GCOUNT", 1, "[1] Group count")
	if f.PixScale != 0 {
		writeFloat32(&sb, "PIXSCALE", f.PixScale, "[arcsec/pix] Pixel scale")
	}
	writeEnd(&sb)
	padHeader(&sb)
	if _, err := w.Write([]byte(sb.String())); err != nil {
		return err
	}
	return writeFloat32Array(w, f.Data, true)
}

// Writes an in-memory FITS image to an io.Writer, as 32-bit floating point
func (f *Image) Write(w io.Writer) error {
	// Build header in string buffer
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "    32-bit floating point")
	writeInt32(&sb, "NAXIS", int32(len(f.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(f.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), f.Naxisn[i], "[1] Axis size")
	}
	writeFloat32(&sb, "BZERO", f.Bzero, "[1] Zero offset")
	if f.Exposure != 0 {
		writeFloat32(&sb, "EXPOSURE", f.Exposure, "[s] Exposure duration")
	}
	if f.PixScale != 0 {
		writeFloat32(&sb, "PIXSCALE", f.PixScale, "[arcsec/pix] Pixel scale")
	}
	writeEnd(&sb)
	padHeader(&sb)

	// Write header block(s)
	if _, err := w.Write([]byte(sb.String())); err != nil {
		return err
	}

	// Write payload data, replacing NaNs with zeros for compatibility
	return writeFloat32Array(w, f.Data, true)
}

// Pads the current header block with spaces up to the block size
func padHeader(sb *strings.Builder) {
	if rem := sb.Len() % fitsBlockSize; rem > 0 {
		for i := rem; i < fitsBlockSize; i++ {
			sb.WriteRune(' ')
		}
	}
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header float32 value
func writeFloat32(w io.Writer, key string, value float32, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	// fixed-point exponent format keeps the value parseable on the read side
	fmt.Fprintf(w, "%-8s= %20.6E / %-47s", key, value, comment)
}

// Writes a FITS header string value
func writeString(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, "'"+value+"'", comment)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "%-80s", "END")
}

// Writes FITS binary body data in network byte order, padded to the block
// size. Optionally replaces NaNs with zeros for compatibility with other tools
func writeFloat32Array(w io.Writer, data []float32, replaceNaNs bool) error {
	buf := make([]byte, bufLen)

	written := 0
	for block := 0; block < len(data); block += bufLen / 4 {
		size := len(data) - block
		if size > bufLen/4 {
			size = bufLen / 4
		}
		for offset, d := range data[block : block+size] {
			if replaceNaNs && math.IsNaN(float64(d)) {
				d = 0
			}
			val := math.Float32bits(d)
			buf[(offset<<2)+0] = byte(val >> 24)
			buf[(offset<<2)+1] = byte(val >> 16)
			buf[(offset<<2)+2] = byte(val >> 8)
			buf[(offset<<2)+3] = byte(val)
		}
		if _, err := w.Write(buf[:size*4]); err != nil {
			return err
		}
		written += size * 4
	}

	// pad up to the next block boundary
	if pad := (fitsBlockSize - written%fitsBlockSize) % fitsBlockSize; pad > 0 {
		for i := 0; i < pad; i++ {
			buf[i] = 0
		}
		if _, err := w.Write(buf[:pad]); err != nil {
			return err
		}
	}
	return nil
}
