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
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mlnoga/starsim/internal/catalog"
	"github.com/mlnoga/starsim/internal/fits"
	"github.com/mlnoga/starsim/internal/imgen"
	"github.com/mlnoga/starsim/internal/psf"
)

// Loads a PSF library from a multi-HDU FITS file into the context.
// Passes its inputs through unchanged
type OpLoadPSFs struct {
	OpBase
	FileName    string  `json:"fileName"`
	CentroidTol float64 `json:"centroidTol"` // 0 skips the centroid convention check
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadPSFsDefault() }) } // register the operator for JSON decoding

func NewOpLoadPSFsDefault() *OpLoadPSFs { return NewOpLoadPSFs("", 0) }

func NewOpLoadPSFs(fileName string, centroidTol float64) *OpLoadPSFs {
	return &OpLoadPSFs{
		OpBase:      OpBase{Type: "loadPSFs", Active: fileName != ""},
		FileName:    fileName,
		CentroidTol: centroidTol,
	}
}

func (op *OpLoadPSFs) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if !op.Active || op.FileName == "" {
		return ins, nil
	}
	if !isPathAllowed(op.FileName) {
		return nil, errors.New("filename outside current directory tree, aborting")
	}
	lib, err := psf.LoadLibrary(op.FileName, c.Log)
	if err != nil {
		return nil, err
	}
	if op.CentroidTol > 0 {
		if err := lib.ValidateCentroids(op.CentroidTol); err != nil {
			return nil, err
		}
	}
	c.PSFs = lib
	return ins, nil
}

// Generates simulated exposures from inline catalog rows or a CSV catalog
// file. Takes zero inputs, produces one output per exposure
type OpSimulate struct {
	OpBase
	ID          int           `json:"id"` // id of the first exposure
	Exposures   int           `json:"exposures"`
	CatalogFile string        `json:"catalogFile"` // CSV; alternative to inline Rows
	Rows        []catalog.Row `json:"rows"`
	ExpTime     float64       `json:"expTime"`
	JitterSigma float64       `json:"jitterSigma"`
	StaticDist  bool          `json:"staticDist"`
	Params      imgen.Params  `json:"params"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSimulateDefault() }) } // register the operator for JSON decoding

func NewOpSimulateDefault() *OpSimulate { return NewOpSimulate(0, nil, 1, imgen.Params{}) }

func NewOpSimulate(id int, rows []catalog.Row, expTime float64, params imgen.Params) *OpSimulate {
	return &OpSimulate{
		OpBase:    OpBase{Type: "simulate", Active: true},
		ID:        id,
		Exposures: 1,
		Rows:      rows,
		ExpTime:   expTime,
		Params:    params,
	}
}

// Builds the source tables up front, sequentially, because the jitter draws
// mutate shared catalog state; the heavy canvas generation stays inside the
// promises and runs concurrently
func (op *OpSimulate) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if !op.Active {
		return ins, nil
	}
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	if c.PSFs == nil || c.PSFs.Len() == 0 {
		return nil, fmt.Errorf("%s operator without a loaded PSF library", op.Type)
	}
	exposures := op.Exposures
	if exposures < 1 {
		exposures = 1
	}

	rows := op.Rows
	if op.CatalogFile != "" {
		if !isPathAllowed(op.CatalogFile) {
			return nil, errors.New("filename outside current directory tree, aborting")
		}
		if rows, err = catalog.LoadCSV(op.CatalogFile); err != nil {
			return nil, err
		}
		fmt.Fprintf(c.Log, "Loaded %d catalog rows from %s\n", len(rows), op.CatalogFile)
	}

	cat := catalog.New(rows)
	cat.JitterSigma = op.JitterSigma
	cat.StaticDist = op.StaticDist

	outs = make([]Promise, exposures)
	for i := 0; i < exposures; i++ {
		table, err := cat.Build(op.ExpTime)
		if err != nil {
			return nil, err
		}
		id := op.ID + i
		outs[i] = func() (f *fits.Image, err error) {
			return op.apply(id, table, c)
		}
	}
	return outs, nil
}

func (op *OpSimulate) apply(id int, table *catalog.Table, c *Context) (*fits.Image, error) {
	params := op.Params
	if params.MaxThreads == 0 {
		params.MaxThreads = c.MaxThreads
	}
	gen, err := imgen.NewGenerator(params, table, c.PSFs)
	if err != nil {
		return nil, err
	}
	if err := gen.Run(); err != nil {
		return nil, err
	}

	f := gen.Field().ToImage()
	f.ID = id
	f.Exposure = float32(op.ExpTime)
	fmt.Fprintf(c.Log, "%d: Simulated %s image of %d sources with %v\n",
		f.ID, f.DimensionsToString(), table.NStars(), f.Stats)
	return f, nil
}

// Block-sums an image by an integer factor and crops it to a centered window
// of the given angular width. Skips whichever of the two steps is disabled
type OpRebinCrop struct {
	OpUnaryBase
	RebinFactor    int     `json:"rebinFactor"`    // 1 disables rebinning
	CroppedWidthAs float64 `json:"croppedWidthAs"` // 0 disables cropping
}

func init() { SetOperatorFactory(func() Operator { return NewOpRebinCropDefault() }) } // register the operator for JSON decoding

func NewOpRebinCropDefault() *OpRebinCrop { return NewOpRebinCrop(1, 0) }

func NewOpRebinCrop(rebinFactor int, croppedWidthAs float64) *OpRebinCrop {
	op := OpRebinCrop{
		OpUnaryBase:    OpUnaryBase{OpBase: OpBase{Type: "rebinCrop", Active: rebinFactor > 1 || croppedWidthAs > 0}},
		RebinFactor:    rebinFactor,
		CroppedWidthAs: croppedWidthAs,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpRebinCrop) UnmarshalJSON(data []byte) error {
	type defaults OpRebinCrop
	def := defaults(*NewOpRebinCropDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpRebinCrop(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpRebinCrop) Apply(f *fits.Image, c *Context) (result *fits.Image, err error) {
	if !op.Active {
		return f, nil
	}
	if len(f.Naxisn) != 2 || f.Naxisn[0] != f.Naxisn[1] {
		return nil, fmt.Errorf("%d: rebin/crop requires a square 2D image, have %s", f.ID, f.DimensionsToString())
	}
	field := &imgen.Field{Data: f.DataFloat64(), Width: int(f.Naxisn[0]), PixScale: float64(f.PixScale)}
	if op.CroppedWidthAs > 0 {
		factor := op.RebinFactor
		if factor < 1 {
			factor = 1
		}
		if field, err = cropForRebin(field, op.CroppedWidthAs, factor); err != nil {
			return nil, err
		}
	}
	if op.RebinFactor > 1 {
		if field, err = field.Rebin(op.RebinFactor); err != nil {
			return nil, err
		}
	}
	out := field.ToImage()
	out.ID = f.ID
	out.Exposure = f.Exposure
	fmt.Fprintf(c.Log, "%d: Rebinned %dx and cropped to %s image with %v\n",
		f.ID, op.RebinFactor, out.DimensionsToString(), out.Stats)
	return out, nil
}

// Crops to the fine-grid window whose width is a whole multiple of the rebin
// factor, so the subsequent block summation divides evenly
func cropForRebin(f *imgen.Field, widthAs float64, factor int) (*imgen.Field, error) {
	n := int(widthAs/f.PixScale/float64(factor) + 0.5)
	if n < 1 {
		return nil, fmt.Errorf("crop width %g arcsec yields no pixels", widthAs)
	}
	return f.Crop(n * factor)
}

// Saves given promise under a given filename, with pattern expansion for %d based on the image id.
// Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string  `json:"filePattern"`
	FalseColor  bool    `json:"falseColor"` // false-color ramp for JPG output
	Gamma       float32 `json:"gamma"`      // 0 defaults to 1.0
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filenamePattern string) *OpSave {
	op := OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filenamePattern != ""}},
		FilePattern: filenamePattern,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults OpSave
	def := defaults(*NewOpSaveDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpSave(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpSave) Apply(f *fits.Image, c *Context) (result *fits.Image, err error) {
	if !op.Active || op.FilePattern == "" {
		return f, nil
	}
	fileName := op.FilePattern
	if strings.Contains(fileName, "%d") {
		fileName = fmt.Sprintf(op.FilePattern, f.ID)
	}
	if !isPathAllowed(fileName) {
		return nil, errors.New("filename outside current directory tree, aborting")
	}
	gamma := op.Gamma
	if gamma == 0 {
		gamma = 1.0
	}
	min, max := f.Stats.Min(), f.Stats.Max()
	fnLower := strings.ToLower(fileName)

	switch {
	case strings.HasSuffix(fnLower, ".fits") || strings.HasSuffix(fnLower, ".fit") || strings.HasSuffix(fnLower, ".fts") ||
		strings.HasSuffix(fnLower, ".fits.gz") || strings.HasSuffix(fnLower, ".fit.gz") || strings.HasSuffix(fnLower, ".fts.gz") ||
		strings.HasSuffix(fnLower, ".fits.gzip") || strings.HasSuffix(fnLower, ".fit.gzip") || strings.HasSuffix(fnLower, ".fts.gzip"):
		fmt.Fprintf(c.Log, "%d: Writing %s pixel FITS to %s\n", f.ID, f.DimensionsToString(), fileName)
		err = f.WriteFile(fileName)
	case strings.HasSuffix(fnLower, ".jpeg") || strings.HasSuffix(fnLower, ".jpg"):
		if op.FalseColor {
			fmt.Fprintf(c.Log, "%d: Writing %s pixel false-color JPEG to %s\n", f.ID, f.DimensionsToString(), fileName)
			err = f.WriteFalseColorJPGToFile(fileName, min, max, gamma, 95)
		} else {
			fmt.Fprintf(c.Log, "%d: Writing %s pixel mono JPEG to %s\n", f.ID, f.DimensionsToString(), fileName)
			err = f.WriteMonoJPGToFile(fileName, min, max, gamma, 95)
		}
	case strings.HasSuffix(fnLower, ".tiff") || strings.HasSuffix(fnLower, ".tif"):
		fmt.Fprintf(c.Log, "%d: Writing %s pixel 16-bit TIFF to %s\n", f.ID, f.DimensionsToString(), fileName)
		err = f.WriteMonoTIFF16ToFile(fileName, min, max, gamma)
	default:
		err = errors.New("unknown suffix")
	}
	if err != nil {
		return nil, fmt.Errorf("%d: error writing to file %s: %s", f.ID, fileName, err.Error())
	}
	return f, nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) {
		return false
	}
	if strings.Contains(p, "..") {
		return false
	}
	return true
}
