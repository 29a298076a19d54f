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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/mlnoga/starsim/internal/catalog"
	"github.com/mlnoga/starsim/internal/imgen"
	"github.com/mlnoga/starsim/internal/ops"
	"github.com/mlnoga/starsim/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "out.fits", "save output to `file`")
var jpg = flag.String("jpg", "%auto", "save 8bit preview of output as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var falseColor = flag.Bool("falseColor", false, "use a false-color ramp instead of grayscale for JPEG output")
var gamma = flag.Float64("gamma", 1.0, "apply output gamma to JPEG/TIFF previews, 1=linear light data")

var psfs = flag.String("psf", "", "load PSF library from multi-HDU FITS `file`")
var psfIndex = flag.Int("psfIndex", 0, "PSF variant to use for all sources, -1=per-row catalog indices")
var psfTol = flag.Float64("psfTol", 0, "validate PSF centroid convention to this tolerance in pixels, 0=skip")
var normPSF = flag.Bool("normPSF", false, "rescale PSF stamps to unit sum before flux scaling")

var width = flag.Int("width", 1024, "fine canvas width in pixels")
var pixsize = flag.Float64("pixsize", 0.00375, "fine pixel size in arcsec/pixel")
var padPix = flag.Int("padPix", 0, "zero border around PSF stamps during fractional shifting, 0=off")

var expTime = flag.Float64("expTime", 1.0, "exposure time in seconds, scales catalog fluxes")
var jitter = flag.Float64("jitter", 0, "gaussian positional jitter sigma in arcsec, 0=off")
var static = flag.Bool("static", false, "draw jittered positions once and keep them fixed across exposures")
var exposures = flag.Int("exposures", 1, "number of exposures to simulate")

var rebin = flag.Int("rebin", 1, "block-sum the canvas by this integer factor, 1=off")
var crop = flag.Float64("crop", 0, "crop the output to this angular width in arcsec, 0=off")

var httpAddr = flag.String("http", ":8080", "serve the REST API on this address")
var chroot = flag.String("chroot", "", "serve from a chroot jail at this `path` (requires root)")
var setuid = flag.Int("setuid", -1, "serve with this user id, -1=keep")

func main() {
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Starsim Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (simulate|serve|legal|version) [catalog.csv]

Commands:
  simulate Synthesize exposures from a CSV source catalog and a PSF library
  serve    Serve the simulation REST API
  legal    Show license and attribution information
  version  Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		if *out != "" {
			*log = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".log"
		} else {
			*log = ""
		}
	}
	if *log != "" {
		if err := logAlsoToFile(*log); err != nil {
			logFatalf("Unable to open logfile '%s'\n", *log)
		}
	}

	// Also auto-select JPEG output target
	if *jpg == "%auto" {
		if *out != "" {
			*jpg = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".jpg"
		} else {
			*jpg = ""
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			logFatalf("Could not create CPU profile: %s\n", err.Error())
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logFatalf("Could not start CPU profile: %s\n", err.Error())
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	var err error
	switch args[0] {
	case "simulate":
		err = cmdSimulate(args[1:])

	case "serve":
		rest.MakeSandbox(*chroot, *setuid)
		err = rest.Serve(*httpAddr)

	case "legal":
		cmdLegal()

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	elapsed := time.Since(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, ferr := os.Create(*memprofile)
		if ferr != nil {
			logFatalf("Could not create memory profile: %s\n", ferr.Error())
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if perr := pprof.Lookup("allocs").WriteTo(f, 0); perr != nil {
			logFatalf("Could not write allocation profile: %s\n", perr.Error())
		}
	}

	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		logSync()
		os.Exit(-1)
	}
	logSync()
}

// Synthesizes one or more exposures from a CSV catalog via the operator pipeline
func cmdSimulate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("simulate requires exactly one catalog.csv argument, have %d", len(args))
	}
	if *psfs == "" {
		return fmt.Errorf("simulate requires a PSF library, pass one with -psf")
	}

	rows, err := catalog.LoadCSV(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "Loaded %d catalog rows from %s\n", len(rows), args[0])

	opSim := ops.NewOpSimulate(0, rows, *expTime, imgen.Params{
		ArrayWidthPix: *width,
		Pixsize:       *pixsize,
		PSFIndex:      *psfIndex,
		NormPSF:       *normPSF,
		PadPix:        *padPix,
	})
	opSim.Exposures = *exposures
	opSim.JitterSigma = *jitter
	opSim.StaticDist = *static

	seq := ops.NewOpSequence(ops.NewOpLoadPSFs(*psfs, *psfTol), opSim)
	if *rebin > 1 || *crop > 0 {
		seq.Append(ops.NewOpRebinCrop(*rebin, *crop))
	}
	outPattern, jpgPattern := *out, *jpg
	if *exposures > 1 {
		outPattern = numberedPattern(outPattern)
		jpgPattern = numberedPattern(jpgPattern)
	}
	opSaveFits := ops.NewOpSave(outPattern)
	opSaveJpg := ops.NewOpSave(jpgPattern)
	opSaveJpg.FalseColor = *falseColor
	opSaveJpg.Gamma = float32(*gamma)
	seq.Append(opSaveFits, opSaveJpg)

	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "\nSimulating %d exposure(s) with these settings:\n%s\n", *exposures, string(m))

	ctx := ops.NewContext(logWriter)
	promises, err := seq.MakePromises(nil, ctx)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, ctx.MaxThreads, true)
	return err
}

// Inserts a %d exposure number before the filename suffix, e.g. out.fits to out%d.fits
func numberedPattern(pattern string) string {
	if pattern == "" || strings.Contains(pattern, "%d") {
		return pattern
	}
	ext := filepath.Ext(pattern)
	return strings.TrimSuffix(pattern, ext) + "%d" + ext
}

func cmdLegal() {
	fmt.Fprintf(logWriter, `Starsim is free software released under GPL v3, and comes with no warranty.

It gratefully uses these fine libraries:
* gonum (https://gonum.org/), BSD 3-clause license
* gin-gonic/gin (https://github.com/gin-gonic/gin), MIT license
* lucasb-eyer/go-colorful (https://github.com/lucasb-eyer/go-colorful), MIT license
* pbnjay/memory (https://github.com/pbnjay/memory), BSD 3-clause license
* valyala/fastrand (https://github.com/valyala/fastrand), MIT license
* golang.org/x/image, BSD 3-clause license
`)
}
