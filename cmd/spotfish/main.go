// Copyright (C) 2024 The spotfish authors
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
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"time"

	"github.com/spotfish/spotfish/internal/codebook"
	"github.com/spotfish/spotfish/internal/img"
	"github.com/spotfish/spotfish/internal/ops"
	"github.com/spotfish/spotfish/internal/ops/decode"
	"github.com/spotfish/spotfish/internal/ops/pre"
	"github.com/spotfish/spotfish/internal/rest"
	"github.com/spotfish/spotfish/internal/stats"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out   = flag.String("out", "", "save processed planes with given filename pattern, e.g. `out%03d.tif`")
var log   = flag.String("log", "", "save log output to `file` in addition to stdout")
var spots = flag.String("spots", "", "save spot detections with given filename pattern, e.g. `spots%03d.csv` or `spots%03d.png`")
var back  = flag.String("back", "", "save extracted background with given filename pattern, e.g. `back%03d.tif`")
var table = flag.String("table", "", "save decoded intensity table as CSV to `file`")

var tophatRadius = flag.Int64("tophatRadius", 15, "white tophat structuring element radius in pixels, 0=off")

var clipMin = flag.Float64("clipMin", 0, "lower percentile for clipping and scaling to [0,1]")
var clipMax = flag.Float64("clipMax", 99.9, "upper percentile for clipping and scaling to [0,1], 0=off")

var backGrid   = flag.Int64("backGrid", 0, "residual background removal: grid size in pixels, 0=off")
var backSigma  = flag.Float64("backSigma", 1.5, "residual background removal: sigma for trimming bright cell pixels")
var backClip   = flag.Int64("backClip", 0, "residual background removal: clip the k brightest grid cells and replace with local median")
var backRadius = flag.Float64("backRadius", 4.0, "residual background removal: mask detected spots to this multiple of their radius")

var detector    = flag.String("detector", "blob", "spot detector, one of localmax, blob")
var detSigma    = flag.Float64("detSigma", 10.0, "peak finder threshold as multiple of scales above background")
var detBpSigma  = flag.Float64("detBpSigma", 0, "peak finder hot pixel rejection threshold in sigmas, 0=off")
var detInOut    = flag.Float64("detInOut", 1.2, "peak finder minimal ratio of brightness inside HFR to outside HFR")
var detMinDist  = flag.Int64("detMinDist", 6, "peak finder minimal distance between detections in pixels")
var blobMinSig  = flag.Float64("blobMinSig", 1.0, "blob detector smallest gaussian scale")
var blobMaxSig  = flag.Float64("blobMaxSig", 4.0, "blob detector largest gaussian scale")
var blobNumSig  = flag.Int64("blobNumSig", 5, "blob detector number of gaussian scales")
var blobThresh  = flag.Float64("blobThresh", 0, "blob detector response threshold, 0=derive from image statistics")

var experiment = flag.String("experiment", "", "load experiment manifest from `file` for decoding")
var fov        = flag.String("fov", "", "field of view name from the experiment manifest")

var measure = flag.String("measure", "max", "intensity trace measure per round and channel, one of max, mean")
var decRadius = flag.Float64("decRadius", 0, "intensity trace window radius in pixels, 0=use detected spot radius")
var maxDist = flag.Float64("maxDist", 0.5, "maximal cosine distance for assigning a spot to a codeword")

var cmpTol = flag.Float64("cmpTol", 2.0, "matching tolerance in pixels when comparing detectors")

var lsEst = flag.Int64("lsEst", 3, "location and scale estimators 0=mean/stddev, 1=median/MAD, 2=IKSS, 3=iterative sigma-clipped sampled median and sampled Qn (standard), 4=histogram peak")

var httpAddr = flag.String("http", ":8080", "`address` to serve the REST API on")

func main() {
	logWriter:=io.Writer(os.Stdout)
	debug.SetGCPercent(10)
	start:=time.Now()
	flag.Usage=func() {
		fmt.Fprintf(logWriter, `Spotfish Copyright (c) 2024 The spotfish authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (stats|process|detect|decode|compare|serve|legal) (img0.tif ... imgn.tif)

Commands:
  stats   Show statistics for input image planes
  process Background-subtract and scale input image planes
  detect  Detect spots on processed input image planes
  decode  Decode spots of one field of view against the experiment codebook
  compare Run both spot detectors on one field of view and compare them
  serve   Serve the processing pipeline as a REST API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Log to file in addition to stdout, if selected
	if *log!="" {
		f, err:=os.Create(*log)
		if err!=nil {
			fmt.Fprintf(logWriter, "Unable to open logfile '%s'\n", *log)
			os.Exit(-1)
		}
		defer f.Close()
		logWriter=io.MultiWriter(os.Stdout, f)
	}

	// Enable CPU profiling if flagged
	if *cpuprofile!="" {
		f, err:=os.Create(*cpuprofile)
		if err!=nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err:=pprof.StartCPUProfile(f); err!=nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	if args[0]=="stats" || args[0]=="process" || args[0]=="detect" || args[0]=="decode" || args[0]=="compare" {
		fmt.Fprintf(logWriter, "Using location and scale estimator %d\n", *lsEst)
	}

	c:=ops.NewContext(logWriter, stats.LSEstimatorMode(*lsEst))

	var err error
	switch args[0] {
	case "stats":
		seq:=ops.NewOpSequence(ops.NewOpLoadMany(args[1:]))
		err=runSequence(seq, c)

	case "process":
		seq:=ops.NewOpSequence(ops.NewOpLoadMany(args[1:]))
		appendPreprocessing(seq)
		if *out!="" { seq.Append(ops.NewOpSave(*out)) }
		err=printOps(logWriter, "Processing with these settings:", seq)
		if err==nil { err=runSequence(seq, c) }

	case "detect":
		seq:=ops.NewOpSequence(ops.NewOpLoadMany(args[1:]))
		appendPreprocessing(seq)
		seq.Append(opDetectFromFlags())
		if *out!="" { seq.Append(ops.NewOpSave(*out)) }
		err=printOps(logWriter, "Detecting with these settings:", seq)
		if err==nil { err=runSequence(seq, c) }

	case "decode":
		var projection *img.Image
		projection, err=loadProjection(c)
		if err!=nil { break }

		opDecode:=decode.NewOpDecode(*measure, float32(*decRadius), float32(*maxDist), *table)
		seq:=ops.NewOpSequence(opDetectFromFlags(), opDecode)
		if *out!="" { seq.Append(ops.NewOpSave(*out)) }
		err=printOps(logWriter, "Decoding with these settings:", seq)
		if err==nil { err=runSequenceOn(seq, projection, c) }

	case "compare":
		var projection *img.Image
		projection, err=loadProjection(c)
		if err!=nil { break }

		opCompare:=decode.NewOpCompare(float32(*cmpTol))
		configureDetector(opCompare.LocalMax)
		configureDetector(opCompare.Blob)
		seq:=ops.NewOpSequence(opCompare)
		err=printOps(logWriter, "Comparing detectors with these settings:", seq)
		if err==nil { err=runSequenceOn(seq, projection, c) }

	case "serve":
		err=rest.Serve(*httpAddr)

	case "legal":
		cmdLegal(logWriter)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	elapsed:=time.Now().Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile!="" {
		f, err:=os.Create(*memprofile)
		if err!=nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err:=pprof.Lookup("allocs").WriteTo(f, 0); err!=nil {
			fmt.Fprintf(logWriter, "Could not write allocation profile: %s\n", err.Error())
			os.Exit(-1)
		}
	}

	if err!=nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
}

// Returns the tophat, clip/scale and residual background removal steps
// selected by the command line flags
func preprocessingOps() (steps []ops.OperatorUnary) {
	if *tophatRadius>0 { steps=append(steps, pre.NewOpWhiteTophat(float32(*tophatRadius))) }
	if *clipMax>0 { steps=append(steps, pre.NewOpClipScale(float32(*clipMin), float32(*clipMax))) }
	if *backGrid>0 {
		steps=append(steps, pre.NewOpBackExtract(int32(*backGrid), float32(*backRadius), float32(*backSigma), int32(*backClip), *back))
	}
	return steps
}

// Appends the flagged preprocessing steps to a sequence over loaded planes
func appendPreprocessing(seq *ops.OpSequence) {
	for _,step:=range preprocessingOps() { seq.Append(step) }
}

// Parses the detector flags into a detection operator
func opDetectFromFlags() *pre.OpDetect {
	op:=pre.NewOpDetect(*detector, *spots)
	configureDetector(op)
	return op
}

func configureDetector(op *pre.OpDetect) {
	op.Sigma=float32(*detSigma)
	op.BadPixelSigma=float32(*detBpSigma)
	op.InOutRatio=float32(*detInOut)
	op.MinDistance=int32(*detMinDist)
	op.MinSigma=float32(*blobMinSig)
	op.MaxSigma=float32(*blobMaxSig)
	op.NumSigma=int(*blobNumSig)
	op.Threshold=float32(*blobThresh)
}

// Loads the experiment manifest and field of view given by the flags into
// the context and returns the maximum projection across all planes
func loadProjection(c *ops.Context) (*img.Image, error) {
	if *experiment=="" { return nil, fmt.Errorf("missing -experiment flag") }
	if *fov=="" { return nil, fmt.Errorf("missing -fov flag") }

	e, err:=img.LoadExperiment(*experiment)
	if err!=nil { return nil, err }
	c.Experiment=e

	cb, err:=codebook.LoadCodebook(e.ResolvePath(e.Codebook), e.Rounds, e.Channels)
	if err!=nil { return nil, err }
	c.Codebook=cb

	f, err:=e.FOV(*fov)
	if err!=nil { return nil, err }

	s, err:=e.LoadStack(f, c.Log)
	if err!=nil { return nil, err }
	c.Stack=s

	// Decoding measures intensities on the stack planes, so they receive
	// the same preprocessing as the projection the spots are detected on
	steps:=preprocessingOps()
	fmt.Fprintf(c.Log, "Loaded FOV %s with shape %s, preprocessing %d planes with %d steps\n",
		f.Name, s.ShapeToString(), len(s.Planes), len(steps))
	if err:=ops.ApplyToStack(s, c, steps...); err!=nil { return nil, err }
	return s.MaxProject()
}

func printOps(logWriter io.Writer, prefix string, seq *ops.OpSequence) error {
	m, err:=json.MarshalIndent(seq, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "\n%s\n%s\n", prefix, string(m))
	return nil
}

func runSequence(seq *ops.OpSequence, c *ops.Context) error {
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { return err }
	_, err=ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

func runSequenceOn(seq *ops.OpSequence, f *img.Image, c *ops.Context) error {
	in:=func() (res *img.Image, err error) { return f, nil }
	promises, err:=seq.MakePromises([]ops.Promise{in}, c)
	if err!=nil { return err }
	_, err=ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

// Show licensing information
func cmdLegal(logWriter io.Writer) {
	fmt.Fprint(logWriter, `Spotfish is Copyright (c) 2024 The spotfish authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.
The binary version of this program uses several open source libraries and components, which come with their own licensing terms. See below for a list of attributions.

ATTRIBUTIONS

A1. https://github.com/gonum/gonum is Copyright (c) 2013 The Gonum Authors. All rights reserved.

Redistribution and use in source and binary forms, with or without modification, are permitted provided that the following conditions are met:

* Redistributions of source code must retain the above copyright notice, this list of conditions and the following disclaimer.

* Redistributions in binary form must reproduce the above copyright notice, this list of conditions and the following disclaimer in the documentation and/or other materials provided with the distribution.

* Neither the name of the copyright holder nor the names of its contributors may be used to endorse or promote products derived from this software without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.


A2. https://github.com/pbnjay/memory is Copyright (c) 2017, Jeremy Jay. All rights reserved.

Redistribution and use in source and binary forms, with or without modification, are permitted provided that the following conditions are met:

* Redistributions of source code must retain the above copyright notice, this list of conditions and the following disclaimer.

* Redistributions in binary form must reproduce the above copyright notice, this list of conditions and the following disclaimer in the documentation and/or other materials provided with the distribution.

* Neither the name of the copyright holder nor the names of its contributors may be used to endorse or promote products derived from this software without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.


A3. https://github.com/valyala/fastrand is Copyright (c) 2017 Aliaksandr Valialkin

Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files (the "Software"), to deal in the Software without restriction, including without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.


A4. https://github.com/lucasb-eyer/go-colorful is Copyright (c) 2013 Lucas Beyer

Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files (the "Software"), to deal in the Software without restriction, including without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.


A5. https://github.com/gin-gonic/gin is Copyright (c) 2014 Manuel Martinez-Almeida

Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files (the "Software"), to deal in the Software without restriction, including without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.


A6. https://golang.org/x/image is Copyright (c) 2009 The Go Authors. All rights reserved. Licensed under a BSD-style license, see https://golang.org/LICENSE for details.
`)
}
