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

package decode

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spotfish/spotfish/internal/codebook"
	"github.com/spotfish/spotfish/internal/img"
	"github.com/spotfish/spotfish/internal/ops"
	"github.com/spotfish/spotfish/internal/ops/pre"
	"github.com/spotfish/spotfish/internal/spot"
)

// Decodes the spots detected on a plane against the codebook, measuring
// intensity traces across all (round, channel) volumes of the stack
type OpDecode struct {
	ops.OpUnaryBase
	Measure     string  `json:"measure"`     // "max" or "mean" intensity within the window
	Radius      float32 `json:"radius"`      // measurement window half size, 0 uses each spot's radius
	MaxDistance float32 `json:"maxDistance"` // maximal cosine distance for an assignment
	TableFile   string  `json:"tableFile"`   // CSV output file for the intensity table, empty skips
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDecodeDefault() }) } // register the operator for JSON decoding

func NewOpDecodeDefault() *OpDecode { return NewOpDecode("max", 0, 0.5, "") }

func NewOpDecode(measure string, radius, maxDistance float32, tableFile string) *OpDecode {
	op:=&OpDecode{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "decode"}},
		Measure:     measure,
		Radius:      radius,
		MaxDistance: maxDistance,
		TableFile:   tableFile,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDecode) UnmarshalJSON(data []byte) error {
	type defaults OpDecode
	def:=defaults(*NewOpDecodeDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpDecode(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpDecode) Apply(f *img.Image, c *ops.Context) (result *img.Image, err error) {
	if c.Codebook==nil { return nil, errors.New("no codebook loaded for decoding") }
	if c.Stack==nil { return nil, errors.New("no image stack loaded for decoding") }
	if len(f.Spots)==0 {
		fmt.Fprintf(c.Log, "%d: No spots to decode\n", f.ID)
		return f, nil
	}

	params:=codebook.DecodeParams{
		Measure:     codebook.Measure(op.Measure),
		Radius:      op.Radius,
		MaxDistance: op.MaxDistance,
	}
	tbl, err:=codebook.Decode(c.Stack, f.Spots, c.Codebook, params, c.Log)
	if err!=nil { return nil, err }

	tbl.PrintTargetCounts(c.Log)

	if op.TableFile!="" {
		fmt.Fprintf(c.Log, "%d: Writing intensity table with %d rows to %s\n", f.ID, len(tbl.Rows), op.TableFile)
		if err=writeTableToFile(op.TableFile, tbl); err!=nil { return nil, err }
	}
	return f, nil
}

func writeTableToFile(fileName string, tbl *codebook.IntensityTable) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	tbl.WriteCSV(writer)
	return nil
}

// Runs both spot detectors on the same plane and reports their detection
// counts and the correlation of their measured intensities
type OpCompare struct {
	ops.OpUnaryBase
	LocalMax  *pre.OpDetect `json:"localMax"`  // local maximum peak finder configuration
	Blob      *pre.OpDetect `json:"blob"`      // gaussian blob detector configuration
	Tolerance float32       `json:"tolerance"` // matching tolerance in pixels
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpCompareDefault() }) } // register the operator for JSON decoding

func NewOpCompareDefault() *OpCompare { return NewOpCompare(2) }

func NewOpCompare(tolerance float32) *OpCompare {
	localMax:=pre.NewOpDetect("localmax", "")
	blob:=pre.NewOpDetect("blob", "")
	op:=&OpCompare{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "compare"}},
		LocalMax:    localMax,
		Blob:        blob,
		Tolerance:   tolerance,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpCompare) UnmarshalJSON(data []byte) error {
	type defaults OpCompare
	def:=defaults(*NewOpCompareDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpCompare(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	if op.LocalMax!=nil { op.LocalMax.Detector="localmax" }
	if op.Blob!=nil { op.Blob.Detector="blob" }
	return nil
}

func (op *OpCompare) Apply(f *img.Image, c *ops.Context) (result *img.Image, err error) {
	if op.LocalMax==nil || op.Blob==nil { return nil, errors.New("compare operator without detector configurations") }

	// detectors annotate the image in place, so run each on its own copy
	a:=img.NewImageFromImage(f)
	copy(a.Data, f.Data)
	if _, err=op.LocalMax.Apply(a, c); err!=nil { return nil, err }

	b:=img.NewImageFromImage(f)
	copy(b.Data, f.Data)
	if _, err=op.Blob.Apply(b, c); err!=nil { return nil, err }

	res:=codebook.Compare(a.Spots, b.Spots, op.Tolerance)
	res.Print(c.Log, "localmax", "blob")

	// with a loaded experiment, also compare the decoded target counts
	if c.Codebook!=nil && c.Stack!=nil {
		params:=codebook.DecodeParams{Measure: codebook.MeasureMax, MaxDistance: 0.5}
		for _, d:=range []struct {
			name  string
			spots []spot.Spot
		}{{"localmax", a.Spots}, {"blob", b.Spots}} {
			tbl, err:=codebook.Decode(c.Stack, d.spots, c.Codebook, params, c.Log)
			if err!=nil { return nil, err }
			fmt.Fprintf(c.Log, "Target counts for %s:\n", d.name)
			tbl.PrintTargetCounts(c.Log)
		}
	}

	// keep the peak finder detections on the input plane
	f.Spots, f.AvgRadius=a.Spots, a.AvgRadius
	return f, nil
}
