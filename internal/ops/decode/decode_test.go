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
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spotfish/spotfish/internal/codebook"
	"github.com/spotfish/spotfish/internal/img"
	"github.com/spotfish/spotfish/internal/ops"
	"github.com/spotfish/spotfish/internal/spot"
	"github.com/spotfish/spotfish/internal/stats"
)

func makeTestContext() *ops.Context {
	c:=ops.NewContext(io.Discard, stats.LSESCMedianQn)
	c.Codebook=&codebook.Codebook{
		Rounds:   2,
		Channels: 2,
		Mappings: []codebook.Mapping{
			{Codeword: []codebook.Entry{{Round: 0, Channel: 0, Value: 1}, {Round: 1, Channel: 1, Value: 1}}, Target: "geneA"},
			{Codeword: []codebook.Entry{{Round: 0, Channel: 1, Value: 1}, {Round: 1, Channel: 0, Value: 1}}, Target: "geneB"},
		},
	}

	s:=img.NewStack("fov_000", 2, 2, 1, 16, 16)
	for r:=int32(0); r<2; r++ {
		for c2:=int32(0); c2<2; c2++ {
			plane:=img.NewImage(16, 16, nil)
			s.SetPlane(r, c2, 0, plane)
		}
	}
	// spot at (5,5) lights up in r0c0 and r1c1
	s.Plane(0, 0, 0).Data[5*16+5]=1000
	s.Plane(1, 1, 0).Data[5*16+5]=1000
	c.Stack=s
	return c
}

func TestOpDecode(t *testing.T) {
	c:=makeTestContext()
	f:=img.NewImage(16, 16, nil)
	f.Spots=[]spot.Spot{{X: 5, Y: 5, Value: 1000, Radius: 2}}

	tableFile:=filepath.Join(t.TempDir(), "table.csv")
	op:=NewOpDecode("max", 2, 0.5, tableFile)
	if _, err:=op.Apply(f, c); err!=nil {
		t.Fatalf("decoding failed: %s", err.Error())
	}

	data, err:=os.ReadFile(tableFile)
	if err!=nil { t.Fatalf("reading intensity table failed: %s", err.Error()) }
	lines:=strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines)!=2 {
		t.Fatalf("intensity table has %d lines; want header plus one row", len(lines))
	}
	if !strings.Contains(lines[1], "geneA") {
		t.Errorf("intensity table row %q does not name geneA", lines[1])
	}
}

func TestOpDecodeRequiresCodebook(t *testing.T) {
	c:=ops.NewContext(io.Discard, stats.LSESCMedianQn)
	f:=img.NewImage(16, 16, nil)
	f.Spots=[]spot.Spot{{X: 5, Y: 5, Value: 1000, Radius: 2}}

	if _, err:=NewOpDecode("max", 2, 0.5, "").Apply(f, c); err==nil {
		t.Errorf("decoding without a codebook accepted")
	}
}

func TestOpCompare(t *testing.T) {
	width, height:=int32(64), int32(64)
	f:=img.NewImage(width, height, nil)
	// deterministic low level background texture, so scale estimation is nonzero
	for i:=range f.Data {
		f.Data[i]=0.01*float32((uint32(i)*2654435761)%97)/97
	}
	for _,center:=range [][2]float32{{20, 20}, {44, 40}} {
		for y:=int32(0); y<height; y++ {
			for x:=int32(0); x<width; x++ {
				dx, dy:=float32(x)-center[0], float32(y)-center[1]
				f.Data[y*width+x]+=float32(math.Exp(float64(-(dx*dx+dy*dy)/8)))
			}
		}
	}

	c:=ops.NewContext(io.Discard, stats.LSESCMedianQn)
	logBuffer:=&strings.Builder{}
	c.Log=logBuffer

	op:=NewOpCompareDefault()
	op.Blob.Threshold=0.1
	if _, err:=op.Apply(f, c); err!=nil {
		t.Fatalf("comparison failed: %s", err.Error())
	}

	if len(f.Spots)!=2 {
		t.Errorf("comparison left %d spots on the plane; want 2: %v", len(f.Spots), f.Spots)
	}
	if !strings.Contains(logBuffer.String(), "Pearson") {
		t.Errorf("comparison log %q does not report a correlation", logBuffer.String())
	}
}
