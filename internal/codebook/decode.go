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

package codebook

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spotfish/spotfish/internal/img"
	"github.com/spotfish/spotfish/internal/spot"
)

// How to measure the intensity of a spot within its window
type Measure string

const (
	MeasureMax  Measure = "max"  // Brightest pixel in the window, robust to centering errors
	MeasureMean Measure = "mean" // Average pixel value in the window
)

// Tuning parameters for codebook decoding
type DecodeParams struct {
	Measure     Measure // Intensity measurement function, max or mean
	Radius      float32 // Measurement window half size in pixels. 0 uses each spot's own radius
	MaxDistance float32 // Maximal cosine distance to the nearest codeword for an assignment
}

// Decodes the given spots against the codebook. For every spot, intensities
// are measured in a window around its position in every (round, channel)
// volume of the stack, taking the maximum across z slices. The resulting
// trace is matched to the nearest codeword by cosine distance, and assigned
// its target gene if the distance does not exceed MaxDistance
func Decode(s *img.Stack, spots []spot.Spot, cb *Codebook, p DecodeParams, logWriter io.Writer) (tbl *IntensityTable, err error) {
	if cb.Rounds>s.Rounds || cb.Channels>s.Channels {
		return nil, fmt.Errorf("codebook shape %dx%d exceeds stack shape %dx%d",
			cb.Rounds, cb.Channels, s.Rounds, s.Channels)
	}

	vectors:=make([][]float32, len(cb.Mappings))
	for i:=range cb.Mappings {
		vectors[i]=cb.Vector(&cb.Mappings[i])
	}

	tbl=NewIntensityTable(cb.Rounds, cb.Channels, len(spots))

	// spots are independent of each other, decode them in parallel
	sem:=make(chan bool, runtime.NumCPU())
	for i:=range spots {
		sem <- true
		go func(i int) {
			defer func() { <-sem }()
			row:=&tbl.Rows[i]
			row.Spot=spots[i]
			row.Trace=buildTrace(s, &spots[i], cb, p)

			normalized:=append([]float32(nil), row.Trace...)
			normalize(normalized)

			row.Distance=float32(2)
			for j,v:=range vectors {
				d:=cosineDistance(normalized, v)
				if d<row.Distance {
					row.Distance=d
					row.Target=cb.Mappings[j].Target
				}
			}
			if row.Distance>p.MaxDistance {
				row.Target=""
			}
		}(i)
	}
	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}

	assigned:=0
	for i:=range tbl.Rows {
		if tbl.Rows[i].Target!="" { assigned++ }
	}
	fmt.Fprintf(logWriter, "Decoded %d spots against %d codewords, assigned %d (%.1f%%)\n",
		len(spots), len(cb.Mappings), assigned, 100*float32(assigned)/float32(maxInt(len(spots), 1)))
	return tbl, nil
}

// Measures the intensity trace of one spot across all (round, channel)
// volumes of the stack
func buildTrace(s *img.Stack, sp *spot.Spot, cb *Codebook, p DecodeParams) []float32 {
	radius:=p.Radius
	if radius<=0 { radius=sp.Radius }
	if radius<1 { radius=1 }
	rad:=int32(radius+0.5)

	trace:=make([]float32, cb.Rounds*cb.Channels)
	for r:=int32(0); r<cb.Rounds; r++ {
		for c:=int32(0); c<cb.Channels; c++ {
			value:=float32(0)
			sum, count:=float32(0), 0
			for z:=int32(0); z<s.ZPlanes; z++ {
				plane:=s.Plane(r, c, z)
				if plane==nil { continue }
				windowExtremumAndSum(plane, sp, rad, &value, &sum, &count)
			}
			if p.Measure==MeasureMean {
				if count>0 { value=sum/float32(count) }
			}
			trace[r*cb.Channels+c]=value
		}
	}
	return trace
}

// Accumulates the maximum, sum and pixel count of the window around the spot
func windowExtremumAndSum(plane *img.Image, sp *spot.Spot, rad int32, max *float32, sum *float32, count *int) {
	xc, yc:=int32(sp.X+0.5), int32(sp.Y+0.5)
	for y:=yc-rad; y<=yc+rad; y++ {
		if y<0 || y>=plane.Height { continue }
		for x:=xc-rad; x<=xc+rad; x++ {
			if x<0 || x>=plane.Width { continue }
			v:=plane.Data[y*plane.Width+x]
			if v>*max { *max=v }
			*sum+=v
			*count++
		}
	}
}

func maxInt(a, b int) int {
	if a>b { return a }
	return b
}
