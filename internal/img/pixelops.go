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

package img

import (
	"math"
	"runtime"
)

// A pixel function. Operates in-place. For parallelization across CPUs
type PixelFunction func(data []float32, params interface{})

// Apply given pixel function to the image. Uses thread parallelism across all
// available CPUs. Operates in-place
func (f *Image) ApplyPixelFunction(pf PixelFunction, args interface{}) {
	data:=f.Data

	// split into 8*NumCPU() work packages, limit parallelism to NumCPUs()
	numBatches:=8*runtime.NumCPU()
	batchSize:=(len(data)+numBatches-1)/(numBatches)
	sem:=make(chan bool, runtime.NumCPU())
	for lower:=0; lower<len(data); lower+=batchSize {
		upper:=lower+batchSize
		if upper>len(data) { upper=len(data) }

		sem <- true
		go func(data []float32) {
			pf(data, args)
			<-sem
		}(data[lower:upper])
	}

	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
}

type pfScaleOffsetArgs struct {
	Scale  float32
	Offset float32
}

// Pixel function to apply a scale and an offset. 2nd parameter must be a pfScaleOffsetArgs. Operates in-place
func pfScaleOffset(data []float32, params interface{}) {
	scale, offset:=params.(pfScaleOffsetArgs).Scale, params.(pfScaleOffsetArgs).Offset
	for i, d:=range data {
		data[i]=d*scale+offset
	}
}

// Applies given scale factor and offset to image. Operates in-place
func (f *Image) ApplyScaleOffset(scale, offset float32) {
	f.ApplyPixelFunction(pfScaleOffset, pfScaleOffsetArgs{scale, offset})
	f.Stats.UpdateCachedWith(scale, offset)
}

// Normalize image to [0..1] based on basic stats. Operates in-place
func (f *Image) Normalize() {
	scale:=1.0/(f.Stats.Max()-f.Stats.Min())
	offset:=-f.Stats.Min()*scale
	f.ApplyScaleOffset(scale, offset)
}

type pfClampArgs struct {
	Min float32
	Max float32
}

// Pixel function to clamp values into [min, max]. 2nd parameter must be a pfClampArgs. Operates in-place
func pfClamp(data []float32, params interface{}) {
	min, max:=params.(pfClampArgs).Min, params.(pfClampArgs).Max
	for i, d:=range data {
		if d<min { data[i]=min } else if d>max { data[i]=max }
	}
}

// Clamps all pixel values into [min, max]. Operates in-place
func (f *Image) Clamp(min, max float32) {
	f.ApplyPixelFunction(pfClamp, pfClampArgs{min, max})
	f.Stats.Clear()
}

// Pixel function to apply gamma correction. Data must be normalized to [0,1]. 2nd parameter must be a float32. Operates in-place
func pfGamma(data []float32, params interface{}) {
	g:=params.(float32)
	gg:=float64(1.0/g)
	for i, d:=range data {
		data[i]=float32(math.Pow(float64(d), gg))
	}
}

// Apply gamma correction to image. Image must be normalized to [0,1] before. Operates in-place
func (f *Image) ApplyGamma(g float32) {
	f.ApplyPixelFunction(pfGamma, g)
	f.Stats.Clear()
}
