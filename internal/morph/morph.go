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

package morph

import (
	"math"
	"github.com/spotfish/spotfish/internal/qsort"
)

// A pair of x/y offsets into a 2D image
type Offset struct {
	X, Y int32
}

// Creates a disk-shaped structuring element of given radius as a list of x/y offsets
func CreateDisk(radius float32) []Offset {
	disk:=[]Offset{}
	rad:=int32(radius)
	for y:=-rad; y<=rad; y++ {
		for x:=-rad; x<=rad; x++ {
			dist:=float32(math.Sqrt(float64(y*y+x*x)))
			if dist<=radius+1e-8 {
				disk=append(disk, Offset{x, y})
			}
		}
	}
	return disk
}

// Creates a disk-shaped mask of given radius as a list of index offsets into an
// image of the given width. Only valid away from the image borders
func CreateMask(width int32, radius float32) []int32 {
	mask:=[]int32{}
	rad:=int32(radius)
	for y:=-rad; y<=rad; y++ {
		for x:=-rad; x<=rad; x++ {
			dist:=float32(math.Sqrt(float64(y*y+x*x)))
			if dist<=radius+1e-8 {
				mask=append(mask, y*width+x)
			}
		}
	}
	return mask
}

// Grayscale erosion of the 2D image given by data and width with the given
// structuring element. Border pixels erode against the part of the element
// that falls inside the image. Stores the result in res
func Erode(res, data []float32, width int32, disk []Offset) {
	extremum(res, data, width, disk, false)
}

// Grayscale dilation, the dual of Erode. Stores the result in res
func Dilate(res, data []float32, width int32, disk []Offset) {
	extremum(res, data, width, disk, true)
}

func extremum(res, data []float32, width int32, disk []Offset, dilate bool) {
	height:=int32(len(data))/width
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			ext:=data[y*width+x]
			for _,off:=range disk {
				x2, y2:=x+off.X, y+off.Y
				if x2<0 || x2>=width || y2<0 || y2>=height { continue }
				v:=data[y2*width+x2]
				if dilate {
					if v>ext { ext=v }
				} else {
					if v<ext { ext=v }
				}
			}
			res[y*width+x]=ext
		}
	}
}

// Morphological opening: erosion followed by dilation. Overwrites tmp,
// stores the result in res
func Open(res, tmp, data []float32, width int32, disk []Offset) {
	Erode(tmp, data, width, disk)
	Dilate(res, tmp, width, disk)
}

// White tophat filtering for background subtraction: subtracts the
// morphological opening with a disk of the given radius from the data,
// retaining only features smaller than the disk. Returns a new array
func WhiteTophat(data []float32, width int32, radius float32) []float32 {
	disk:=CreateDisk(radius)
	tmp :=make([]float32, len(data))
	res :=make([]float32, len(data))
	Open(res, tmp, data, width, disk)
	for i,d:=range data {
		v:=d-res[i]
		if v<0 { v=0 }
		res[i]=v
	}
	return res
}

// Gathers the values under the index mask centered on the given index into
// the buffer and returns their median. Mask offsets outside the data are skipped
func GatherAndMedian(data []float32, index int32, mask []int32, buffer []float32) float32 {
	gathered:=0
	for _,off:=range mask {
		i:=index+off
		if i>=0 && i<int32(len(data)) {
			buffer[gathered]=data[i]
			gathered++
		}
	}
	return qsort.QSelectMedianFloat32(buffer[:gathered])
}

// Replaces the pixels at the given indices with the median of their local
// neighborhood given by the mask. Used for cosmetic correction of hot and
// dead camera pixels. Operates in place
func MedianFilterSparse(data []float32, indices []int32, mask []int32) {
	buffer:=make([]float32, len(mask))
	for _,index:=range indices {
		data[index]=GatherAndMedian(data, index, mask, buffer)
	}
}

// Dense 3x3 median filter of the 2D image given by data and width.
// Border pixels are copied unchanged. Stores the result in res
func MedianFilter3x3(res, data []float32, width int32) {
	height:=int32(len(data))/width
	copy(res[:width], data[:width])                               // first row
	copy(res[(height-1)*width:], data[(height-1)*width:])         // last row

	buffer:=make([]float32, 9)
	for y:=int32(1); y<height-1; y++ {
		row:=y*width
		res[row], res[row+width-1]=data[row], data[row+width-1]   // row borders
		for x:=int32(1); x<width-1; x++ {
			i:=row+x
			buffer[0], buffer[1], buffer[2]=data[i-width-1], data[i-width], data[i-width+1]
			buffer[3], buffer[4], buffer[5]=data[i-1],       data[i],       data[i+1]
			buffer[6], buffer[7], buffer[8]=data[i+width-1], data[i+width], data[i+width+1]
			res[i]=qsort.QSelectMedianFloat32(buffer)
		}
	}
}
