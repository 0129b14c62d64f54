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
	"testing"
)

func TestCreateDisk(t *testing.T) {
	disk:=CreateDisk(1.5)
	if len(disk)!=9 {
		t.Errorf("disk radius 1.5 has %d offsets; want 9", len(disk))
	}
	disk=CreateDisk(1.0)
	if len(disk)!=5 {
		t.Errorf("disk radius 1.0 has %d offsets; want 5", len(disk))
	}
}

func TestErodeDilateOrdering(t *testing.T) {
	width:=int32(16)
	data:=make([]float32, 16*16)
	for i:=range data {
		data[i]=float32((i*7919)%256)/256.0
	}
	disk:=CreateDisk(2)
	eroded:=make([]float32, len(data))
	dilated:=make([]float32, len(data))
	Erode(eroded, data, width, disk)
	Dilate(dilated, data, width, disk)
	for i:=range data {
		if eroded[i]>data[i] {
			t.Fatalf("eroded[%d]=%f > data %f", i, eroded[i], data[i])
		}
		if dilated[i]<data[i] {
			t.Fatalf("dilated[%d]=%f < data %f", i, dilated[i], data[i])
		}
	}
}

func TestWhiteTophatFlatImage(t *testing.T) {
	width:=int32(32)
	data:=make([]float32, 32*32)
	for i:=range data {
		data[i]=0.25
	}
	res:=WhiteTophat(data, width, 3)
	for i,v:=range res {
		if v!=0 {
			t.Fatalf("tophat of flat image: res[%d]=%f; want 0", i, v)
		}
	}
}

// A small bright peak on a sloped background must survive tophat filtering
// while the background is removed
func TestWhiteTophatKeepsPeak(t *testing.T) {
	width, height:=int32(32), int32(32)
	data:=make([]float32, width*height)
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			data[y*width+x]=0.1 + 0.002*float32(x)  // gentle gradient
		}
	}
	peakIndex:=16*width+16
	data[peakIndex]+=0.5

	res:=WhiteTophat(data, width, 3)

	if res[peakIndex]<0.4 {
		t.Errorf("peak after tophat is %f; want >=0.4", res[peakIndex])
	}
	background:=res[8*width+8]
	if math.Abs(float64(background))>0.05 {
		t.Errorf("background after tophat is %f; want ~0", background)
	}
}

func TestMedianFilterSparse(t *testing.T) {
	width:=int32(8)
	data:=make([]float32, 8*8)
	for i:=range data {
		data[i]=0.5
	}
	badIndex:=int32(3*8+4)
	data[badIndex]=1.0

	MedianFilterSparse(data, []int32{badIndex}, CreateMask(width, 1.5))
	if data[badIndex]!=0.5 {
		t.Errorf("bad pixel after sparse median is %f; want 0.5", data[badIndex])
	}
}

func TestMedianFilter3x3(t *testing.T) {
	width:=int32(8)
	data:=make([]float32, 8*8)
	for i:=range data {
		data[i]=0.5
	}
	hotIndex:=int32(4*8+5)
	data[hotIndex]=1.0
	cornerIndex:=int32(0)
	data[cornerIndex]=0.9

	res:=make([]float32, len(data))
	MedianFilter3x3(res, data, width)

	if res[hotIndex]!=0.5 {
		t.Errorf("hot pixel after 3x3 median is %f; want 0.5", res[hotIndex])
	}
	if res[cornerIndex]!=0.9 {
		t.Errorf("border pixel after 3x3 median is %f; want copied 0.9", res[cornerIndex])
	}
	// interior neighbors of the hot pixel keep their majority value
	if res[hotIndex+1]!=0.5 || res[hotIndex-width]!=0.5 {
		t.Errorf("neighbors after 3x3 median are %f, %f; want 0.5", res[hotIndex+1], res[hotIndex-width])
	}
}
