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
	"fmt"
	"math"

	"github.com/spotfish/spotfish/internal/spot"
	"github.com/spotfish/spotfish/internal/stats"
)

// A single fluorescence microscopy image plane, with its position in the
// imaging sequence and lazily evaluated statistics
type Image struct {
	ID       int     // Sequential ID number, for log output. Counted upwards from 0 for the planes of a field of view
	FileName string  // Original file name, if any, for log output

	Width  int32     // Image width in pixels
	Height int32     // Image height in pixels

	Round   int32    // Imaging round this plane belongs to
	Channel int32    // Fluorescence channel this plane belongs to
	Z       int32    // Z slice this plane belongs to

	Data []float32   // The image data, row major

	Stats           *stats.Stats // Basic image statistics: min, mean, max, location, scale
	MedianDiffStats *stats.Basic // Local median difference stats, for hot pixel rejection

	Spots     []spot.Spot // Spot detections
	AvgRadius float32     // Average half-flux radius of the spot detections
}

// Creates an image of the given dimensions. Data is not copied, allocated if nil
func NewImage(width, height int32, data []float32) *Image {
	if data==nil {
		data=make([]float32, width*height)
	}
	return &Image{
		Width:  width,
		Height: height,
		Data:   data,
		Stats:  stats.NewStats(data, width),
	}
}

// Creates an image with the same dimensions and metadata as the given image.
// A new data array is allocated
func NewImageFromImage(src *Image) *Image {
	data:=make([]float32, len(src.Data))
	return &Image{
		ID:        src.ID,
		FileName:  src.FileName,
		Width:     src.Width,
		Height:    src.Height,
		Round:     src.Round,
		Channel:   src.Channel,
		Z:         src.Z,
		Data:      data,
		Stats:     stats.NewStats(data, src.Width),
		Spots:     src.Spots,
		AvgRadius: src.AvgRadius,
	}
}

func (f *Image) DimensionsToString() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// Fill a circle of given radius on the image
func (f *Image) FillCircle(xc, yc, r, color float32) {
	for y:=-r; y<=r; y+=0.5 {
		for x:=-r; x<=r; x+=0.5 {
			distSq:=y*y+x*x
			if distSq<=r*r+1e-6 {
				index:=int32(xc+x) + int32(yc+y)*f.Width
				if index>=0 && index<int32(len(f.Data)) {
					f.Data[index]=color
				}
			}
		}
	}
}

// Show spots detected on the source image as circles in a new resulting image
func NewImageFromSpots(src *Image, radiusMultiple float32) *Image {
	res:=NewImageFromImage(src)
	for _,s:=range src.Spots {
		radius:=s.Radius*radiusMultiple
		res.FillCircle(s.X, s.Y, radius, s.Mass/(radius*radius*float32(math.Pi)))
	}
	return res
}
