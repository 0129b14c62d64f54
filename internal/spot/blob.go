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

package spot

import (
	"math"
)

// Tuning parameters for the gaussian blob detector
type BlobParams struct {
	MinSigma  float32 // Smallest gaussian scale to search, in pixels
	MaxSigma  float32 // Largest gaussian scale to search, in pixels
	NumSigma  int     // Number of scales to search between MinSigma and MaxSigma
	Threshold float32 // Minimal scale-normalized filter response for a detection
}

// Finds fluorescent spots as maxima of a scale-normalized difference of
// gaussians filter bank, approximating a Laplacian of gaussian detector.
// A candidate must be the maximum of its 3x3 spatial neighborhood in its
// own scale layer and of the two adjacent scale layers. The radius of a
// detection is sqrt(2) times the scale of the best matching gaussian
func FindBlobs(data []float32, width int32, p BlobParams) (spots []Spot, avgRadius float32) {
	numSigma:=p.NumSigma
	if numSigma<2 { numSigma=2 }
	sigmas:=make([]float32, numSigma)
	for i:=range sigmas {
		sigmas[i]=p.MinSigma + (p.MaxSigma-p.MinSigma)*float32(i)/float32(numSigma-1)
	}

	// blur the image at every scale
	w:=int(width)
	tmp:=make([]float32, len(data))
	blurred:=make([][]float32, numSigma)
	for i,sigma:=range sigmas {
		blurred[i]=make([]float32, len(data))
		GaussFilter2D(blurred[i], tmp, data, w, sigma)
	}

	// build scale-normalized difference of gaussians layers
	dog:=make([][]float32, numSigma-1)
	for i:=0; i<numSigma-1; i++ {
		norm:=sigmas[i]/(sigmas[i+1]-sigmas[i])
		layer:=make([]float32, len(data))
		bi, bi1:=blurred[i], blurred[i+1]
		for j:=range layer {
			layer[j]=(bi[j]-bi1[j])*norm
		}
		dog[i]=layer
	}

	height:=int32(len(data))/width
	spots=[]Spot{}
	for l,layer:=range dog {
		for y:=int32(1); y<height-1; y++ {
			for x:=int32(1); x<width-1; x++ {
				index:=y*width+x
				v:=layer[index]
				if v<=p.Threshold { continue }
				if !isScaleSpaceMaximum(dog, l, index, width, v) { continue }

				sigma:=sigmas[l]
				spots=append(spots, Spot{
					Index:  index,
					Value:  data[index],
					X:      float32(x),
					Y:      float32(y),
					Mass:   v,
					Radius: sqrt2*sigma,
					Sigma:  sigma,
				})
			}
		}
	}

	// keep the strongest response where detections from different scales collide
	QSortSpotsDesc(spots)
	minDistance:=int32(p.MinSigma*sqrt2+0.5)
	if minDistance<2 { minDistance=2 }
	spots=suppressOverlaps(spots, width, height, minDistance)

	// refine positions on the raw image and restore value-based ordering
	refineCentroids(spots, data, width, 0, minDistance)
	for i:=range spots {
		spots[i].Value=valueAt(data, spots[i].Index)
		avgRadius+=spots[i].Radius
	}
	if len(spots)>0 { avgRadius/=float32(len(spots)) }

	res:=make([]Spot, len(spots))
	copy(res, spots)
	return res, avgRadius
}

func valueAt(data []float32, index int32) float32 {
	if index<0 || index>=int32(len(data)) { return 0 }
	return data[index]
}

// Checks whether the value v at the given index is the maximum of its 3x3
// spatial neighborhood in layer l and the two adjacent scale layers
func isScaleSpaceMaximum(dog [][]float32, l int, index, width int32, v float32) bool {
	for dl:=l-1; dl<=l+1; dl++ {
		if dl<0 || dl>=len(dog) { continue }
		layer:=dog[dl]
		for dy:=int32(-1); dy<=1; dy++ {
			for dx:=int32(-1); dx<=1; dx++ {
				if dl==l && dx==0 && dy==0 { continue }
				neighbor:=index+dy*width+dx
				if neighbor<0 || neighbor>=int32(len(layer)) { continue }
				if layer[neighbor]>v { return false }
				// break ties towards the lower scale and scan order
				if layer[neighbor]==v && (dl<l || (dl==l && (dy<0 || (dy==0 && dx<0)))) { return false }
			}
		}
	}
	return true
}

// Estimates a detection threshold for the blob detector from the background
// statistics of the image, mirroring the thresholding of the peak finder
func BlobThresholdFromStats(location, scale, sigma float32) float32 {
	t:=scale*sigma*0.5
	if t<=0 { t=float32(math.SmallestNonzeroFloat32) }
	return t
}
