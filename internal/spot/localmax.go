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
	"github.com/valyala/fastrand"
	"github.com/spotfish/spotfish/internal/morph"
	"github.com/spotfish/spotfish/internal/stats"
)

// Tuning parameters for the local maximum peak finder
type LocalMaxParams struct {
	Sigma         float32 // Detection threshold in scales above the background location
	BadPixelSigma float32 // Reject candidates deviating from their local median by more than this many sigmas. 0=off
	InOutRatio    float32 // Minimal ratio of brightness inside the estimated radius to outside
	MinDistance   int32   // Minimal distance between two spots, and centroiding window half size, in pixels
}

// Finds fluorescent spots as local maxima significantly above the background.
// Candidates are thresholded at location+Sigma*scale, cleaned of isolated hot
// pixels, de-duplicated with a blocking mask of MinDistance pixels, moved to
// their center of mass and measured for radius and mass. The location and
// scale of the background must be estimated beforehand.
func FindLocalMaxima(data []float32, width int32, location, scale float32, p LocalMaxParams, medianDiffStats *stats.Basic) (spots []Spot, avgRadius float32) {
	spots=brightCandidates(data, width, location+scale*p.Sigma, p.MinDistance)

	if p.BadPixelSigma>0 {
		spots=rejectHotPixels(spots, data, width, p.BadPixelSigma, medianDiffStats)
	}

	// filter out faint spots overlapped by brighter ones
	QSortSpotsDesc(spots)
	spots=suppressOverlaps(spots, width, int32(len(data))/width, p.MinDistance)

	// move spots to their centroid position, then re-filter as spots may have merged
	refineCentroids(spots, data, width, location+scale*p.Sigma*0.5, p.MinDistance)
	QSortSpotsDesc(spots)
	spots=suppressOverlaps(spots, width, int32(len(data))/width, p.MinDistance)

	spots, avgRadius=measureRadii(spots, data, width, float32(p.MinDistance), location, p.InOutRatio)

	// clone the shortlist so the larger candidate array can be reclaimed
	res:=make([]Spot, len(spots))
	copy(res, spots)
	return res, avgRadius
}

// Find pixels above the threshold and return them as spot candidates. Applies
// early in-row overlap rejection to reduce allocations
func brightCandidates(data []float32, width int32, threshold float32, minDistance int32) []Spot {
	spots:=make([]Spot,len(data)/100)[:0]

	for i,v :=range data {
		if v<=threshold { continue }
		cand:=Spot{Index:int32(i), Value:v, X:float32(int32(i) % width), Y:float32(int32(i) / width), Mass:v, Radius:1}

		if len(spots)>0 {
			prev:=spots[len(spots)-1]
			if prev.Y==cand.Y && prev.X>=cand.X-float32(minDistance) {
				if prev.Value>=cand.Value {
					continue  // keep previous candidate, it is brighter
				}
				spots[len(spots)-1]=cand
				continue  // replace previous candidate with the brighter new one
			}
		}
		spots=append(spots, cand)
	}
	return spots
}

// Rejects candidates which differ from their local median by more than sigma
// times the standard deviation of such differences. Camera hot pixels are
// single-pixel outliers, real spots spread over a neighborhood.
// Returns the shortened slice
func rejectHotPixels(spots []Spot, data []float32, width int32, sigma float32, medianDiffStats *stats.Basic) []Spot {
	mask:=morph.CreateMask(width, 1.5)
	buffer:=make([]float32, len(mask))

	if medianDiffStats==nil {
		// estimate the standard deviation of local median differences from a random 1% of pixels
		numSamples:=len(data)/100
		if numSamples<64 { numSamples=64 }
		samples:=make([]float32,numSamples)
		rng:=fastrand.RNG{}
		for i:=0; i<numSamples; i++ {
			index:=int32(rng.Uint32n(uint32(len(data))))
			median:=morph.GatherAndMedian(data, index, mask, buffer)
			samples[i]=data[index]-median
		}
		medianDiffStats=stats.CalcBasicStats(samples)
	}

	threshold:=medianDiffStats.StdDev*sigma
	remaining:=0
	for _,s := range(spots) {
		median:=morph.GatherAndMedian(data, s.Index, mask, buffer)
		diff:=data[s.Index]-median
		if diff<threshold && -diff<threshold {
			spots[remaining]=s
			remaining++
		}
	}
	return spots[:remaining]
}

// A singly linked list of spots. Used for overlap suppression
type spotListItem struct {
	Spot *Spot
	Next *spotListItem
}

// Suppresses overlapping detections, keeping the stronger spot.
// Spots must be sorted in descending order beforehand
func suppressOverlaps(spots []Spot, width, height, minDistance int32) []Spot {
	// bin the spots into a 2D grid to avoid quadratic search effort
	binSize:=int32(256)
	xBins  :=(width +binSize-1)/binSize
	yBins  :=(height+binSize-1)/binSize
	bins   :=make([]*spotListItem,int(xBins*yBins))
	items  :=make([]spotListItem,((len(spots)+1023)/1024)*1024) // tiered sizing to help the allocator
	distSqLimit:=minDistance*minDistance

	remaining:=0
	nextSpot:
	for _,s:=range spots {
		xCell, yCell:=int32(s.X+0.5)/binSize, int32(s.Y+0.5)/binSize

		// check this grid cell and all adjacent cells for prior, stronger spots
		for dy:=int32(-1); dy<=1; dy++ {
			if yCell+dy<0 || yCell+dy>=yBins { continue }
			for dx:=int32(-1); dx<=1; dx++ {
				if xCell+dx<0 || xCell+dx>=xBins { continue }
				cellIndex:=(xCell+dx)+(yCell+dy)*xBins

				for ptr:=bins[cellIndex]; ptr!=nil; ptr=ptr.Next {
					s2    :=ptr.Spot
					xDist :=s.X-s2.X
					yDist :=s.Y-s2.Y
					sqDist:=int32(xDist*xDist + yDist*yDist+0.5)
					if sqDist<=distSqLimit {
						continue nextSpot
					}
				}
			}
		}

		spots[remaining]=s

		// insert the retained spot into its grid cell
		items[remaining]=spotListItem{&(spots[remaining]),nil}
		cellIndex:=xCell+yCell*xBins
		ptr      :=bins[cellIndex]
		if ptr==nil {
			bins[cellIndex]=&(items[remaining])
		} else {
			for ptr.Next!=nil {
				ptr=ptr.Next
			}
			ptr.Next=&(items[remaining])
		}
		remaining++
	}

	return spots[:remaining]
}

// Shifts each spot to its floating point-valued center of mass. Modifies spots in place
func refineCentroids(spots []Spot, data []float32, width int32, threshold float32, radius int32) {
	for i,s:=range spots {
		// iterate until the shifts fall below 0.01 pixel, or max rounds reached
		shiftSquared:=float32(math.MaxFloat32)
		for round:=int32(0); shiftSquared>0.0001 && round<10; round++ {
			xMoment, yMoment:=float32(0), float32(0)
			mass:=float32(0)
			for y:=-radius; y<=radius; y++ {
				for x:=-radius; x<=radius; x++ {
					index:=s.Index+y*width+x
					value:=float32(0)
					if index>=0 && int(index)<len(data) {
						value=data[index]-threshold
						if value<0 { value=0 }
					}
					xMoment+=float32(x)*value
					yMoment+=float32(y)*value
					mass+=value
				}
			}

			x:=s.Index % width
			y:=s.Index / width
			if mass==0.0 { mass=1e-8 }
			deltaX:=xMoment/mass
			deltaY:=yMoment/mass
			newX:=float32(x)+deltaX
			newY:=float32(y)+deltaY

			preciseDeltaX:=newX-s.X
			preciseDeltaY:=newY-s.Y
			shiftSquared  =preciseDeltaX*preciseDeltaX + preciseDeltaY*preciseDeltaY
			index:=s.Index + width*int32(deltaY+0.5)+int32(deltaX+0.5)
			value:=float32(0)
			if index>=0 && int(index)<len(data) {
				value=data[index]
			}
			s=Spot{Index:index, Value:value, X:newX, Y:newY, Mass:mass, Radius:s.Radius}
			spots[i]=s
		}
	}
}

// Estimates the radius of each spot as its half-flux radius, and filters out
// implausible candidates whose average brightness inside the radius does not
// significantly exceed the average brightness outside.
// Returns the shortened slice and the average radius
func measureRadii(spots []Spot, data []float32, width int32, radius, location, inOutRatio float32) (res []Spot, avgRadius float32) {
	remaining:=0
	avgRadius=float32(0)

	for _,s:=range spots {
		moment, mass, pixels:=float32(0), float32(0), int32(0)
		rad:=int32(math.Ceil(float64(radius)))
		distSqLimit:=int32(math.Ceil(float64(radius+1e-8)*float64(radius+1e-8)))
		for y:=-rad; y<=rad; y++ {
			for x:=-rad; x<=rad; x++ {
				distSq:=x*x+y*y
				if distSq>distSqLimit { continue }
				distance:=float32(math.Sqrt(float64(distSq)))

				index:=s.Index+y*width+x
				value:=float32(0.0)
				if index>=0 && index<int32(len(data)) {
					v:=data[index]-location
					if v>0 { value=v }
				}
				moment  +=distance*value
				mass    +=value
				pixels++
			}
		}
		if mass==0.0 { mass=1e-8 }
		hfr:=moment/mass

		// sanity check to avoid pathological candidates
		if hfr>radius { continue }

		// calculate mass inside the radius and the number of inner pixels
		innerMass, innerPixels:=float32(0), int32(0)
		innerRad:=int32(math.Ceil(float64(hfr)))
		distSqLimit=int32(math.Ceil(float64(hfr*hfr)))
		for y:=-innerRad; y<=innerRad; y++ {
			for x:=-innerRad; x<=innerRad; x++ {
				distSq:=x*x+y*y
				if distSq>distSqLimit { continue }

				index:=s.Index+y*width+x
				value:=float32(0.0)
				if index>=0 && index<int32(len(data)) {
					v:=data[index]-location
					if v>0 { value=v }
				}
				innerMass  +=value
				innerPixels++
			}
		}

		// is the average inner brightness significantly higher than outside?
		// formulated multiplicatively to avoid divide by zero issues
		outerMass  :=mass  -innerMass
		outerPixels:=pixels-innerPixels
		if innerMass*float32(outerPixels) <= inOutRatio*outerMass*float32(innerPixels) { continue }

		s.Radius=hfr
		s.Mass=mass
		spots[remaining]=s
		remaining++

		avgRadius+=hfr
	}
	if remaining>0 { avgRadius/=float32(remaining) }
	return spots[:remaining], avgRadius
}
