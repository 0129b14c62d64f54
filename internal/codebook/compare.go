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

	"gonum.org/v1/gonum/stat"

	"github.com/spotfish/spotfish/internal/spot"
)

// The outcome of comparing two spot detectors on the same image
type Comparison struct {
	CountA   int     // Number of detections of the first detector
	CountB   int     // Number of detections of the second detector
	Matched  int     // Number of detections matched between the two
	Pearson  float64 // Pearson correlation of the intensities of matched detections
}

// Matches the detections of two detectors by mutual proximity and correlates
// their measured intensities. Two detections match if they are each other's
// nearest neighbor within the given tolerance in pixels
func Compare(a, b []spot.Spot, tolerance float32) (res Comparison) {
	res.CountA, res.CountB=len(a), len(b)

	nearestInB:=nearestNeighbors(a, b, tolerance)
	nearestInA:=nearestNeighbors(b, a, tolerance)

	valuesA:=make([]float64, 0, len(a))
	valuesB:=make([]float64, 0, len(a))
	for i,j:=range nearestInB {
		if j<0 { continue }
		if nearestInA[j]!=i { continue }
		res.Matched++
		valuesA=append(valuesA, float64(a[i].Value))
		valuesB=append(valuesB, float64(b[j].Value))
	}

	if len(valuesA)>=2 {
		res.Pearson=stat.Correlation(valuesA, valuesB, nil)
	}
	return res
}

// Returns for every spot in a the index of its nearest neighbor in b within
// the tolerance, or -1 if none
func nearestNeighbors(a, b []spot.Spot, tolerance float32) []int {
	res:=make([]int, len(a))
	tolSq:=tolerance*tolerance
	for i:=range a {
		res[i]=-1
		bestSq:=tolSq
		for j:=range b {
			dx, dy:=a[i].X-b[j].X, a[i].Y-b[j].Y
			distSq:=dx*dx+dy*dy
			if distSq<=bestSq {
				bestSq=distSq
				res[i]=j
			}
		}
	}
	return res
}

func (c *Comparison) Print(w io.Writer, nameA, nameB string) {
	fmt.Fprintf(w, "%s found %d spots, %s found %d spots, %d matched\n",
		nameA, c.CountA, nameB, c.CountB, c.Matched)
	fmt.Fprintf(w, "Pearson correlation of matched intensities: %.4f\n", c.Pearson)
}
