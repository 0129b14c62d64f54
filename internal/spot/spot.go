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
	"io"
	"fmt"
)

// A fluorescent spot candidate, as found on an image plane by spot detection
type Spot struct {
	Index  int32   // Index of the spot in the data array. int32(x)+width*int32(y)
	Value  float32 // Value of the spot in the data array. data[index]
	X      float32 // Precise spot x position via center of mass
	Y      float32 // Precise spot y position via center of mass
	Mass   float32 // Spot mass. Summed pixel values above background, within given radius
	Radius float32 // Estimated spot radius, in pixels
	Sigma  float32 // Scale of the gaussian best matching the spot. Zero for the local maximum finder
}

// Prints given array of spots as CSV
func PrintSpots(w io.Writer, spots []Spot) {
	fmt.Fprintln(w,"Index,Value,X,Y,Mass,Radius,Sigma")
	for _,s :=range spots {
		fmt.Fprintf(w,"%d,%g,%g,%g,%g,%g,%g\n", s.Index, s.Value, s.X, s.Y, s.Mass, s.Radius, s.Sigma)
	}
}

// Sorts the spots in descending order of value, then mass
func QSortSpotsDesc(a []Spot) {
	if len(a)>1 {
		p:=qPartitionSpotsDesc(a)
		QSortSpotsDesc(a[:p+1])
		QSortSpotsDesc(a[p+1:])
	}
}

func spotLess(a, b *Spot) bool {
	if a.Value!=b.Value { return a.Value>b.Value }
	return a.Mass>b.Mass
}

func qPartitionSpotsDesc(a []Spot) int {
	lo, hi:=0, len(a)-1
	mid:=(lo+hi)>>1
	if spotLess(&a[mid],&a[lo]) { a[mid], a[lo]=a[lo], a[mid] }
	if spotLess(&a[hi], &a[lo]) { a[hi],  a[lo]=a[lo], a[hi]  }
	if spotLess(&a[mid],&a[hi]) { a[mid], a[hi]=a[hi], a[mid] }
	pivot:=a[hi]

	i, j:=lo-1, hi+1
	for {
		for { i++; if !spotLess(&a[i], &pivot) { break } }
		for { j--; if !spotLess(&pivot, &a[j]) { break } }
		if i>=j { return j }
		a[i], a[j]=a[j], a[i]
	}
}
