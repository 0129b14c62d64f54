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

package qsort

// Sorts the data in place in ascending order
func QSortFloat32(a []float32) {
	if len(a)>1 {
		p:=QPartitionFloat32(a)
		QSortFloat32(a[:p+1])
		QSortFloat32(a[p+1:])
	}
}

// Partitions the data around a pivot chosen via median of three.
// Returns the index of the last element of the lower partition
func QPartitionFloat32(a []float32) int {
	lo, hi:=0, len(a)-1
	mid:=(lo+hi)>>1
	if a[mid]<a[lo] { a[mid], a[lo]=a[lo], a[mid] }
	if a[hi] <a[lo] { a[hi],  a[lo]=a[lo], a[hi]  }
	if a[mid]<a[hi] { a[mid], a[hi]=a[hi], a[mid] }
	pivot:=a[hi]

	i, j:=lo-1, hi+1
	for {
		for { i++; if a[i]>=pivot { break } }
		for { j--; if a[j]<=pivot { break } }
		if i>=j { return j }
		a[i], a[j]=a[j], a[i]
	}
}

// Returns the k-th smallest element of the data, 1-based. Reorders the data
func QSelectFloat32(a []float32, k int) float32 {
	left, right:=0, len(a)-1
	for left<right {
		p:=QPartitionFloat32(a[left:right+1])+left
		if k-1<=p {
			right=p
		} else {
			left=p+1
		}
	}
	return a[k-1]
}

// Returns the median of the data. Reorders the data.
// For even lengths, returns the average of the two middle elements
func QSelectMedianFloat32(a []float32) float32 {
	if len(a)==0 { return 0 }
	k:=(len(a)+1)>>1
	med:=QSelectFloat32(a, k)
	if len(a)&1!=0 { return med }

	// find smallest element of the upper half, which quickselect left in a[k:]
	next:=a[k]
	for _,v:=range a[k+1:] {
		if v<next { next=v }
	}
	return 0.5*(med+next)
}

// Returns the first quartile of the data. Reorders the data
func QSelectFirstQuartileFloat32(a []float32) float32 {
	return QSelectFloat32(a, (len(a)+2)>>2)
}

// Returns the given percentile in [0,100] of the data. Reorders the data
func QSelectPercentileFloat32(a []float32, percentile float32) float32 {
	if len(a)==0 { return 0 }
	k:=int(percentile*float32(len(a)-1)/100.0+0.5)+1
	if k<1 { k=1 }
	if k>len(a) { k=len(a) }
	return QSelectFloat32(a, k)
}
