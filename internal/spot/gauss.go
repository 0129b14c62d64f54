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

var sqrt2=float32(math.Sqrt(2))

// Cumulative distribution of a zero-mean gaussian with the given sigma
func gaussCDF(sigma, x float32) float32 {
	return 0.5*(1+float32(math.Erf(float64(x/(sqrt2*sigma)))))
}

// Maps a coordinate back into [0, size) by mirroring at the borders
func mirror(size, x int) int {
	if x<0 { return -x-1 }
	if x>=size { return 2*size-x-1 }
	return x
}

// Builds a normalized 1D gaussian kernel for the given sigma. Each tap holds
// the integral of the gaussian over its pixel, and the radius grows until the
// truncated tail mass drops below one percent
func GaussianKernel1D(sigma float32) []float32 {
	const tailMass=0.01
	radius:=0
	for gaussCDF(sigma, -1.5-float32(radius))>=tailMass { radius++ }

	kernel:=make([]float32, 2*radius+1)
	sum:=float32(0)
	for i:=0; i<=radius; i++ {
		lo:=float32(i-radius)-0.5
		tap:=gaussCDF(sigma, lo+1)-gaussCDF(sigma, lo)
		kernel[i]=tap
		kernel[2*radius-i]=tap  // mirrored, keeps the kernel exactly symmetric
		sum+=2*tap
	}
	sum-=kernel[radius]  // center tap was counted twice

	for i:=range kernel { kernel[i]/=sum }  // truncated tails, renormalize to unit sum
	return kernel
}

// Convolves the 2D image given by data and width with the kernel along the
// x axis, mirroring at the borders. Stores the result in res
func Convolve1DX(res, data []float32, width int, kernel []float32) {
	height:=len(data)/width
	radius:=len(kernel)/2
	for y:=0; y<height; y++ {
		row:=data[y*width : (y+1)*width]
		for x:=0; x<width; x++ {
			sum:=float32(0)
			for i,k:=range kernel {
				sum+=row[mirror(width, x+i-radius)]*k
			}
			res[y*width+x]=sum
		}
	}
}

// Convolves the 2D image given by data and width with the kernel along the
// y axis, mirroring at the borders. Stores the result in res
func Convolve1DY(res, data []float32, width int, kernel []float32) {
	height:=len(data)/width
	radius:=len(kernel)/2
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			sum:=float32(0)
			for i,k:=range kernel {
				sum+=data[mirror(height, y+i-radius)*width+x]*k
			}
			res[y*width+x]=sum
		}
	}
}

// Applies a 2D gauss filter of the given standard deviation to the 2D image
// given by data and width, as two separable 1D convolutions. Overwrites tmp
// and stores the result in res
func GaussFilter2D(res, tmp, data []float32, width int, sigma float32) {
	kernel:=GaussianKernel1D(sigma)
	Convolve1DX(tmp, data, width, kernel)
	Convolve1DY(res, tmp, width, kernel)
}
