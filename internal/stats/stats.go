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

package stats

import (
	"fmt"
	"math"
	"github.com/valyala/fastrand"
	"github.com/spotfish/spotfish/internal/qsort"
)

// Basic statistics on data arrays
type Basic struct {
	Min    float32  // Minimum
	Max    float32  // Maximum
	Mean   float32  // Mean (average)
	StdDev float32  // Standard deviation (norm 2, sigma)

	Location float32 // Selected location indicator (standard: sigma-clipped sampled median)
	Scale    float32 // Selected scale indicator (standard: sampled Qn)
}

// Enumerated type for location and scale estimator modes
type LSEstimatorMode int
const (
	LSEMeanStdDev LSEstimatorMode = iota
	LSEMedianMAD
	LSEIKSS
	LSESCMedianQn
	LSEHistogram
)

// Global mode selection for location and scale estimation
var LSEstimator LSEstimatorMode = LSESCMedianQn

const numLSESamples = 128*1024

// Pretty print basic stats to string
func (s *Basic) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g",
	                 	s.Min, s.Max,   s.Mean,   s.StdDev,   s.Location,   s.Scale)
}

// Calculate basic statistics for a data array, without location and scale
func CalcBasicStats(data []float32) (s *Basic) {
	s=&Basic{}
	s.Min, s.Mean, s.Max=calcMinMeanMax(data)
	variance:=calcVariance(data, s.Mean)
	s.StdDev=float32(math.Sqrt(float64(variance)))
	return s
}

// Calculate basic statistics plus location and scale per the selected estimator mode
func CalcExtendedStats(data []float32) (s *Basic) {
	s=CalcBasicStats(data)
	s.Location, s.Scale=LocationScale(data , s)
	return s
}

// Estimate the location and the scale of the data per the selected estimator mode.
// Basic stats must have been calculated beforehand
func LocationScale(data []float32, s *Basic) (location, scale float32) {
	numSamples:=numLSESamples
	if numSamples>len(data) { numSamples=len(data) }

	switch LSEstimator {
	case LSEMeanStdDev:
		return s.Mean, s.StdDev
	case LSEMedianMAD:
		samples:=make([]float32, numSamples)
		location=FastApproxMedian(data, samples)
		scale   =FastApproxMAD(data, location, samples)
		return location, scale
	case LSEIKSS:
		return IKSS(data, 1e-6)
	case LSESCMedianQn:
		return FastApproxSigmaClippedMedianAndQn(data, 2, 2, (s.Max-s.Min)/65535.0, numSamples)
	case LSEHistogram:
		return HistogramScaleLoc(data, s.Min, s.Max, 4096)
	}
	return s.Mean, s.StdDev
}

// Calculate minimum, mean and maximum of given data
func calcMinMeanMax(data []float32) (min, mean, max float32) {
	mmin, mmean, mmax:=data[0], float64(0), data[0]
	for _,v := range data {
		if v<mmin { mmin=v }
		if v>mmax { mmax=v }
		mmean+=float64(v)
	}
	return mmin, float32(mmean/float64(len(data))), mmax
}

// Calculate variance of given data from provided mean
func calcVariance(data []float32, mean float32) (result float64) {
	variance:=float64(0)
	for _,v :=range data {
		diff:=float64(v-mean)
		variance+=diff*diff
	}
	return variance/float64(len(data))
}

// Calculates a fast approximate median of the (presumably large) data by randomly
// subsampling len(samples) values and taking the median of those. Overwrites samples
func FastApproxMedian(data []float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i:=range samples {
		index:=rng.Uint32n(max)
		samples[i]=data[index]
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Calculates a fast approximate median of absolute differences from the given location
// by random subsampling, normalized to the standard deviation of a Gaussian. Overwrites samples
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i:=range samples {
		index:=rng.Uint32n(max)
		samples[i]=float32(math.Abs(float64(data[index]-location)))
	}
	return qsort.QSelectMedianFloat32(samples)*1.4826  // normalize to Gaussian std dev
}

// Calculates a fast approximate median of the data bounded to [lowBound, highBound]
// by rejection subsampling. Overwrites samples
func FastApproxBoundedMedian(data []float32, lowBound, highBound float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i:=range samples {
		var d float32
		for {
			d=data[rng.Uint32n(max)]
			if d>=lowBound && d<=highBound { break }
		}
		samples[i]=d
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Calculates a fast approximate Qn scale estimate by randomly subsampling pairwise
// absolute differences and taking their first quartile, normalized to the standard
// deviation of a Gaussian. Overwrites samples.
// Estimator from http://web.ipac.caltech.edu/staff/fmasci/home/astro_refs/BetterThanMAD.pdf,
// normalization constant from https://rdrr.io/cran/robustbase/man/Qn.html
func FastApproxQn(data []float32, samples []float32) float32 {
	if len(data)<2 { return 0 }
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i:=range samples {
		index1:=1+rng.Uint32n(max-1)
		index2:=rng.Uint32n(index1)
		samples[i]=float32(math.Abs(float64(data[index1]-data[index2])))
	}
	return qsort.QSelectFirstQuartileFloat32(samples)*2.21914
}

// Calculates a fast approximate Qn scale estimate of the data bounded to
// [lowBound, highBound] by rejection subsampling of pairs. Overwrites samples
func FastApproxBoundedQn(data []float32, lowBound, highBound float32, samples []float32) float32 {
	if len(data)<2 { return 0 }
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i:=range samples {
		var d1, d2 float32
		for {
			index1:=1+rng.Uint32n(max-1)
			d1=data[index1]
			if d1<lowBound || d1>highBound { continue }
			d2=data[rng.Uint32n(index1)]
			if d2>=lowBound && d2<=highBound { break }
		}
		samples[i]=float32(math.Abs(float64(d1-d2)))
	}
	return qsort.QSelectFirstQuartileFloat32(samples)*2.21914
}

// Iteratively estimates the location and scale of the data by sigma-clipped sampled
// median and sampled Qn. Converges once the absolute change in location and scale
// drops to epsilon, or after ten iterations
func FastApproxSigmaClippedMedianAndQn(data []float32, sigmaLow, sigmaHigh float32, epsilon float32, numSamples int) (location, scale float32) {
	samples:=make([]float32, numSamples)
	location=FastApproxMedian(data, samples)
	scale   =FastApproxQn(data, samples)

	for i:=0; i<10; i++ {
		lowBound :=location-sigmaLow *scale
		highBound:=location+sigmaHigh*scale

		newLocation:=FastApproxBoundedMedian(data, lowBound, highBound, samples)
		newScale   :=FastApproxBoundedQn(data, lowBound, highBound, samples)
		newScale   *=1.134  // adjust for the clipping

		deltaLocation:=float32(math.Abs(float64(newLocation-location)))
		deltaScale   :=float32(math.Abs(float64(newScale-scale)))
		location, scale=newLocation, newScale
		if deltaLocation+deltaScale<=epsilon { break }
	}
	return location, FastApproxQn(data, samples)
}

// Returns the biweight midvariance of the sorted values around the given median.
// Overwrites tmp, which must be at least len(xs) long
func biweightMidvariance(xs []float32, median float32, tmp []float32) float32 {
	deviations:=tmp[:len(xs)]
	for i,x:=range xs {
		deviations[i]=float32(math.Abs(float64(x-median)))
	}
	mad:=qsort.QSelectMedianFloat32(deviations)
	if mad==0 { return 0 }

	num, denom:=float32(0), float32(0)
	for _,x:=range xs {
		y:=(x-median)/(9*mad)
		if y<=-1 || y>=1 { continue }
		oneMinusYSq:=1-y*y
		dev:=x-median
		num  +=dev*dev*oneMinusYSq*oneMinusYSq*oneMinusYSq*oneMinusYSq
		denom+=oneMinusYSq*(1-5*y*y)
	}
	if denom==0 { return 0 }
	return float32(len(xs))*num/(denom*denom)
}

// Returns the iterative k-sigma estimators of location and scale.
// From the IKSS estimator described in the PixInsight reference documentation
func IKSS(data []float32, epsilon float32) (location, scale float32) {
	xs:=make([]float32, len(data))
	copy(xs, data)
	qsort.QSortFloat32(xs)
	tmp:=make([]float32, len(xs))

	lo, hi:=0, len(xs)
	prevScale:=float32(math.MaxFloat32)
	for {
		if hi-lo<1 { return 0, 0 }
		median:=xs[(lo+hi)>>1]  // the slice is sorted
		s:=float32(math.Sqrt(float64(biweightMidvariance(xs[lo:hi], median, tmp))))
		if !(s>epsilon)            { return median, 0 }
		if prevScale-s < s*epsilon { return median, 0.991*s }
		prevScale=s

		lowBound, highBound:=median-4*s, median+4*s
		for xs[lo]<lowBound    { lo++ }
		for xs[hi-1]>highBound { hi-- }
	}
}
