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
	"math"
	"gonum.org/v1/gonum/optimize"
)

// Bins the data into the given histogram bins spanning [min, max].
// A degenerate range puts everything into the first bin
func Histogram(data []float32, min, max float32, bins []int32) {
	for i:=range bins { bins[i]=0 }
	if !(max>min) {
		bins[0]=int32(len(data))
		return
	}
	scale:=float32(len(bins)-1)/(max-min)
	for _,d:=range data {
		bins[int((d-min)*scale)]++
	}
}

// Returns the location and the value of the histogram peak.
// The value is smoothed with the right neighbor bin
func GetPeak(bins []int32, min, max float32) (x, y float32) {
	maxIndex, maxValue:=0, bins[0]
	for i,v:=range bins {
		if v>maxValue { maxIndex, maxValue=i, v }
	}
	binWidth:=(max-min)/float32(len(bins)-1)
	x=min+(float32(maxIndex)+0.5)*binWidth
	y=float32(maxValue)
	if maxIndex+1<len(bins) { y=0.5*float32(bins[maxIndex]+bins[maxIndex+1]) }
	return x, y
}

// Fits a scaled normal distribution to the histogram with Nelder-Mead,
// starting from the histogram peak, and returns its mode and standard deviation
func fitNormalToHistogram(bins []int32, min, max float32) (mode, stdDev float32, err error) {
	peak, peakVal:=GetPeak(bins, min, max)
	binWidth:=(max-min)/float32(len(bins)-1)

	problem:=optimize.Problem{
		Func: func(p []float64) float64 {
			alpha, mu, sigma:=float32(p[0]), float32(p[1]), float32(p[2])
			scaler:=alpha/(sigma*float32(math.Sqrt(2*math.Pi)))
			sumSqDiff:=float32(0)
			for i,y:=range bins {
				x:=min+(float32(i)+0.5)*binWidth
				z:=(x-mu)/sigma
				predicted:=scaler*float32(math.Exp(float64(-0.5*z*z)))
				diff:=float32(y)-predicted
				sumSqDiff+=diff*diff
			}
			return math.Sqrt(float64(sumSqDiff/float32(len(bins))))
		},
	}
	res, err:=optimize.Minimize(problem, []float64{float64(peakVal), float64(peak), 5.0}, nil, &optimize.NelderMead{})
	if err!=nil { return -1, -1, err }
	return float32(res.X[1]), float32(res.X[2]), nil
}

// Estimates location and scale of the data from a normal fit to its histogram.
// Falls back on sampled median and MAD when the range is degenerate or the fit fails
func HistogramScaleLoc(data []float32, min, max float32, numBins int) (location, scale float32) {
	if !(max>min) { return min, 0 }
	bins:=make([]int32, numBins)
	Histogram(data, min, max, bins)
	mode, stdDev, err:=fitNormalToHistogram(bins, min, max)
	if err!=nil {
		samples:=make([]float32, 32*1024)
		location=FastApproxMedian(data, samples)
		scale   =FastApproxMAD(data, location, samples)
		return location, scale
	}
	if stdDev<0 { stdDev=-stdDev }
	return mode, stdDev
}
