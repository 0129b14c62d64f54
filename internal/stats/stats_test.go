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
	"testing"
	"github.com/valyala/fastrand"
)

// returns n samples of an approximately normal distribution with the given
// mean and standard deviation, via the central limit theorem
func normalSamples(n int, mean, stdDev float32, rng *fastrand.RNG) []float32 {
	data:=make([]float32, n)
	for i:=range data {
		sum:=float32(0)
		for j:=0; j<12; j++ {
			sum+=float32(rng.Uint32n(1000000))/1000000.0
		}
		data[i]=(sum-6)*stdDev + mean  // sum of 12 uniforms has stddev 1
	}
	return data
}

func TestCalcBasicStats(t *testing.T) {
	data:=[]float32{1, 2, 3, 4, 5}
	s:=CalcBasicStats(data)
	if s.Min!=1 || s.Max!=5 || s.Mean!=3 {
		t.Errorf("basic stats got min %f mean %f max %f; want 1 3 5", s.Min, s.Mean, s.Max)
	}
	expectStdDev:=float32(math.Sqrt(2))
	if math.Abs(float64(s.StdDev-expectStdDev))>1e-6 {
		t.Errorf("stddev got %f; want %f", s.StdDev, expectStdDev)
	}
}

func TestLocationScaleEstimators(t *testing.T) {
	rng:=fastrand.RNG{}
	mean, stdDev:=float32(0.25), float32(0.05)
	data:=normalSamples(100000, mean, stdDev, &rng)

	modes:=[]LSEstimatorMode{LSEMeanStdDev, LSEMedianMAD, LSEIKSS, LSESCMedianQn, LSEHistogram}
	defer func() { LSEstimator=LSESCMedianQn }()
	for _,mode:=range modes {
		LSEstimator=mode
		s:=CalcExtendedStats(data)
		if math.Abs(float64(s.Location-mean))>0.01 {
			t.Errorf("mode %d: location got %f; want %f +/- 0.01", mode, s.Location, mean)
		}
		// the histogram fit is coarser than the sampling estimators
		scaleTolerance:=0.01
		if mode==LSEHistogram { scaleTolerance=0.05 }
		if math.Abs(float64(s.Scale-stdDev))>scaleTolerance {
			t.Errorf("mode %d: scale got %f; want %f +/- %g", mode, s.Scale, stdDev, scaleTolerance)
		}
	}
}

// The numeric values behind the mode flags are part of the CLI contract
func TestEstimatorModeNumbering(t *testing.T) {
	want:=map[LSEstimatorMode]int{LSEMeanStdDev: 0, LSEMedianMAD: 1, LSEIKSS: 2, LSESCMedianQn: 3, LSEHistogram: 4}
	for mode, n:=range want {
		if int(mode)!=n { t.Errorf("mode %d; want %d", int(mode), n) }
	}
	if LSEstimator!=LSESCMedianQn {
		t.Errorf("default estimator got %d; want %d", LSEstimator, LSESCMedianQn)
	}
}

// A constant plane has zero spread; every estimator must return a finite
// location and scale for it rather than panic or diverge
func TestEstimatorsOnConstantData(t *testing.T) {
	data:=make([]float32, 4096)
	for i:=range data { data[i]=0.5 }

	defer func() { LSEstimator=LSESCMedianQn }()
	for mode:=LSEMeanStdDev; mode<=LSEHistogram; mode++ {
		LSEstimator=mode
		s:=CalcExtendedStats(data)
		if math.IsNaN(float64(s.Location)) || math.IsNaN(float64(s.Scale)) {
			t.Errorf("mode %d: got NaN location %f scale %f", mode, s.Location, s.Scale)
			continue
		}
		if math.Abs(float64(s.Location-0.5))>1e-6 {
			t.Errorf("mode %d: location got %f; want 0.5", mode, s.Location)
		}
		if s.Scale!=0 {
			t.Errorf("mode %d: scale got %f; want 0", mode, s.Scale)
		}
	}
}

// Location estimates must shrug off a bright-tailed contamination which
// drags the mean upwards, as fluorescent spots do to background estimates
func TestSigmaClippingRejectsBrightTail(t *testing.T) {
	rng:=fastrand.RNG{}
	data:=normalSamples(100000, 0.2, 0.02, &rng)
	for i:=0; i<len(data)/100; i++ {
		data[int(rng.Uint32n(uint32(len(data))))]=0.95
	}

	location, scale:=FastApproxSigmaClippedMedianAndQn(data, 2, 2, 1e-5, 64*1024)
	if math.Abs(float64(location-0.2))>0.005 {
		t.Errorf("clipped location got %f; want 0.2 +/- 0.005", location)
	}
	if scale>0.03 {
		t.Errorf("clipped scale got %f; want <=0.03", scale)
	}
}

func TestHistogramPeak(t *testing.T) {
	data:=[]float32{0, 0.5, 0.5, 0.5, 0.5, 1}
	bins:=make([]int32, 11)
	Histogram(data, 0, 1, bins)
	if bins[0]!=1 || bins[5]!=4 || bins[10]!=1 {
		t.Errorf("histogram got %v; want counts 1,4,1 in bins 0,5,10", bins)
	}
	x, _:=GetPeak(bins, 0, 1)
	if math.Abs(float64(x-0.55))>0.1 {
		t.Errorf("peak location got %f; want ~0.5", x)
	}
}

func TestLazyStatsUpdateCachedWith(t *testing.T) {
	data:=[]float32{0.1, 0.2, 0.3, 0.4}
	s:=NewStats(data, 2)
	min, max:=s.Min(), s.Max()  // force caching

	for i,d:=range data { data[i]=d*2+0.5 }
	s.UpdateCachedWith(2, 0.5)

	if got:=s.Min(); math.Abs(float64(got-(min*2+0.5)))>1e-6 {
		t.Errorf("updated min got %f; want %f", got, min*2+0.5)
	}
	if got:=s.Max(); math.Abs(float64(got-(max*2+0.5)))>1e-6 {
		t.Errorf("updated max got %f; want %f", got, max*2+0.5)
	}

	s.Clear()
	if got:=s.Mean(); math.Abs(float64(got-1.0))>1e-6 {
		t.Errorf("recalculated mean got %f; want 1.0", got)
	}
}
