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
	"testing"

	"github.com/spotfish/spotfish/internal/stats"
)

type plantedSpot struct {
	X, Y      float32
	Amplitude float32
	Sigma     float32
}

// Renders gaussian point sources onto a zero background
func makeSpotPlane(width, height int32, planted []plantedSpot) []float32 {
	data:=make([]float32, width*height)
	for _,p:=range planted {
		for y:=int32(0); y<height; y++ {
			for x:=int32(0); x<width; x++ {
				dx:=float32(x)-p.X
				dy:=float32(y)-p.Y
				distSq:=dx*dx+dy*dy
				data[y*width+x]+=p.Amplitude*float32(math.Exp(float64(-distSq/(2*p.Sigma*p.Sigma))))
			}
		}
	}
	return data
}

// Asserts that exactly the planted spots were found, in any order, each within
// the given positional tolerance
func assertSpotsMatch(t *testing.T, name string, spots []Spot, planted []plantedSpot, tolerance float32) {
	t.Helper()
	if len(spots)!=len(planted) {
		t.Fatalf("%s: found %d spots; want %d: %v", name, len(spots), len(planted), spots)
	}
	for _,p:=range planted {
		found:=false
		for _,s:=range spots {
			dx, dy:=s.X-p.X, s.Y-p.Y
			if dx*dx+dy*dy<=tolerance*tolerance { found=true; break }
		}
		if !found {
			t.Errorf("%s: no detection near (%.1f, %.1f): %v", name, p.X, p.Y, spots)
		}
	}
}

func TestFindLocalMaxima(t *testing.T) {
	width, height:=int32(64), int32(64)
	planted:=[]plantedSpot{
		{X:20, Y:20, Amplitude:1.0, Sigma:2.0},
		{X:44, Y:41, Amplitude:0.7, Sigma:2.0},
	}
	data:=makeSpotPlane(width, height, planted)

	params:=LocalMaxParams{Sigma:5, BadPixelSigma:0, InOutRatio:1.2, MinDistance:6}
	spots, avgRadius:=FindLocalMaxima(data, width, 0, 0.02, params, nil)

	assertSpotsMatch(t, "localmax", spots, planted, 1.0)
	if avgRadius<1.0 || avgRadius>4.0 {
		t.Errorf("average radius %f outside [1.0, 4.0]", avgRadius)
	}
	for _,s:=range spots {
		if s.Value<0.6 || s.Value>1.05 {
			t.Errorf("spot at (%.1f, %.1f) has value %f outside [0.6, 1.05]", s.X, s.Y, s.Value)
		}
	}
}

func TestFindLocalMaximaEmptyPlane(t *testing.T) {
	width, height:=int32(32), int32(32)
	data:=make([]float32, width*height)

	params:=LocalMaxParams{Sigma:5, BadPixelSigma:0, InOutRatio:1.2, MinDistance:6}
	spots, _:=FindLocalMaxima(data, width, 0.1, 0.02, params, nil)
	if len(spots)!=0 {
		t.Errorf("found %d spots on an empty plane; want 0", len(spots))
	}
}

func TestFindLocalMaximaRejectsHotPixel(t *testing.T) {
	width, height:=int32(64), int32(64)
	planted:=[]plantedSpot{{X:20, Y:20, Amplitude:1.0, Sigma:2.0}}
	data:=makeSpotPlane(width, height, planted)
	data[50*width+50]=1.0 // single pixel outlier, no spread

	params:=LocalMaxParams{Sigma:5, BadPixelSigma:3, InOutRatio:1.2, MinDistance:6}
	medianDiffStats:=&stats.Basic{StdDev:0.05}
	spots, _:=FindLocalMaxima(data, width, 0, 0.02, params, medianDiffStats)

	assertSpotsMatch(t, "hotpixel", spots, planted, 1.0)
}

func TestFindBlobs(t *testing.T) {
	width, height:=int32(64), int32(64)
	planted:=[]plantedSpot{
		{X:20, Y:20, Amplitude:1.0, Sigma:2.0},
		{X:44, Y:41, Amplitude:0.7, Sigma:2.0},
	}
	data:=makeSpotPlane(width, height, planted)

	params:=BlobParams{MinSigma:1, MaxSigma:4, NumSigma:5, Threshold:0.1}
	spots, avgRadius:=FindBlobs(data, width, params)

	assertSpotsMatch(t, "blob", spots, planted, 1.5)
	if avgRadius<1.4 || avgRadius>5.7 {
		t.Errorf("average radius %f outside [1.4, 5.7]", avgRadius)
	}
	for _,s:=range spots {
		if s.Sigma<params.MinSigma || s.Sigma>params.MaxSigma {
			t.Errorf("spot at (%.1f, %.1f) has scale %f outside [%f, %f]",
				s.X, s.Y, s.Sigma, params.MinSigma, params.MaxSigma)
		}
	}
}

func TestFindBlobsEmptyPlane(t *testing.T) {
	width, height:=int32(32), int32(32)
	data:=make([]float32, width*height)

	params:=BlobParams{MinSigma:1, MaxSigma:4, NumSigma:5, Threshold:0.1}
	spots, _:=FindBlobs(data, width, params)
	if len(spots)!=0 {
		t.Errorf("found %d blobs on an empty plane; want 0", len(spots))
	}
}
