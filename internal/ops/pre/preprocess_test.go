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

package pre

import (
	"encoding/json"
	"io"
	"math"
	"testing"

	"github.com/spotfish/spotfish/internal/img"
	"github.com/spotfish/spotfish/internal/ops"
	"github.com/spotfish/spotfish/internal/stats"
)

// renders two gaussian spots of the given amplitude on a linear gradient
func makeTestPlane(width, height int32, amplitude float32) *img.Image {
	f:=img.NewImage(width, height, nil)
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			f.Data[y*width+x]=float32(y)*0.5
		}
	}
	for _,center:=range [][2]float32{{20, 20}, {44, 40}} {
		for y:=int32(0); y<height; y++ {
			for x:=int32(0); x<width; x++ {
				dx, dy:=float32(x)-center[0], float32(y)-center[1]
				f.Data[y*width+x]+=amplitude*float32(math.Exp(float64(-(dx*dx+dy*dy)/8)))
			}
		}
	}
	return f
}

func TestOpSequenceJSONDefaults(t *testing.T) {
	raw:=`{"type":"seq", "active":true, "steps":[
		{"type":"whiteTophat", "radius":10},
		{"type":"clipScale"},
		{"type":"detect", "detector":"blob", "threshold":0.1}
	]}`
	seq:=ops.OpSequence{}
	if err:=json.Unmarshal([]byte(raw), &seq); err!=nil {
		t.Fatalf("unmarshaling sequence failed: %s", err.Error())
	}
	if len(seq.Steps)!=3 {
		t.Fatalf("sequence has %d steps; want 3", len(seq.Steps))
	}

	tophat, ok:=seq.Steps[0].(*OpWhiteTophat)
	if !ok { t.Fatalf("step 0 is %T; want *OpWhiteTophat", seq.Steps[0]) }
	if tophat.Radius!=10 {
		t.Errorf("tophat radius %f; want 10", tophat.Radius)
	}

	clip, ok:=seq.Steps[1].(*OpClipScale)
	if !ok { t.Fatalf("step 1 is %T; want *OpClipScale", seq.Steps[1]) }
	if clip.PMin!=0 || clip.PMax!=99.9 {
		t.Errorf("clip percentiles [%f, %f]; want defaults [0, 99.9]", clip.PMin, clip.PMax)
	}

	detect, ok:=seq.Steps[2].(*OpDetect)
	if !ok { t.Fatalf("step 2 is %T; want *OpDetect", seq.Steps[2]) }
	if detect.Detector!="blob" || detect.Threshold!=0.1 {
		t.Errorf("detect configured as %q threshold %f; want blob and 0.1", detect.Detector, detect.Threshold)
	}
	if detect.MinSigma!=1 || detect.MaxSigma!=4 || detect.NumSigma!=5 {
		t.Errorf("detect scales [%f, %f, %d]; want defaults [1, 4, 5]", detect.MinSigma, detect.MaxSigma, detect.NumSigma)
	}

	// unknown operator types must be rejected
	if err:=json.Unmarshal([]byte(`{"type":"seq","steps":[{"type":"warpDrive"}]}`), &ops.OpSequence{}); err==nil {
		t.Errorf("sequence with unknown operator type accepted")
	}
}

func TestPipelineDetectsSpots(t *testing.T) {
	f:=makeTestPlane(64, 64, 500)
	c:=ops.NewContext(io.Discard, stats.LSESCMedianQn)

	detect:=NewOpDetect("blob", "")
	detect.Threshold=0.1
	seq:=ops.NewOpSequence(NewOpWhiteTophat(7), NewOpClipScale(0, 100), detect)

	in:=func() (res *img.Image, err error) { return f, nil }
	promises, err:=seq.MakePromises([]ops.Promise{in}, c)
	if err!=nil { t.Fatalf("building pipeline failed: %s", err.Error()) }
	if len(promises)!=1 { t.Fatalf("pipeline returned %d promises; want 1", len(promises)) }

	out, err:=promises[0]()
	if err!=nil { t.Fatalf("pipeline failed: %s", err.Error()) }

	if len(out.Spots)!=2 {
		t.Fatalf("pipeline found %d spots; want 2: %v", len(out.Spots), out.Spots)
	}
	for _,s:=range out.Spots {
		near20:=(s.X-20)*(s.X-20)+(s.Y-20)*(s.Y-20)<4
		near44:=(s.X-44)*(s.X-44)+(s.Y-40)*(s.Y-40)<4
		if !near20 && !near44 {
			t.Errorf("spot at (%.1f, %.1f) matches no planted position", s.X, s.Y)
		}
	}
	if out.Stats.Max()>1.001 || out.Stats.Min()< -0.001 {
		t.Errorf("pipeline output range [%f, %f]; want [0, 1]", out.Stats.Min(), out.Stats.Max())
	}
}

func TestWhiteTophatRemovesGradient(t *testing.T) {
	f:=makeTestPlane(64, 64, 0)
	c:=ops.NewContext(io.Discard, stats.LSESCMedianQn)

	if _, err:=NewOpWhiteTophat(7).Apply(f, c); err!=nil {
		t.Fatalf("tophat failed: %s", err.Error())
	}
	// a smooth gradient is all background, the residual must be small
	for i,v:=range f.Data {
		if v>4 {
			t.Fatalf("tophat residual %f at index %d; want below 4", v, i)
		}
	}
}

func TestBackgroundSubtractGradient(t *testing.T) {
	width, height:=int32(64), int32(64)
	data:=make([]float32, width*height)
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			data[y*width+x]=10+float32(y)*0.1
		}
	}

	bg:=NewBackground(data, width, 16, 1.5, 0, nil, 4.0)
	if err:=bg.Subtract(data); err!=nil {
		t.Fatalf("background subtraction failed: %s", err.Error())
	}
	for i,v:=range data {
		if math.Abs(float64(v))>1 {
			t.Fatalf("residual %f at index %d after background subtraction; want near 0", v, i)
		}
	}
}

func TestClipScaleRejectsDegenerateRange(t *testing.T) {
	f:=img.NewImage(8, 8, nil) // constant zero plane
	c:=ops.NewContext(io.Discard, stats.LSESCMedianQn)
	if _, err:=NewOpClipScale(0, 100).Apply(f, c); err==nil {
		t.Errorf("clip scale accepted a constant plane")
	}
}

// Stack planes must be preprocessed in place, so that intensity traces are
// measured on the same signal the detector sees on the projection
func TestApplyToStackPreprocessesPlanes(t *testing.T) {
	c:=ops.NewContext(io.Discard, stats.LSESCMedianQn)
	s:=img.NewStack("fov_000", 1, 2, 1, 64, 64)
	for channel:=int32(0); channel<2; channel++ {
		if err:=s.SetPlane(0, channel, 0, makeTestPlane(64, 64, 500)); err!=nil {
			t.Fatalf("setting plane failed: %s", err.Error())
		}
	}

	err:=ops.ApplyToStack(s, c, NewOpWhiteTophat(7), NewOpClipScale(0, 100))
	if err!=nil { t.Fatalf("stack preprocessing failed: %s", err.Error()) }

	for channel:=int32(0); channel<2; channel++ {
		f:=s.Plane(0, channel, 0)
		if f==nil { t.Fatalf("plane c%d missing after preprocessing", channel) }
		if f.Channel!=channel {
			t.Errorf("plane c%d metadata lost, has channel %d", channel, f.Channel)
		}
		if f.Stats.Max()>1.001 || f.Stats.Min()< -0.001 {
			t.Errorf("plane c%d range [%f, %f]; want [0, 1]", channel, f.Stats.Min(), f.Stats.Max())
		}
		// the gradient background must be gone from the plane itself
		if f.Data[63*64+8]>0.5 {
			t.Errorf("plane c%d keeps background %f at the bottom edge", channel, f.Data[63*64+8])
		}
	}
}

// A single hot pixel on a flat plane must be rejected by the peak finder
// once hot pixel statistics are calibrated from the local median residual
func TestDetectRejectsHotPixel(t *testing.T) {
	f:=img.NewImage(64, 64, nil)
	f.Data[50*64+50]=5
	f.Stats.SetData(f.Data, 64)
	c:=ops.NewContext(io.Discard, stats.LSESCMedianQn)

	detect:=NewOpDetect("localmax", "")
	detect.BadPixelSigma=3
	out, err:=detect.Apply(f, c)
	if err!=nil { t.Fatalf("detection failed: %s", err.Error()) }

	if out.MedianDiffStats==nil {
		t.Fatal("median difference statistics not calibrated")
	}
	if len(out.Spots)!=0 {
		t.Errorf("hot pixel detected as %d spots: %v", len(out.Spots), out.Spots)
	}
}
