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
	"errors"
	"fmt"
	"strings"

	"github.com/spotfish/spotfish/internal/img"
	"github.com/spotfish/spotfish/internal/morph"
	"github.com/spotfish/spotfish/internal/ops"
	"github.com/spotfish/spotfish/internal/qsort"
	"github.com/spotfish/spotfish/internal/spot"
	"github.com/spotfish/spotfish/internal/stats"
)

// Removes diffuse cellular autofluorescence with a grayscale white tophat
// filter, keeping only features smaller than the structuring disk
type OpWhiteTophat struct {
	ops.OpUnaryBase
	Radius float32 `json:"radius"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpWhiteTophatDefault() }) } // register the operator for JSON decoding

func NewOpWhiteTophatDefault() *OpWhiteTophat { return NewOpWhiteTophat(15) }

func NewOpWhiteTophat(radius float32) *OpWhiteTophat {
	op:=&OpWhiteTophat{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "whiteTophat"}},
		Radius:      radius,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpWhiteTophat) UnmarshalJSON(data []byte) error {
	type defaults OpWhiteTophat
	def:=defaults(*NewOpWhiteTophatDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpWhiteTophat(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpWhiteTophat) Apply(f *img.Image, c *ops.Context) (result *img.Image, err error) {
	if op.Radius<=0 { return f, nil }

	fmt.Fprintf(c.Log, "%d: Applying white tophat with radius %.1f\n", f.ID, op.Radius)
	f.Data=morph.WhiteTophat(f.Data, f.Width, op.Radius)
	f.Stats.SetData(f.Data, f.Width)
	return f, nil
}

// Clips the image to a percentile range and rescales it to [0,1].
// Saturates the brightest pixels above PMax, following common practice
// for fluorescence data with hot outliers
type OpClipScale struct {
	ops.OpUnaryBase
	PMin float32 `json:"pMin"` // lower percentile mapped to 0
	PMax float32 `json:"pMax"` // upper percentile mapped to 1, higher values clipped
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpClipScaleDefault() }) } // register the operator for JSON decoding

func NewOpClipScaleDefault() *OpClipScale { return NewOpClipScale(0, 99.9) }

func NewOpClipScale(pMin, pMax float32) *OpClipScale {
	op:=&OpClipScale{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "clipScale"}},
		PMin:        pMin,
		PMax:        pMax,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpClipScale) UnmarshalJSON(data []byte) error {
	type defaults OpClipScale
	def:=defaults(*NewOpClipScaleDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpClipScale(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpClipScale) Apply(f *img.Image, c *ops.Context) (result *img.Image, err error) {
	if op.PMax<=op.PMin { return nil, fmt.Errorf("%d: invalid percentile range [%f, %f]", f.ID, op.PMin, op.PMax) }

	buffer:=make([]float32, len(f.Data))
	copy(buffer, f.Data)
	low:=qsort.QSelectPercentileFloat32(buffer, op.PMin)
	high:=qsort.QSelectPercentileFloat32(buffer, op.PMax)
	buffer=nil
	if high-low<1e-8 {
		return nil, fmt.Errorf("%d: degenerate percentile range, p%.1f=%f and p%.1f=%f", f.ID, op.PMin, low, op.PMax, high)
	}

	fmt.Fprintf(c.Log, "%d: Clipping to [p%.1f=%.1f, p%.1f=%.1f] and scaling to [0,1]\n", f.ID, op.PMin, low, op.PMax, high)
	scale:=1/(high-low)
	f.ApplyScaleOffset(scale, -low*scale)
	f.Clamp(0, 1)
	return f, nil
}

// Applies a gaussian blur, e.g. to suppress shot noise before peak finding
type OpGaussianBlur struct {
	ops.OpUnaryBase
	Sigma float32 `json:"sigma"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpGaussianBlurDefault() }) } // register the operator for JSON decoding

func NewOpGaussianBlurDefault() *OpGaussianBlur { return NewOpGaussianBlur(0) }

func NewOpGaussianBlur(sigma float32) *OpGaussianBlur {
	op:=&OpGaussianBlur{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "gaussBlur"}},
		Sigma:       sigma,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpGaussianBlur) UnmarshalJSON(data []byte) error {
	type defaults OpGaussianBlur
	def:=defaults(*NewOpGaussianBlurDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpGaussianBlur(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpGaussianBlur) Apply(f *img.Image, c *ops.Context) (result *img.Image, err error) {
	if op.Sigma<=0 { return f, nil }

	fmt.Fprintf(c.Log, "%d: Applying gaussian blur with sigma %.2f\n", f.ID, op.Sigma)
	res:=make([]float32, len(f.Data))
	tmp:=make([]float32, len(f.Data))
	spot.GaussFilter2D(res, tmp, f.Data, int(f.Width), op.Sigma)
	f.Data=res
	f.Stats.SetData(f.Data, f.Width)
	return f, nil
}

// Applies given scale factor and offset to each pixel
type OpScaleOffset struct {
	ops.OpUnaryBase
	Scale  float32 `json:"scale"`
	Offset float32 `json:"offset"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpScaleOffsetDefault() }) } // register the operator for JSON decoding

func NewOpScaleOffsetDefault() *OpScaleOffset { return NewOpScaleOffset(1, 0) }

func NewOpScaleOffset(scale, offset float32) *OpScaleOffset {
	op:=&OpScaleOffset{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "scaleOffset"}},
		Scale:       scale,
		Offset:      offset,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpScaleOffset) UnmarshalJSON(data []byte) error {
	type defaults OpScaleOffset
	def:=defaults(*NewOpScaleOffsetDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpScaleOffset(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpScaleOffset) Apply(f *img.Image, c *ops.Context) (fOut *img.Image, err error) {
	if op.Scale==1 && op.Offset==0 { return f, nil }
	fmt.Fprintf(c.Log, "%d: Applying pixel math x = x * %.3f + %.3f\n", f.ID, op.Scale, op.Offset)
	f.ApplyScaleOffset(op.Scale, op.Offset)
	return f, nil
}

// Estimates residual background fluorescence on a coarse grid, masking out
// detected spots, and subtracts the interpolated model from the image
type OpBackExtract struct {
	ops.OpUnaryBase
	GridSize     int32       `json:"gridSize"`
	RadiusFactor float32     `json:"radiusFactor"`
	Sigma        float32     `json:"sigma"`
	Clip         int32       `json:"clip"`
	Save         *ops.OpSave `json:"save"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBackExtractDefault() }) } // register the operator for JSON decoding

func NewOpBackExtractDefault() *OpBackExtract { return NewOpBackExtract(0, 4.0, 1.5, 0, "") }

func NewOpBackExtract(backGrid int32, radiusFactor, backSigma float32, backClip int32, savePattern string) *OpBackExtract {
	op:=&OpBackExtract{
		OpUnaryBase:  ops.OpUnaryBase{OpBase: ops.OpBase{Type: "backExtract"}},
		GridSize:     backGrid,
		RadiusFactor: radiusFactor,
		Sigma:        backSigma,
		Clip:         backClip,
		Save:         ops.NewOpSave(savePattern),
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpBackExtract) UnmarshalJSON(data []byte) error {
	type defaults OpBackExtract
	def:=defaults(*NewOpBackExtractDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpBackExtract(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpBackExtract) Apply(f *img.Image, c *ops.Context) (result *img.Image, err error) {
	if op.GridSize<=0 { return f, nil }

	bg:=NewBackground(f.Data, f.Width, op.GridSize, op.Sigma, op.Clip, f.Spots, op.RadiusFactor)
	fmt.Fprintf(c.Log, "%d: %s\n", f.ID, bg)

	if op.Save==nil || op.Save.FilePattern=="" {
		// faster, does not materialize background image explicitly
		if err=bg.Subtract(f.Data); err!=nil { return nil, err }
	} else {
		fmt.Fprintf(c.Log, "%d: Background cell estimates:\n%s", f.ID, bg.CellsString())
		bgData:=bg.Render()
		bgImage:=img.NewImage(f.Width, f.Height, bgData)
		bgImage.ID=f.ID
		promise:=func() (f *img.Image, err error) { return bgImage, nil }
		promises, err:=op.Save.MakePromises([]ops.Promise{promise}, c)
		if err!=nil { return nil, err }
		if _, err=promises[0](); err!=nil { return nil, err }
		for i:=range f.Data { f.Data[i]-=bgData[i] }
	}
	f.Stats.Clear()
	return f, nil
}

// Detects fluorescent spots on a plane, with a choice between the local
// maximum peak finder and the gaussian blob detector
type OpDetect struct {
	ops.OpUnaryBase
	Detector      string      `json:"detector"`      // "localmax" or "blob"
	Sigma         float32     `json:"sigma"`         // detection threshold in scales above background, peak finder
	BadPixelSigma float32     `json:"badPixelSigma"` // hot pixel rejection threshold, 0=off
	InOutRatio    float32     `json:"inOutRatio"`    // plausibility ratio for the peak finder
	MinDistance   int32       `json:"minDistance"`   // minimal distance between detections, peak finder
	MinSigma      float32     `json:"minSigma"`      // smallest blob scale
	MaxSigma      float32     `json:"maxSigma"`      // largest blob scale
	NumSigma      int         `json:"numSigma"`      // number of blob scales
	Threshold     float32     `json:"threshold"`     // blob response threshold, 0 derives it from image stats
	Save          *ops.OpSave `json:"save"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDetectDefault() }) } // register the operator for JSON decoding

func NewOpDetectDefault() *OpDetect { return NewOpDetect("blob", "") }

func NewOpDetect(detector, savePattern string) *OpDetect {
	op:=&OpDetect{
		OpUnaryBase:   ops.OpUnaryBase{OpBase: ops.OpBase{Type: "detect"}},
		Detector:      detector,
		Sigma:         10,
		BadPixelSigma: 0,
		InOutRatio:    1.2,
		MinDistance:   6,
		MinSigma:      1,
		MaxSigma:      4,
		NumSigma:      5,
		Threshold:     0,
		Save:          ops.NewOpSave(savePattern),
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDetect) UnmarshalJSON(data []byte) error {
	type defaults OpDetect
	def:=defaults(*NewOpDetectDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpDetect(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpDetect) Apply(f *img.Image, c *ops.Context) (result *img.Image, err error) {
	if f.Stats==nil { return nil, errors.New("missing stats") }
	location, scale:=f.Stats.Location(), f.Stats.Scale()

	switch op.Detector {
	case "localmax":
		if op.BadPixelSigma>0 && f.MedianDiffStats==nil {
			f.MedianDiffStats=medianDiffStats(f.Data, f.Width)
		}
		params:=spot.LocalMaxParams{
			Sigma:         op.Sigma,
			BadPixelSigma: op.BadPixelSigma,
			InOutRatio:    op.InOutRatio,
			MinDistance:   op.MinDistance,
		}
		f.Spots, f.AvgRadius=spot.FindLocalMaxima(f.Data, f.Width, location, scale, params, f.MedianDiffStats)
	case "blob":
		threshold:=op.Threshold
		if threshold<=0 { threshold=spot.BlobThresholdFromStats(location, scale, op.Sigma) }
		params:=spot.BlobParams{
			MinSigma:  op.MinSigma,
			MaxSigma:  op.MaxSigma,
			NumSigma:  op.NumSigma,
			Threshold: threshold,
		}
		f.Spots, f.AvgRadius=spot.FindBlobs(f.Data, f.Width, params)
	default:
		return nil, fmt.Errorf("unknown detector %q, expected localmax or blob", op.Detector)
	}
	fmt.Fprintf(c.Log, "%d: %s found %d spots with average radius %.2f %v\n",
		f.ID, op.Detector, len(f.Spots), f.AvgRadius, f.Stats)

	if op.Save!=nil && op.Save.FilePattern!="" {
		saved:=f
		fnLower:=strings.ToLower(op.Save.FilePattern)
		if strings.HasSuffix(fnLower, ".tif") || strings.HasSuffix(fnLower, ".tiff") {
			// TIFF export renders the detections themselves as filled circles
			saved=img.NewImageFromSpots(f, 2.0)
		}
		promise:=func() (res *img.Image, err error) { return saved, nil }
		promises, err:=op.Save.MakePromises([]ops.Promise{promise}, c)
		if err!=nil { return nil, err }
		if _, err=promises[0](); err!=nil { return nil, err }
	}
	return f, nil
}

// Statistics of the residual against a local 3x3 median, used to calibrate
// hot pixel rejection for the peak finder
func medianDiffStats(data []float32, width int32) *stats.Basic {
	filtered:=make([]float32, len(data))
	morph.MedianFilter3x3(filtered, data, width)
	for i,d:=range data { filtered[i]=d-filtered[i] }
	return stats.CalcBasicStats(filtered)
}
