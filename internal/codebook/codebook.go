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
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// One expected intensity within a codeword
type Entry struct {
	Round   int32   `json:"r"` // Imaging round of this intensity
	Channel int32   `json:"c"` // Fluorescence channel of this intensity
	Value   float32 `json:"v"` // Expected relative intensity, usually 1
}

// Maps one codeword to its target gene
type Mapping struct {
	Codeword []Entry `json:"codeword"` // Expected intensities across rounds and channels
	Target   string  `json:"target"`   // Target gene name
}

// A codebook mapping codewords of expected intensities across imaging rounds
// and fluorescence channels to target genes
type Codebook struct {
	Version  string    `json:"version"`
	Mappings []Mapping `json:"mappings"`

	Rounds   int32 `json:"-"` // Number of imaging rounds covered by the codewords
	Channels int32 `json:"-"` // Number of fluorescence channels covered by the codewords
}

// Loads a codebook from the JSON file with the given name and validates it
// against the given experiment shape. Zero rounds or channels skips the
// shape check and infers the shape from the codewords
func LoadCodebook(fileName string, rounds, channels int32) (cb *Codebook, err error) {
	data, err:=os.ReadFile(fileName)
	if err!=nil { return nil, err }

	cb=&Codebook{}
	if err=json.Unmarshal(data, cb); err!=nil {
		return nil, fmt.Errorf("error parsing %s: %s", fileName, err.Error())
	}
	if len(cb.Mappings)==0 {
		return nil, fmt.Errorf("%s: codebook contains no mappings", fileName)
	}

	cb.Rounds, cb.Channels=rounds, channels
	for _,m:=range cb.Mappings {
		if m.Target=="" {
			return nil, fmt.Errorf("%s: codebook mapping without target", fileName)
		}
		if len(m.Codeword)==0 {
			return nil, fmt.Errorf("%s: codeword for %s is empty", fileName, m.Target)
		}
		for _,e:=range m.Codeword {
			if e.Round<0 || e.Channel<0 || e.Value<=0 {
				return nil, fmt.Errorf("%s: invalid codeword entry (r%d, c%d, v%f) for %s",
					fileName, e.Round, e.Channel, e.Value, m.Target)
			}
			if rounds>0 && e.Round>=rounds {
				return nil, fmt.Errorf("%s: codeword for %s references round %d, experiment has %d",
					fileName, m.Target, e.Round, rounds)
			}
			if channels>0 && e.Channel>=channels {
				return nil, fmt.Errorf("%s: codeword for %s references channel %d, experiment has %d",
					fileName, m.Target, e.Channel, channels)
			}
			if e.Round>=cb.Rounds { cb.Rounds=e.Round+1 }
			if e.Channel>=cb.Channels { cb.Channels=e.Channel+1 }
		}
	}
	return cb, nil
}

// Returns the codeword of the given mapping as a dense unit vector indexed
// by round*channels+channel
func (cb *Codebook) Vector(m *Mapping) []float32 {
	v:=make([]float32, cb.Rounds*cb.Channels)
	for _,e:=range m.Codeword {
		v[e.Round*cb.Channels+e.Channel]=e.Value
	}
	normalize(v)
	return v
}

// Scales the vector to unit euclidean length. Zero vectors stay zero
func normalize(v []float32) {
	sumSq:=float32(0)
	for _,x:=range v { sumSq+=x*x }
	if sumSq==0 { return }
	norm:=1/float32(math.Sqrt(float64(sumSq)))
	for i:=range v { v[i]*=norm }
}

// Returns the cosine distance between two vectors of unit length,
// in [0,1] for non-negative intensities
func cosineDistance(a, b []float32) float32 {
	dot:=float32(0)
	for i:=range a { dot+=a[i]*b[i] }
	d:=1-dot
	if d<0 { d=0 }
	return d
}
