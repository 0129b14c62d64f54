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
	"sync"
)

// Lazily calculated statistics for an image plane. Basic stats and the
// location/scale estimate are computed on first access and cached until
// the underlying data changes
type Stats struct {
	data  []float32
	width int32

	mutex    sync.Mutex
	basic    *Basic
	haveLS   bool
}

// Creates a new lazy statistics object on the given data array
func NewStats(data []float32, width int32) *Stats {
	return &Stats{data: data, width: width}
}

// Invalidates all cached values, e.g. after the data has been modified in place
func (s *Stats) Clear() {
	s.mutex.Lock()
	s.basic, s.haveLS=nil, false
	s.mutex.Unlock()
}

// Replaces the underlying data array and invalidates all cached values
func (s *Stats) SetData(data []float32, width int32) {
	s.mutex.Lock()
	s.data, s.width=data, width
	s.basic, s.haveLS=nil, false
	s.mutex.Unlock()
}

// Adjusts cached values for a linear pixel transformation x' = x*scale + offset,
// avoiding a full recalculation
func (s *Stats) UpdateCachedWith(scale, offset float32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.basic==nil { return }
	b:=s.basic
	b.Min   =b.Min *scale + offset
	b.Max   =b.Max *scale + offset
	b.Mean  =b.Mean*scale + offset
	if scale<0 {
		b.Min, b.Max=b.Max, b.Min
		b.StdDev=-b.StdDev*scale
		b.Scale =-b.Scale *scale
	} else {
		b.StdDev=b.StdDev*scale
		b.Scale =b.Scale *scale
	}
	b.Location=b.Location*scale + offset
}

func (s *Stats) lazyBasic() *Basic {
	if s.basic==nil {
		s.basic=CalcBasicStats(s.data)
	}
	return s.basic
}

func (s *Stats) lazyLS() *Basic {
	b:=s.lazyBasic()
	if !s.haveLS {
		b.Location, b.Scale=LocationScale(s.data, b)
		s.haveLS=true
	}
	return b
}

func (s *Stats) Min() float32 { s.mutex.Lock(); defer s.mutex.Unlock(); return s.lazyBasic().Min }
func (s *Stats) Max() float32 { s.mutex.Lock(); defer s.mutex.Unlock(); return s.lazyBasic().Max }
func (s *Stats) Mean() float32 { s.mutex.Lock(); defer s.mutex.Unlock(); return s.lazyBasic().Mean }
func (s *Stats) StdDev() float32 { s.mutex.Lock(); defer s.mutex.Unlock(); return s.lazyBasic().StdDev }
func (s *Stats) Location() float32 { s.mutex.Lock(); defer s.mutex.Unlock(); return s.lazyLS().Location }
func (s *Stats) Scale() float32 { s.mutex.Lock(); defer s.mutex.Unlock(); return s.lazyLS().Scale }

func (s *Stats) String() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	b:=s.lazyLS()
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g",
		b.Min, b.Max, b.Mean, b.StdDev, b.Location, b.Scale)
}
