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

package img

import (
	"fmt"
)

// Projects a set of planes into a single plane by taking the pixelwise
// maximum. All planes must share the same dimensions
func MaxProject(planes []*Image) (res *Image, err error) {
	if len(planes)==0 { return nil, fmt.Errorf("cannot project empty set of planes") }

	first:=planes[0]
	res=NewImage(first.Width, first.Height, nil)
	res.ID, res.FileName=first.ID, first.FileName
	copy(res.Data, first.Data)

	for _,plane:=range planes[1:] {
		if plane==nil { continue }
		if plane.Width!=first.Width || plane.Height!=first.Height {
			return nil, fmt.Errorf("cannot project %s plane onto %s plane",
				plane.DimensionsToString(), first.DimensionsToString())
		}
		for i,v:=range plane.Data {
			if v>res.Data[i] { res.Data[i]=v }
		}
	}
	return res, nil
}

// Projects the whole stack into a single plane by taking the pixelwise
// maximum across all rounds, channels and z slices
func (s *Stack) MaxProject() (res *Image, err error) {
	return MaxProject(s.Planes)
}

// Projects the z slices of one (round, channel) volume into a single plane
// by taking the pixelwise maximum
func (s *Stack) MaxProjectZ(round, channel int32) (res *Image, err error) {
	base:=s.planeIndex(round, channel, 0)
	res, err=MaxProject(s.Planes[base : base+s.ZPlanes])
	if err!=nil { return nil, err }
	res.Round, res.Channel, res.Z=round, channel, 0
	return res, nil
}
