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

// An image stack for one field of view, holding one plane per
// (round, channel, z) combination
type Stack struct {
	FOV      string   // Name of the field of view, for log output
	Rounds   int32    // Number of imaging rounds
	Channels int32    // Number of fluorescence channels per round
	ZPlanes  int32    // Number of z slices per channel

	Width  int32      // Plane width in pixels
	Height int32      // Plane height in pixels

	Planes []*Image   // Planes indexed by (round*Channels+channel)*ZPlanes+z
}

// Creates an empty stack of the given shape
func NewStack(fov string, rounds, channels, zPlanes, width, height int32) *Stack {
	return &Stack{
		FOV:      fov,
		Rounds:   rounds,
		Channels: channels,
		ZPlanes:  zPlanes,
		Width:    width,
		Height:   height,
		Planes:   make([]*Image, rounds*channels*zPlanes),
	}
}

func (s *Stack) planeIndex(round, channel, z int32) int32 {
	return (round*s.Channels+channel)*s.ZPlanes + z
}

// Returns the plane at the given stack coordinates, or nil if unset
func (s *Stack) Plane(round, channel, z int32) *Image {
	if round<0 || round>=s.Rounds || channel<0 || channel>=s.Channels || z<0 || z>=s.ZPlanes {
		return nil
	}
	return s.Planes[s.planeIndex(round, channel, z)]
}

// Stores the plane at the given stack coordinates and updates its metadata
func (s *Stack) SetPlane(round, channel, z int32, plane *Image) error {
	if round<0 || round>=s.Rounds || channel<0 || channel>=s.Channels || z<0 || z>=s.ZPlanes {
		return fmt.Errorf("plane (r%d, c%d, z%d) outside stack shape (%d, %d, %d)",
			round, channel, z, s.Rounds, s.Channels, s.ZPlanes)
	}
	if plane.Width!=s.Width || plane.Height!=s.Height {
		return fmt.Errorf("plane (r%d, c%d, z%d) has dimensions %s, stack expects %dx%d",
			round, channel, z, plane.DimensionsToString(), s.Width, s.Height)
	}
	plane.Round, plane.Channel, plane.Z=round, channel, z
	s.Planes[s.planeIndex(round, channel, z)]=plane
	return nil
}

func (s *Stack) ShapeToString() string {
	return fmt.Sprintf("%d rounds x %d channels x %d z planes of %dx%d pixels",
		s.Rounds, s.Channels, s.ZPlanes, s.Width, s.Height)
}

// Applies the given function to every plane of the stack, storing the
// returned plane back in place
func (s *Stack) Apply(f func(plane *Image) (*Image, error)) error {
	for i,plane:=range s.Planes {
		if plane==nil { continue }
		res, err:=f(plane)
		if err!=nil { return err }
		if res!=plane { res.Round, res.Channel, res.Z=plane.Round, plane.Channel, plane.Z }
		s.Planes[i]=res
	}
	return nil
}
