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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// An experiment manifest, tying together the codebook and the image planes
// of all fields of view
type Experiment struct {
	Name     string `json:"name"`               // Experiment name, for log output
	Codebook string `json:"codebook"`           // Codebook file name, relative to the manifest
	Rounds   int32  `json:"rounds"`             // Number of imaging rounds
	Channels int32  `json:"channels"`           // Number of fluorescence channels per round
	ZPlanes  int32  `json:"z_planes"`           // Number of z slices per channel
	FOVs     []FOV  `json:"fovs"`               // Fields of view

	Dir string `json:"-"`                       // Directory of the manifest, for resolving relative file names
}

// One field of view of an experiment
type FOV struct {
	Name   string     `json:"name"`             // Field of view name, e.g. "fov_000"
	Planes []PlaneRef `json:"planes"`           // References to the image planes of this field of view
}

// A reference to one image plane file within a field of view
type PlaneRef struct {
	Round   int32  `json:"round"`               // Imaging round of this plane
	Channel int32  `json:"channel"`             // Fluorescence channel of this plane
	Z       int32  `json:"z"`                   // Z slice of this plane
	File    string `json:"file"`                // Image file name, relative to the manifest
}

// Loads an experiment manifest from the JSON file with the given name
func LoadExperiment(fileName string) (e *Experiment, err error) {
	data, err:=os.ReadFile(fileName)
	if err!=nil { return nil, err }

	e=&Experiment{}
	if err=json.Unmarshal(data, e); err!=nil {
		return nil, fmt.Errorf("error parsing %s: %s", fileName, err.Error())
	}
	e.Dir=filepath.Dir(fileName)

	if e.Rounds<1 || e.Channels<1 || e.ZPlanes<1 {
		return nil, fmt.Errorf("%s: invalid shape %d rounds x %d channels x %d z planes",
			fileName, e.Rounds, e.Channels, e.ZPlanes)
	}
	if len(e.FOVs)==0 {
		return nil, fmt.Errorf("%s: experiment contains no fields of view", fileName)
	}
	for _,fov:=range e.FOVs {
		if err=e.validateFOV(&fov); err!=nil {
			return nil, fmt.Errorf("%s: %s", fileName, err.Error())
		}
	}
	return e, nil
}

func (e *Experiment) validateFOV(fov *FOV) error {
	numPlanes:=e.Rounds*e.Channels*e.ZPlanes
	if int32(len(fov.Planes))!=numPlanes {
		return fmt.Errorf("field of view %s has %d planes, shape requires %d",
			fov.Name, len(fov.Planes), numPlanes)
	}
	seen:=make(map[int32]bool, numPlanes)
	for _,p:=range fov.Planes {
		if p.Round<0 || p.Round>=e.Rounds || p.Channel<0 || p.Channel>=e.Channels || p.Z<0 || p.Z>=e.ZPlanes {
			return fmt.Errorf("field of view %s plane (r%d, c%d, z%d) outside shape (%d, %d, %d)",
				fov.Name, p.Round, p.Channel, p.Z, e.Rounds, e.Channels, e.ZPlanes)
		}
		index:=(p.Round*e.Channels+p.Channel)*e.ZPlanes+p.Z
		if seen[index] {
			return fmt.Errorf("field of view %s has duplicate plane (r%d, c%d, z%d)",
				fov.Name, p.Round, p.Channel, p.Z)
		}
		seen[index]=true
	}
	return nil
}

// Returns the field of view with the given name, or an error listing the
// available ones
func (e *Experiment) FOV(name string) (*FOV, error) {
	names:=make([]string, len(e.FOVs))
	for i:=range e.FOVs {
		if e.FOVs[i].Name==name { return &e.FOVs[i], nil }
		names[i]=e.FOVs[i].Name
	}
	return nil, fmt.Errorf("unknown field of view %s, have %v", name, names)
}

// Resolves a file name from the manifest relative to the manifest directory
func (e *Experiment) ResolvePath(fileName string) string {
	if filepath.IsAbs(fileName) { return fileName }
	return filepath.Join(e.Dir, fileName)
}

// Loads all image planes of the given field of view into a stack.
// Planes are read concurrently, limited to the number of CPUs
func (e *Experiment) LoadStack(fov *FOV, logWriter io.Writer) (s *Stack, err error) {
	// read the first plane serially to size the stack
	first, err:=NewImageFromFile(e.ResolvePath(fov.Planes[0].File), 0, logWriter)
	if err!=nil { return nil, err }

	s=NewStack(fov.Name, e.Rounds, e.Channels, e.ZPlanes, first.Width, first.Height)
	if err=s.SetPlane(fov.Planes[0].Round, fov.Planes[0].Channel, fov.Planes[0].Z, first); err!=nil {
		return nil, err
	}

	var mutex sync.Mutex
	var firstErr error
	sem:=make(chan bool, runtime.NumCPU())
	for i,ref:=range fov.Planes[1:] {
		sem <- true
		go func(id int, ref PlaneRef) {
			defer func() { <-sem }()
			plane, err:=NewImageFromFile(e.ResolvePath(ref.File), id, logWriter)
			mutex.Lock()
			defer mutex.Unlock()
			if err==nil {
				err=s.SetPlane(ref.Round, ref.Channel, ref.Z, plane)
			}
			if err!=nil && firstErr==nil { firstErr=err }
		}(i+1, ref)
	}
	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}

	if firstErr!=nil { return nil, firstErr }
	return s, nil
}
