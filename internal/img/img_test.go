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
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestStackPlaneIndexing(t *testing.T) {
	s:=NewStack("fov_000", 2, 3, 4, 8, 8)
	if len(s.Planes)!=2*3*4 {
		t.Fatalf("stack has %d plane slots; want %d", len(s.Planes), 2*3*4)
	}

	plane:=NewImage(8, 8, nil)
	if err:=s.SetPlane(1, 2, 3, plane); err!=nil {
		t.Fatalf("SetPlane failed: %s", err.Error())
	}
	if got:=s.Plane(1, 2, 3); got!=plane {
		t.Errorf("Plane(1,2,3) returned %v; want the stored plane", got)
	}
	if plane.Round!=1 || plane.Channel!=2 || plane.Z!=3 {
		t.Errorf("stored plane has position (r%d, c%d, z%d); want (r1, c2, z3)", plane.Round, plane.Channel, plane.Z)
	}
	if got:=s.Plane(0, 0, 0); got!=nil {
		t.Errorf("Plane(0,0,0) returned %v; want nil", got)
	}
	if got:=s.Plane(2, 0, 0); got!=nil {
		t.Errorf("out of range Plane(2,0,0) returned %v; want nil", got)
	}

	if err:=s.SetPlane(0, 0, 0, NewImage(4, 4, nil)); err==nil {
		t.Errorf("SetPlane accepted a 4x4 plane on an 8x8 stack")
	}
	if err:=s.SetPlane(2, 0, 0, NewImage(8, 8, nil)); err==nil {
		t.Errorf("SetPlane accepted an out of range round")
	}
}

func TestMaxProject(t *testing.T) {
	s:=NewStack("fov_000", 1, 2, 1, 2, 2)
	a:=NewImage(2, 2, []float32{1, 5, 3, 0})
	b:=NewImage(2, 2, []float32{4, 2, 3, 7})
	if err:=s.SetPlane(0, 0, 0, a); err!=nil { t.Fatal(err) }
	if err:=s.SetPlane(0, 1, 0, b); err!=nil { t.Fatal(err) }

	proj, err:=s.MaxProject()
	if err!=nil { t.Fatalf("MaxProject failed: %s", err.Error()) }
	expected:=[]float32{4, 5, 3, 7}
	for i,v:=range expected {
		if proj.Data[i]!=v {
			t.Errorf("projection[%d]=%f; want %f", i, proj.Data[i], v)
		}
	}
}

func TestMaxProjectZ(t *testing.T) {
	s:=NewStack("fov_000", 1, 1, 2, 2, 1)
	if err:=s.SetPlane(0, 0, 0, NewImage(2, 1, []float32{1, 8})); err!=nil { t.Fatal(err) }
	if err:=s.SetPlane(0, 0, 1, NewImage(2, 1, []float32{6, 2})); err!=nil { t.Fatal(err) }

	proj, err:=s.MaxProjectZ(0, 0)
	if err!=nil { t.Fatalf("MaxProjectZ failed: %s", err.Error()) }
	if proj.Data[0]!=6 || proj.Data[1]!=8 {
		t.Errorf("projection=%v; want [6 8]", proj.Data)
	}
}

func TestApplyScaleOffsetUpdatesStats(t *testing.T) {
	f:=NewImage(4, 1, []float32{0, 1, 2, 3})
	min:=f.Stats.Min() // force stats evaluation before the linear update
	if min!=0 { t.Fatalf("min=%f; want 0", min) }

	f.ApplyScaleOffset(2, 1)
	expected:=[]float32{1, 3, 5, 7}
	for i,v:=range expected {
		if f.Data[i]!=v {
			t.Errorf("data[%d]=%f; want %f", i, f.Data[i], v)
		}
	}
	if f.Stats.Min()!=1 || f.Stats.Max()!=7 {
		t.Errorf("stats min=%f max=%f; want 1 and 7", f.Stats.Min(), f.Stats.Max())
	}
}

func TestNormalize(t *testing.T) {
	f:=NewImage(4, 1, []float32{2, 4, 6, 10})
	f.Normalize()
	if math.Abs(float64(f.Stats.Min()))>1e-6 || math.Abs(float64(f.Stats.Max()-1))>1e-6 {
		t.Errorf("normalized stats min=%f max=%f; want 0 and 1", f.Stats.Min(), f.Stats.Max())
	}
	if math.Abs(float64(f.Data[1]-0.25))>1e-6 {
		t.Errorf("data[1]=%f; want 0.25", f.Data[1])
	}
}

func TestWriteReadTIFF16RoundTrip(t *testing.T) {
	width, height:=int32(16), int32(8)
	f:=NewImage(width, height, nil)
	for i:=range f.Data {
		f.Data[i]=float32((i*523)%65536)
	}

	fileName:=filepath.Join(t.TempDir(), "plane.tif")
	if err:=f.WriteMonoTIFF16ToFile(fileName, 0, 65535, 1); err!=nil {
		t.Fatalf("writing TIFF failed: %s", err.Error())
	}

	g, err:=NewImageFromFile(fileName, 0, io.Discard)
	if err!=nil { t.Fatalf("reading TIFF failed: %s", err.Error()) }
	if g.Width!=width || g.Height!=height {
		t.Fatalf("read image is %s; want %dx%d", g.DimensionsToString(), width, height)
	}
	for i:=range f.Data {
		if math.Abs(float64(g.Data[i]-f.Data[i]))>1 {
			t.Fatalf("data[%d]=%f after round trip; want %f", i, g.Data[i], f.Data[i])
		}
	}
}

func TestLoadExperiment(t *testing.T) {
	dir:=t.TempDir()

	// two planes shaped 1 round x 1 channel x 2 z slices
	a:=NewImage(4, 4, nil)
	a.Data[5]=20000
	b:=NewImage(4, 4, nil)
	b.Data[10]=40000
	if err:=a.WriteMonoTIFF16ToFile(filepath.Join(dir, "r0_c0_z0.tif"), 0, 65535, 1); err!=nil { t.Fatal(err) }
	if err:=b.WriteMonoTIFF16ToFile(filepath.Join(dir, "r0_c0_z1.tif"), 0, 65535, 1); err!=nil { t.Fatal(err) }

	manifest:=`{
		"name": "test",
		"codebook": "codebook.json",
		"rounds": 1, "channels": 1, "z_planes": 2,
		"fovs": [
			{"name": "fov_000", "planes": [
				{"round": 0, "channel": 0, "z": 0, "file": "r0_c0_z0.tif"},
				{"round": 0, "channel": 0, "z": 1, "file": "r0_c0_z1.tif"}
			]}
		]
	}`
	manifestFile:=filepath.Join(dir, "experiment.json")
	if err:=os.WriteFile(manifestFile, []byte(manifest), 0644); err!=nil { t.Fatal(err) }

	e, err:=LoadExperiment(manifestFile)
	if err!=nil { t.Fatalf("loading manifest failed: %s", err.Error()) }
	if e.Name!="test" || e.Rounds!=1 || e.Channels!=1 || e.ZPlanes!=2 {
		t.Fatalf("manifest parsed as %+v", e)
	}

	fov, err:=e.FOV("fov_000")
	if err!=nil { t.Fatalf("FOV lookup failed: %s", err.Error()) }
	if _, err:=e.FOV("fov_missing"); err==nil {
		t.Errorf("FOV lookup accepted an unknown name")
	}

	s, err:=e.LoadStack(fov, io.Discard)
	if err!=nil { t.Fatalf("loading stack failed: %s", err.Error()) }
	if s.Width!=4 || s.Height!=4 { t.Fatalf("stack is %dx%d; want 4x4", s.Width, s.Height) }
	if p:=s.Plane(0, 0, 1); p==nil || math.Abs(float64(p.Data[10]-40000))>1 {
		t.Errorf("plane (0,0,1) not loaded correctly: %v", p)
	}
}

func TestLoadExperimentRejectsBadShape(t *testing.T) {
	dir:=t.TempDir()
	manifest:=`{
		"name": "test", "codebook": "codebook.json",
		"rounds": 1, "channels": 2, "z_planes": 1,
		"fovs": [
			{"name": "fov_000", "planes": [
				{"round": 0, "channel": 0, "z": 0, "file": "a.tif"}
			]}
		]
	}`
	manifestFile:=filepath.Join(dir, "experiment.json")
	if err:=os.WriteFile(manifestFile, []byte(manifest), 0644); err!=nil { t.Fatal(err) }

	if _, err:=LoadExperiment(manifestFile); err==nil {
		t.Errorf("manifest with missing planes accepted")
	}
}
