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
	"fmt"
	"io"
	"sort"

	"github.com/spotfish/spotfish/internal/spot"
)

// The decoded intensity trace of one spot
type IntensityRow struct {
	Spot     spot.Spot // The underlying spot detection
	Trace    []float32 // Measured intensities indexed by round*channels+channel
	Target   string    // Assigned target gene, empty if unassigned
	Distance float32   // Cosine distance to the nearest codeword
}

// Decoded intensity traces for all spots of a field of view
type IntensityTable struct {
	Rounds   int32          // Number of imaging rounds per trace
	Channels int32          // Number of fluorescence channels per trace
	Rows     []IntensityRow // One row per spot
}

func NewIntensityTable(rounds, channels int32, numSpots int) *IntensityTable {
	return &IntensityTable{
		Rounds:   rounds,
		Channels: channels,
		Rows:     make([]IntensityRow, numSpots),
	}
}

// Writes the table as comma-separated values with one header row
func (tbl *IntensityTable) WriteCSV(w io.Writer) {
	fmt.Fprintf(w, "X,Y,Value,Radius,Target,Distance")
	for r:=int32(0); r<tbl.Rounds; r++ {
		for c:=int32(0); c<tbl.Channels; c++ {
			fmt.Fprintf(w, ",r%d_c%d", r, c)
		}
	}
	fmt.Fprintln(w)

	for i:=range tbl.Rows {
		row:=&tbl.Rows[i]
		target:=row.Target
		if target=="" { target="nan" }
		fmt.Fprintf(w, "%.2f,%.2f,%.2f,%.2f,%s,%.4f", row.Spot.X, row.Spot.Y, row.Spot.Value, row.Spot.Radius, target, row.Distance)
		for _,v:=range row.Trace {
			fmt.Fprintf(w, ",%.2f", v)
		}
		fmt.Fprintln(w)
	}
}

// Returns the number of assigned spots per target gene
func (tbl *IntensityTable) TargetCounts() map[string]int {
	counts:=map[string]int{}
	for i:=range tbl.Rows {
		if tbl.Rows[i].Target!="" {
			counts[tbl.Rows[i].Target]++
		}
	}
	return counts
}

// Writes the per-target counts in descending order of abundance
func (tbl *IntensityTable) PrintTargetCounts(w io.Writer) {
	counts:=tbl.TargetCounts()
	targets:=make([]string, 0, len(counts))
	for target:=range counts {
		targets=append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool {
		if counts[targets[i]]!=counts[targets[j]] { return counts[targets[i]]>counts[targets[j]] }
		return targets[i]<targets[j]
	})
	for _,target:=range targets {
		fmt.Fprintf(w, "%6d  %s\n", counts[target], target)
	}
}
