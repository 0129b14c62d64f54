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
	"fmt"
	"math"
	"strings"

	"github.com/spotfish/spotfish/internal/qsort"
	"github.com/spotfish/spotfish/internal/spot"
)

// A piecewise linear model of residual background fluorescence, fitted to
// grid cells of the image with known spots masked out
type Background struct {
	Width        int32   // original image width
	Height       int32   // original image height
	GridSpacing  int32   // approximate grid spacing as given by user
	GridSpacingX float32 // fine grid spacing for evenly sized cells, X direction
	GridSpacingY float32 // fine grid spacing for evenly sized cells, Y direction
	GridCellsX   int32   // number of grid cells, X direction
	GridCellsY   int32   // number of grid cells, Y direction
	GridCells    int32   // number of grid cells, total = X * Y
	Cells        []float32     // grid cell values
	OutlierCells int32         // number of outlier cells replaced with interpolation of neighboring cells
	Min          float32       // minimum cell value
	Max          float32       // maximum cell value
	CellSpots    [][]spot.Spot // spots relevant for a given cell
	RadiusFactor float32       // multiplier for spot radii when masking
}

func (b *Background) String() string {
	return fmt.Sprintf("Background grid %d cells %dx%d outliers %d range [%f...%f]",
		b.GridSpacing, b.GridCellsX, b.GridCellsY, b.OutlierCells, b.Min, b.Max)
}

// Renders the grid cell estimates as a table, one row per line, for diagnostics
func (b *Background) CellsString() string {
	sb:=&strings.Builder{}
	for y:=int32(0); y<b.GridCellsY; y++ {
		fmt.Fprintf(sb, "%2d:", y)
		for x:=int32(0); x<b.GridCellsX; x++ {
			fmt.Fprintf(sb, " %9.3g", b.Cells[y*b.GridCellsX+x])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Creates a new background model by fitting robust local estimates to grid
// cells of the given image, masking out the given spots
func NewBackground(src []float32, width int32, gridSpacing int32, sigma float32, backClip int32, spots []spot.Spot, radiusFactor float32) (b *Background) {
	height:=int32(len(src)/int(width))

	gridCellsX:=(width+gridSpacing/2)/gridSpacing
	gridCellsY:=(height+gridSpacing/2)/gridSpacing
	if gridCellsX<1 { gridCellsX=1 }
	if gridCellsY<1 { gridCellsY=1 }
	gridCells:=gridCellsX*gridCellsY
	gridSpacingX:=float32(width)/float32(gridCellsX)
	gridSpacingY:=float32(height)/float32(gridCellsY)

	b=&Background{Width: width, Height: height, GridSpacing: gridSpacing,
		GridSpacingX: gridSpacingX, GridSpacingY: gridSpacingY,
		GridCellsX: gridCellsX, GridCellsY: gridCellsY, GridCells: gridCells,
		Cells: make([]float32, gridCells), CellSpots: make([][]spot.Spot, gridCells),
		RadiusFactor: radiusFactor}

	b.binSpotsIntoCells(spots)
	b.init(src, sigma)
	if backClip>0 {
		b.clip(backClip)
	}
	b.smoothe()
	b.calculateStats()
	return b
}

// For each grid cell, put the spots relevant for it into the respective bin
func (b *Background) binSpotsIntoCells(spots []spot.Spot) {
	cs:=b.CellSpots
	for _,s:=range spots {
		sx, sy, radius:=s.X, s.Y, s.Radius*b.RadiusFactor
		// trace 3x3 grid centered around the spot position
		for yOff:=-1; yOff<2; yOff++ {
			for xOff:=-1; xOff<2; xOff++ {
				x:=sx+float32(xOff)*radius
				y:=sy+float32(yOff)*radius

				cellX:=int32(x/b.GridSpacingX)
				if cellX<0 { cellX=0 }
				if cellX>=b.GridCellsX { cellX=b.GridCellsX-1 }

				cellY:=int32(y/b.GridSpacingY)
				if cellY<0 { cellY=0 }
				if cellY>=b.GridCellsY { cellY=b.GridCellsY-1 }

				cellOffset:=cellY*b.GridCellsX+cellX
				c:=cs[cellOffset]
				l:=len(c)
				if l==0 || c[l-1]!=s {
					cs[cellOffset]=append(c, s)
				}
			}
		}
	}
}

// Initialize background by fitting a robust estimate to each grid cell
func (b *Background) init(src []float32, sigma float32) {
	bufSize:=int32(b.GridSpacingX+1.5)*int32(b.GridSpacingY+1.5)
	medBuffer:=make([]float32, bufSize) // reuse for all grid cells to ease GC pressure
	madBuffer:=make([]float32, bufSize) // reuse for all grid cells to ease GC pressure

	for y:=int32(0); y<b.GridCellsY; y++ {
		yStart:=int32(float32(y)*b.GridSpacingY+0.5)
		yEnd:=int32((float32(y)+1)*b.GridSpacingY+0.5)
		if yEnd>b.Height { yEnd=b.Height }

		for x:=int32(0); x<b.GridCellsX; x++ {
			xStart:=int32(float32(x)*b.GridSpacingX+0.5)
			xEnd:=int32((float32(x)+1)*b.GridSpacingX+0.5)
			if xEnd>b.Width { xEnd=b.Width }

			c:=y*b.GridCellsX+x
			b.Cells[c]=FitCell(src, b.Width, sigma, xStart, xEnd, yStart, yEnd, b.CellSpots[c], b.RadiusFactor, medBuffer, madBuffer)
		}
	}
}

// Clips the top n entries from the background gradient and replaces them
// with interpolations of their neighbors
func (b *Background) clip(n int32) {
	buffer:=make([]float32, b.GridCells)
	copy(buffer, b.Cells)
	threshold:=qsort.QSelectFloat32(buffer, len(buffer)-int(n)+1)
	buffer=nil

	ignoredCells:=int32(0)
	for i,cell:=range b.Cells {
		if cell>=threshold {
			b.Cells[i]=float32(math.NaN())
			ignoredCells++
		}
	}
	b.OutlierCells=ignoredCells

	for neighbors:=8; neighbors>=0; neighbors-- {
		numChanged:=1
		for numChanged>0 {
			numChanged=interpolate(b.Cells, b.GridCellsX, b.GridCellsY, neighbors)
		}
	}
}

func (b *Background) smoothe() {
	tmp:=make([]float32, len(b.Cells))
	gauss3x3(tmp, b.Cells, b.GridCellsX)
	b.Cells=tmp
}

func gauss3x3(res, data []float32, width int32) {
	height:=int32(len(data))/width
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			res[y*width+x]=gauss3x3Point(data, width, height, x, y)
		}
	}
}

var gauss3x3Weights=[]float32{0.468592, 0.107973, 0.024879} // sigma 0.5

func gauss3x3Point(data []float32, width, height, x, y int32) float32 {
	runningSum:=float32(0)
	weightSum:=float32(0)

	for offY:=int32(-1); offY<=1; offY++ {
		for offX:=int32(-1); offX<=1; offX++ {
			x2, y2:=x+offX, y+offY
			if x2>=0 && x2<width && y2>=0 && y2<height {
				d:=data[x2+y2*width]
				weight:=gauss3x3Weights[offX*offX+offY*offY]
				runningSum+=d*weight
				weightSum+=weight
			}
		}
	}

	return runningSum/weightSum
}

func (b *Background) calculateStats() {
	mf32:=float32(math.MaxFloat32)
	b.Min=mf32
	b.Max=-mf32
	for _,c:=range b.Cells {
		if c<b.Min { b.Min=c }
		if c>b.Max { b.Max=c }
	}
}

// Replaces NaN cells with the median of their valid 1-neighborhood,
// if at least the given number of neighbors are valid
func interpolate(params []float32, width, height int32, neighbors int) (numChanges int) {
	temp:=make([]float32, 8)
	numChanges=0

	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			index:=y*width+x
			p:=params[index]
			if math.IsNaN(float64(p)) {
				predict, numGathered:=medianInterpolation(params, width, height, x, y, temp)
				if numGathered>=neighbors {
					params[index]=predict
					numChanges++
				}
			}
		}
	}
	return numChanges
}

var interpolOffsets=[][2]int32{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Interpolate parameter from valid entries in local 1-neighborhood via median
func medianInterpolation(params []float32, width, height, x, y int32, temp []float32) (med float32, numGathered int) {
	for _,off:=range interpolOffsets {
		x2, y2:=x+off[0], y+off[1]
		if x2>=0 && x2<width && y2>=0 && y2<height {
			p:=params[x2+y2*width]
			if !math.IsNaN(float64(p)) {
				temp[numGathered]=p
				numGathered++
			}
		}
	}
	if numGathered==0 { return float32(math.NaN()), 0 }
	med=qsort.QSelectMedianFloat32(temp[:numGathered])
	return med, numGathered
}

// Walks all image pixels and hands the bilinearly interpolated background
// value at each pixel to the given function
func (b *Background) forEachPixel(f func(index int32, v float32)) {
	srcYl:=int32(-1)
	srcYh:=int32(0)
	destYl:=int32(-0.5*b.GridSpacingY-0.5)
	destYh:=int32(0.5*b.GridSpacingY+0.5)
	destYSpan:=1.0/float32(destYh-destYl)

	for destY:=int32(0); destY<b.Height; destY++ {
		if destY>=destYh {
			srcYl=srcYh
			srcYh=srcYh+1
			destYl=destYh
			destYh=int32((float32(srcYh)+0.5)*b.GridSpacingY+0.5)
			destYSpan=1.0/float32(destYh-destYl)
		}
		srcY:=float32(srcYl)+float32(destY-destYl)*destYSpan

		srcXl:=int32(-1)
		srcXh:=int32(0)
		destXl:=int32(-0.5*b.GridSpacingX-0.5)
		destXh:=int32(0.5*b.GridSpacingX+0.5)
		destXSpan:=1.0/float32(destXh-destXl)

		for destX:=int32(0); destX<b.Width; destX++ {
			if destX>=destXh {
				srcXl=srcXh
				srcXh=srcXh+1
				destXl=destXh
				destXh=int32((float32(srcXh)+0.5)*b.GridSpacingX+0.5)
				destXSpan=1.0/float32(destXh-destXl)
			}
			srcX:=float32(srcXl)+float32(destX-destXl)*destXSpan

			// clamp interpolation cells to the grid
			xl, yl, xh, yh:=srcXl, srcYl, srcXh, srcYh
			if xl<0 { xl++; xh++ }
			if xh>=b.GridCellsX { xl--; xh-- }
			if yl<0 { yl++; yh++ }
			if yh>=b.GridCellsY { yl--; yh-- }
			xr, yr:=srcX-float32(xl), srcY-float32(yl)

			xlyl:=xl+yl*b.GridCellsX
			xhyl:=xlyl+1            // xh+yl*gridCellsX
			xlyh:=xlyl+b.GridCellsX // xl+yh*gridCellsX
			xhyh:=xhyl+b.GridCellsX // xh+yh*gridCellsX

			vyl:=b.Cells[xlyl]*(1-xr) + b.Cells[xhyl]*xr
			vyh:=b.Cells[xlyh]*(1-xr) + b.Cells[xhyh]*xr
			v:=vyl*(1-yr) + vyh*yr

			f(destX+destY*b.Width, v)
		}
	}
}

// Render full background into a data array, returning the array
func (b *Background) Render() (dest []float32) {
	dest=make([]float32, b.Width*b.Height)
	b.forEachPixel(func(index int32, v float32) {
		dest[index]=v
	})
	return dest
}

// Subtract full background from given data array, changing it in place
func (b *Background) Subtract(dest []float32) error {
	if int(b.Width)*int(b.Height)!=len(dest) {
		return fmt.Errorf("background size %dx%d does not match destination image size %d", b.Width, b.Height, len(dest))
	}
	b.forEachPixel(func(index int32, v float32) {
		dest[index]-=v
	})
	return nil
}

// Fit background cell to given source image, except where masked out.
// Takes the median of the cell without known spots, clips samples more than
// sigma standard deviations above it, and returns the trimmed median
func FitCell(src []float32, width int32, sigma float32, xStart, xEnd, yStart, yEnd int32, spots []spot.Spot, radiusFactor float32, medBuffer, madBuffer []float32) float32 {
	medBuffer=gatherWithoutSpots(src, width, xStart, xEnd, yStart, yEnd, spots, radiusFactor, medBuffer)
	if len(medBuffer)==0 { return float32(math.NaN()) }

	// approximate the local background histogram peak location via median. Reorders the buffer
	median:=qsort.QSelectMedianFloat32(medBuffer)

	// approximate the local background histogram peak scale via MAD
	for i,v:=range medBuffer {
		madBuffer[i]=float32(math.Abs(float64(v-median)))
	}
	madBuffer=madBuffer[:len(medBuffer)]
	mad:=qsort.QSelectMedianFloat32(madBuffer)
	stdDev:=mad*1.4826 // factor normalizes MAD to Gaussian standard deviation
	upperBound:=median+sigma*stdDev

	// calculate trimmed median without upward outliers
	numSamples:=0
	for _,v:=range medBuffer {
		if v<upperBound {
			medBuffer[numSamples]=v
			numSamples++
		}
	}
	if numSamples==0 { return median }
	return qsort.QSelectMedianFloat32(medBuffer[:numSamples])
}

// Gathers the grid cell contents into the buffer, skipping pixels covered
// by known spots
func gatherWithoutSpots(src []float32, width int32, xStart, xEnd, yStart, yEnd int32, spots []spot.Spot, radiusFactor float32, buffer []float32) (res []float32) {
	numSamples:=0
	for y:=yStart; y<yEnd; y++ {
	nextPixelInRow:
		for x:=xStart; x<xEnd; x++ {
			for _,s:=range spots {
				dx, dy:=float32(x)-s.X, float32(y)-s.Y
				distSq:=dx*dx+dy*dy
				radiusSq:=s.Radius*s.Radius*radiusFactor*radiusFactor
				if distSq<=radiusSq { continue nextPixelInRow }
			}

			buffer[numSamples]=src[x+y*width]
			numSamples++
		}
	}
	return buffer[:numSamples]
}
