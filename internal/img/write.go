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
	"bufio"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"
)

// Write a grayscale image to 16-bit TIFF, using the given min, max and gamma
func (f *Image) WriteMonoTIFF16ToFile(fileName string, min, max, gamma float32) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteMonoTIFF16(writer, min, max, gamma)
}

// Write a grayscale image to 16-bit TIFF, using the given min, max and gamma
func (f *Image) WriteMonoTIFF16(writer io.Writer, min, max, gamma float32) error {
	width, height:=int(f.Width), int(f.Height)
	gi:=image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale:=1/(max-min)
	gammaInv:=float64(1.0/gamma)
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			gray:=f.Data[yoffset+x]
			gray=(gray-min)*scale
			// replace NaNs with zeros for export, else TIFF output breaks
			if math.IsNaN(float64(gray)) || gray<0 { gray=0 }
			if gray>1 { gray=1 }
			if gammaInv!=1.0 {
				gray=float32(math.Pow(float64(gray), gammaInv))
			}
			gi.SetGray16(x, y, color.Gray16{uint16(gray*65535)})
		}
	}

	return tiff.Encode(writer, gi, &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
}

// Write a grayscale image to JPG, using the given min, max and gamma
func (f *Image) WriteMonoJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteMonoJPG(writer, min, max, gamma, quality)
}

// Write a grayscale image to JPG, using the given min, max and gamma
func (f *Image) WriteMonoJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	gi:=f.toGray(min, max, gamma)
	return jpeg.Encode(writer, gi, &jpeg.Options{Quality: quality})
}

// Write a grayscale image to PNG, using the given min, max and gamma
func (f *Image) WriteMonoPNGToFile(fileName string, min, max, gamma float32) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	gi:=f.toGray(min, max, gamma)
	return png.Encode(writer, gi)
}

func (f *Image) toGray(min, max, gamma float32) *image.Gray {
	width, height:=int(f.Width), int(f.Height)
	gi:=image.NewGray(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale:=1/(max-min)
	gammaInv:=float64(1.0/gamma)
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			gray:=f.Data[yoffset+x]
			gray=(gray-min)*scale
			if math.IsNaN(float64(gray)) || gray<0 { gray=0 }
			if gray>1 { gray=1 }
			if gammaInv!=1.0 {
				gray=float32(math.Pow(float64(gray), gammaInv))
			}
			gi.SetGray(x, y, color.Gray{uint8(gray*255)})
		}
	}
	return gi
}

// Write the image with its spot detections circled to PNG, using the given
// min, max and gamma for the grayscale background. Spots are colored by
// cycling hues, so adjacent detections remain distinguishable
func (f *Image) WriteSpotOverlayToFile(fileName string, min, max, gamma float32) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	gi:=f.toGray(min, max, gamma)
	rgba:=image.NewRGBA(gi.Bounds())
	draw.Draw(rgba, gi.Bounds(), gi, image.Point{}, draw.Src)

	for i,s:=range f.Spots {
		hue:=float64((i*47) % 360)
		col:=colorful.Hsv(hue, 1, 1)
		r, g, b:=col.RGB255()
		drawCircle(rgba, s.X, s.Y, s.Radius+2, color.RGBA{r, g, b, 255})
	}

	return png.Encode(writer, rgba)
}

// Draws a one pixel wide circle outline onto the image
func drawCircle(rgba *image.RGBA, xc, yc, r float32, col color.RGBA) {
	if r<1 { r=1 }
	steps:=int(2*math.Pi*float64(r)*2+8)
	for i:=0; i<steps; i++ {
		angle:=2*math.Pi*float64(i)/float64(steps)
		x:=int(float64(xc)+float64(r)*math.Cos(angle)+0.5)
		y:=int(float64(yc)+float64(r)*math.Sin(angle)+0.5)
		if x>=0 && y>=0 && x<rgba.Bounds().Dx() && y<rgba.Bounds().Dy() {
			rgba.SetRGBA(x, y, col)
		}
	}
}
