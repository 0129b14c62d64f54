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
	"compress/gzip"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path"
	"strings"

	"golang.org/x/image/tiff"
)

// Reads a grayscale image plane from the file with the given name.
// Supports 8 and 16 bit TIFF and PNG, optionally gzip compressed.
// Pixel values are kept as raw sensor counts
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (i *Image, err error) {
	file, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer file.Close()

	var r io.Reader=bufio.NewReader(file)

	ext:=strings.ToLower(path.Ext(fileName))
	if ext==".gz" || ext==".gzip" {
		r, err=gzip.NewReader(r)
		if err!=nil { return nil, err }
		inner:=strings.TrimSuffix(fileName, path.Ext(fileName))
		ext=strings.ToLower(path.Ext(inner))
	}

	var decoded image.Image
	switch ext {
	case ".tif", ".tiff":
		decoded, err=tiff.Decode(r)
	case ".png":
		decoded, err=png.Decode(r)
	default:
		return nil, fmt.Errorf("%d: unsupported image format %s in %s", id, ext, fileName)
	}
	if err!=nil { return nil, fmt.Errorf("%d: error reading %s: %s", id, fileName, err.Error()) }

	i=newImageFromGoImage(decoded)
	i.ID, i.FileName=id, fileName
	fmt.Fprintf(logWriter, "%d: Read %s image with %v max from %s\n", id, i.DimensionsToString(), i.Stats.Max(), fileName)
	return i, nil
}

// Converts a decoded golang image into a grayscale image plane.
// Multi-channel inputs are converted to luminance
func newImageFromGoImage(src image.Image) *Image {
	bounds:=src.Bounds()
	width, height:=int32(bounds.Dx()), int32(bounds.Dy())
	res:=NewImage(width, height, nil)

	switch t:=src.(type) {
	case *image.Gray:
		for y:=0; y<int(height); y++ {
			row:=t.Pix[y*t.Stride : y*t.Stride+int(width)]
			for x,v:=range row {
				res.Data[y*int(width)+x]=float32(v)
			}
		}
	case *image.Gray16:
		for y:=0; y<int(height); y++ {
			row:=t.Pix[y*t.Stride : y*t.Stride+2*int(width)]
			for x:=0; x<int(width); x++ {
				res.Data[y*int(width)+x]=float32(uint16(row[2*x])<<8 | uint16(row[2*x+1]))
			}
		}
	default:
		for y:=bounds.Min.Y; y<bounds.Max.Y; y++ {
			for x:=bounds.Min.X; x<bounds.Max.X; x++ {
				c:=color.Gray16Model.Convert(src.At(x, y)).(color.Gray16)
				res.Data[(y-bounds.Min.Y)*int(width)+(x-bounds.Min.X)]=float32(c.Y)
			}
		}
	}
	return res
}
