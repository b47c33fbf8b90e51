// Package preprocess turns decoded images into the normalized tensor layout
// the classifier was trained on.
package preprocess

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	// ShortEdge is the length of the shorter side after resizing.
	ShortEdge = 320
	// CropSize is the side of the square center crop fed to the model.
	CropSize = 300
	Channels = 3
)

// Per-channel normalization used when the weights were trained. Do not change.
var (
	Mean = [Channels]float32{0.485, 0.456, 0.406}
	Std  = [Channels]float32{0.229, 0.224, 0.225}
)

// Shape is the shape of a single transformed image, channels first.
func Shape() tensor.Shape {
	return tensor.Shape{Channels, CropSize, CropSize}
}

// Transform resizes, center crops and normalizes img into a (3, 300, 300)
// float32 tensor.
func Transform(img image.Image) (*tensor.Dense, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}
	resized := Resize(ToRGB(img), ShortEdge)
	cropped, err := CenterCrop(resized, CropSize)
	if err != nil {
		return nil, err
	}
	return ToTensor(cropped), nil
}

// ToRGB converts any color model to opaque NRGBA. Alpha is dropped, not
// composited, so transparent pixels keep their color.
func ToRGB(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// Resize scales img with a bicubic kernel so its shorter edge equals short,
// keeping the aspect ratio. The longer edge is truncated, not rounded.
func Resize(img image.Image, short int) image.Image {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var ow, oh int
	if w <= h {
		ow, oh = short, int(float64(short)*float64(h)/float64(w))
	} else {
		ow, oh = int(float64(short)*float64(w)/float64(h)), short
	}
	if ow == w && oh == h {
		return img
	}
	return resize.Resize(uint(ow), uint(oh), img, resize.Bicubic)
}

// CenterCrop cuts a size x size square from the middle of img.
func CenterCrop(img image.Image, size int) (*image.NRGBA, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w < size || h < size {
		return nil, errors.Errorf("cannot crop %dx%d from %dx%d image", size, size, w, h)
	}
	return imaging.CropCenter(img, size, size), nil
}

// ToTensor scales 8-bit channels to [0,1] and applies the per-channel
// mean/std normalization. Output layout is CHW.
func ToTensor(img *image.NRGBA) *tensor.Dense {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if img.Bounds().Min != (image.Point{}) {
		rebased := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rebased, rebased.Bounds(), img, img.Bounds().Min, draw.Src)
		img = rebased
	}
	plane := w * h
	data := make([]float32, Channels*plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			idx := y*w + x
			for c := 0; c < Channels; c++ {
				data[c*plane+idx] = (float32(px[c])/255 - Mean[c]) / Std[c]
			}
		}
	}
	return tensor.New(tensor.WithShape(Channels, h, w), tensor.WithBacking(data))
}
