// Package glimpse renders episode snapshots as an animated GIF: the input
// image followed by the decoder's reconstruction after each glimpse, with
// the sampled glimpse locations marked.
package glimpse

import (
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
	"gorgonia.org/tensor"

	"github.com/gorgonia/ram"
)

var tt font.Face
var regular *truetype.Font

const (
	dpi      = 144.0
	fontsize = 8.0
	scale    = 4 // upscaling factor per tile
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}

	tt = truetype.NewFace(regular, &truetype.Options{
		Size:    fontsize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
}

var globPalette = color.Palette{
	color.Gray{0},
	color.Gray{32},
	color.Gray{64},
	color.Gray{96},
	color.Gray{128},
	color.Gray{160},
	color.Gray{192},
	color.Gray{224},
	color.Gray{255},
	color.RGBA{255, 0, 0, 255},
}

// Encoder implements ram.OutputEncoder. One frame is appended per Encode
// call; Flush writes the animation.
type Encoder struct {
	ImageSize int // square image edge, in pixels
	Sample    int // which image of the batch to render

	out *gif.GIF
	io.Writer
}

// NewEncoder renders imageSize×imageSize snapshots into w.
func NewEncoder(w io.Writer, imageSize int) *Encoder {
	return &Encoder{
		ImageSize: imageSize,
		Writer:    w,
		out:       &gif.GIF{LoopCount: -1},
	}
}

// Encode renders one snapshot: original image, then one upscaled
// reconstruction tile per glimpse with the sampled location marked, and a
// caption underneath.
func (enc *Encoder) Encode(s ram.EpisodeSnapshot) error {
	T := len(s.Recons)
	tile := enc.ImageSize * scale
	caption := 16 * scale / 2
	w := (T + 1) * tile
	h := tile + caption

	img := image.NewPaletted(image.Rect(0, 0, w, h), globPalette)

	enc.drawTile(img, 0, imageOf(s.Images, enc.Sample, enc.ImageSize))
	for t := 0; t < T; t++ {
		enc.drawTile(img, t+1, reconOf(s.Recons[t], enc.Sample, enc.ImageSize))
		enc.markLocation(img, t+1, s.Locs[t].Data().([]float32)[enc.Sample*2:enc.Sample*2+2])
	}

	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: tt,
		Dot:  fixed.P(4, tile+caption-8),
	}
	d.DrawString(fmt.Sprintf("epoch %d - acc %.1f%%", s.Epoch+1, s.Acc))

	enc.out.Image = append(enc.out.Image, img)
	enc.out.Delay = append(enc.out.Delay, 50)
	return nil
}

// Flush writes the GIF out.
func (enc *Encoder) Flush() error {
	return gif.EncodeAll(enc.Writer, enc.out)
}

func (enc *Encoder) drawTile(dst *image.Paletted, col int, src image.Image) {
	tile := enc.ImageSize * scale
	r := image.Rect(col*tile, 0, (col+1)*tile, tile)
	draw.NearestNeighbor.Scale(dst, r, src, src.Bounds(), draw.Src, nil)
}

// markLocation paints the denormalized glimpse center red.
func (enc *Encoder) markLocation(img *image.Paletted, col int, loc []float32) {
	tile := enc.ImageSize * scale
	cx := int(0.5 * (loc[0] + 1) * float32(enc.ImageSize))
	cy := int(0.5 * (loc[1] + 1) * float32(enc.ImageSize))
	red := color.RGBA{255, 0, 0, 255}
	for dy := 0; dy < scale; dy++ {
		for dx := 0; dx < scale; dx++ {
			x := col*tile + cx*scale + dx
			y := cy*scale + dy
			if image.Pt(x, y).In(img.Bounds()) {
				img.Set(x, y, red)
			}
		}
	}
}

// imageOf pulls image i of an (B, C, H, W) batch as grayscale, first
// channel only.
func imageOf(batch *tensor.Dense, i, size int) image.Image {
	data := batch.Data().([]float32)
	stride := batch.Shape().TotalSize() / batch.Shape()[0]
	return grayImage(data[i*stride:i*stride+size*size], size)
}

// reconOf pulls reconstruction i of a (B, H*W) tensor as grayscale.
func reconOf(recon *tensor.Dense, i, size int) image.Image {
	data := recon.Data().([]float32)
	stride := len(data) / recon.Shape()[0]
	return grayImage(data[i*stride:i*stride+size*size], size)
}

func grayImage(pix []float32, size int) image.Image {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := pix[y*size+x]
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.SetGray(x, y, color.Gray{uint8(v * 255)})
		}
	}
	return img
}
