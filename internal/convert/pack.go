// Package convert packs rasterized RGBA frames into the byte layouts the
// output devices expect: linear framebuffer pixel formats and 1-bit
// monochrome images for e-paper controllers.
package convert

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Channel is one color channel inside a packed pixel: bit offset from the
// LSB and bit length, as reported by the fbdev var screen info.
type Channel struct {
	Offset uint32
	Length uint32
}

// PixelFormat describes a little-endian packed framebuffer pixel.
type PixelFormat struct {
	BitsPerPixel int
	Red          Channel
	Green        Channel
	Blue         Channel
}

// Common formats used when the driver does not report offsets.
var (
	RGB565   = PixelFormat{BitsPerPixel: 16, Red: Channel{11, 5}, Green: Channel{5, 6}, Blue: Channel{0, 5}}
	BGR888   = PixelFormat{BitsPerPixel: 24, Red: Channel{16, 8}, Green: Channel{8, 8}, Blue: Channel{0, 8}}
	XRGB8888 = PixelFormat{BitsPerPixel: 32, Red: Channel{16, 8}, Green: Channel{8, 8}, Blue: Channel{0, 8}}
)

// BytesPerPixel is the stride of one pixel.
func (f PixelFormat) BytesPerPixel() int { return f.BitsPerPixel / 8 }

// Validate rejects formats Pack cannot write.
func (f PixelFormat) Validate() error {
	switch f.BitsPerPixel {
	case 16, 24, 32:
	default:
		return fmt.Errorf("convert: unsupported bits per pixel %d", f.BitsPerPixel)
	}
	for _, c := range []Channel{f.Red, f.Green, f.Blue} {
		if c.Length == 0 || c.Length > 8 || c.Offset+c.Length > uint32(f.BitsPerPixel) {
			return fmt.Errorf("convert: bad channel layout %+v for %d bpp", c, f.BitsPerPixel)
		}
	}
	return nil
}

func (f PixelFormat) pixel(r, g, b uint8) uint32 {
	return uint32(r>>(8-f.Red.Length))<<f.Red.Offset |
		uint32(g>>(8-f.Green.Length))<<f.Green.Offset |
		uint32(b>>(8-f.Blue.Length))<<f.Blue.Offset
}

// Pack writes img into dst, a framebuffer with the given line stride in
// bytes. The image must fit inside dst; extra framebuffer area is left
// as is.
//
// img 의 stride 를 직접 사용해 At() 호출을 피한다.
func Pack(img *image.RGBA, f PixelFormat, stride int, dst []byte) error {
	if err := f.Validate(); err != nil {
		return err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	bpp := f.BytesPerPixel()
	if stride < w*bpp {
		return fmt.Errorf("convert: stride %d too small for width %d", stride, w)
	}
	if need := (h-1)*stride + w*bpp; h > 0 && len(dst) < need {
		return fmt.Errorf("convert: framebuffer too small: %d < %d", len(dst), need)
	}

	var tmp [4]byte
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		row := dst[y*stride : y*stride+w*bpp]
		for x := 0; x < w; x++ {
			// Alpha is ignored; the rasterizer always paints an opaque background.
			v := f.pixel(src[x*4], src[x*4+1], src[x*4+2])
			binary.LittleEndian.PutUint32(tmp[:], v)
			copy(row[x*bpp:(x+1)*bpp], tmp[:bpp])
		}
	}
	return nil
}

// ToMono converts img to a 1-bit image for a panel with the given bounds.
// Pixels darker than the luma threshold become ink (image1bit.Off); the
// rest stay paper. Transparent pixels are paper.
func ToMono(img image.Image, bounds image.Rectangle) *image1bit.VerticalLSB {
	out := image1bit.NewVerticalLSB(bounds)
	draw.Draw(out, bounds, &image.Uniform{image1bit.On}, image.Point{}, draw.Src)

	sb := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		sy := sb.Min.Y + (y - bounds.Min.Y)
		if sy >= sb.Max.Y {
			break
		}
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sx := sb.Min.X + (x - bounds.Min.X)
			if sx >= sb.Max.X {
				break
			}
			c := color.NRGBAModel.Convert(img.At(sx, sy)).(color.NRGBA)
			if isInk(c) {
				out.SetBit(x, y, image1bit.Off)
			}
		}
	}
	return out
}

// isInk uses perceptual luma Y = 0.299R + 0.587G + 0.114B. Anti-aliased
// glyph edges split at mid-grey so strokes keep their weight.
func isInk(c color.NRGBA) bool {
	if c.A < 128 {
		return false
	}
	y := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
	return y < 128
}
