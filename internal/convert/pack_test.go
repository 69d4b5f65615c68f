package convert

import (
	"image"
	"image/color"
	"testing"

	"periph.io/x/devices/v3/ssd1306/image1bit"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestPackFormats(t *testing.T) {
	red := color.RGBA{R: 0xFF, A: 0xFF}
	tests := []struct {
		name string
		f    PixelFormat
		want []byte
	}{
		{"rgb565", RGB565, []byte{0x00, 0xF8}},
		{"bgr888", BGR888, []byte{0x00, 0x00, 0xFF}},
		{"xrgb8888", XRGB8888, []byte{0x00, 0x00, 0xFF, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solid(2, 2, red)
			bpp := tt.f.BytesPerPixel()
			stride := 3 * bpp // one pixel of padding per row
			dst := make([]byte, 2*stride)
			for i := range dst {
				dst[i] = 0xAA
			}
			if err := Pack(img, tt.f, stride, dst); err != nil {
				t.Fatalf("Pack: %v", err)
			}
			for y := 0; y < 2; y++ {
				for x := 0; x < 2; x++ {
					off := y*stride + x*bpp
					if got := dst[off : off+bpp]; string(got) != string(tt.want) {
						t.Fatalf("pixel (%d,%d)=% x want % x", x, y, got, tt.want)
					}
				}
				if pad := dst[y*stride+2*bpp]; pad != 0xAA {
					t.Fatalf("row %d padding overwritten", y)
				}
			}
		})
	}
}

func TestPackRejects(t *testing.T) {
	img := solid(4, 4, color.RGBA{A: 0xFF})
	if err := Pack(img, PixelFormat{BitsPerPixel: 8}, 4, make([]byte, 16)); err == nil {
		t.Fatal("8 bpp accepted")
	}
	if err := Pack(img, XRGB8888, 8, make([]byte, 64)); err == nil {
		t.Fatal("short stride accepted")
	}
	if err := Pack(img, XRGB8888, 16, make([]byte, 60)); err == nil {
		t.Fatal("short buffer accepted")
	}
}

func TestToMono(t *testing.T) {
	img := solid(8, 8, color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF})
	img.SetRGBA(1, 1, color.RGBA{A: 0xFF})
	img.SetRGBA(2, 2, color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xFF})
	img.SetRGBA(3, 3, color.RGBA{R: 0xC0, G: 0xC0, B: 0xC0, A: 0xFF})
	img.SetRGBA(4, 4, color.RGBA{A: 0x10})

	out := ToMono(img, image.Rect(0, 0, 8, 8))
	tests := []struct {
		x, y int
		want image1bit.Bit
	}{
		{0, 0, image1bit.On},
		{1, 1, image1bit.Off},
		{2, 2, image1bit.Off},
		{3, 3, image1bit.On},
		{4, 4, image1bit.On},
	}
	for _, tt := range tests {
		if got := out.BitAt(tt.x, tt.y); got != tt.want {
			t.Errorf("(%d,%d)=%v want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestToMonoLargerPanel(t *testing.T) {
	img := solid(4, 4, color.RGBA{A: 0xFF})
	out := ToMono(img, image.Rect(0, 0, 8, 8))
	if out.BitAt(0, 0) != image1bit.Off {
		t.Fatal("source area not inked")
	}
	if out.BitAt(7, 7) != image1bit.On {
		t.Fatal("area outside the source should stay paper")
	}
}
