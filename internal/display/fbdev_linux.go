//go:build linux

package display

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"wisepi/internal/convert"
)

// linux/fb.h
const (
	fbioGetVScreenInfo = 0x4600
	fbioGetFScreenInfo = 0x4602
)

type fbBitfield struct {
	Offset   uint32
	Length   uint32
	MSBRight uint32
}

type fbVarScreenInfo struct {
	XRes, YRes               uint32
	XResVirtual, YResVirtual uint32
	XOffset, YOffset         uint32
	BitsPerPixel             uint32
	Grayscale                uint32
	Red, Green, Blue, Transp fbBitfield
	NonStd                   uint32
	Activate                 uint32
	Height, Width            uint32
	AccelFlags               uint32
	PixClock                 uint32
	LeftMargin, RightMargin  uint32
	UpperMargin, LowerMargin uint32
	HSyncLen, VSyncLen       uint32
	Sync                     uint32
	VMode                    uint32
	Rotate                   uint32
	Colorspace               uint32
	Reserved                 [4]uint32
}

type fbFixScreenInfo struct {
	ID           [16]byte
	SMemStart    uintptr
	SMemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	XPanStep     uint16
	YPanStep     uint16
	YWrapStep    uint16
	LineLength   uint32
	MMIOStart    uintptr
	MMIOLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

type linuxFB struct {
	file   *os.File
	mem    []byte // nil for fbcon
	w, h   int
	stride int
	format convert.PixelFormat
}

func openFB(driver, path string) (fbDevice, error) {
	switch driver {
	case "fbdev", "fbcon":
	default:
		return nil, fmt.Errorf("unknown video driver %q", driver)
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	var v fbVarScreenInfo
	if err := ioctl(file, fbioGetVScreenInfo, unsafe.Pointer(&v)); err != nil {
		file.Close()
		return nil, fmt.Errorf("FBIOGET_VSCREENINFO: %w", err)
	}
	var fix fbFixScreenInfo
	if err := ioctl(file, fbioGetFScreenInfo, unsafe.Pointer(&fix)); err != nil {
		file.Close()
		return nil, fmt.Errorf("FBIOGET_FSCREENINFO: %w", err)
	}

	fb := &linuxFB{
		file:   file,
		w:      int(v.XRes),
		h:      int(v.YRes),
		stride: int(fix.LineLength),
		format: convert.PixelFormat{
			BitsPerPixel: int(v.BitsPerPixel),
			Red:          convert.Channel{Offset: v.Red.Offset, Length: v.Red.Length},
			Green:        convert.Channel{Offset: v.Green.Offset, Length: v.Green.Length},
			Blue:         convert.Channel{Offset: v.Blue.Offset, Length: v.Blue.Length},
		},
	}

	if driver == "fbdev" {
		mem, err := unix.Mmap(int(file.Fd()), 0, int(fix.SMemLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("mmap: %w", err)
		}
		fb.mem = mem
	}
	return fb, nil
}

func ioctl(f *os.File, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (fb *linuxFB) Size() (int, int)            { return fb.w, fb.h }
func (fb *linuxFB) Format() convert.PixelFormat { return fb.format }
func (fb *linuxFB) Stride() int                 { return fb.stride }

func (fb *linuxFB) Write(buf []byte) error {
	if fb.mem != nil {
		if len(buf) > len(fb.mem) {
			return fmt.Errorf("frame %d bytes exceeds video memory %d", len(buf), len(fb.mem))
		}
		copy(fb.mem, buf)
		return nil
	}
	_, err := fb.file.WriteAt(buf, 0)
	return err
}

func (fb *linuxFB) Close() error {
	var err error
	if fb.mem != nil {
		err = unix.Munmap(fb.mem)
		fb.mem = nil
	}
	if cerr := fb.file.Close(); err == nil {
		err = cerr
	}
	return err
}
