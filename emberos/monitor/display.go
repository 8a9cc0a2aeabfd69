package monitor

import (
	"image/color"

	"ember/hal"

	"tinygo.org/x/drivers"
)

// fbDisplay draws into an RGB565 hal.Framebuffer.
type fbDisplay struct {
	fb hal.Framebuffer
}

var _ drivers.Displayer = (*fbDisplay)(nil)

func (d *fbDisplay) Size() (x, y int16) {
	if d.fb == nil {
		return 0, 0
	}
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	buf := d.buffer()
	if buf == nil {
		return
	}
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.fb.Width() || iy < 0 || iy >= d.fb.Height() {
		return
	}
	off := iy*d.fb.StrideBytes() + ix*2
	if off < 0 || off+1 >= len(buf) {
		return
	}
	pixel := rgb565(c)
	buf[off] = byte(pixel)
	buf[off+1] = byte(pixel >> 8)
}

func (d *fbDisplay) Display() error {
	if d.fb == nil {
		return nil
	}
	return d.fb.Present()
}

// FillRectangle clips to the framebuffer.
func (d *fbDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) {
	buf := d.buffer()
	if buf == nil {
		return
	}
	w, h := d.fb.Width(), d.fb.Height()
	x0 := clamp(int(x), 0, w)
	y0 := clamp(int(y), 0, h)
	x1 := clamp(int(x)+int(width), 0, w)
	y1 := clamp(int(y)+int(height), 0, h)

	pixel := rgb565(c)
	lo, hi := byte(pixel), byte(pixel>>8)
	stride := d.fb.StrideBytes()
	for py := y0; py < y1; py++ {
		for px := x0; px < x1; px++ {
			off := py*stride + px*2
			if off+1 >= len(buf) {
				continue
			}
			buf[off] = lo
			buf[off+1] = hi
		}
	}
}

func (d *fbDisplay) buffer() []byte {
	if d.fb == nil || d.fb.Format() != hal.PixelFormatRGB565 {
		return nil
	}
	return d.fb.Buffer()
}

func rgb565(c color.RGBA) uint16 {
	return uint16((uint16(c.R>>3)&0x1F)<<11 | (uint16(c.G>>2)&0x3F)<<5 | (uint16(c.B>>3) & 0x1F))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
