// Package decode converts raw Matroska frame payloads into directly usable
// in-memory representations: planar YUV 4:2:0 video into an RGB raster and
// interleaved PCM bytes into integer samples.
package decode

import (
	"errors"
	"fmt"
	"image"
)

// ErrShortBuffer is returned when a video payload is smaller than the frame
// geometry requires.
var ErrShortBuffer = errors.New("payload shorter than frame geometry")

// YUVToRGB converts one limited-range BT.601 (Y, U, V) triple into a packed
// 0x00RRGGBB value, using the fixed-point integer approximation with an
// 8-bit shift. Each channel is clamped to [0, 255] independently.
func YUVToRGB(y, u, v byte) uint32 {
	c := int(y) - 16
	d := int(u) - 128
	e := int(v) - 128

	r := (298*c + 409*e + 128) >> 8
	g := (298*c - 100*d - 208*e + 128) >> 8
	b := (298*c + 516*d + 128) >> 8

	return uint32(clamp8(r))<<16 | uint32(clamp8(g))<<8 | uint32(clamp8(b))
}

func clamp8(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// YUV420Image decodes one planar YUV 4:2:0 frame into an RGBA raster of the
// same dimensions. The layout is Y plane first at full resolution, then the
// U plane, then the V plane, each at half width and half height. Odd
// dimensions are accepted; chroma offsets use truncating division, matching
// the container's numeric behavior. The alpha channel is fully opaque.
func YUV420Image(buf []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", width, height)
	}

	total := width * height
	chromaStride := width / 2
	// Highest chroma offset actually addressed. For even dimensions this is
	// one less than a full (width/2)*(height/2) plane.
	chromaMax := ((height-1)/2)*chromaStride + (width-1)/2
	uBase := total
	vBase := total + total/4
	if need := vBase + chromaMax + 1; len(buf) < need {
		return nil, fmt.Errorf("%w: have %d bytes, need %d for %dx%d", ErrShortBuffer, len(buf), need, width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := y * width
		chromaRow := (y / 2) * chromaStride
		for x := 0; x < width; x++ {
			chroma := chromaRow + x/2
			rgb := YUVToRGB(buf[row+x], buf[uBase+chroma], buf[vBase+chroma])

			off := img.PixOffset(x, y)
			img.Pix[off+0] = byte(rgb >> 16)
			img.Pix[off+1] = byte(rgb >> 8)
			img.Pix[off+2] = byte(rgb)
			img.Pix[off+3] = 0xFF
		}
	}
	return img, nil
}
