package media

import (
	"github.com/pkg/errors"
)

// BT.709 full range coefficients in 16.16 fixed point.
const (
	yR, yG, yB    = 13933, 46871, 4732
	cbR, cbG, cbB = -7509, -25259, 32768
	crR, crG, crB = 32768, -29763, -3005

	fixHalf   = 1 << 15
	chromaOff = 128 << 16
)

func clamp8(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func luma(r, g, b int32) byte {
	return clamp8((yR*r + yG*g + yB*b + fixHalf) >> 16)
}

func chroma(r, g, b int32) (byte, byte) {
	cb := (cbR*r + cbG*g + cbB*b + chromaOff + fixHalf) >> 16
	cr := (crR*r + crG*g + crB*b + chromaOff + fixHalf) >> 16
	return clamp8(cb), clamp8(cr)
}

// ConvertBGRAToI420 converts src into dst using BT.709 coefficients with
// full (JPEG) range output. Chroma is the average of each 2x2 block; a
// trailing odd row or column averages the pixels that exist.
func ConvertBGRAToI420(dst *PlanarFrame, src VideoFrame) error {
	w, h := src.Width, src.Height
	if dst.Width != w || dst.Height != h {
		return errors.Errorf("frame size mismatch: dst %dx%d, src %dx%d", dst.Width, dst.Height, w, h)
	}
	if src.Stride < w*4 || len(src.Pix) < src.Stride*(h-1)+w*4 {
		return errors.Errorf("source buffer too small for %dx%d stride %d", w, h, src.Stride)
	}

	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		out := dst.Y[y*dst.StrideY:]
		for x := 0; x < w; x++ {
			p := row[x*4:]
			out[x] = luma(int32(p[2]), int32(p[1]), int32(p[0]))
		}
	}

	for cy := 0; cy < (h+1)/2; cy++ {
		uRow := dst.U[cy*dst.StrideC:]
		vRow := dst.V[cy*dst.StrideC:]
		for cx := 0; cx < (w+1)/2; cx++ {
			var r, g, b, n int32
			for dy := 0; dy < 2; dy++ {
				sy := cy*2 + dy
				if sy >= h {
					break
				}
				for dx := 0; dx < 2; dx++ {
					sx := cx*2 + dx
					if sx >= w {
						break
					}
					p := src.Pix[sy*src.Stride+sx*4:]
					b += int32(p[0])
					g += int32(p[1])
					r += int32(p[2])
					n++
				}
			}
			uRow[cx], vRow[cx] = chroma((r+n/2)/n, (g+n/2)/n, (b+n/2)/n)
		}
	}
	return nil
}
