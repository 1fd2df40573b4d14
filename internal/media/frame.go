package media

import (
	"github.com/pkg/errors"
)

// VideoFrame is a packed BGRA image as delivered by a screen capturer.
// Stride may exceed Width*4.
type VideoFrame struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// PlanarFrame is an I420 (yuv420p) picture ready for the video encoder.
type PlanarFrame struct {
	Width   int
	Height  int
	Y       []byte
	U       []byte
	V       []byte
	StrideY int
	StrideC int
	PTS     int64
}

// NewPlanarFrame allocates an I420 picture with tightly packed planes.
func NewPlanarFrame(width, height int) *PlanarFrame {
	cw, ch := (width+1)/2, (height+1)/2
	return &PlanarFrame{
		Width:   width,
		Height:  height,
		Y:       make([]byte, width*height),
		U:       make([]byte, cw*ch),
		V:       make([]byte, cw*ch),
		StrideY: width,
		StrideC: cw,
	}
}

// AppendTo appends the planes to b in Y, U, V order with each row trimmed
// to the visible width.
func (f *PlanarFrame) AppendTo(b []byte) []byte {
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	for y := 0; y < f.Height; y++ {
		b = append(b, f.Y[y*f.StrideY:y*f.StrideY+f.Width]...)
	}
	for _, plane := range [][]byte{f.U, f.V} {
		for y := 0; y < ch; y++ {
			b = append(b, plane[y*f.StrideC:y*f.StrideC+cw]...)
		}
	}
	return b
}

// CopyRows copies rows rows of rowBytes bytes from src to dst, honouring
// the stride of each side. When both strides are equal the whole block is
// copied at once.
func CopyRows(dst []byte, dstStride int, src []byte, srcStride int, rowBytes, rows int) error {
	if rows <= 0 || rowBytes <= 0 {
		return nil
	}
	if dstStride < rowBytes || srcStride < rowBytes {
		return errors.Errorf("stride smaller than row: dst %d, src %d, row %d", dstStride, srcStride, rowBytes)
	}
	need := func(stride int) int { return stride*(rows-1) + rowBytes }
	if len(dst) < need(dstStride) {
		return errors.Errorf("destination too small: %d < %d", len(dst), need(dstStride))
	}
	if len(src) < need(srcStride) {
		return errors.Errorf("source too small: %d < %d", len(src), need(srcStride))
	}

	if dstStride == srcStride {
		n := need(srcStride)
		copy(dst[:n], src[:n])
		return nil
	}
	for y := 0; y < rows; y++ {
		copy(dst[y*dstStride:y*dstStride+rowBytes], src[y*srcStride:y*srcStride+rowBytes])
	}
	return nil
}
