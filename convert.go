package jpegz

// Colorspace conversion row kernels. YCbCr to RGB uses 8-bit fixed point:
//
//	r = y + 1.402*(cr-128)        -> (y<<8 + 359*cr' + 128) >> 8
//	g = y - 0.344*(cb-128) - 0.714*(cr-128)
//	b = y + 1.772*(cb-128)
//
// with cb' and cr' centered on zero and rounding before the descale.

// layout returns the byte offsets of the R, G and B channels and whether the
// layout carries an alpha byte.
func layout(cs Colorspace) (ri, gi, bi int, alpha bool) {
	switch cs {
	case BGR:
		return 2, 1, 0, false
	case BGRA:
		return 2, 1, 0, true
	case RGBA:
		return 0, 1, 2, true
	default: // RGB
		return 0, 1, 2, false
	}
}

// ycbcrToRGBARow converts one row of YCbCr samples to RGBA. Specialized for
// the most common output layout; the generic kernel handles the rest.
func ycbcrToRGBARow(yRow, cbRow, crRow, dst []byte, width int) {
	_ = yRow[width-1]
	_ = cbRow[width-1]
	_ = crRow[width-1]
	_ = dst[width*4-1]

	for x := 0; x < width; x++ {
		yy := int32(yRow[x]) << 8
		cb := int32(cbRow[x]) - 128
		cr := int32(crRow[x]) - 128

		o := x * 4
		dst[o] = clamp((yy + 359*cr + 128) >> 8)
		dst[o+1] = clamp((yy - 88*cb - 183*cr + 128) >> 8)
		dst[o+2] = clamp((yy + 454*cb + 128) >> 8)
		dst[o+3] = 255
	}
}

// ycbcrRow converts one row of YCbCr samples into an arbitrary channel
// layout.
func ycbcrRow(yRow, cbRow, crRow, dst []byte, width int, cs Colorspace) {
	ri, gi, bi, alpha := layout(cs)
	ch := cs.Channels()

	for x := 0; x < width; x++ {
		yy := int32(yRow[x]) << 8
		cb := int32(cbRow[x]) - 128
		cr := int32(crRow[x]) - 128

		o := x * ch
		dst[o+ri] = clamp((yy + 359*cr + 128) >> 8)
		dst[o+gi] = clamp((yy - 88*cb - 183*cr + 128) >> 8)
		dst[o+bi] = clamp((yy + 454*cb + 128) >> 8)

		if alpha {
			dst[o+3] = 255
		}
	}
}

// rgbRow interleaves one row of an RGB-coded stream's component planes. No
// color math; only the channel order changes.
func rgbRow(rRow, gRow, bRow, dst []byte, width int, cs Colorspace) {
	ri, gi, bi, alpha := layout(cs)
	ch := cs.Channels()

	for x := 0; x < width; x++ {
		o := x * ch
		dst[o+ri] = rRow[x]
		dst[o+gi] = gRow[x]
		dst[o+bi] = bRow[x]

		if alpha {
			dst[o+3] = 255
		}
	}
}

// grayRow expands one row of luma samples into a color layout by channel
// replication.
func grayRow(yRow, dst []byte, width int, cs Colorspace) {
	ch := cs.Channels()
	alpha := ch == 4

	for x := 0; x < width; x++ {
		v := yRow[x]

		o := x * ch
		dst[o] = v
		dst[o+1] = v
		dst[o+2] = v

		if alpha {
			dst[o+3] = 255
		}
	}
}
