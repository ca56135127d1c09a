package jpegz

// idctFlat is the throughput kernel: the same AAN transform as idctRef, but
// with the sparse-block branches removed so every row and column runs the
// full straight-line butterfly. The reference's shortcuts are exact
// identities (see rowIdct and colIdct), so both kernels produce the same
// bytes for every input block. Branch-free bodies also keep the loops
// friendly to the compiler's vectorizer.
func idctFlat(blk *[64]int32, out []byte, outOffset int, stride int) {
	for i := 0; i < 64; i += 8 {
		b := blk[i : i+8]
		_ = b[7]

		x0 := (b[0] << 11) + 128
		x1 := b[4] << 11
		x2 := b[6]
		x3 := b[2]
		x4 := b[1]
		x5 := b[7]
		x6 := b[5]
		x7 := b[3]
		var x8 int32

		x8 = w7 * (x4 + x5)
		x4 = x8 + (w1-w7)*x4
		x5 = x8 - (w1+w7)*x5
		x8 = w3 * (x6 + x7)
		x6 = x8 - (w3-w5)*x6
		x7 = x8 - (w3+w5)*x7

		x8 = x0 + x1
		x0 -= x1
		x1 = w6 * (x3 + x2)
		x2 = x1 - (w2+w6)*x2
		x3 = x1 + (w2-w6)*x3

		x1 = x4 + x6
		x4 -= x6
		x6 = x5 + x7
		x5 -= x7

		x7 = x8 + x3
		x8 -= x3
		x3 = x0 + x2
		x0 -= x2

		x2 = (181*(x4+x5) + 128) >> 8
		x4 = (181*(x4-x5) + 128) >> 8

		b[0] = (x7 + x1) >> 8
		b[1] = (x3 + x2) >> 8
		b[2] = (x0 + x4) >> 8
		b[3] = (x8 + x6) >> 8
		b[4] = (x8 - x6) >> 8
		b[5] = (x0 - x4) >> 8
		b[6] = (x3 - x2) >> 8
		b[7] = (x7 - x1) >> 8
	}

	out = out[outOffset:]
	_ = out[7*stride+7]

	for i := 0; i < 8; i++ {
		x0 := (blk[i] << 8) + 8192
		x1 := blk[i+8*4] << 8
		x2 := blk[i+8*6]
		x3 := blk[i+8*2]
		x4 := blk[i+8*1]
		x5 := blk[i+8*7]
		x6 := blk[i+8*5]
		x7 := blk[i+8*3]
		var x8 int32

		x8 = w7*(x4+x5) + 4
		x4 = (x8 + (w1-w7)*x4) >> 3
		x5 = (x8 - (w1+w7)*x5) >> 3
		x8 = w3*(x6+x7) + 4
		x6 = (x8 - (w3-w5)*x6) >> 3
		x7 = (x8 - (w3+w5)*x7) >> 3

		x8 = x0 + x1
		x0 -= x1
		x1 = w6*(x3+x2) + 4
		x2 = (x1 - (w2+w6)*x2) >> 3
		x3 = (x1 + (w2-w6)*x3) >> 3

		x1 = x4 + x6
		x4 -= x6
		x6 = x5 + x7
		x5 -= x7

		x7 = x8 + x3
		x8 -= x3
		x3 = x0 + x2
		x0 -= x2

		x2 = (181*(x4+x5) + 128) >> 8
		x4 = (181*(x4-x5) + 128) >> 8

		o := i
		out[o] = clamp(((x7 + x1) >> 14) + 128)
		o += stride
		out[o] = clamp(((x3 + x2) >> 14) + 128)
		o += stride
		out[o] = clamp(((x0 + x4) >> 14) + 128)
		o += stride
		out[o] = clamp(((x8 + x6) >> 14) + 128)
		o += stride
		out[o] = clamp(((x8 - x6) >> 14) + 128)
		o += stride
		out[o] = clamp(((x0 - x4) >> 14) + 128)
		o += stride
		out[o] = clamp(((x3 - x2) >> 14) + 128)
		o += stride
		out[o] = clamp(((x7 - x1) >> 14) + 128)
	}
}
