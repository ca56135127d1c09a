package jpegz

import "math/bits"

// Test stream synthesis. buildGrayJPEG hand-encodes a DC-only grayscale
// baseline JPEG so tests control the exact entropy-coded layout: restart
// markers, interval boundaries, deferred line counts. Every quantizer entry
// is 1, so an MCU whose DC coefficient is 8*k decodes to the flat sample
// value 128+k exactly.

// bitWriter emits MSB-first bits with 0xFF byte stuffing.
type bitWriter struct {
	buf []byte
	acc uint32
	n   uint
}

func (bw *bitWriter) writeBits(v, n uint32) {
	for i := int(n) - 1; i >= 0; i-- {
		bw.acc = bw.acc<<1 | (v>>uint(i))&1
		bw.n++

		if bw.n == 8 {
			b := byte(bw.acc)
			bw.buf = append(bw.buf, b)
			if b == 0xFF {
				bw.buf = append(bw.buf, 0x00)
			}

			bw.acc, bw.n = 0, 0
		}
	}
}

// flush pads the final partial byte with 1 bits.
func (bw *bitWriter) flush() {
	for bw.n != 0 {
		bw.writeBits(1, 1)
	}
}

func appendU16(b []byte, v int) []byte {
	return append(b, byte(v>>8), byte(v))
}

// writeDCBlock encodes one DC-only block: the difference's magnitude
// category (4-bit codes, category == code value), its magnitude bits, and a
// 1-bit EOB.
func writeDCBlock(bw *bitWriter, diff int) {
	if diff == 0 {
		bw.writeBits(0, 4)
		bw.writeBits(0, 1)

		return
	}

	mag := diff
	if diff < 0 {
		mag = -diff
	}

	cat := uint32(bits.Len(uint(mag)))
	bw.writeBits(cat, 4)

	if diff > 0 {
		bw.writeBits(uint32(diff), cat)
	} else {
		bw.writeBits(uint32(diff+(1<<cat)-1), cat)
	}

	bw.writeBits(0, 1)
}

// grayStream assembles the synthetic stream. dc holds the absolute DC value
// of each MCU in decode order; dri is the restart interval in MCUs (0 for
// none); deferHeight writes a zero-height frame header and appends a DNL
// segment after the scan.
type grayStream struct {
	width, height int
	dc            []int
	dri           int
	deferHeight   bool
}

func (g grayStream) build() []byte {
	b := []byte{0xFF, 0xD8}

	// DQT: table 0, 8-bit, all ones.
	b = append(b, 0xFF, 0xDB)
	b = appendU16(b, 2+1+64)
	b = append(b, 0x00)
	for i := 0; i < 64; i++ {
		b = append(b, 0x01)
	}

	// SOF0: 8-bit grayscale, component id 1, 1x1 sampling, quant table 0.
	h := g.height
	if g.deferHeight {
		h = 0
	}
	b = append(b, 0xFF, 0xC0)
	b = appendU16(b, 11)
	b = append(b, 8)
	b = appendU16(b, h)
	b = appendU16(b, g.width)
	b = append(b, 1, 1, 0x11, 0)

	// DHT: DC table 0 with the twelve magnitude categories, all 4-bit
	// codes, so category c encodes as the value c.
	b = append(b, 0xFF, 0xC4)
	b = appendU16(b, 2+17+12)
	b = append(b, 0x00)
	b = append(b, 0, 0, 0, 12, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	b = append(b, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)

	// DHT: AC table 0 with a single 1-bit code for EOB.
	b = append(b, 0xFF, 0xC4)
	b = appendU16(b, 2+17+1)
	b = append(b, 0x10)
	b = append(b, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	b = append(b, 0x00)

	if g.dri > 0 {
		b = append(b, 0xFF, 0xDD)
		b = appendU16(b, 4)
		b = appendU16(b, g.dri)
	}

	// SOS: one component, DC/AC table 0, baseline spectral parameters.
	b = append(b, 0xFF, 0xDA)
	b = appendU16(b, 8)
	b = append(b, 1, 1, 0x00, 0x00, 0x3F, 0x00)

	ri := g.dri
	if ri <= 0 {
		ri = len(g.dc)
	}

	rst := 0
	for start := 0; start < len(g.dc); start += ri {
		end := start + ri
		if end > len(g.dc) {
			end = len(g.dc)
		}

		if start > 0 {
			b = append(b, 0xFF, byte(0xD0+rst&7))
			rst++
		}

		var bw bitWriter
		pred := 0

		for _, v := range g.dc[start:end] {
			writeDCBlock(&bw, v-pred)
			pred = v
		}

		bw.flush()
		b = append(b, bw.buf...)
	}

	if g.deferHeight {
		b = append(b, 0xFF, 0xDC)
		b = appendU16(b, 4)
		b = appendU16(b, g.height)
	}

	return append(b, 0xFF, 0xD9)
}

// grayDCValue returns the flat sample value an all-ones quantizer produces
// for a DC-only block with the given DC coefficient: the row pass scales the
// coefficient by 8 before the column pass descales and level-shifts.
func grayDCValue(dc int) byte {
	return clamp(int32(((dc<<3)+32)>>6) + 128)
}

// colorStream assembles a DC-only YCbCr stream with configurable luma
// sampling factors, so subsampling layouts beyond the standard library
// encoder's fixed 4:2:0 can be exercised. Chroma components always sample
// 1x1; dc returns the DC coefficient of the block at plane block coordinates
// (row, col) of component comp.
type colorStream struct {
	width, height int
	ssX, ssY      int
	rgbIDs        bool // use component ids 'R','G','B' instead of 1,2,3
	dc            func(comp, row, col int) int
}

func (g colorStream) build() []byte {
	b := []byte{0xFF, 0xD8}

	// DQT: table 0, 8-bit, all ones.
	b = append(b, 0xFF, 0xDB)
	b = appendU16(b, 2+1+64)
	b = append(b, 0x00)
	for i := 0; i < 64; i++ {
		b = append(b, 0x01)
	}

	// SOF0: three components, shared quant table.
	b = append(b, 0xFF, 0xC0)
	b = appendU16(b, 8+9)
	b = append(b, 8)
	b = appendU16(b, g.height)
	b = appendU16(b, g.width)
	ids := [3]byte{1, 2, 3}
	if g.rgbIDs {
		ids = [3]byte{'R', 'G', 'B'}
	}

	b = append(b, 3)
	b = append(b, ids[0], byte(g.ssX<<4|g.ssY), 0)
	b = append(b, ids[1], 0x11, 0)
	b = append(b, ids[2], 0x11, 0)

	// Same minimal table pair as grayStream, shared by all components.
	b = append(b, 0xFF, 0xC4)
	b = appendU16(b, 2+17+12)
	b = append(b, 0x00)
	b = append(b, 0, 0, 0, 12, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	b = append(b, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)

	b = append(b, 0xFF, 0xC4)
	b = appendU16(b, 2+17+1)
	b = append(b, 0x10)
	b = append(b, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	b = append(b, 0x00)

	// SOS: all components on table pair 0.
	b = append(b, 0xFF, 0xDA)
	b = appendU16(b, 6+6)
	b = append(b, 3)
	b = append(b, ids[0], 0x00, ids[1], 0x00, ids[2], 0x00)
	b = append(b, 0x00, 0x3F, 0x00)

	mbW := (g.width + g.ssX*8 - 1) / (g.ssX * 8)
	mbH := (g.height + g.ssY*8 - 1) / (g.ssY * 8)

	var bw bitWriter
	var pred [3]int

	for my := 0; my < mbH; my++ {
		for mx := 0; mx < mbW; mx++ {
			for sby := 0; sby < g.ssY; sby++ {
				for sbx := 0; sbx < g.ssX; sbx++ {
					v := g.dc(0, my*g.ssY+sby, mx*g.ssX+sbx)
					writeDCBlock(&bw, v-pred[0])
					pred[0] = v
				}
			}

			for comp := 1; comp < 3; comp++ {
				v := g.dc(comp, my, mx)
				writeDCBlock(&bw, v-pred[comp])
				pred[comp] = v
			}
		}
	}

	bw.flush()
	b = append(b, bw.buf...)

	return append(b, 0xFF, 0xD9)
}
