package jpegz

import (
	"fmt"
	"sync/atomic"
)

// span is a byte range of the input holding one restart interval's
// entropy-coded data, stuffing included, markers excluded.
type span struct {
	start, end int
}

// splitSegments walks the entropy-coded data from d.pos and cuts it at
// top-level restart markers, honoring 0xFF00 stuffing and 0xFF fill bytes.
// It validates the sequential restart index modulo 8 as it goes. Returns the
// segments and the absolute position of the terminating marker (or the end
// of the stream when the scan is truncated).
func (d *decoder) splitSegments() ([]span, int, error) {
	data := d.data
	segs := make([]span, 0, 8)
	segStart := d.pos
	next := 0

	i := d.pos
	for i < len(data) {
		if data[i] != 0xFF {
			i++

			continue
		}

		if i+1 >= len(data) {
			// Lone 0xFF at the end of the stream: padding.
			break
		}

		b2 := data[i+1]

		switch {
		case b2 == 0x00:
			// Stuffed byte, part of the entropy data.
			i += 2
		case b2 == 0xFF:
			// Fill byte.
			i++
		case b2 >= 0xD0 && b2 <= 0xD7:
			if d.rstInterval == 0 {
				return nil, 0, fmt.Errorf("%w: restart marker without a restart interval", ErrMalformedStream)
			}

			if int(b2-0xD0) != next&7 {
				return nil, 0, fmt.Errorf("%w: restart marker out of sequence (RST%d, want RST%d)",
					ErrMalformedStream, b2-0xD0, next&7)
			}

			segs = append(segs, span{segStart, i})
			segStart = i + 2
			next++
			i += 2
		default:
			// Any other marker terminates the scan.
			segs = append(segs, span{segStart, i})

			return segs, i, nil
		}
	}

	segs = append(segs, span{segStart, len(data)})

	return segs, len(data), nil
}

// decodeScan parses the Start of Scan header, binds components to their
// Huffman tables, shards the entropy-coded data at restart markers, and
// decodes all MCUs. On return d.pos sits at the scan's terminating marker.
func (d *decoder) decodeScan() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 4 {
		return fmt.Errorf("%w: short scan header", ErrMalformedStream)
	}

	ns := int(d.data[d.pos])
	if err := d.skip(1); err != nil {
		return err
	}

	if ns != d.ncomp {
		// A baseline image has exactly one interleaved scan covering every
		// frame component.
		return fmt.Errorf("%w: %d-component scan in a %d-component frame", ErrUnsupportedFeature, ns, d.ncomp)
	}

	if d.length < 2*ns+3 {
		return fmt.Errorf("%w: short scan header", ErrMalformedStream)
	}

	for i := 0; i < ns; i++ {
		cs := int(d.data[d.pos])
		sel := d.data[d.pos+1]
		td := int(sel >> 4)
		ta := int(sel & 0x0F)

		var c *component
		for k := 0; k < d.ncomp; k++ {
			if d.comp[k].id == cs {
				c = &d.comp[k]

				break
			}
		}

		if c == nil {
			return fmt.Errorf("%w: scan component id %d not declared in frame header", ErrInconsistentDimensions, cs)
		}

		if td > 1 || ta > 1 {
			return fmt.Errorf("%w: huffman table selector %d/%d", ErrUnsupportedFeature, td, ta)
		}

		if d.vlcAvail&(1<<td) == 0 {
			return fmt.Errorf("%w: scan references undefined DC table %d", ErrInconsistentDimensions, td)
		}

		if d.vlcAvail&(1<<(ta+2)) == 0 {
			return fmt.Errorf("%w: scan references undefined AC table %d", ErrInconsistentDimensions, ta)
		}

		if d.qtAvail&(1<<c.qtSel) == 0 {
			return fmt.Errorf("%w: component references undefined quantization table %d", ErrInconsistentDimensions, c.qtSel)
		}

		c.dcTabSel = td
		c.acTabSel = ta

		if err := d.skip(2); err != nil {
			return err
		}
	}

	// Baseline scans carry fixed spectral parameters: Ss=0, Se=63, AhAl=0.
	if d.data[d.pos] != 0 || d.data[d.pos+1] != 63 || d.data[d.pos+2] != 0 {
		return fmt.Errorf("%w: spectral selection or successive approximation", ErrUnsupportedFeature)
	}

	if err := d.skip(d.length); err != nil {
		return err
	}

	segs, term, err := d.splitSegments()
	if err != nil {
		return err
	}

	// A frame header with zero height defers the line count to a DNL
	// segment following the scan; peek it before sizing anything.
	if d.height == 0 {
		if term+5 < len(d.data) && d.data[term] == 0xFF && d.data[term+1] == 0xDC {
			// The line count sits behind the segment's length field; trust
			// it only when the declared length actually covers two bytes.
			if l := int(d.data[term+2])<<8 | int(d.data[term+3]); l >= 4 {
				d.height = (int(d.data[term+4]) << 8) | int(d.data[term+5])
			}
		}

		if d.height == 0 {
			return fmt.Errorf("%w: zero image height and no DNL segment", ErrMalformedStream)
		}
	}

	if !d.planesAlloc {
		if err := d.computeGeometry(false); err != nil {
			return err
		}
	}

	total := d.mbWidth * d.mbHeight
	ri := d.rstInterval
	if ri == 0 {
		ri = total
	}

	expected := (total + ri - 1) / ri

	// Tolerate a surplus trailing restart marker in lenient mode.
	for !d.strict && len(segs) > expected && segs[len(segs)-1].start >= segs[len(segs)-1].end {
		segs = segs[:len(segs)-1]
	}

	switch {
	case len(segs) > expected:
		return fmt.Errorf("%w: %d restart segments for %d intervals", ErrMalformedStream, len(segs), expected)
	case len(segs) < expected:
		// Whole intervals are missing from the stream.
		return fmt.Errorf("%w: scan truncated after %d of %d restart intervals", ErrBitstreamExhausted, len(segs), expected)
	}

	if err := d.decodeIntervals(segs, ri, total); err != nil {
		return err
	}

	// Reposition the marker loop at the scan's terminator.
	d.pos = term
	d.size = len(d.data) - term
	d.length = 0

	return nil
}

// maxCoef bounds dequantized coefficients: the row pass of the IDCT shifts
// its DC input left by 11, so inputs must stay below 1<<19 to fit in int32.
const maxCoef = 1<<19 - 1

// dequant multiplies a coefficient by its quantizer step in 64 bits and
// saturates to the IDCT's input range. A category-15 magnitude against a
// 16-bit quantizer step exceeds int32.
func dequant(v int, q uint16) int32 {
	p := int64(v) * int64(q)

	if p > maxCoef {
		return maxCoef
	}

	if p < -maxCoef {
		return -maxCoef
	}

	return int32(p)
}

// intervalDecoder decodes the MCUs of one restart interval. Each worker owns
// one: the bit reader and DC predictors are private, while tables, geometry
// and plane slices are shared read-only through the session decoder. Plane
// writes are disjoint across workers because intervals partition the MCUs.
type intervalDecoder struct {
	d      *decoder
	br     bitReader
	dcPred [3]int
	block  [64]int32
}

// run decodes MCUs [mcuStart, mcuEnd) from the worker's bit reader. Errors
// raised on the hot path are recovered here and returned as values. When
// cancel is non-nil the worker polls it at MCU row boundaries and abandons
// the rest of its interval once a peer has failed.
func (w *intervalDecoder) run(mcuStart, mcuEnd int, cancel *atomic.Pointer[workerError]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if de, ok := r.(errDecode); ok {
				err = de.error
			} else {
				// Propagate runtime panics.
				panic(r)
			}
		}
	}()

	d := w.d

	for mcu := mcuStart; mcu < mcuEnd; mcu++ {
		mbx := mcu % d.mbWidth
		mby := mcu / d.mbWidth

		if mbx == 0 && cancel != nil && cancel.Load() != nil {
			return nil
		}

		for i := 0; i < d.ncomp; i++ {
			c := &d.comp[i]

			for sby := 0; sby < c.ssY; sby++ {
				for sbx := 0; sbx < c.ssX; sbx++ {
					offset := ((mby*c.ssY+sby)*c.stride + mbx*c.ssX + sbx) << 3

					w.decodeBlock(c, i, offset)
				}
			}
		}
	}

	return nil
}

// decodeBlock decodes a single 8x8 block of a component: entropy decoding of
// the DC and AC coefficients, dequantization fused with un-zig-zagging, and
// the IDCT into the component plane.
func (w *intervalDecoder) decodeBlock(c *component, ci int, outOffset int) {
	d := w.d

	// This clears the array to zeros.
	w.block = [64]int32{}

	// Cache the tables used in the loop. The quantization table is stored
	// in natural (row-major) order.
	qt := d.qtab[c.qtSel]
	dcVLC := d.vlcTab[c.dcTabSel]
	acVLC := d.vlcTab[c.acTabSel+2]

	// DC coefficient: the symbol is a magnitude category; the raw bits that
	// follow encode a signed difference against the running predictor.
	s := decodeSymbol(&w.br, dcVLC)

	var diff int
	if s != 0 {
		diff = w.br.receive(int(s))
	}

	w.dcPred[ci] += diff
	w.block[0] = dequant(w.dcPred[ci], qt[0])

	// AC coefficients: high nibble is a zero run, low nibble a magnitude
	// category. 0x00 ends the block, 0xF0 skips sixteen zeros.
	coef := 1
	for coef <= 63 {
		rs := decodeSymbol(&w.br, acVLC)

		if rs&0x0F == 0 {
			if rs == 0 { // EOB
				break
			}

			if rs != 0xF0 {
				panic(errDecode{fmt.Errorf("%w: reserved AC symbol 0x%02X", ErrMalformedStream, rs)})
			}

			coef += 16

			continue
		}

		coef += int(rs >> 4)
		if coef > 63 {
			panic(errDecode{fmt.Errorf("%w: AC run past end of block", ErrMalformedStream)})
		}

		// Dequantize straight into natural order.
		nat := zz[coef]
		w.block[nat] = dequant(w.br.receive(int(rs&0x0F)), qt[nat])
		coef++
	}

	idct(&w.block, c.pixels, outOffset, c.stride)
}
