package jpegz

// bitReader consumes the entropy-coded bytes of one restart interval. Each
// worker owns its own reader, so restart intervals decode independently:
// a fresh reader is byte-aligned by construction, which is exactly the
// realignment the format prescribes at a restart marker.
//
// Byte stuffing (0xFF 0x00) is removed transparently during refill. A 0xFF
// followed by anything else terminates the segment's data: the splitter
// guarantees segments end at marker boundaries, so hitting one here only
// happens on trailing fill bytes or corrupt input, and both simply stop the
// refill. Consuming more bits than the segment holds is a hard failure.
type bitReader struct {
	data []byte // Entropy-coded bytes of this segment, stuffing included.
	pos  int    // Next byte to refill from.
	buf  uint64 // Bit buffer; valid bits are the low 'bits' of the stream, left-aligned at bit 'bits'.
	bits int    // Number of valid bits in the buffer.
	done bool   // No more refill bytes (end of segment or marker byte seen).
}

// newBitReader returns a reader over one segment of entropy-coded data.
func newBitReader(data []byte) bitReader {
	return bitReader{data: data}
}

// fill tops the bit buffer up from the segment, destuffing 0xFF00 pairs and
// stopping at markers. The 64-bit buffer refills in whole bytes, so it stops
// at 56+ bits to keep the shift safe.
func (br *bitReader) fill() {
	for br.bits <= 56 && !br.done {
		if br.pos >= len(br.data) {
			br.done = true

			return
		}

		b := br.data[br.pos]
		br.pos++

		if b == 0xFF {
			if br.pos >= len(br.data) {
				// Lone 0xFF at the end of the segment is padding.
				br.done = true

				return
			}

			b2 := br.data[br.pos]

			switch {
			case b2 == 0x00:
				// Stuffed 0xFF00: consume the 0x00, keep 0xFF as data.
				br.pos++
			case b2 == 0xFF:
				// Fill byte before a marker; drop it and rescan.
				continue
			default:
				// Marker byte: the segment's data ends here.
				br.pos--
				br.done = true

				return
			}
		}

		br.buf = br.buf<<8 | uint64(b)
		br.bits += 8
	}
}

// peek returns the next n bits without consuming them, padding with 1 bits
// past the end of the segment (the format's stop-code padding). n <= 16.
func (br *bitReader) peek(n int) int {
	if br.bits < n {
		br.fill()
	}

	if br.bits >= n {
		return int(br.buf>>uint(br.bits-n)) & (1<<n - 1)
	}

	// Underfilled: left-align the remaining bits and pad with 1s.
	short := uint(n - br.bits)

	return int(br.buf&(1<<uint(br.bits)-1))<<short | (1<<short - 1)
}

// getBits consumes n bits, failing loudly when the segment runs dry.
func (br *bitReader) getBits(n int) int {
	if n == 0 {
		return 0
	}

	if br.bits < n {
		br.fill()

		if br.bits < n {
			panic(errDecode{ErrBitstreamExhausted})
		}
	}

	br.bits -= n

	return int(br.buf>>uint(br.bits)) & (1<<n - 1)
}

// receive reads s raw bits following a Huffman symbol and sign-extends them
// into a signed coefficient value: values with a leading 0 bit encode the
// negative half of the magnitude category.
func (br *bitReader) receive(s int) int {
	v := br.getBits(s)

	if v < 1<<(s-1) {
		v += (-1 << s) + 1
	}

	return v
}
