package jpegz

// vlcCode is one entry of the direct-indexed Huffman lookup table: the code
// length in bits and the decoded symbol value.
type vlcCode struct {
	bits, code uint8
}

// buildVLC builds canonical Huffman codes from the 16 code-length counts and
// the flattened symbol list of a DHT segment, and expands them into a 16-bit
// direct lookup table: every table index whose leading bits equal a code maps
// to that code's symbol and length, giving O(1) decode for any code length.
//
// Construction walks (code length, next available code) as a state machine:
// codes of length L are assigned in symbol order from the lowest unused code
// of that length, and the starting code of length L+1 is the final code of
// length L shifted left once. A histogram that pushes a code past the 16-bit
// code space is not a canonical prefix code and is rejected.
func buildVLC(counts *[16]uint8, values []byte, vlc *[65536]vlcCode) error {
	// Pooling: clear the table before filling it. Indices left at zero
	// length mark bit patterns that match no code.
	*vlc = [65536]vlcCode{}

	var code uint32
	valueIdx := 0

	for codeLen := 1; codeLen <= 16; codeLen++ {
		numCodes := uint32(counts[codeLen-1])

		// Code space overflow check: after assigning numCodes codes of this
		// length the next free code must still fit in codeLen bits.
		if code+numCodes > 1<<codeLen {
			return ErrInvalidHuffmanTable
		}

		for k := uint32(0); k < numCodes; k++ {
			symbol := values[valueIdx]
			valueIdx++

			shift := 16 - codeLen
			base := code << shift
			span := uint32(1) << shift

			for j := uint32(0); j < span; j++ {
				vlc[base+j] = vlcCode{bits: uint8(codeLen), code: symbol}
			}

			code++
		}

		code <<= 1
	}

	return nil
}

// decodeSymbol reads one Huffman-coded symbol from the bit reader. It peeks
// 16 bits (padded with 1s near the end of the segment), resolves them in the
// lookup table, and consumes exactly the matched code's bits. Called only on
// the entropy hot path; failures travel by panic.
func decodeSymbol(br *bitReader, vlc *[65536]vlcCode) uint8 {
	entry := vlc[br.peek(16)]

	if entry.bits == 0 {
		if br.done && br.bits < 16 {
			// The unmatched pattern includes padding: the real data ended
			// mid-code, which is truncation, not a bad code.
			panic(errDecode{ErrBitstreamExhausted})
		}

		panic(errDecode{ErrInvalidHuffmanCode})
	}

	if br.bits < int(entry.bits) {
		// The match ran into padding: the real data ended mid-code.
		panic(errDecode{ErrBitstreamExhausted})
	}

	br.bits -= int(entry.bits)

	return entry.code
}
