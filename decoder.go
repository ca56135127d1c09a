package jpegz

import (
	"fmt"
	"runtime"
)

// component stores information about a single color component (e.g., Y, Cb, or Cr).
type component struct {
	id       int    // Component identifier from the frame header.
	ssX, ssY int    // Sampling factors for X and Y axes.
	width    int    // Plane width in samples (before upsampling).
	height   int    // Plane height in samples (before upsampling).
	stride   int    // Bytes from one plane row to the next.
	qtSel    int    // Quantization table selector.
	dcTabSel int    // DC Huffman table selector.
	acTabSel int    // AC Huffman table selector.
	pixels   []byte // Decoded plane samples.
}

// decoder holds the state of one JPEG decoding session. Segment parsing and
// table construction run on the calling goroutine; the entropy-coded scan is
// handed to interval workers which share the decoder read-only.
type decoder struct {
	data              []byte // Input buffer containing the entire JPEG stream.
	pos               int    // Current position index in the input buffer.
	size              int    // Remaining bytes to be processed.
	length            int    // Payload length of the current marker segment.
	width, height     int    // Dimensions of the final image.
	mbWidth, mbHeight int    // Dimensions of the image in MCUs.
	mbSizeX, mbSizeY  int    // Dimensions of a single MCU in pixels.
	ssxMax, ssyMax    int    // Maximum sampling factors across components.
	ncomp             int    // Number of color components (1 or 3).
	comp              [3]component
	qtab              [4]*[64]uint16     // Quantization tables in natural order. Pointers for pooling.
	qtAvail           int                // Bitmask of loaded quantization tables.
	vlcTab            [4]*[65536]vlcCode // Huffman lookup tables: DC 0-1, AC 2-3. Pointers for pooling.
	vlcAvail          int                // Bitmask of built Huffman tables.
	rstInterval       int                // Restart interval in MCUs; 0 when absent.
	isRGB             bool               // True when the stream carries RGB instead of YCbCr.
	sofSeen           bool
	planesAlloc       bool

	// Caller-facing configuration.
	colorspace     Colorspace
	workers        int
	strict         bool
	upsampleMethod UpsampleMethod
	preferRGBA     bool // Decode() wants an image.Image-compatible layout.
}

// newDecoder creates a new decoder instance and allocates the large tables.
func newDecoder() *decoder {
	d := new(decoder)
	for i := 0; i < 4; i++ {
		d.qtab[i] = new([64]uint16)
		d.vlcTab[i] = new([65536]vlcCode)
	}

	return d
}

// reset clears the decoder state for reuse, preserving the allocated tables.
func (d *decoder) reset() {
	qtabTmp := d.qtab
	vlcTmp := d.vlcTab

	// Zero the struct. This drops references (data, planes) for the GC and
	// resets all state variables.
	*d = decoder{}

	d.qtab = qtabTmp
	d.vlcTab = vlcTmp
}

// applyOptions copies caller options into the session, resolving defaults.
func (d *decoder) applyOptions(opts *Options) {
	d.colorspace = AutoColorspace
	d.workers = runtime.GOMAXPROCS(0)
	d.strict = false
	d.upsampleMethod = NearestNeighbor
	d.preferRGBA = false

	if opts == nil {
		return
	}

	d.colorspace = opts.Colorspace
	d.strict = opts.Strict
	d.upsampleMethod = opts.UpsampleMethod

	if opts.Workers > 0 {
		d.workers = opts.Workers
	}
}

// zz is the zigzag ordering table. It maps the 1D order of coefficients in
// the entropy stream to their 2D position in an 8x8 block.
var zz = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// skip advances the current position in the input buffer by 'count' bytes.
func (d *decoder) skip(count int) error {
	d.pos += count
	d.size -= count

	if d.length >= count {
		d.length -= count
	} else {
		d.length = 0
	}

	if d.size < 0 {
		return fmt.Errorf("%w: truncated segment", ErrMalformedStream)
	}

	return nil
}

// decode16 reads a 16-bit big-endian integer from the specified offset.
func (d *decoder) decode16(offset int) int {
	p := d.pos + offset

	return (int(d.data[p]) << 8) | int(d.data[p+1])
}

// decodeLength reads the 16-bit length field of a marker segment and leaves
// d.length holding the size of the remaining payload. The declared length
// includes the field itself and must not exceed the remaining stream.
func (d *decoder) decodeLength() error {
	if d.size < 2 {
		return fmt.Errorf("%w: truncated segment", ErrMalformedStream)
	}

	d.length = d.decode16(0)
	if d.length > d.size {
		return fmt.Errorf("%w: segment length %d exceeds remaining stream", ErrMalformedStream, d.length)
	}

	if d.length < 2 {
		return fmt.Errorf("%w: segment length %d below minimum", ErrMalformedStream, d.length)
	}

	return d.skip(2)
}

// skipMarker reads the length of the current marker's payload and skips it.
func (d *decoder) skipMarker() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	return d.skip(d.length)
}

// sofName names the non-baseline start-of-frame markers for error messages.
func sofName(marker byte) string {
	switch marker {
	case 0xC1:
		return "extended sequential DCT (SOF1)"
	case 0xC2:
		return "progressive DCT (SOF2)"
	case 0xC3:
		return "lossless sequential (SOF3)"
	case 0xC5:
		return "differential sequential DCT (SOF5)"
	case 0xC6:
		return "differential progressive DCT (SOF6)"
	case 0xC7:
		return "differential lossless (SOF7)"
	case 0xC9:
		return "extended sequential DCT, arithmetic coding (SOF9)"
	case 0xCA:
		return "progressive DCT, arithmetic coding (SOF10)"
	case 0xCB:
		return "lossless sequential, arithmetic coding (SOF11)"
	case 0xCD:
		return "differential sequential DCT, arithmetic coding (SOF13)"
	case 0xCE:
		return "differential progressive DCT, arithmetic coding (SOF14)"
	case 0xCF:
		return "differential lossless, arithmetic coding (SOF15)"
	}

	return fmt.Sprintf("SOF (0xFF%02X)", marker)
}

// decodeSOF decodes the baseline Start of Frame segment: image dimensions,
// component count, and per-component sampling factors and table bindings.
// If configOnly is true, it doesn't allocate memory for plane data.
func (d *decoder) decodeSOF(configOnly bool) error {
	if d.sofSeen {
		return fmt.Errorf("%w: multiple frame headers", ErrMalformedStream)
	}

	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 9 {
		return fmt.Errorf("%w: short frame header", ErrMalformedStream)
	}

	if d.data[d.pos] != 8 {
		return fmt.Errorf("%w: %d-bit sample precision", ErrUnsupportedFeature, d.data[d.pos])
	}

	d.height = d.decode16(1)
	d.width = d.decode16(3)
	if d.width == 0 {
		return fmt.Errorf("%w: zero image width", ErrMalformedStream)
	}
	// A zero height is legal: the line count arrives in a DNL segment after
	// the scan. Plane allocation is deferred until it is known.

	d.ncomp = int(d.data[d.pos+5])
	if err := d.skip(6); err != nil {
		return err
	}

	switch d.ncomp {
	case 1, 3: // Grayscale or YCbCr/RGB.
	default:
		return fmt.Errorf("%w: %d-component image", ErrUnsupportedFeature, d.ncomp)
	}

	if d.length < d.ncomp*3 {
		return fmt.Errorf("%w: short frame header", ErrMalformedStream)
	}

	d.ssxMax, d.ssyMax = 0, 0

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.id = int(d.data[d.pos])

		c.ssX = int(d.data[d.pos+1]) >> 4
		c.ssY = int(d.data[d.pos+1]) & 15

		if c.ssX < 1 || c.ssX > 4 || c.ssY < 1 || c.ssY > 4 {
			return fmt.Errorf("%w: sampling factors %dx%d", ErrMalformedStream, c.ssX, c.ssY)
		}

		// The replicating upsampler doubles planes until they reach full
		// resolution, so factors must be powers of two.
		if c.ssX&(c.ssX-1) != 0 || c.ssY&(c.ssY-1) != 0 {
			return fmt.Errorf("%w: non-power-of-two sampling factors %dx%d", ErrUnsupportedFeature, c.ssX, c.ssY)
		}

		c.qtSel = int(d.data[d.pos+2])
		if c.qtSel&0xFC != 0 {
			return fmt.Errorf("%w: quantization table selector %d", ErrMalformedStream, c.qtSel)
		}

		if err := d.skip(3); err != nil {
			return err
		}

		if c.ssX > d.ssxMax {
			d.ssxMax = c.ssX
		}

		if c.ssY > d.ssyMax {
			d.ssyMax = c.ssY
		}
	}

	if d.ncomp == 1 {
		d.comp[0].ssX, d.comp[0].ssY = 1, 1
		d.ssxMax, d.ssyMax = 1, 1
	} else if d.comp[0].id == 'R' && d.comp[1].id == 'G' && d.comp[2].id == 'B' {
		// Component IDs 'R','G','B' mark an RGB-coded stream; the Adobe
		// APP14 transform byte is the other signal (see decodeAPP14).
		d.isRGB = true
	}

	d.sofSeen = true

	if d.height > 0 {
		if err := d.computeGeometry(configOnly); err != nil {
			return err
		}
	}

	if d.length > 0 {
		return d.skip(d.length)
	}

	return nil
}

// computeGeometry derives MCU and plane dimensions from the frame header and
// allocates the component planes. Called from decodeSOF, or from the scan
// decoder once a DNL segment has supplied a deferred line count.
func (d *decoder) computeGeometry(configOnly bool) error {
	if d.width <= 0 || d.height <= 0 {
		return fmt.Errorf("%w: zero image dimensions", ErrMalformedStream)
	}

	d.mbSizeX = d.ssxMax << 3
	d.mbSizeY = d.ssyMax << 3
	d.mbWidth = (d.width + d.mbSizeX - 1) / d.mbSizeX
	d.mbHeight = (d.height + d.mbSizeY - 1) / d.mbSizeY

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.width = (d.width*c.ssX + d.ssxMax - 1) / d.ssxMax
		c.height = (d.height*c.ssY + d.ssyMax - 1) / d.ssyMax
		c.stride = d.mbWidth * c.ssX << 3

		if d.upsampleMethod == CatmullRom {
			// The 4-tap filter needs three neighbors per axis.
			if (c.width < 3 && c.ssX != d.ssxMax) || (c.height < 3 && c.ssY != d.ssyMax) {
				return fmt.Errorf("%w: image too small for interpolated upsampling", ErrUnsupportedFeature)
			}
		}

		if !configOnly {
			planeSize := c.stride * d.mbHeight * c.ssY << 3
			if planeSize <= 0 {
				return fmt.Errorf("%w: plane size overflow", ErrMalformedStream)
			}

			c.pixels = make([]byte, planeSize)
		}
	}

	d.planesAlloc = !configOnly

	return nil
}

// decodeDQT decodes the Define Quantization Table segment. Tables are
// un-zig-zagged on load and stored in natural (row-major) order.
func (d *decoder) decodeDQT() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	for d.length > 0 {
		pqTq := int(d.data[d.pos])
		pq := pqTq >> 4
		tq := pqTq & 0x0F

		if pq > 1 {
			return fmt.Errorf("%w: quantization table precision %d", ErrMalformedStream, pq)
		}

		if tq > 3 {
			return fmt.Errorf("%w: quantization table id %d", ErrMalformedStream, tq)
		}

		entrySize := 64 << pq
		if d.length < 1+entrySize {
			return fmt.Errorf("%w: truncated quantization table", ErrMalformedStream)
		}

		t := d.qtab[tq]

		// Pooling: clear the table before filling it.
		*t = [64]uint16{}

		for i := 0; i < 64; i++ {
			var v uint16
			if pq == 0 {
				v = uint16(d.data[d.pos+1+i])
			} else {
				v = uint16(d.data[d.pos+1+i*2])<<8 | uint16(d.data[d.pos+2+i*2])
			}

			if v == 0 {
				// A zero entry would make dequantized coefficients
				// ill-defined.
				return fmt.Errorf("%w: zero quantization table entry", ErrMalformedStream)
			}

			t[zz[i]] = v
		}

		d.qtAvail |= 1 << tq

		if err := d.skip(1 + entrySize); err != nil {
			return err
		}
	}

	return nil
}

// decodeDHT decodes the Define Huffman Table segment and builds the fast
// lookup tables used by the entropy decoder.
func (d *decoder) decodeDHT() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	for d.length >= 17 {
		i := int(d.data[d.pos])
		if i&0xEC != 0 {
			return fmt.Errorf("%w: huffman table class/id 0x%02X", ErrMalformedStream, i)
		}

		if i&0x02 != 0 {
			// Table ids 2-3 only appear outside the baseline subset.
			return fmt.Errorf("%w: huffman table id %d", ErrUnsupportedFeature, i&0x0F)
		}

		i = (i | i>>3) & 3 // Slot index: 0-1 for DC, 2-3 for AC.

		var counts [16]uint8
		for codeLen := 1; codeLen <= 16; codeLen++ {
			counts[codeLen-1] = d.data[d.pos+codeLen]
		}

		if err := d.skip(17); err != nil {
			return err
		}

		var n int
		for _, num := range counts {
			n += int(num)
		}

		if n > 256 || n > d.length {
			return fmt.Errorf("%w: huffman table with %d symbols", ErrMalformedStream, n)
		}

		if err := buildVLC(&counts, d.data[d.pos:d.pos+n], d.vlcTab[i]); err != nil {
			return err
		}

		d.vlcAvail |= 1 << i

		if err := d.skip(n); err != nil {
			return err
		}
	}

	if d.length != 0 {
		return fmt.Errorf("%w: trailing bytes in huffman segment", ErrMalformedStream)
	}

	return nil
}

// decodeDRI decodes the Define Restart Interval segment.
func (d *decoder) decodeDRI() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 2 {
		return fmt.Errorf("%w: short restart interval segment", ErrMalformedStream)
	}

	d.rstInterval = d.decode16(0)

	return d.skip(d.length)
}

// decodeDNL decodes a Define Number of Lines segment. It is authoritative
// only when the frame header declared zero height; otherwise strict mode
// cross-checks it against the known height.
func (d *decoder) decodeDNL() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 2 {
		return fmt.Errorf("%w: short DNL segment", ErrMalformedStream)
	}

	lines := d.decode16(0)

	if d.height == 0 {
		d.height = lines
	} else if d.strict && lines != d.height {
		return fmt.Errorf("%w: DNL declares %d lines, frame header %d", ErrMalformedStream, lines, d.height)
	}

	return d.skip(d.length)
}

// decodeAPP14 inspects the Adobe APP14 marker for the color transform byte;
// transform 0 marks RGB-coded data. The rest of the payload is opaque.
func (d *decoder) decodeAPP14() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length >= 12 &&
		d.data[d.pos+0] == 'A' &&
		d.data[d.pos+1] == 'd' &&
		d.data[d.pos+2] == 'o' &&
		d.data[d.pos+3] == 'b' &&
		d.data[d.pos+4] == 'e' {
		if d.data[d.pos+11] == 0 {
			d.isRGB = true
		}
	}

	return d.skip(d.length)
}

// decode parses the stream from a byte slice: marker loop, table loading,
// scan decode, and output conversion. If configOnly is true, it stops after
// reading the image metadata (SOF marker).
func (d *decoder) decode(data []byte, configOnly bool) (*Image, error) {
	d.data = data
	d.pos = 0
	d.size = len(data)

	// Locate SOI. Non-marker bytes are skipped defensively only before the
	// first marker, and only in lenient mode.
	if d.size < 2 {
		return nil, fmt.Errorf("%w: missing SOI marker", ErrMalformedStream)
	}

	if d.data[0] != 0xFF || d.data[1] != 0xD8 {
		if d.strict {
			return nil, fmt.Errorf("%w: missing SOI marker", ErrMalformedStream)
		}

		start := -1
		for i := 0; i+1 < len(d.data); i++ {
			if d.data[i] == 0xFF && d.data[i+1] == 0xD8 {
				start = i

				break
			}
		}

		if start < 0 {
			return nil, fmt.Errorf("%w: missing SOI marker", ErrMalformedStream)
		}

		if err := d.skip(start); err != nil {
			return nil, err
		}
	}

	if err := d.skip(2); err != nil {
		return nil, err
	}

	var scanDecoded bool

markerLoop:
	for {
		if d.size < 2 {
			break markerLoop
		}

		if d.data[d.pos] != 0xFF {
			return nil, fmt.Errorf("%w: expected marker, found 0x%02X", ErrMalformedStream, d.data[d.pos])
		}

		marker := d.data[d.pos+1]

		// Fill bytes: any number of 0xFF may precede a marker code.
		if marker == 0xFF {
			if err := d.skip(1); err != nil {
				return nil, err
			}

			continue
		}

		if err := d.skip(2); err != nil {
			return nil, err
		}

		switch marker {
		case 0xC0: // SOF0 (Start of Frame, Baseline DCT)
			if err := d.decodeSOF(configOnly); err != nil {
				return nil, err
			}

			if configOnly {
				break markerLoop
			}
		case 0xC4: // DHT (Define Huffman Table)
			if err := d.decodeDHT(); err != nil {
				return nil, err
			}
		case 0xDB: // DQT (Define Quantization Table)
			if err := d.decodeDQT(); err != nil {
				return nil, err
			}
		case 0xDD: // DRI (Define Restart Interval)
			if err := d.decodeDRI(); err != nil {
				return nil, err
			}
		case 0xDC: // DNL (Define Number of Lines)
			if err := d.decodeDNL(); err != nil {
				return nil, err
			}
		case 0xDA: // SOS (Start of Scan)
			if !d.sofSeen {
				return nil, fmt.Errorf("%w: scan data before frame header", ErrMalformedStream)
			}

			if err := d.decodeScan(); err != nil {
				return nil, err
			}

			scanDecoded = true
		case 0xD9: // EOI (End of Image)
			break markerLoop
		case 0xFE: // COM (Comment)
			if err := d.skipMarker(); err != nil {
				return nil, err
			}
		case 0xD8: // SOI inside the stream
			return nil, fmt.Errorf("%w: unexpected SOI marker", ErrMalformedStream)
		default:
			switch {
			case marker >= 0xE0 && marker <= 0xEF: // APPn, opaque
				if marker == 0xEE {
					if err := d.decodeAPP14(); err != nil {
						return nil, err
					}
				} else if err := d.skipMarker(); err != nil {
					return nil, err
				}
			case marker >= 0xD0 && marker <= 0xD7: // RSTn outside a scan
				if d.strict {
					return nil, fmt.Errorf("%w: restart marker outside entropy-coded data", ErrMalformedStream)
				}
			case marker >= 0xC1 && marker <= 0xCF: // Non-baseline SOFn family
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedFeature, sofName(marker))
			default:
				return nil, fmt.Errorf("%w: unexpected marker 0xFF%02X", ErrMalformedStream, marker)
			}
		}
	}

	if !d.sofSeen {
		return nil, fmt.Errorf("%w: no frame header", ErrMalformedStream)
	}

	if configOnly {
		return nil, nil
	}

	if !scanDecoded {
		return nil, fmt.Errorf("%w: no scan data", ErrMalformedStream)
	}

	return d.render()
}
