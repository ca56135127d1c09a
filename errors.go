package jpegz

import "errors"

// Error values reported by the decoder. Decoding never repairs corrupt
// input: the first error terminates the call and no partial image is
// returned.
var (
	// ErrMalformedStream reports bad marker sequencing, a truncated or
	// over-long segment, or entropy data that violates the format.
	ErrMalformedStream = errors.New("malformed stream")

	// ErrUnsupportedFeature reports a valid JPEG feature outside the
	// baseline sequential subset (progressive, arithmetic, lossless,
	// extended precision). The message names the offending marker.
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrInvalidHuffmanTable reports a DHT segment whose code-length
	// histogram cannot form a canonical prefix code.
	ErrInvalidHuffmanTable = errors.New("invalid huffman table")

	// ErrInvalidHuffmanCode reports entropy data that matches no code in
	// the active Huffman table within 16 bits.
	ErrInvalidHuffmanCode = errors.New("invalid huffman code")

	// ErrBitstreamExhausted reports a scan that ran out of bits mid-block.
	ErrBitstreamExhausted = errors.New("bitstream exhausted")

	// ErrInconsistentDimensions reports a scan header that references
	// components or tables the frame header never declared.
	ErrInconsistentDimensions = errors.New("inconsistent dimensions")

	// ErrWorkerFailure wraps the first error observed by any parallel
	// worker. The cause is available through errors.Is/errors.Unwrap.
	ErrWorkerFailure = errors.New("worker failure")
)

// errDecode carries a decode error through panic in the entropy hot path.
// It never escapes the decoder: the interval runner recovers it and turns
// it back into an error value.
type errDecode struct{ error }
