// Package jpegz decodes baseline (sequential, Huffman-coded) JPEG streams
// into raw pixel buffers. The entropy-coded scan is sharded at restart
// markers and decoded on a bounded worker pool, so images written with a
// restart interval decode on all available cores. Corrupt input fails
// loudly; the decoder never conceals errors or returns a partial image.
package jpegz

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
)

// Colorspace selects the layout of the decoded pixel buffer.
type Colorspace int

const (
	// AutoColorspace picks Grayscale for single-component images and RGB
	// for three-component images.
	AutoColorspace Colorspace = iota
	// Grayscale is one byte per pixel (the luma plane).
	Grayscale
	// RGB is three bytes per pixel.
	RGB
	// RGBA is four bytes per pixel with alpha fixed at 255.
	RGBA
	// BGR is RGB with the channel order reversed.
	BGR
	// BGRA is RGBA with the color channels reversed.
	BGRA
)

// Channels returns the number of bytes per pixel for the colorspace.
func (cs Colorspace) Channels() int {
	switch cs {
	case Grayscale:
		return 1
	case RGB, BGR:
		return 3
	case RGBA, BGRA:
		return 4
	}

	return 0
}

// String implements fmt.Stringer.
func (cs Colorspace) String() string {
	switch cs {
	case AutoColorspace:
		return "Auto"
	case Grayscale:
		return "Grayscale"
	case RGB:
		return "RGB"
	case RGBA:
		return "RGBA"
	case BGR:
		return "BGR"
	case BGRA:
		return "BGRA"
	}

	return fmt.Sprintf("Colorspace(%d)", int(cs))
}

// UpsampleMethod defines the algorithm used for chroma upsampling.
type UpsampleMethod int

const (
	// NearestNeighbor replicates each subsampled chroma sample across the
	// footprint it represents. This is the output contract: fast, exact,
	// and deterministic.
	NearestNeighbor UpsampleMethod = iota
	// CatmullRom is a higher-quality 4-tap interpolation filter. Opting in
	// changes the output bytes of subsampled images.
	CatmullRom
)

// Options specifies decoding parameters.
type Options struct {
	// Colorspace selects the output pixel layout. The zero value picks
	// Grayscale or RGB depending on the source image.
	Colorspace Colorspace
	// Workers sizes the decode worker pool. Zero or negative means one
	// worker per available CPU.
	Workers int
	// Strict rejects any deviation from the format instead of attempting
	// lenient parsing (stray bytes before SOI, restart markers outside a
	// scan, surplus restart segments, DNL mismatches).
	Strict bool
	// UpsampleMethod selects the chroma upsampling filter.
	UpsampleMethod UpsampleMethod
}

// Image is a decoded image. Pix holds interleaved samples in row-major
// order, top to bottom, left to right, tightly packed: Stride is always
// Width*Colorspace.Channels(). Ownership transfers to the caller; the
// decoder keeps no reference after returning.
type Image struct {
	Width      int
	Height     int
	Colorspace Colorspace
	Stride     int
	Pix        []byte
}

// A reasonable upper limit for the size of JPEG headers.
// Most headers are well under this size (64KB).
const maxHeaderSize = 65536

// A pool for header-sized buffers to reduce allocations in DecodeConfig.
var headerBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, maxHeaderSize)

		return &b
	},
}

// decoderPool reuses decoder structs, keeping the large Huffman lookup
// tables allocated across calls.
var decoderPool = sync.Pool{
	New: func() interface{} {
		return newDecoder()
	},
}

// Interface to check if a reader knows its remaining length.
type readerWithLen interface {
	Len() int
}

// readAllData reads data from r, pre-allocating if the size is known.
func readAllData(r io.Reader) ([]byte, error) {
	// Pre-allocate buffer if the reader knows its remaining length.
	// This significantly reduces allocations compared to io.ReadAll for large images.
	if rl, ok := r.(readerWithLen); ok {
		size := rl.Len()
		if size > 0 {
			data := make([]byte, size)
			_, err := io.ReadFull(r, data)
			if err != nil {
				return nil, fmt.Errorf("failed to read image data: %w", err)
			}

			return data, nil
		}
	}

	// Fallback for readers that don't implement Len() (e.g., network streams, os.File).
	return io.ReadAll(r)
}

// DecodeBytes decodes a baseline JPEG stream held in memory and returns the
// raw pixel buffer. A nil opts decodes with defaults: automatic colorspace,
// one worker per CPU, lenient parsing, nearest-neighbor upsampling.
func DecodeBytes(data []byte, opts *Options) (*Image, error) {
	d := decoderPool.Get().(*decoder)
	defer func() {
		d.reset()
		decoderPool.Put(d)
	}()

	d.applyOptions(opts)

	return d.decode(data, false)
}

// Decode reads a JPEG image from r and returns it as an [image.Image].
// Single-component images decode to *image.Gray, everything else to
// *image.RGBA. The Colorspace option is ignored here; use DecodeBytes for
// explicit pixel layouts.
func Decode(r io.Reader, opts ...*Options) (image.Image, error) {
	data, err := readAllData(r)
	if err != nil {
		return nil, err
	}

	d := decoderPool.Get().(*decoder)
	defer func() {
		d.reset()
		decoderPool.Put(d)
	}()

	if len(opts) > 0 && opts[0] != nil {
		d.applyOptions(opts[0])
	} else {
		d.applyOptions(nil)
	}

	d.colorspace = AutoColorspace
	d.preferRGBA = true

	img, err := d.decode(data, false)
	if err != nil {
		return nil, err
	}

	rect := image.Rect(0, 0, img.Width, img.Height)
	switch img.Colorspace {
	case Grayscale:
		return &image.Gray{Pix: img.Pix, Stride: img.Stride, Rect: rect}, nil
	case RGBA:
		return &image.RGBA{Pix: img.Pix, Stride: img.Stride, Rect: rect}, nil
	default:
		// decode resolves AutoColorspace to Grayscale or RGBA when
		// preferRGBA is set, so this path is unreachable.
		return nil, ErrMalformedStream
	}
}

// DecodeConfig returns the color model and dimensions of a JPEG image
// without decoding the entire image data.
func DecodeConfig(r io.Reader) (image.Config, error) {
	// Use a pooled buffer to avoid allocating a large slice on every call.
	bufPtr := headerBufferPool.Get().(*[]byte)
	defer headerBufferPool.Put(bufPtr)
	headerData := *bufPtr

	// Read the start of the file into the pooled buffer. An
	// io.ErrUnexpectedEOF just means the file is smaller than the buffer.
	n, err := io.ReadFull(r, headerData)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return image.Config{}, err
	}

	if n == 0 {
		return image.Config{}, ErrMalformedStream
	}

	d := decoderPool.Get().(*decoder)
	defer func() {
		d.reset()
		decoderPool.Put(d)
	}()

	d.applyOptions(nil)

	if _, err := d.decode(headerData[:n], true); err != nil {
		return image.Config{}, err
	}

	var cm color.Model
	switch d.ncomp {
	case 1:
		cm = color.GrayModel
	case 3:
		if d.isRGB {
			cm = color.RGBAModel
		} else {
			cm = color.YCbCrModel
		}
	default:
		return image.Config{}, ErrUnsupportedFeature
	}

	return image.Config{
		ColorModel: cm,
		Width:      d.width,
		Height:     d.height,
	}, nil
}

// clamp clamps an int32 value to the valid 8-bit sample range [0, 255].
func clamp(x int32) byte {
	if x < 0 {
		return 0
	}

	if x > 255 {
		return 255
	}

	return byte(x)
}

// init registers the JPEG format with the standard library's image package,
// so image.Decode recognizes JPEG files using this package.
func init() {
	decodeWrapper := func(r io.Reader) (image.Image, error) {
		return Decode(r)
	}

	image.RegisterFormat("jpeg", "\xff\xd8", decodeWrapper, DecodeConfig)
}
