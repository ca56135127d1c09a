package jpegz

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// workerError records the first failure observed across interval workers,
// together with the interval it came from. Published once through an atomic
// pointer; later failures lose the CompareAndSwap and are dropped.
type workerError struct {
	interval int
	err      error
}

// decodeIntervals decodes the restart segments of a scan. With one worker
// (or one segment) it runs inline on the calling goroutine and returns the
// raw decode error. With more it fans the segments out over a bounded pool:
// each worker pulls interval indices from a shared channel, decodes them
// with its own bit reader and DC predictors, and writes into disjoint MCU
// regions of the shared planes. The first failure is published and wrapped
// in ErrWorkerFailure; peers drain quickly by checking the slot between
// intervals and at MCU row boundaries.
func (d *decoder) decodeIntervals(segs []span, ri, total int) error {
	mcuRange := func(i int) (int, int) {
		start := i * ri
		end := start + ri
		if end > total {
			end = total
		}

		return start, end
	}

	nw := d.workers
	if nw > len(segs) {
		nw = len(segs)
	}

	if nw <= 1 {
		w := intervalDecoder{d: d}

		for i, seg := range segs {
			start, end := mcuRange(i)
			w.br = newBitReader(d.data[seg.start:seg.end])
			w.dcPred = [3]int{}

			if err := w.run(start, end, nil); err != nil {
				return err
			}
		}

		return nil
	}

	var firstErr atomic.Pointer[workerError]

	jobs := make(chan int, len(segs))
	for i := range segs {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	wg.Add(nw)

	for g := 0; g < nw; g++ {
		go func() {
			defer wg.Done()

			w := intervalDecoder{d: d}

			for i := range jobs {
				if firstErr.Load() != nil {
					return
				}

				seg := segs[i]
				start, end := mcuRange(i)
				w.br = newBitReader(d.data[seg.start:seg.end])
				w.dcPred = [3]int{}

				if err := w.run(start, end, &firstErr); err != nil {
					firstErr.CompareAndSwap(nil, &workerError{interval: i, err: err})

					return
				}
			}
		}()
	}

	wg.Wait()

	if we := firstErr.Load(); we != nil {
		return fmt.Errorf("%w: restart interval %d: %w", ErrWorkerFailure, we.interval, we.err)
	}

	return nil
}

// render turns the decoded component planes into the caller's pixel layout:
// resolve the output colorspace, bring subsampled planes to full resolution,
// and convert row bands in parallel. All entropy decoding has completed by
// the time this runs, so plane reads are unsynchronized.
func (d *decoder) render() (*Image, error) {
	cs := d.colorspace
	if cs == AutoColorspace {
		switch {
		case d.ncomp == 1:
			cs = Grayscale
		case d.preferRGBA:
			cs = RGBA
		default:
			cs = RGB
		}
	}

	ch := cs.Channels()
	if ch == 0 {
		return nil, fmt.Errorf("%w: colorspace %v", ErrUnsupportedFeature, cs)
	}

	// Grayscale output never needs the chroma planes; copy the luma plane
	// row by row into a tightly packed buffer.
	if cs == Grayscale {
		c := &d.comp[0]
		if c.width < d.width || c.height < d.height {
			d.upsample(c, d.width, d.height)
		}

		out := make([]byte, d.width*d.height)
		for y := 0; y < d.height; y++ {
			copy(out[y*d.width:(y+1)*d.width], c.pixels[y*c.stride:y*c.stride+d.width])
		}

		return &Image{
			Width:      d.width,
			Height:     d.height,
			Colorspace: Grayscale,
			Stride:     d.width,
			Pix:        out,
		}, nil
	}

	if d.ncomp == 3 {
		d.upsamplePlanes()
	}

	stride := d.width * ch
	out := make([]byte, stride*d.height)

	d.forEachRowBand(func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			dst := out[y*stride : (y+1)*stride]
			d.convertRow(dst, y, cs)
		}
	})

	return &Image{
		Width:      d.width,
		Height:     d.height,
		Colorspace: cs,
		Stride:     stride,
		Pix:        out,
	}, nil
}

// upsamplePlanes brings every subsampled component to full resolution. The
// planes are independent, so with a multi-worker session they upsample
// concurrently.
func (d *decoder) upsamplePlanes() {
	if d.workers <= 1 {
		for i := 0; i < d.ncomp; i++ {
			c := &d.comp[i]
			if c.width < d.width || c.height < d.height {
				d.upsample(c, d.width, d.height)
			}
		}

		return
	}

	var wg sync.WaitGroup

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		if c.width >= d.width && c.height >= d.height {
			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			d.upsample(c, d.width, d.height)
		}()
	}

	wg.Wait()
}

// forEachRowBand splits the output rows into contiguous bands, one per
// worker, and runs fn on each band. Bands are disjoint, so fn needs no
// synchronization on the output buffer.
func (d *decoder) forEachRowBand(fn func(y0, y1 int)) {
	bands := d.workers
	if bands > d.height {
		bands = d.height
	}

	if bands <= 1 {
		fn(0, d.height)

		return
	}

	per := (d.height + bands - 1) / bands

	var wg sync.WaitGroup

	for y0 := 0; y0 < d.height; y0 += per {
		y1 := y0 + per
		if y1 > d.height {
			y1 = d.height
		}

		wg.Add(1)

		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y0, y1)
	}

	wg.Wait()
}

// convertRow writes one output row in the requested layout from the
// full-resolution component planes.
func (d *decoder) convertRow(dst []byte, y int, cs Colorspace) {
	if d.ncomp == 1 {
		c := &d.comp[0]
		grayRow(c.pixels[y*c.stride:], dst, d.width, cs)

		return
	}

	p0 := &d.comp[0]
	p1 := &d.comp[1]
	p2 := &d.comp[2]

	r0 := p0.pixels[y*p0.stride:]
	r1 := p1.pixels[y*p1.stride:]
	r2 := p2.pixels[y*p2.stride:]

	if d.isRGB {
		rgbRow(r0, r1, r2, dst, d.width, cs)

		return
	}

	if cs == RGBA {
		ycbcrToRGBARow(r0, r1, r2, dst, d.width)

		return
	}

	ycbcrRow(r0, r1, r2, dst, d.width, cs)
}
