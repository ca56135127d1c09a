package jpegz

// Chroma upsampling. Subsampled planes are doubled axis by axis until they
// reach the luma resolution; sampling factors are validated as powers of two
// at the frame header, so shift-doubling always converges.

// 4-tap Catmull-Rom filter coefficients, scaled by 2^7.
const (
	cf4A = -9
	cf4B = 111
	cf4C = 29
	cf4D = -3
	cf3A = 28
	cf3B = 109
	cf3C = -9
	cf3X = 104
	cf3Y = 27
	cf3Z = -3
	cf2A = 139
	cf2B = -11
)

// cf descales and clamps a filter accumulator.
func cf(x int32) byte {
	return clamp((x + 64) >> 7)
}

// upsample brings one component plane to full resolution using the method
// selected for the session.
func (d *decoder) upsample(c *component, width, height int) {
	if d.upsampleMethod == CatmullRom {
		upsampleCatmullRom(c, width, height)

		return
	}

	upsampleNearestNeighbor(c, width, height)
}

// upsampleNearestNeighbor replicates each subsampled sample across the
// footprint it represents. Deterministic and cheap; this is the default.
func upsampleNearestNeighbor(c *component, width, height int) {
	var xShift, yShift uint
	newWidth := c.width
	newHeight := c.height

	for newWidth < width {
		newWidth <<= 1
		xShift++
	}

	for newHeight < height {
		newHeight <<= 1
		yShift++
	}

	if newWidth == c.width && newHeight == c.height {
		return
	}

	// Fast path for 4:2:0, by far the most common layout: expand each source
	// row horizontally once and duplicate it.
	if xShift == 1 && yShift == 1 {
		srcWidth := c.width
		srcHeight := c.height
		srcStride := c.stride
		src := c.pixels

		c.width = newWidth
		c.height = newHeight
		c.stride = newWidth

		out := make([]byte, newWidth*newHeight)
		c.pixels = out

		for y := 0; y < srcHeight; y++ {
			srcRow := src[y*srcStride : y*srcStride+srcWidth]
			dstRow1 := out[2*y*newWidth : (2*y+1)*newWidth]
			dstRow2 := out[(2*y+1)*newWidth : (2*y+2)*newWidth]

			k := 0
			for x := 0; x < srcWidth; x++ {
				v := srcRow[x]
				dstRow1[k] = v
				dstRow1[k+1] = v
				k += 2
			}

			copy(dstRow2, dstRow1)
		}

		return
	}

	src := c.pixels
	srcStride := c.stride
	out := make([]byte, newWidth*newHeight)

	for y := 0; y < newHeight; y++ {
		lin := src[(y>>yShift)*srcStride:]
		lout := out[y*newWidth:]

		for x := 0; x < newWidth; x++ {
			lout[x] = lin[x>>xShift]
		}
	}

	c.width = newWidth
	c.height = newHeight
	c.stride = newWidth
	c.pixels = out
}

// upsampleCatmullRom doubles the plane with the 4-tap interpolation filter
// until it reaches full resolution. Opt-in; changes output bytes relative to
// the nearest-neighbor contract.
func upsampleCatmullRom(c *component, width, height int) {
	for c.width < width || c.height < height {
		if c.width < width {
			upsampleH(c)
		}

		if c.height < height {
			upsampleV(c)
		}
	}
}

// upsampleH doubles the plane horizontally with the Catmull-Rom filter,
// mirroring the boundary taps at both edges. The frame decoder guarantees
// width >= 3 when this runs.
func upsampleH(c *component) {
	newWidth := c.width << 1
	out := make([]byte, newWidth*c.height)
	lin := c.pixels

	for y := 0; y < c.height; y++ {
		baseIn := y * c.stride
		baseOut := y * newWidth

		p0 := int32(lin[baseIn])
		p1 := int32(lin[baseIn+1])
		p2 := int32(lin[baseIn+2])

		out[baseOut] = cf(cf2A*p0 + cf2B*p1)
		out[baseOut+1] = cf(cf3X*p0 + cf3Y*p1 + cf3Z*p2)
		out[baseOut+2] = cf(cf3A*p0 + cf3B*p1 + cf3C*p2)

		for x := 0; x < c.width-3; x++ {
			p0 = int32(lin[baseIn+x])
			p1 = int32(lin[baseIn+x+1])
			p2 = int32(lin[baseIn+x+2])
			p3 := int32(lin[baseIn+x+3])

			out[baseOut+(x<<1)+3] = cf(cf4A*p0 + cf4B*p1 + cf4C*p2 + cf4D*p3)
			out[baseOut+(x<<1)+4] = cf(cf4D*p0 + cf4C*p1 + cf4B*p2 + cf4A*p3)
		}

		// Mirrored taps against the right edge.
		p0 = int32(lin[baseIn+c.width-1])
		p1 = int32(lin[baseIn+c.width-2])
		p2 = int32(lin[baseIn+c.width-3])

		out[baseOut+newWidth-3] = cf(cf3A*p0 + cf3B*p1 + cf3C*p2)
		out[baseOut+newWidth-2] = cf(cf3X*p0 + cf3Y*p1 + cf3Z*p2)
		out[baseOut+newWidth-1] = cf(cf2A*p0 + cf2B*p1)
	}

	c.width = newWidth
	c.stride = newWidth
	c.pixels = out
}

// upsampleV doubles the plane vertically; the column-wise twin of upsampleH.
// The frame decoder guarantees height >= 3 when this runs.
func upsampleV(c *component) {
	w := c.width
	s1 := c.stride
	s2 := s1 + s1
	s3 := s2 + s1
	newHeight := c.height << 1

	out := make([]byte, w*newHeight)

	for x := 0; x < w; x++ {
		cin := x
		cout := x

		p0 := int32(c.pixels[cin])
		p1 := int32(c.pixels[cin+s1])
		p2 := int32(c.pixels[cin+s2])

		out[cout] = cf(cf2A*p0 + cf2B*p1)
		cout += w
		out[cout] = cf(cf3X*p0 + cf3Y*p1 + cf3Z*p2)
		cout += w
		out[cout] = cf(cf3A*p0 + cf3B*p1 + cf3C*p2)

		for y := 0; y < c.height-3; y++ {
			p0 = int32(c.pixels[cin])
			p1 = int32(c.pixels[cin+s1])
			p2 = int32(c.pixels[cin+s2])
			p3 := int32(c.pixels[cin+s3])

			cout += w
			out[cout] = cf(cf4A*p0 + cf4B*p1 + cf4C*p2 + cf4D*p3)
			cout += w
			out[cout] = cf(cf4D*p0 + cf4C*p1 + cf4B*p2 + cf4A*p3)

			cin += s1
		}

		// Mirrored taps against the bottom edge.
		p0 = int32(c.pixels[cin+s2])
		p1 = int32(c.pixels[cin+s1])
		p2 = int32(c.pixels[cin])

		cout += w
		out[cout] = cf(cf3A*p0 + cf3B*p1 + cf3C*p2)
		cout += w
		out[cout] = cf(cf3X*p0 + cf3Y*p1 + cf3Z*p2)
		cout += w
		out[cout] = cf(cf2A*p0 + cf2B*p1)
	}

	c.height = newHeight
	c.stride = c.width
	c.pixels = out
}
