package volume

import "math"

// DownsampleStride returns the smallest integer stride that brings a volume
// of nbytes under the device allocation limit when applied to all three
// axes: ceil(sqrt(nbytes/maxAlloc)). A volume that already fits gets 1.
func DownsampleStride(nbytes, maxAlloc uint64) int {
	if maxAlloc == 0 {
		return 1
	}
	n := int(math.Ceil(math.Sqrt(float64(nbytes) / float64(maxAlloc))))
	if n < 1 {
		n = 1
	}
	return n
}

// stridedDim is the sample count along one axis after striding,
// equivalent to a [0:n:stride] slice.
func stridedDim(n, stride int) int {
	return (n + stride - 1) / stride
}

// Downsample returns a copy of the volume keeping every stride-th sample
// along each axis. stride <= 1 returns the volume unchanged.
func (v *Volume) Downsample(stride int) *Volume {
	if stride <= 1 {
		return v
	}
	nx := stridedDim(v.Nx, stride)
	ny := stridedDim(v.Ny, stride)
	nz := stridedDim(v.Nz, stride)

	out := &Volume{Nx: nx, Ny: ny, Nz: nz, Dtype: v.Dtype}
	if v.Dtype == Uint16 {
		out.Uint16s = make([]uint16, nx*ny*nz)
	} else {
		out.Float32s = make([]float32, nx*ny*nz)
	}
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				out.Set(x, y, z, v.At(x*stride, y*stride, z*stride))
			}
		}
	}
	return out
}
