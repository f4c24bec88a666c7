package volume

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dtype identifies the scalar sample type of a volume.
type Dtype int

const (
	Float32 Dtype = iota
	Uint16
)

func (d Dtype) String() string {
	switch d {
	case Float32:
		return "float32"
	case Uint16:
		return "uint16"
	}
	return fmt.Sprintf("Dtype(%d)", int(d))
}

// BytesPerSample returns the storage size of one sample.
func (d Dtype) BytesPerSample() int {
	switch d {
	case Uint16:
		return 2
	default:
		return 4
	}
}

// Volume is a dense 3D scalar stack. Samples are laid out x-fastest:
// index = x + Nx*(y + Ny*z), which matches row-by-row texture upload.
// Exactly one of Float32s/Uint16s is populated, according to Dtype.
type Volume struct {
	Nx, Ny, Nz int
	Dtype      Dtype

	Float32s []float32
	Uint16s  []uint16
}

// NewFloat32 wraps data as an Nx*Ny*Nz float32 volume. The slice is
// referenced, not copied.
func NewFloat32(nx, ny, nz int, data []float32) (*Volume, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("volume: invalid dims %dx%dx%d", nx, ny, nz)
	}
	if len(data) != nx*ny*nz {
		return nil, fmt.Errorf("volume: got %d samples, want %d (%dx%dx%d)", len(data), nx*ny*nz, nx, ny, nz)
	}
	return &Volume{Nx: nx, Ny: ny, Nz: nz, Dtype: Float32, Float32s: data}, nil
}

// NewUint16 wraps data as an Nx*Ny*Nz uint16 volume. The slice is
// referenced, not copied.
func NewUint16(nx, ny, nz int, data []uint16) (*Volume, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("volume: invalid dims %dx%dx%d", nx, ny, nz)
	}
	if len(data) != nx*ny*nz {
		return nil, fmt.Errorf("volume: got %d samples, want %d (%dx%dx%d)", len(data), nx*ny*nz, nx, ny, nz)
	}
	return &Volume{Nx: nx, Ny: ny, Nz: nz, Dtype: Uint16, Uint16s: data}, nil
}

// Dims returns (Nx, Ny, Nz).
func (v *Volume) Dims() (int, int, int) { return v.Nx, v.Ny, v.Nz }

// NumVoxels returns the sample count.
func (v *Volume) NumVoxels() int { return v.Nx * v.Ny * v.Nz }

// NumBytes returns the payload size as stored on the device.
func (v *Volume) NumBytes() uint64 {
	return uint64(v.NumVoxels()) * uint64(v.Dtype.BytesPerSample())
}

// At returns the sample at (x, y, z) as float32, regardless of dtype.
func (v *Volume) At(x, y, z int) float32 {
	i := x + v.Nx*(y+v.Ny*z)
	if v.Dtype == Uint16 {
		return float32(v.Uint16s[i])
	}
	return v.Float32s[i]
}

// Set stores val at (x, y, z), truncating to the volume dtype.
func (v *Volume) Set(x, y, z int, val float32) {
	i := x + v.Nx*(y+v.Ny*z)
	if v.Dtype == Uint16 {
		v.Uint16s[i] = uint16(val)
		return
	}
	v.Float32s[i] = val
}

// MaxValue returns the largest sample in the volume.
func (v *Volume) MaxValue() float32 {
	var max float32
	if v.Dtype == Uint16 {
		var m uint16
		for _, s := range v.Uint16s {
			if s > m {
				m = s
			}
		}
		return float32(m)
	}
	for _, s := range v.Float32s {
		if s > max {
			max = s
		}
	}
	return max
}

// AsFloat32 returns the volume converted to float32. If the volume already
// is float32 it is returned unchanged.
func (v *Volume) AsFloat32() *Volume {
	if v.Dtype == Float32 {
		return v
	}
	data := make([]float32, len(v.Uint16s))
	for i, s := range v.Uint16s {
		data[i] = float32(s)
	}
	return &Volume{Nx: v.Nx, Ny: v.Ny, Nz: v.Nz, Dtype: Float32, Float32s: data}
}

// Clone returns a deep copy of the volume. The constructors reference the
// caller's slice; Clone is for callers that keep mutating theirs.
func (v *Volume) Clone() *Volume {
	out := &Volume{Nx: v.Nx, Ny: v.Ny, Nz: v.Nz, Dtype: v.Dtype}
	if v.Dtype == Uint16 {
		out.Uint16s = append([]uint16(nil), v.Uint16s...)
	} else {
		out.Float32s = append([]float32(nil), v.Float32s...)
	}
	return out
}

// Bytes serializes the samples little-endian, in upload order.
func (v *Volume) Bytes() []byte {
	if v.Dtype == Uint16 {
		buf := make([]byte, 2*len(v.Uint16s))
		for i, s := range v.Uint16s {
			binary.LittleEndian.PutUint16(buf[i*2:], s)
		}
		return buf
	}
	buf := make([]byte, 4*len(v.Float32s))
	for i, s := range v.Float32s {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}
