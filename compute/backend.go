// Package compute abstracts the small capability set the renderer needs
// from a compute device: buffer alloc/read/write, 3D image alloc/write,
// and dispatch of the max-projection kernel over a 2D pixel grid.
//
// Two implementations exist: a wgpu-backed hardware backend and a pure-Go
// software backend used as the CPU fallback and as a test substitute.
package compute

import (
	"errors"
	"fmt"

	"github.com/gekko3d/mipcast/volume"
)

// Kind reports what class of device a backend runs on.
type Kind int

const (
	KindGPU Kind = iota
	KindCPU
)

func (k Kind) String() string {
	if k == KindCPU {
		return "cpu"
	}
	return "gpu"
}

// Power selects the device preference at construction.
type Power int

const (
	// PowerAuto prefers a hardware adapter and falls back to the
	// software backend when none is available.
	PowerAuto Power = iota
	// PowerGPU requires a hardware adapter.
	PowerGPU
	// PowerCPU uses the software backend.
	PowerCPU
)

// ErrNoDevice is returned when no usable compute device can be opened.
var ErrNoDevice = errors.New("compute: no device available")

// Logger is the subset of the renderer's logger the backends use.
// The root package's Logger satisfies it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Buffer is a device-resident linear allocation.
type Buffer interface {
	// Size returns the allocation size in bytes.
	Size() int
	Release()
}

// Image3D is a device-resident read-only 3D scalar image.
type Image3D interface {
	// Dims returns the image extent (nx, ny, nz).
	Dims() (int, int, int)
	// Dtype returns the sample format.
	Dtype() volume.Dtype
	Release()
}

// KernelArgs carries the full argument list of the max-projection kernel:
// output buffer, grid extent, clip box, display scalars, the two inverse
// matrices as 16-float32 buffers, the volume image, and the source format
// flag.
type KernelArgs struct {
	Output        Buffer
	Width, Height int32
	Box           [6]float32
	MaxVal, Gamma float32
	InvP, InvM    Buffer
	Volume        Image3D
	IsUint16      int32
}

// Backend is the fixed capability set of a compute device. All operations
// are synchronous; RunKernel blocks until the dispatch has completed and
// its writes are visible to a following ReadBuffer.
type Backend interface {
	Name() string
	Kind() Kind

	// MaxAllocBytes is the largest single allocation the device accepts.
	MaxAllocBytes() uint64
	// Dtypes lists the volume sample formats the device can ingest.
	Dtypes() []volume.Dtype

	AllocBuffer(label string, size int) (Buffer, error)
	Alloc3DImage(label string, nx, ny, nz int, dtype volume.Dtype) (Image3D, error)
	WriteBuffer(dst Buffer, data []byte) error
	ReadBuffer(src Buffer, dst []byte) error
	WriteImage(dst Image3D, data []byte) error
	RunKernel(args *KernelArgs) error

	Release()
}

// Supports reports whether the backend accepts the given sample format.
func Supports(b Backend, d volume.Dtype) bool {
	for _, s := range b.Dtypes() {
		if s == d {
			return true
		}
	}
	return false
}

// Open selects a backend per the power preference. With PowerAuto a failed
// hardware probe degrades to the software backend with a warning; with
// PowerGPU it is an error.
func Open(p Power, log Logger) (Backend, error) {
	switch p {
	case PowerCPU:
		return NewSoftware(SoftwareConfig{}), nil
	case PowerGPU:
		b, err := newWgpuBackend(log)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return b, nil
	default:
		b, err := newWgpuBackend(log)
		if err != nil {
			log.Warnf("no GPU adapter available, falling back to software backend: %v", err)
			return NewSoftware(SoftwareConfig{}), nil
		}
		return b, nil
	}
}
