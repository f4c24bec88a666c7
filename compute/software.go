package compute

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/mipcast/volume"
)

// SoftwareConfig tunes the software backend. The zero value gives a
// permissive device: a large allocation limit and both sample formats.
type SoftwareConfig struct {
	// MaxAlloc overrides the reported allocation limit. Zero means 16 GiB.
	// Tests shrink it to force the downsampling path.
	MaxAlloc uint64
	// Float32Only restricts the accepted sample formats to float32,
	// mirroring CPU compute devices without uint16 image support.
	Float32Only bool
}

// Software executes the max-projection kernel on the host. It implements
// Backend and is the CPU fallback device as well as the test substitute
// for the hardware backend.
type Software struct {
	cfg         SoftwareConfig
	dispatches  int
	liveBuffers int
}

// NewSoftware returns a software compute device.
func NewSoftware(cfg SoftwareConfig) *Software {
	if cfg.MaxAlloc == 0 {
		cfg.MaxAlloc = 16 << 30
	}
	return &Software{cfg: cfg}
}

func (s *Software) Name() string { return "software" }
func (s *Software) Kind() Kind   { return KindCPU }

func (s *Software) MaxAllocBytes() uint64 { return s.cfg.MaxAlloc }

func (s *Software) Dtypes() []volume.Dtype {
	if s.cfg.Float32Only {
		return []volume.Dtype{volume.Float32}
	}
	return []volume.Dtype{volume.Float32, volume.Uint16}
}

// DispatchCount returns how many kernel dispatches have run. Tests use it
// to assert that precondition misses do not reach the device.
func (s *Software) DispatchCount() int { return s.dispatches }

// LiveBuffers returns how many allocated buffers have not been released.
// Tests use it to catch leaks on error paths.
func (s *Software) LiveBuffers() int { return s.liveBuffers }

func (s *Software) Release() {}

type softBuffer struct {
	owner *Software
	data  []byte
}

func (b *softBuffer) Size() int { return len(b.data) }

func (b *softBuffer) Release() {
	if b.data != nil {
		b.owner.liveBuffers--
		b.data = nil
	}
}

type softImage struct {
	nx, ny, nz int
	dtype      volume.Dtype
	samples    []float32
}

func (im *softImage) Dims() (int, int, int) { return im.nx, im.ny, im.nz }
func (im *softImage) Dtype() volume.Dtype   { return im.dtype }
func (im *softImage) Release()              { im.samples = nil }

func (s *Software) AllocBuffer(label string, size int) (Buffer, error) {
	if uint64(size) > s.cfg.MaxAlloc {
		return nil, fmt.Errorf("software: buffer %q of %d bytes exceeds limit %d", label, size, s.cfg.MaxAlloc)
	}
	s.liveBuffers++
	return &softBuffer{owner: s, data: make([]byte, size)}, nil
}

func (s *Software) Alloc3DImage(label string, nx, ny, nz int, dtype volume.Dtype) (Image3D, error) {
	if !Supports(s, dtype) {
		return nil, fmt.Errorf("software: image %q: unsupported dtype %s", label, dtype)
	}
	nbytes := uint64(nx) * uint64(ny) * uint64(nz) * uint64(dtype.BytesPerSample())
	if nbytes > s.cfg.MaxAlloc {
		return nil, fmt.Errorf("software: image %q of %d bytes exceeds limit %d", label, nbytes, s.cfg.MaxAlloc)
	}
	return &softImage{nx: nx, ny: ny, nz: nz, dtype: dtype, samples: make([]float32, nx*ny*nz)}, nil
}

func (s *Software) WriteBuffer(dst Buffer, data []byte) error {
	b, ok := dst.(*softBuffer)
	if !ok {
		return fmt.Errorf("software: foreign buffer %T", dst)
	}
	if len(data) > len(b.data) {
		return fmt.Errorf("software: write of %d bytes into %d byte buffer", len(data), len(b.data))
	}
	copy(b.data, data)
	return nil
}

func (s *Software) ReadBuffer(src Buffer, dst []byte) error {
	b, ok := src.(*softBuffer)
	if !ok {
		return fmt.Errorf("software: foreign buffer %T", src)
	}
	if len(dst) > len(b.data) {
		return fmt.Errorf("software: read of %d bytes from %d byte buffer", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

func (s *Software) WriteImage(dst Image3D, data []byte) error {
	im, ok := dst.(*softImage)
	if !ok {
		return fmt.Errorf("software: foreign image %T", dst)
	}
	want := im.nx * im.ny * im.nz * im.dtype.BytesPerSample()
	if len(data) != want {
		return fmt.Errorf("software: image write of %d bytes, want %d", len(data), want)
	}
	if im.dtype == volume.Uint16 {
		for i := range im.samples {
			im.samples[i] = float32(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return nil
	}
	for i := range im.samples {
		im.samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return nil
}

// sample returns the nearest voxel for p in the [-1,1]^3 volume cube.
func (im *softImage) sample(p mgl32.Vec3) float32 {
	ix := clampIndex(int((p.X()+1)*0.5*float32(im.nx)), im.nx)
	iy := clampIndex(int((p.Y()+1)*0.5*float32(im.ny)), im.ny)
	iz := clampIndex(int((p.Z()+1)*0.5*float32(im.nz)), im.nz)
	return im.samples[ix+im.nx*(iy+im.ny*iz)]
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func matFromBuffer(b Buffer) (mgl32.Mat4, error) {
	sb, ok := b.(*softBuffer)
	if !ok || len(sb.data) < 64 {
		return mgl32.Mat4{}, fmt.Errorf("software: matrix buffer %T of %d bytes", b, b.Size())
	}
	var m mgl32.Mat4
	for i := 0; i < 16; i++ {
		m[i] = math.Float32frombits(binary.LittleEndian.Uint32(sb.data[i*4:]))
	}
	return m, nil
}

// RunKernel executes the max projection over the full width x height grid.
// The marching matches the WGSL kernel: rays are reconstructed from the
// inverse projection and inverse model-view, clipped against the box, and
// stepped twice per voxel of the largest axis.
func (s *Software) RunKernel(args *KernelArgs) error {
	out, ok := args.Output.(*softBuffer)
	if !ok {
		return fmt.Errorf("software: foreign output buffer %T", args.Output)
	}
	im, ok := args.Volume.(*softImage)
	if !ok {
		return fmt.Errorf("software: foreign volume image %T", args.Volume)
	}
	w, h := int(args.Width), int(args.Height)
	if len(out.data) < w*h*4 {
		return fmt.Errorf("software: output buffer %d bytes, need %d", len(out.data), w*h*4)
	}
	invP, err := matFromBuffer(args.InvP)
	if err != nil {
		return err
	}
	invM, err := matFromBuffer(args.InvM)
	if err != nil {
		return err
	}

	boxMin := mgl32.Vec3{args.Box[0], args.Box[2], args.Box[4]}
	boxMax := mgl32.Vec3{args.Box[1], args.Box[3], args.Box[5]}

	maxDim := im.nx
	if im.ny > maxDim {
		maxDim = im.ny
	}
	if im.nz > maxDim {
		maxDim = im.nz
	}
	nsteps := 2 * maxDim
	if nsteps < 16 {
		nsteps = 16
	}

	for y := 0; y < h; y++ {
		v := 2*(float32(y)+0.5)/float32(h) - 1
		for x := 0; x < w; x++ {
			u := 2*(float32(x)+0.5)/float32(w) - 1

			val := castRay(u, v, invP, invM, boxMin, boxMax, im, nsteps)
			if args.MaxVal > 0 {
				val = clamp01(val / args.MaxVal)
			}
			if args.Gamma != 1 {
				val = float32(math.Pow(float64(val), float64(args.Gamma)))
			}
			binary.LittleEndian.PutUint32(out.data[(y*w+x)*4:], math.Float32bits(val))
		}
	}
	s.dispatches++
	return nil
}

func castRay(u, v float32, invP, invM mgl32.Mat4, boxMin, boxMax mgl32.Vec3, im *softImage, nsteps int) float32 {
	front := dehomogenize(invP.Mul4x1(mgl32.Vec4{u, v, -1, 1}))
	back := dehomogenize(invP.Mul4x1(mgl32.Vec4{u, v, 1, 1}))

	orig := dehomogenize(invM.Mul4x1(front.Vec4(1)))
	exit := dehomogenize(invM.Mul4x1(back.Vec4(1)))

	dir := exit.Sub(orig)
	if dir.Len() == 0 {
		return 0
	}
	dir = dir.Normalize()

	tnear, tfar, hit := intersectBox(orig, dir, boxMin, boxMax)
	if !hit {
		return 0
	}
	if tnear < 0 {
		tnear = 0
	}
	if tfar <= tnear {
		return 0
	}

	dt := (tfar - tnear) / float32(nsteps)
	var max float32
	for i := 0; i < nsteps; i++ {
		t := tnear + (float32(i)+0.5)*dt
		p := orig.Add(dir.Mul(t))
		if s := im.sample(p); s > max {
			max = s
		}
	}
	return max
}

func dehomogenize(v mgl32.Vec4) mgl32.Vec3 {
	w := v.W()
	if w == 0 {
		return v.Vec3()
	}
	return mgl32.Vec3{v.X() / w, v.Y() / w, v.Z() / w}
}

// intersectBox is the standard slab test.
func intersectBox(orig, dir, boxMin, boxMax mgl32.Vec3) (float32, float32, bool) {
	tnear := float32(math.Inf(-1))
	tfar := float32(math.Inf(1))
	for i := 0; i < 3; i++ {
		o, d := orig[i], dir[i]
		if d == 0 {
			if o < boxMin[i] || o > boxMax[i] {
				return 0, 0, false
			}
			continue
		}
		t0 := (boxMin[i] - o) / d
		t1 := (boxMax[i] - o) / d
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tnear {
			tnear = t0
		}
		if t1 < tfar {
			tfar = t1
		}
	}
	return tnear, tfar, tnear <= tfar
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
