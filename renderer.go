// Package mipcast renders maximum-intensity projections of 3D scalar
// volumes on a compute device. The Renderer owns the device handle, the
// projection kernel and the GPU-resident state; it exposes setters for the
// volume, camera matrices and display parameters, and a synchronous Render
// that dispatches the kernel and reads the projected frame back.
//
//	rend, _ := mipcast.New(mipcast.DefaultOptions())
//	rend.SetData(vol)
//	rend.SetUnits(mgl32.Vec3{1, 1, 0.1})
//	rend.SetModelView(mgl32.Translate3D(0, 0, -4))
//	frame, _ := rend.Render()
package mipcast

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/gekko3d/mipcast/compute"
	"github.com/gekko3d/mipcast/volume"
)

// Renderer projects a volume to a 2D frame via the max-projection kernel.
// Not safe for concurrent use; one Render completes fully (upload,
// dispatch, blocking readback) before returning.
type Renderer struct {
	backend compute.Backend
	log     Logger
	id      string

	width, height int
	outBuf        compute.Buffer
	out           []float32

	invMBuf compute.Buffer
	invPBuf compute.Buffer

	vol    *volume.Volume
	volImg compute.Image3D

	stackUnits mgl32.Vec3
	boxBounds  [6]float32
	gamma      float32
	maxVal     float32
	modelView  mgl32.Mat4
	projection mgl32.Mat4

	haveData      bool
	haveModelView bool

	autoConvert bool
	downsample  bool
}

// New opens a compute device per opts and compiles the projection kernel.
// It fails when no device matching the preference can be opened.
func New(opts Options) (*Renderer, error) {
	id := uuid.NewString()[:8]
	log := opts.Logger
	if log == nil {
		log = NewDefaultLogger("mipcast "+id, false)
	}

	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = compute.Open(opts.Power, log)
		if err != nil {
			return nil, fmt.Errorf("open compute device: %w", err)
		}
	}
	log.Debugf("using %s backend (%s)", backend.Name(), backend.Kind())

	r := &Renderer{
		backend:     backend,
		log:         log,
		id:          id,
		stackUnits:  mgl32.Vec3{1, 1, 1},
		boxBounds:   DefaultBoxBounds(),
		gamma:       1,
		maxVal:      0,
		modelView:   mgl32.Ident4(),
		projection:  mgl32.Ident4(),
		autoConvert: opts.AutoConvert,
		downsample:  opts.Downsample,
	}

	var err error
	r.invMBuf, err = backend.AllocBuffer(r.label("invM"), 64)
	if err != nil {
		return nil, err
	}
	r.invPBuf, err = backend.AllocBuffer(r.label("invP"), 64)
	if err != nil {
		r.invMBuf.Release()
		return nil, err
	}

	w, h := opts.Width, opts.Height
	if w <= 0 {
		w = 200
	}
	if h <= 0 {
		h = 200
	}
	if err := r.Resize(w, h); err != nil {
		r.invPBuf.Release()
		r.invMBuf.Release()
		return nil, err
	}
	return r, nil
}

// DefaultBoxBounds is the full clip box [-1,1]^3, ordered
// (x0,x1,y0,y1,z0,z1).
func DefaultBoxBounds() [6]float32 {
	return [6]float32{-1, 1, -1, 1, -1, 1}
}

func (r *Renderer) label(s string) string {
	return "mipcast/" + r.id + "/" + s
}

// Backend returns the compute device the renderer runs on.
func (r *Renderer) Backend() compute.Backend { return r.backend }

// Size returns the current output size (width, height).
func (r *Renderer) Size() (int, int) { return r.width, r.height }

// Resize reallocates the output buffer for a new frame size. The host
// framebuffer is zeroed; the next Render fills it.
func (r *Renderer) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("resize to %dx%d", width, height)
	}
	// Allocate before releasing, so a rejected size leaves the previous
	// buffer usable and later renders keep going at the old size.
	buf, err := r.backend.AllocBuffer(r.label("output"), width*height*4)
	if err != nil {
		return fmt.Errorf("alloc %dx%d output: %w", width, height, err)
	}
	if r.outBuf != nil {
		r.outBuf.Release()
	}
	r.outBuf = buf
	r.width, r.height = width, height
	r.out = make([]float32, width*height)
	return nil
}

// SetMaxVal sets the display normalization ceiling. Zero (the default)
// leaves intensities unscaled.
func (r *Renderer) SetMaxVal(maxVal float32) { r.maxVal = maxVal }

// SetGamma sets the display gamma. Default 1.
func (r *Renderer) SetGamma(gamma float32) { r.gamma = gamma }

// SetUnits sets the physical voxel spacing per axis. Default (1,1,1).
func (r *Renderer) SetUnits(units mgl32.Vec3) { r.stackUnits = units }

// SetBoxBoundaries sets the axis-aligned clip box as (x0,x1,y0,y1,z0,z1)
// in the normalized volume cube. Default [-1,1]^3.
func (r *Renderer) SetBoxBoundaries(box [6]float32) { r.boxBounds = box }

// SetProjection sets the projection matrix. Default identity.
func (r *Renderer) SetProjection(proj mgl32.Mat4) { r.projection = proj }

// SetModelView sets the model-view matrix. Default identity, but Render
// refuses to dispatch until a model-view has been set explicitly.
func (r *Renderer) SetModelView(mv mgl32.Mat4) {
	r.modelView = mv
	r.haveModelView = true
}

// SetData validates, possibly converts and downsamples, and uploads a
// volume. The device image is reallocated when shape or dtype change.
func (r *Renderer) SetData(v *volume.Volume) error {
	if v == nil {
		return fmt.Errorf("set data: nil volume")
	}

	if !compute.Supports(r.backend, v.Dtype) {
		if !r.autoConvert {
			return fmt.Errorf("set data: dtype should be one of %v, not %s", r.backend.Dtypes(), v.Dtype)
		}
		r.log.Infof("converting volume from %s to %s", v.Dtype, volume.Float32)
		v = v.AsFloat32()
	}

	if stride := volume.DownsampleStride(v.NumBytes(), r.backend.MaxAllocBytes()); stride > 1 {
		if !r.downsample {
			return fmt.Errorf("set data: volume of %d bytes exceeds device limit %d and downsampling is disabled",
				v.NumBytes(), r.backend.MaxAllocBytes())
		}
		r.log.Infof("downsampling volume by factor of %d", stride)
		v = v.Downsample(stride)
	}

	nx, ny, nz := v.Dims()
	if r.volImg != nil {
		cx, cy, cz := r.volImg.Dims()
		if cx != nx || cy != ny || cz != nz || r.volImg.Dtype() != v.Dtype {
			r.volImg.Release()
			r.volImg = nil
		}
	}
	if r.volImg == nil {
		img, err := r.backend.Alloc3DImage(r.label("volume"), nx, ny, nz, v.Dtype)
		if err != nil {
			return fmt.Errorf("alloc volume image: %w", err)
		}
		r.volImg = img
	}
	if err := r.backend.WriteImage(r.volImg, v.Bytes()); err != nil {
		return fmt.Errorf("upload volume: %w", err)
	}

	r.vol = v
	r.haveData = true
	return nil
}

// Data returns the volume as uploaded, after any conversion or
// downsampling. Nil before the first SetData.
func (r *Renderer) Data() *volume.Volume { return r.vol }

// Render applies the given overrides through the ordinary setters, then
// dispatches the projection kernel and returns the frame.
//
// When no volume has been uploaded, or no model-view has been set, Render
// logs a warning and returns the previous frame (zeroed after construction
// or Resize) with a nil error, so a display loop stays alive. Device
// failures return an error alongside the stale frame.
func (r *Renderer) Render(opts ...RenderOption) (*Frame, error) {
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return r.staleFrame(), err
		}
	}

	if !r.haveData {
		r.log.Warnf("no data provided, call SetData before Render")
		return r.staleFrame(), nil
	}
	if !r.haveModelView {
		r.log.Warnf("no model-view provided, call SetModelView before Render")
		return r.staleFrame(), nil
	}

	nx, ny, nz := r.volImg.Dims()
	mScale := StackScale(nx, ny, nz, r.stackUnits)

	invM := r.modelView.Mul4(mScale).Inv()
	if err := r.backend.WriteBuffer(r.invMBuf, mat4Bytes(invM)); err != nil {
		return r.staleFrame(), fmt.Errorf("write invM: %w", err)
	}
	invP := r.projection.Inv()
	if err := r.backend.WriteBuffer(r.invPBuf, mat4Bytes(invP)); err != nil {
		return r.staleFrame(), fmt.Errorf("write invP: %w", err)
	}

	isUint16 := int32(0)
	if r.volImg.Dtype() == volume.Uint16 {
		isUint16 = 1
	}
	args := &compute.KernelArgs{
		Output:   r.outBuf,
		Width:    int32(r.width),
		Height:   int32(r.height),
		Box:      r.boxBounds,
		MaxVal:   r.maxVal,
		Gamma:    r.gamma,
		InvP:     r.invPBuf,
		InvM:     r.invMBuf,
		Volume:   r.volImg,
		IsUint16: isUint16,
	}
	if err := r.backend.RunKernel(args); err != nil {
		return r.staleFrame(), fmt.Errorf("dispatch: %w", err)
	}

	raw := make([]byte, r.width*r.height*4)
	if err := r.backend.ReadBuffer(r.outBuf, raw); err != nil {
		return r.staleFrame(), fmt.Errorf("read output: %w", err)
	}
	for i := range r.out {
		r.out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return r.staleFrame(), nil
}

// staleFrame snapshots the host framebuffer at the current output size.
func (r *Renderer) staleFrame() *Frame {
	f := newFrame(r.width, r.height)
	copy(f.Pix, r.out)
	return f
}

// Release frees all device resources. The renderer is unusable afterwards.
func (r *Renderer) Release() {
	if r.volImg != nil {
		r.volImg.Release()
	}
	if r.outBuf != nil {
		r.outBuf.Release()
	}
	if r.invPBuf != nil {
		r.invPBuf.Release()
	}
	if r.invMBuf != nil {
		r.invMBuf.Release()
	}
	r.backend.Release()
}
