package compute

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/mipcast/shaders"
	"github.com/gekko3d/mipcast/volume"
)

// wgpuBackend runs the projection kernel on a WebGPU device. The volume
// lives in a 3D texture (r32float or r16uint), the matrices and the output
// framebuffer in storage buffers, and the remaining scalars in a small
// uniform packed per dispatch.
type wgpuBackend struct {
	log Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	pipelineFloat  *wgpu.ComputePipeline
	pipelineUint16 *wgpu.ComputePipeline

	paramsBuf *wgpu.Buffer
	maxAlloc  uint64
}

const paramsSize = 48 // vec2<u32> + 2*f32 + 2*vec4<f32>

func newWgpuBackend(log Logger) (*wgpuBackend, error) {
	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "mipcast",
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}

	limits := adapter.GetLimits()

	b := &wgpuBackend{
		log:      log,
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
		maxAlloc: limits.Limits.MaxBufferSize,
	}

	b.pipelineFloat, err = b.compileKernel("max_project_float", shaders.MaxProjectFloatWGSL)
	if err != nil {
		b.Release()
		return nil, err
	}
	b.pipelineUint16, err = b.compileKernel("max_project_uint16", shaders.MaxProjectUint16WGSL)
	if err != nil {
		b.Release()
		return nil, err
	}

	b.paramsBuf, err = device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "mipcast params",
		Size:  paramsSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		b.Release()
		return nil, fmt.Errorf("alloc params: %w", err)
	}

	log.Infof("wgpu device ready, max alloc %d bytes", b.maxAlloc)
	return b, nil
}

func (b *wgpuBackend) compileKernel(label, code string) (*wgpu.ComputePipeline, error) {
	shader, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", label, err)
	}
	defer shader.Release()

	pipeline, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: label,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shader,
			EntryPoint: "max_project",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline %s: %w", label, err)
	}
	return pipeline, nil
}

func (b *wgpuBackend) Name() string { return "wgpu" }
func (b *wgpuBackend) Kind() Kind   { return KindGPU }

func (b *wgpuBackend) MaxAllocBytes() uint64 { return b.maxAlloc }

func (b *wgpuBackend) Dtypes() []volume.Dtype {
	return []volume.Dtype{volume.Float32, volume.Uint16}
}

type wgpuBuffer struct {
	buf  *wgpu.Buffer
	size int
}

func (w *wgpuBuffer) Size() int { return w.size }
func (w *wgpuBuffer) Release() {
	if w.buf != nil {
		w.buf.Release()
		w.buf = nil
	}
}

type wgpuImage struct {
	tex        *wgpu.Texture
	view       *wgpu.TextureView
	nx, ny, nz int
	dtype      volume.Dtype
}

func (w *wgpuImage) Dims() (int, int, int) { return w.nx, w.ny, w.nz }
func (w *wgpuImage) Dtype() volume.Dtype   { return w.dtype }
func (w *wgpuImage) Release() {
	if w.view != nil {
		w.view.Release()
		w.view = nil
	}
	if w.tex != nil {
		w.tex.Release()
		w.tex = nil
	}
}

func (b *wgpuBackend) AllocBuffer(label string, size int) (Buffer, error) {
	// Storage bindings need 4-byte sized allocations.
	padded := uint64(size)
	if padded%4 != 0 {
		padded += 4 - padded%4
	}
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  padded,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("alloc buffer %q: %w", label, err)
	}
	return &wgpuBuffer{buf: buf, size: size}, nil
}

func (b *wgpuBackend) Alloc3DImage(label string, nx, ny, nz int, dtype volume.Dtype) (Image3D, error) {
	format := wgpu.TextureFormatR32Float
	if dtype == volume.Uint16 {
		format = wgpu.TextureFormatR16Uint
	}
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: label,
		Size: wgpu.Extent3D{
			Width:              uint32(nx),
			Height:             uint32(ny),
			DepthOrArrayLayers: uint32(nz),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension3D,
		Format:        format,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("alloc 3D image %q (%dx%dx%d %s): %w", label, nx, ny, nz, dtype, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("image view %q: %w", label, err)
	}
	return &wgpuImage{tex: tex, view: view, nx: nx, ny: ny, nz: nz, dtype: dtype}, nil
}

func (b *wgpuBackend) WriteBuffer(dst Buffer, data []byte) error {
	w, ok := dst.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign buffer %T", dst)
	}
	if len(data) > w.size {
		return fmt.Errorf("wgpu: write of %d bytes into %d byte buffer", len(data), w.size)
	}
	return b.queue.WriteBuffer(w.buf, 0, data)
}

// ReadBuffer copies the buffer into a transient mappable staging buffer and
// blocks until the map completes.
func (b *wgpuBackend) ReadBuffer(src Buffer, dst []byte) error {
	w, ok := src.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign buffer %T", src)
	}
	n := uint64(len(dst))
	if n%4 != 0 {
		return fmt.Errorf("wgpu: read size %d not 4-byte aligned", n)
	}

	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "mipcast readback",
		Size:  n,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("alloc readback: %w", err)
	}
	defer staging.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("readback encoder: %w", err)
	}
	defer encoder.Release()

	encoder.CopyBufferToBuffer(w.buf, 0, staging, 0, n)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("readback finish: %w", err)
	}
	defer cmd.Release()
	b.queue.Submit(cmd)

	var status wgpu.BufferMapAsyncStatus
	err = staging.MapAsync(wgpu.MapModeRead, 0, n, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	if err != nil {
		return fmt.Errorf("readback map: %w", err)
	}
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("readback map status %v", status)
	}
	copy(dst, staging.GetMappedRange(0, uint(n)))
	staging.Unmap()
	return nil
}

func (b *wgpuBackend) WriteImage(dst Image3D, data []byte) error {
	im, ok := dst.(*wgpuImage)
	if !ok {
		return fmt.Errorf("wgpu: foreign image %T", dst)
	}
	bps := im.dtype.BytesPerSample()
	want := im.nx * im.ny * im.nz * bps
	if len(data) != want {
		return fmt.Errorf("wgpu: image write of %d bytes, want %d", len(data), want)
	}
	return b.queue.WriteTexture(
		im.tex.AsImageCopy(),
		data,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(im.nx * bps),
			RowsPerImage: uint32(im.ny),
		},
		&wgpu.Extent3D{
			Width:              uint32(im.nx),
			Height:             uint32(im.ny),
			DepthOrArrayLayers: uint32(im.nz),
		},
	)
}

// packParams serializes the scalar kernel arguments to the uniform layout
// of the WGSL Params struct.
func packParams(args *KernelArgs) []byte {
	buf := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(args.Width))
	binary.LittleEndian.PutUint32(buf[4:], uint32(args.Height))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(args.MaxVal))
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(args.Gamma))
	// box_min / box_max as padded vec4s
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(args.Box[0]))
	binary.LittleEndian.PutUint32(buf[20:], math.Float32bits(args.Box[2]))
	binary.LittleEndian.PutUint32(buf[24:], math.Float32bits(args.Box[4]))
	binary.LittleEndian.PutUint32(buf[32:], math.Float32bits(args.Box[1]))
	binary.LittleEndian.PutUint32(buf[36:], math.Float32bits(args.Box[3]))
	binary.LittleEndian.PutUint32(buf[40:], math.Float32bits(args.Box[5]))
	return buf
}

func (b *wgpuBackend) RunKernel(args *KernelArgs) error {
	out, ok := args.Output.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign output buffer %T", args.Output)
	}
	invP, ok := args.InvP.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign invP buffer %T", args.InvP)
	}
	invM, ok := args.InvM.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign invM buffer %T", args.InvM)
	}
	im, ok := args.Volume.(*wgpuImage)
	if !ok {
		return fmt.Errorf("wgpu: foreign volume image %T", args.Volume)
	}

	pipeline := b.pipelineFloat
	if args.IsUint16 != 0 {
		pipeline = b.pipelineUint16
	}

	if err := b.queue.WriteBuffer(b.paramsBuf, 0, packParams(args)); err != nil {
		return fmt.Errorf("write params: %w", err)
	}

	layout := pipeline.GetBindGroupLayout(0)
	defer layout.Release()
	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: out.buf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: b.paramsBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: invP.buf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: invM.buf, Size: wgpu.WholeSize},
			{Binding: 4, TextureView: im.view, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("bind group: %w", err)
	}
	defer bindGroup.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	defer encoder.Release()

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	wgX := (uint32(args.Width) + 7) / 8
	wgY := (uint32(args.Height) + 7) / 8
	pass.DispatchWorkgroups(wgX, wgY, 1)
	if err := pass.End(); err != nil {
		return fmt.Errorf("compute pass: %w", err)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	defer cmd.Release()
	b.queue.Submit(cmd)

	// Synchronous dispatch model: the frame is done before we return.
	b.device.Poll(true, nil)
	return nil
}

func (b *wgpuBackend) Release() {
	if b.paramsBuf != nil {
		b.paramsBuf.Release()
	}
	if b.pipelineUint16 != nil {
		b.pipelineUint16.Release()
	}
	if b.pipelineFloat != nil {
		b.pipelineFloat.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}
