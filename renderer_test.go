package mipcast

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/mipcast/compute"
	"github.com/gekko3d/mipcast/volume"
)

func newTestRenderer(t *testing.T, sw *compute.Software, width, height int) *Renderer {
	t.Helper()
	opts := DefaultOptions()
	opts.Width = width
	opts.Height = height
	opts.Backend = sw
	opts.Logger = NewNopLogger()
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func uniformVolume(t *testing.T, n int, val float32) *volume.Volume {
	t.Helper()
	data := make([]float32, n*n*n)
	for i := range data {
		data[i] = val
	}
	v, err := volume.NewFloat32(n, n, n, data)
	require.NoError(t, err)
	return v
}

func TestRenderWithoutData(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{})
	r := newTestRenderer(t, sw, 33, 17)

	frame, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, 33, frame.Width)
	assert.Equal(t, 17, frame.Height)
	assert.Len(t, frame.Pix, 33*17)
	for _, v := range frame.Pix {
		assert.Zero(t, v)
	}

	// nothing reached the device, and camera state is untouched
	assert.Equal(t, 0, sw.DispatchCount())
	assert.Equal(t, mgl32.Ident4(), r.modelView)
	assert.Equal(t, mgl32.Ident4(), r.projection)
	assert.False(t, r.haveModelView)
	assert.Equal(t, float32(1), r.gamma)
	assert.Equal(t, float32(0), r.maxVal)
	assert.Equal(t, DefaultBoxBounds(), r.boxBounds)
}

func TestRenderWithoutModelView(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{})
	r := newTestRenderer(t, sw, 8, 8)
	require.NoError(t, r.SetData(uniformVolume(t, 4, 3)))

	frame, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, 0, sw.DispatchCount(), "no dispatch before a model-view is set")
	for _, v := range frame.Pix {
		assert.Zero(t, v)
	}

	r.SetModelView(mgl32.Ident4())
	frame, err = r.Render()
	require.NoError(t, err)
	assert.Equal(t, 1, sw.DispatchCount())
	assert.Greater(t, frame.Max(), float32(0))
}

func TestRenderDeterministic(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{})
	r := newTestRenderer(t, sw, 16, 16)
	require.NoError(t, r.SetData(volume.Ramp(12, 12, 12, 1000)))
	r.SetModelView(mgl32.Ident4())
	r.SetMaxVal(1000)

	f1, err := r.Render()
	require.NoError(t, err)
	f2, err := r.Render()
	require.NoError(t, err)

	require.Equal(t, f1.Pix, f2.Pix, "identical state must give bit-identical frames")
	assert.Equal(t, 2, sw.DispatchCount())
}

func TestResize(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{})
	r := newTestRenderer(t, sw, 20, 20)
	require.NoError(t, r.SetData(uniformVolume(t, 4, 5)))
	r.SetModelView(mgl32.Ident4())

	require.NoError(t, r.Resize(31, 13))
	frame, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, 31, frame.Width)
	assert.Equal(t, 13, frame.Height)
	assert.Len(t, frame.Pix, 31*13)

	w, h := r.Size()
	assert.Equal(t, 31, w)
	assert.Equal(t, 13, h)
}

func TestResizeFailureKeepsOldBuffer(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{MaxAlloc: 2048})
	r := newTestRenderer(t, sw, 8, 8)
	require.NoError(t, r.SetData(uniformVolume(t, 4, 5)))
	r.SetModelView(mgl32.Ident4())

	// 100x100 needs 40000 bytes, over the device limit
	require.Error(t, r.Resize(100, 100))
	w, h := r.Size()
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, h)

	// the previous output buffer is still live, rendering continues
	frame, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, 8, frame.Width)
	assert.Equal(t, 8, frame.Height)
	assert.Equal(t, 1, sw.DispatchCount())
	assert.Greater(t, frame.Max(), float32(0))
}

func TestNewFailureReleasesBuffers(t *testing.T) {
	// the 64 byte matrix buffers fit, the 8x8 output does not, so
	// construction fails partway through
	sw := compute.NewSoftware(compute.SoftwareConfig{MaxAlloc: 64})
	opts := DefaultOptions()
	opts.Width = 8
	opts.Height = 8
	opts.Backend = sw
	opts.Logger = NewNopLogger()

	_, err := New(opts)
	require.Error(t, err)
	assert.Equal(t, 0, sw.LiveBuffers(), "construction failure must not leak device buffers")
}

func TestSetData_NoDownsampleWhenFits(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{})
	r := newTestRenderer(t, sw, 8, 8)
	require.NoError(t, r.SetData(uniformVolume(t, 16, 1)))

	nx, ny, nz := r.volImg.Dims()
	assert.Equal(t, [3]int{16, 16, 16}, [3]int{nx, ny, nz})
}

func TestSetData_DownsampleOverLimit(t *testing.T) {
	// 32^3 float32 = 131072 bytes against a 4096 byte limit: the byte
	// ratio is 32, so the stride is ceil(sqrt(32)) = 6 on every axis.
	sw := compute.NewSoftware(compute.SoftwareConfig{MaxAlloc: 4096})
	r := newTestRenderer(t, sw, 8, 8)
	require.NoError(t, r.SetData(uniformVolume(t, 32, 1)))

	nx, ny, nz := r.volImg.Dims()
	assert.Equal(t, [3]int{6, 6, 6}, [3]int{nx, ny, nz})
	assert.Equal(t, 6, r.Data().Nx, "Data reflects the downsampled upload")
}

func TestSetData_DownsampleDisabled(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{MaxAlloc: 4096})
	opts := DefaultOptions()
	opts.Backend = sw
	opts.Logger = NewNopLogger()
	opts.Downsample = false
	r, err := New(opts)
	require.NoError(t, err)

	err = r.SetData(uniformVolume(t, 32, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "downsampling is disabled")
	assert.False(t, r.haveData, "no partial mutation on rejection")
}

func TestSetData_AutoConvert(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{Float32Only: true})
	r := newTestRenderer(t, sw, 8, 8)

	u16, err := volume.NewUint16(4, 4, 4, make([]uint16, 64))
	require.NoError(t, err)
	require.NoError(t, r.SetData(u16))
	assert.Equal(t, volume.Float32, r.volImg.Dtype())
}

func TestSetData_AutoConvertDisabled(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{Float32Only: true})
	opts := DefaultOptions()
	opts.Backend = sw
	opts.Logger = NewNopLogger()
	opts.AutoConvert = false
	r, err := New(opts)
	require.NoError(t, err)

	u16, err := volume.NewUint16(4, 4, 4, make([]uint16, 64))
	require.NoError(t, err)
	err = r.SetData(u16)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float32")
	assert.Contains(t, err.Error(), "uint16")
	assert.False(t, r.haveData)
}

func TestRenderOverridesPersist(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{})
	r := newTestRenderer(t, sw, 8, 8)

	_, err := r.Render(
		WithData(uniformVolume(t, 4, 10)),
		WithModelView(mgl32.Ident4()),
		WithMaxVal(10),
		WithGamma(2),
		WithUnits(mgl32.Vec3{1, 1, 2}),
		WithBoxBoundaries([6]float32{-1, 1, -1, 1, 0, 1}),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, sw.DispatchCount())

	// overrides go through the setters, so they stick
	assert.Equal(t, float32(10), r.maxVal)
	assert.Equal(t, float32(2), r.gamma)
	assert.Equal(t, mgl32.Vec3{1, 1, 2}, r.stackUnits)
	assert.Equal(t, [6]float32{-1, 1, -1, 1, 0, 1}, r.boxBounds)
	assert.True(t, r.haveData)
	assert.True(t, r.haveModelView)
}

func TestRenderOverrideError(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{})
	r := newTestRenderer(t, sw, 8, 8)

	_, err := r.Render(WithData(nil))
	require.Error(t, err)
	assert.Equal(t, 0, sw.DispatchCount())
}

func TestRenderContent(t *testing.T) {
	sw := compute.NewSoftware(compute.SoftwareConfig{})
	r := newTestRenderer(t, sw, 9, 9)

	// single bright voxel in the stack center projects onto the center
	// pixel under identity transforms
	data := make([]float32, 9*9*9)
	vol, err := volume.NewFloat32(9, 9, 9, data)
	require.NoError(t, err)
	vol.Set(4, 4, 4, 100)

	require.NoError(t, r.SetData(vol))
	r.SetModelView(mgl32.Ident4())
	r.SetMaxVal(100)

	frame, err := r.Render()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, frame.At(4, 4), 1e-6)
	assert.InDelta(t, 0.0, frame.At(0, 0), 1e-6)
}
