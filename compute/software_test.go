package compute

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/mipcast/volume"
)

func matBytes(m mgl32.Mat4) []byte {
	buf := make([]byte, 64)
	for i, v := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func TestSoftware_BufferRoundtrip(t *testing.T) {
	s := NewSoftware(SoftwareConfig{})
	buf, err := s.AllocBuffer("test", 16)
	require.NoError(t, err)
	require.Equal(t, 16, buf.Size())

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, s.WriteBuffer(buf, data))

	out := make([]byte, 8)
	require.NoError(t, s.ReadBuffer(buf, out))
	assert.Equal(t, data, out)

	assert.Equal(t, 1, s.LiveBuffers())
	buf.Release()
	buf.Release() // double release counts once
	assert.Equal(t, 0, s.LiveBuffers())
}

func TestSoftware_Limits(t *testing.T) {
	s := NewSoftware(SoftwareConfig{MaxAlloc: 64})
	assert.EqualValues(t, 64, s.MaxAllocBytes())

	_, err := s.AllocBuffer("big", 128)
	assert.Error(t, err)

	_, err = s.Alloc3DImage("big", 8, 8, 8, volume.Float32)
	assert.Error(t, err)
}

func TestSoftware_Dtypes(t *testing.T) {
	s := NewSoftware(SoftwareConfig{})
	assert.True(t, Supports(s, volume.Float32))
	assert.True(t, Supports(s, volume.Uint16))

	restricted := NewSoftware(SoftwareConfig{Float32Only: true})
	assert.True(t, Supports(restricted, volume.Float32))
	assert.False(t, Supports(restricted, volume.Uint16))

	_, err := restricted.Alloc3DImage("vol", 2, 2, 2, volume.Uint16)
	assert.Error(t, err)
}

// runProjection runs the kernel over a w x h grid with identity matrices
// and the full clip box.
func runProjection(t *testing.T, s *Software, vol *volume.Volume, w, h int, maxVal, gamma float32) []float32 {
	t.Helper()

	img, err := s.Alloc3DImage("vol", vol.Nx, vol.Ny, vol.Nz, vol.Dtype)
	require.NoError(t, err)
	require.NoError(t, s.WriteImage(img, vol.Bytes()))

	out, err := s.AllocBuffer("out", w*h*4)
	require.NoError(t, err)
	invP, err := s.AllocBuffer("invP", 64)
	require.NoError(t, err)
	invM, err := s.AllocBuffer("invM", 64)
	require.NoError(t, err)
	require.NoError(t, s.WriteBuffer(invP, matBytes(mgl32.Ident4())))
	require.NoError(t, s.WriteBuffer(invM, matBytes(mgl32.Ident4())))

	isUint16 := int32(0)
	if vol.Dtype == volume.Uint16 {
		isUint16 = 1
	}
	require.NoError(t, s.RunKernel(&KernelArgs{
		Output: out, Width: int32(w), Height: int32(h),
		Box:    [6]float32{-1, 1, -1, 1, -1, 1},
		MaxVal: maxVal, Gamma: gamma,
		InvP: invP, InvM: invM,
		Volume: img, IsUint16: isUint16,
	}))

	raw := make([]byte, w*h*4)
	require.NoError(t, s.ReadBuffer(out, raw))
	pix := make([]float32, w*h)
	for i := range pix {
		pix[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return pix
}

func TestSoftware_UniformVolume(t *testing.T) {
	s := NewSoftware(SoftwareConfig{})
	data := make([]float32, 8*8*8)
	for i := range data {
		data[i] = 7
	}
	vol, err := volume.NewFloat32(8, 8, 8, data)
	require.NoError(t, err)

	pix := runProjection(t, s, vol, 6, 6, 7, 1)
	for i, v := range pix {
		assert.InDelta(t, 1.0, v, 1e-6, "pixel %d", i)
	}
	assert.Equal(t, 1, s.DispatchCount())
}

func TestSoftware_CenterVoxel(t *testing.T) {
	s := NewSoftware(SoftwareConfig{})
	data := make([]float32, 9*9*9)
	vol, err := volume.NewFloat32(9, 9, 9, data)
	require.NoError(t, err)
	vol.Set(4, 4, 4, 100)

	pix := runProjection(t, s, vol, 9, 9, 100, 1)
	assert.InDelta(t, 1.0, pix[4*9+4], 1e-6, "center pixel sees the bright voxel")
	assert.InDelta(t, 0.0, pix[0], 1e-6, "corner pixel misses it")
}

func TestSoftware_Uint16Volume(t *testing.T) {
	s := NewSoftware(SoftwareConfig{})
	data := make([]uint16, 4*4*4)
	for i := range data {
		data[i] = 1000
	}
	vol, err := volume.NewUint16(4, 4, 4, data)
	require.NoError(t, err)

	pix := runProjection(t, s, vol, 4, 4, 1000, 1)
	for _, v := range pix {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

func TestSoftware_GammaAndMaxVal(t *testing.T) {
	s := NewSoftware(SoftwareConfig{})
	data := make([]float32, 4*4*4)
	for i := range data {
		data[i] = 25
	}
	vol, err := volume.NewFloat32(4, 4, 4, data)
	require.NoError(t, err)

	// 25/100 = 0.25, gamma 0.5 -> 0.5
	pix := runProjection(t, s, vol, 2, 2, 100, 0.5)
	for _, v := range pix {
		assert.InDelta(t, 0.5, v, 1e-6)
	}

	// maxVal 0 leaves intensities unscaled
	pix = runProjection(t, s, vol, 2, 2, 0, 1)
	for _, v := range pix {
		assert.InDelta(t, 25.0, v, 1e-6)
	}
}
