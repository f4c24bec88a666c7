package mipcast

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// StackScale returns the anisotropic scale matrix that normalizes the
// longest physical axis extent of a stack to 1: scale_i = d_i*N_i /
// max_j(d_j*N_j), with (nx,ny,nz) the volume shape and units the physical
// voxel spacing. Composed with the model-view matrix it preserves the
// physical aspect ratio of non-cubic stacks.
func StackScale(nx, ny, nz int, units mgl32.Vec3) mgl32.Mat4 {
	ex := units.X() * float32(nx)
	ey := units.Y() * float32(ny)
	ez := units.Z() * float32(nz)

	maxDim := ex
	if ey > maxDim {
		maxDim = ey
	}
	if ez > maxDim {
		maxDim = ez
	}
	if maxDim == 0 {
		return mgl32.Ident4()
	}
	return mgl32.Scale3D(ex/maxDim, ey/maxDim, ez/maxDim)
}

// mat4Bytes flattens a column-major matrix to 16 little-endian float32s,
// the layout the kernel reads back into a mat4x4.
func mat4Bytes(m mgl32.Mat4) []byte {
	buf := make([]byte, 64)
	for i, v := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
