package volume

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Synthetic volumes for tests and demos.

// Sphere returns an n^3 float32 volume holding a filled ball of the given
// value, centered at center (voxel coordinates) with the given radius.
func Sphere(n int, center mgl32.Vec3, radius, value float32) *Volume {
	v := &Volume{Nx: n, Ny: n, Nz: n, Dtype: Float32, Float32s: make([]float32, n*n*n)}
	r2 := radius * radius
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				dx := float32(x) + 0.5 - center.X()
				dy := float32(y) + 0.5 - center.Y()
				dz := float32(z) + 0.5 - center.Z()
				if dx*dx+dy*dy+dz*dz <= r2 {
					v.Set(x, y, z, value)
				}
			}
		}
	}
	return v
}

// Shell returns an n^3 float32 volume with a hollow spherical shell around
// the volume center. Thickness is in voxels.
func Shell(n int, radius, thickness, value float32) *Volume {
	v := &Volume{Nx: n, Ny: n, Nz: n, Dtype: Float32, Float32s: make([]float32, n*n*n)}
	c := float32(n) / 2
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				dx := float32(x) + 0.5 - c
				dy := float32(y) + 0.5 - c
				dz := float32(z) + 0.5 - c
				d := float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
				if d >= radius-thickness/2 && d <= radius+thickness/2 {
					v.Set(x, y, z, value)
				}
			}
		}
	}
	return v
}

// Ramp returns an nx*ny*nz float32 volume with samples increasing linearly
// from 0 to max in index order, so the brightest sample sits at the last
// voxel of the stack.
func Ramp(nx, ny, nz int, max float32) *Volume {
	data := make([]float32, nx*ny*nz)
	den := float32(len(data) - 1)
	if den <= 0 {
		den = 1
	}
	for i := range data {
		data[i] = max * float32(i) / den
	}
	return &Volume{Nx: nx, Ny: ny, Nz: nz, Dtype: Float32, Float32s: data}
}
