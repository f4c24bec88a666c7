package mipcast

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/mipcast/volume"
)

// RenderOption overrides renderer state for a Render call. Overrides go
// through the ordinary setters, so they persist for later frames.
type RenderOption func(*Renderer) error

// WithData uploads a volume before dispatching.
func WithData(v *volume.Volume) RenderOption {
	return func(r *Renderer) error { return r.SetData(v) }
}

// WithUnits overrides the voxel spacing.
func WithUnits(units mgl32.Vec3) RenderOption {
	return func(r *Renderer) error { r.SetUnits(units); return nil }
}

// WithMaxVal overrides the display normalization ceiling.
func WithMaxVal(maxVal float32) RenderOption {
	return func(r *Renderer) error { r.SetMaxVal(maxVal); return nil }
}

// WithGamma overrides the display gamma.
func WithGamma(gamma float32) RenderOption {
	return func(r *Renderer) error { r.SetGamma(gamma); return nil }
}

// WithModelView overrides the model-view matrix.
func WithModelView(mv mgl32.Mat4) RenderOption {
	return func(r *Renderer) error { r.SetModelView(mv); return nil }
}

// WithProjection overrides the projection matrix.
func WithProjection(proj mgl32.Mat4) RenderOption {
	return func(r *Renderer) error { r.SetProjection(proj); return nil }
}

// WithBoxBoundaries overrides the clip box.
func WithBoxBoundaries(box [6]float32) RenderOption {
	return func(r *Renderer) error { r.SetBoxBoundaries(box); return nil }
}
