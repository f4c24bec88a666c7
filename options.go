package mipcast

import (
	"github.com/gekko3d/mipcast/compute"
)

// Options configures a Renderer at construction. Use DefaultOptions as the
// starting point; the zero value disables both ingestion policies.
type Options struct {
	// Width, Height is the initial output size.
	Width, Height int

	// Power is the device preference (auto / GPU only / CPU).
	Power compute.Power

	// Backend, when non-nil, is used instead of opening a device per
	// Power. Tests inject a software backend here.
	Backend compute.Backend

	// AutoConvert converts volumes whose dtype the device does not accept
	// to float32 instead of rejecting them.
	AutoConvert bool

	// Downsample shrinks volumes that exceed the device allocation limit
	// by the minimal integer stride instead of failing the upload.
	Downsample bool

	// Logger receives renderer logs. Nil means a prefixed default logger.
	Logger Logger
}

// DefaultOptions returns the default renderer configuration: 200x200
// output, automatic device selection, both ingestion policies enabled.
func DefaultOptions() Options {
	return Options{
		Width:       200,
		Height:      200,
		Power:       compute.PowerAuto,
		AutoConvert: true,
		Downsample:  true,
	}
}
