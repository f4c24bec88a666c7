package shaders

import (
	_ "embed"
)

//go:embed maxproject_float.wgsl
var MaxProjectFloatWGSL string

//go:embed maxproject_uint16.wgsl
var MaxProjectUint16WGSL string
