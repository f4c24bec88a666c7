// Command mipcast renders a maximum-intensity projection of a synthetic
// volume and writes it to a PNG or TIFF file.
package main

import (
	"flag"
	"fmt"
	"image/png"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/tiff"

	"github.com/gekko3d/mipcast"
	"github.com/gekko3d/mipcast/compute"
	"github.com/gekko3d/mipcast/volume"
)

func main() {
	width := flag.Int("width", 600, "output width in pixels")
	height := flag.Int("height", 600, "output height in pixels")
	size := flag.Int("size", 128, "synthetic volume edge length")
	shape := flag.String("shape", "shell", "synthetic volume: sphere, shell or ramp")
	gamma := flag.Float64("gamma", 1.0, "display gamma")
	maxVal := flag.Float64("maxval", 0, "display normalization ceiling (0 = volume max)")
	unitZ := flag.Float64("unitz", 1.0, "voxel spacing along z, relative to x/y")
	angle := flag.Float64("angle", 0.5, "rotation around the y axis, radians")
	cpu := flag.Bool("cpu", false, "force the software backend")
	out := flag.String("out", "mip.png", "output file (.png or .tif)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	var vol *volume.Volume
	switch *shape {
	case "sphere":
		n := *size
		c := float32(n) / 2
		vol = volume.Sphere(n, mgl32.Vec3{c, c, c}, float32(n)/3, 1000)
	case "shell":
		vol = volume.Shell(*size, float32(*size)/3, 3, 1000)
	case "ramp":
		vol = volume.Ramp(*size, *size, *size, 1000)
	default:
		fmt.Fprintf(os.Stderr, "unknown shape %q\n", *shape)
		os.Exit(2)
	}

	opts := mipcast.DefaultOptions()
	opts.Width = *width
	opts.Height = *height
	opts.Logger = mipcast.NewDefaultLogger("mipcast", *debug)
	if *cpu {
		opts.Power = compute.PowerCPU
	}

	rend, err := mipcast.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init renderer: %v\n", err)
		os.Exit(1)
	}
	defer rend.Release()

	if err := rend.SetData(vol); err != nil {
		fmt.Fprintf(os.Stderr, "set data: %v\n", err)
		os.Exit(1)
	}
	rend.SetUnits(mgl32.Vec3{1, 1, float32(*unitZ)})
	rend.SetGamma(float32(*gamma))
	if *maxVal > 0 {
		rend.SetMaxVal(float32(*maxVal))
	} else {
		rend.SetMaxVal(vol.MaxValue())
	}

	mv := mgl32.Translate3D(0, 0, -4).
		Mul4(mgl32.HomogRotate3DY(float32(*angle))).
		Mul4(mgl32.Scale3D(0.7, 0.7, 0.7))
	rend.SetModelView(mv)
	rend.SetProjection(mgl32.Perspective(mgl32.DegToRad(60), float32(*width)/float32(*height), 0.1, 10))

	frame, err := rend.Render()
	if err != nil {
		fmt.Fprintf(os.Stderr, "render: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *out, err)
		os.Exit(1)
	}
	defer f.Close()

	img := frame.Gray16()
	if strings.HasSuffix(*out, ".tif") || strings.HasSuffix(*out, ".tiff") {
		err = tiff.Encode(f, img, nil)
	} else {
		err = png.Encode(f, img)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode %s: %v\n", *out, err)
		os.Exit(1)
	}
}
