package mesh

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha.
// The canvas library expects premultiplied RGBA.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorFleetRenderer draws a reconstruction as vector graphics in world units
type VectorFleetRenderer struct {
	Reconstruction *Reconstruction
	Colors         map[string]ScannerColor
	Plane          string
	Padding        float64           // World units around the content
	GridSpacing    float64           // World units between grid lines; 0 disables
	Range          int               // Scanner detection half-width; 0 hides the squares
	BeaconRadius   float64           // World units
	Resolution     canvas.Resolution // PNG output resolution
}

// NewVectorFleetRenderer creates a vector renderer from render settings
func NewVectorFleetRenderer(rec *Reconstruction, cfg RenderConfig) *VectorFleetRenderer {
	plane, err := ParsePlane(cfg.Plane)
	if err != nil {
		plane = DefaultRenderPlane
	}
	resolution := cfg.Resolution
	if resolution <= 0 {
		resolution = DefaultVectorDPI
	}
	return &VectorFleetRenderer{
		Reconstruction: rec,
		Colors:         assignColors(rec),
		Plane:          plane,
		Padding:        cfg.Padding,
		GridSpacing:    cfg.GridSpacing,
		Range:          cfg.Range,
		BeaconRadius:   20.0,
		Resolution:     canvas.DPI(resolution),
	}
}

// SetColor overrides a scanner's colors with a hex value like "#FF6B6B"
func (r *VectorFleetRenderer) SetColor(scannerID, hex string) {
	r.Colors[scannerID] = hexScannerColor(hex)
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the fleet map as an SVG to the provided writer
func (r *VectorFleetRenderer) RenderToSVG(w io.Writer) error {
	bound := r.bounds()
	width, height := r.canvasSize(bound)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, bound, width, height)

	return svgRenderer.Close()
}

// RenderToPNG writes the fleet map as a PNG to the provided writer
func (r *VectorFleetRenderer) RenderToPNG(w io.Writer) error {
	bound := r.bounds()
	width, height := r.canvasSize(bound)

	rast := rasterizer.New(width, height, r.rasterResolution(width, height), canvas.DefaultColorSpace)
	r.renderToCanvas(rast, bound, width, height)

	return png.Encode(w, rast)
}

// rasterResolution lowers Resolution when the PNG would exceed MaxRasterSize
func (r *VectorFleetRenderer) rasterResolution(width, height float64) canvas.Resolution {
	longest := math.Max(width, height)
	if longest*r.Resolution.DPMM() > MaxRasterSize {
		return canvas.DPMM(MaxRasterSize / longest)
	}
	return r.Resolution
}

// maxGridLines bounds the grid lines drawn along each axis
const maxGridLines = 100

// gridSpacing returns GridSpacing, doubled until each axis has at most
// maxGridLines lines
func (r *VectorFleetRenderer) gridSpacing(bound orb.Bound) float64 {
	extent := math.Max(bound.Max[0]-bound.Min[0], bound.Max[1]-bound.Min[1])
	spacing := r.GridSpacing
	for extent/spacing > maxGridLines {
		spacing *= 2
	}
	return spacing
}

func (r *VectorFleetRenderer) bounds() orb.Bound {
	bound, ok := FleetBounds(r.Reconstruction, r.Plane, r.Range)
	if !ok {
		return orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	}
	return bound
}

func (r *VectorFleetRenderer) canvasSize(bound orb.Bound) (float64, float64) {
	width := (bound.Max[0] - bound.Min[0]) + 2*r.Padding
	height := (bound.Max[1] - bound.Min[1]) + 2*r.Padding
	return math.Max(width, 1), math.Max(height, 1)
}

func (r *VectorFleetRenderer) renderToCanvas(renderer canvasRenderer, bound orb.Bound, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p orb.Point) (float64, float64) {
		return (p[0] - bound.Min[0]) + r.Padding, (p[1] - bound.Min[1]) + r.Padding
	}

	rec := r.Reconstruction
	if rec == nil {
		return
	}

	if r.GridSpacing > 0 {
		spacing := r.gridSpacing(bound)
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Lightgray}
		gridStyle.StrokeWidth = spacing / 500
		gridStyle.Dashes = []float64{spacing / 100, spacing / 100}

		for x := math.Floor(bound.Min[0]/spacing) * spacing; x <= bound.Max[0]; x += spacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(orb.Point{x, bound.Min[1]})
			x2, y2 := toCanvas(orb.Point{x, bound.Max[1]})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Floor(bound.Min[1]/spacing) * spacing; y <= bound.Max[1]; y += spacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(orb.Point{bound.Min[0], y})
			x2, y2 := toCanvas(orb.Point{bound.Max[0], y})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	if r.Range > 0 {
		side := 2 * float64(r.Range)
		for _, sp := range rec.Scanners {
			rangeStyle := canvas.DefaultStyle
			rangeStyle.Fill = canvas.Paint{Color: canvas.Transparent}
			rangeStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors[sp.ID].Range)}
			rangeStyle.StrokeWidth = 10.0

			c := ProjectPoint(sp.Pose.Position, r.Plane)
			x, y := toCanvas(orb.Point{c[0] - float64(r.Range), c[1] - float64(r.Range)})
			renderer.RenderPath(canvas.Rectangle(side, side).Translate(x, y), rangeStyle, canvas.Identity)
		}
	}

	beaconStyle := canvas.DefaultStyle
	beaconStyle.Fill = canvas.Paint{Color: beaconColor}
	beaconStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, b := range rec.Beacons {
		x, y := toCanvas(ProjectPoint(b, r.Plane))
		renderer.RenderPath(canvas.Circle(r.BeaconRadius).Translate(x, y), beaconStyle, canvas.Identity)
	}

	for _, sp := range rec.Scanners {
		scannerStyle := canvas.DefaultStyle
		scannerStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors[sp.ID].Marker)}
		scannerStyle.Stroke = canvas.Paint{Color: canvas.Black}
		scannerStyle.StrokeWidth = 5.0

		size := 4 * r.BeaconRadius
		x, y := toCanvas(ProjectPoint(sp.Pose.Position, r.Plane))
		renderer.RenderPath(canvas.Rectangle(size, size).Translate(x-size/2, y-size/2), scannerStyle, canvas.Identity)
	}
}
