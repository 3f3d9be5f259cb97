package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ScannerColor defines the colors used for one scanner
type ScannerColor struct {
	Marker color.NRGBA // scanner position
	Range  color.NRGBA // detection square outline
}

// DefaultColors returns a palette that cycles for larger fleets
func DefaultColors() []ScannerColor {
	return []ScannerColor{
		{Marker: color.NRGBA{0, 0, 255, 255}, Range: color.NRGBA{100, 149, 237, 255}},   // Blue
		{Marker: color.NRGBA{255, 0, 0, 255}, Range: color.NRGBA{255, 99, 71, 255}},     // Red
		{Marker: color.NRGBA{0, 150, 0, 255}, Range: color.NRGBA{144, 238, 144, 255}},   // Green
		{Marker: color.NRGBA{184, 134, 11, 255}, Range: color.NRGBA{240, 220, 130, 255}}, // Goldenrod
		{Marker: color.NRGBA{128, 0, 128, 255}, Range: color.NRGBA{216, 191, 216, 255}},  // Purple
		{Marker: color.NRGBA{0, 139, 139, 255}, Range: color.NRGBA{175, 238, 238, 255}},  // Teal
	}
}

var beaconColor = color.RGBA{40, 40, 40, 255}

// assignColors gives each scanner a palette entry in reconstruction order
func assignColors(rec *Reconstruction) map[string]ScannerColor {
	palette := DefaultColors()
	colors := make(map[string]ScannerColor)
	if rec == nil {
		return colors
	}
	for i, sp := range rec.Scanners {
		colors[sp.ID] = palette[i%len(palette)]
	}
	return colors
}

// MaxRasterSize caps the longer side of rendered content in pixels, so one
// far-off report cannot blow up the image
const MaxRasterSize = 4000

// FleetRenderer draws a reconstruction as a raster image
type FleetRenderer struct {
	Reconstruction *Reconstruction
	Colors         map[string]ScannerColor
	Plane          string
	Scale          float64 // Pixels per world unit
	Padding        int     // Pixels around the content
	Range          int     // Scanner detection half-width in world units; 0 hides the squares
	MaxSize        int     // Longest content side in pixels; Scale shrinks to fit, 0 means no cap
}

// NewFleetRenderer creates a raster renderer from render settings
func NewFleetRenderer(rec *Reconstruction, cfg RenderConfig) *FleetRenderer {
	plane, err := ParsePlane(cfg.Plane)
	if err != nil {
		plane = DefaultRenderPlane
	}
	return &FleetRenderer{
		Reconstruction: rec,
		Colors:         assignColors(rec),
		Plane:          plane,
		Scale:          0.1, // 10 world units per pixel
		Padding:        30,
		Range:          cfg.Range,
		MaxSize:        MaxRasterSize,
	}
}

// scaleFor returns Scale, reduced if needed so bound fits in MaxSize pixels
func (r *FleetRenderer) scaleFor(bound orb.Bound) float64 {
	extent := math.Max(bound.Max[0]-bound.Min[0], bound.Max[1]-bound.Min[1])
	if r.MaxSize > 0 && extent*r.Scale > float64(r.MaxSize) {
		return float64(r.MaxSize) / extent
	}
	return r.Scale
}

// hexScannerColor builds a scanner color from a hex value like "#FF6B6B"
func hexScannerColor(hex string) ScannerColor {
	c := parseHexColor(hex)
	return ScannerColor{
		Marker: color.NRGBA{c.R, c.G, c.B, 255},
		Range:  color.NRGBA{c.R, c.G, c.B, 140},
	}
}

// ApplyScannerColors overrides palette entries with configured scanner colors
func ApplyScannerColors(colors map[string]ScannerColor, scanners []ScannerConfig) {
	for _, sc := range scanners {
		if sc.Color != "" {
			colors[sc.ID] = hexScannerColor(sc.Color)
		}
	}
}

// SetColor overrides a scanner's colors with a hex value like "#FF6B6B"
func (r *FleetRenderer) SetColor(scannerID, hex string) {
	r.Colors[scannerID] = hexScannerColor(hex)
}

// HasDrawableContent returns true if there is at least one scanner or beacon
func (r *FleetRenderer) HasDrawableContent() bool {
	_, ok := FleetBounds(r.Reconstruction, r.Plane, r.Range)
	return ok
}

// Render draws beacons, scanner detection squares, scanner markers and a legend
func (r *FleetRenderer) Render() *image.RGBA {
	bound, ok := FleetBounds(r.Reconstruction, r.Plane, r.Range)
	if !ok {
		return image.NewRGBA(image.Rect(0, 0, 2*r.Padding+1, 2*r.Padding+1))
	}

	scale := r.scaleFor(bound)
	width := int((bound.Max[0]-bound.Min[0])*scale) + 2*r.Padding + 1
	height := int((bound.Max[1]-bound.Min[1])*scale) + 2*r.Padding + 1
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	// World to image pixels, +y up
	toPixel := func(p orb.Point) (int, int) {
		px := int((p[0]-bound.Min[0])*scale) + r.Padding
		py := height - 1 - (int((p[1]-bound.Min[1])*scale) + r.Padding)
		return px, py
	}

	rec := r.Reconstruction

	if r.Range > 0 {
		for _, sp := range rec.Scanners {
			c := ProjectPoint(sp.Pose.Position, r.Plane)
			rr := float64(r.Range)
			x0, y0 := toPixel(orb.Point{c[0] - rr, c[1] - rr})
			x1, y1 := toPixel(orb.Point{c[0] + rr, c[1] + rr})
			drawRectOutline(img, x0, y1, x1, y0, toRGBA(r.Colors[sp.ID].Range))
		}
	}

	for _, b := range rec.Beacons {
		x, y := toPixel(ProjectPoint(b, r.Plane))
		drawCircle(img, x, y, 2, beaconColor)
	}

	for _, sp := range rec.Scanners {
		x, y := toPixel(ProjectPoint(sp.Pose.Position, r.Plane))
		drawSquare(img, x, y, 9, toRGBA(r.Colors[sp.ID].Marker))
		drawText(img, x+7, y-7, sp.ID, color.RGBA{0, 0, 0, 255})
	}

	r.drawLegend(img)

	return img
}

// SavePNG renders and writes the image to path
func (r *FleetRenderer) SavePNG(path string) error {
	img := r.Render()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}

// drawLegend lists scanners with their marker color in the top-left corner
func (r *FleetRenderer) drawLegend(img *image.RGBA) {
	y := 15
	for _, sp := range r.Reconstruction.Scanners {
		c := toRGBA(r.Colors[sp.ID].Marker)
		for dy := 0; dy < 10; dy++ {
			for dx := 0; dx < 10; dx++ {
				img.Set(10+dx, y+dy-8, c)
			}
		}
		drawText(img, 26, y, sp.ID, color.RGBA{0, 0, 0, 255})
		y += 16
	}
}

func toRGBA(c color.NRGBA) color.RGBA {
	return nrgbaToRGBA(c)
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(img, cx+dx, cy+dy, c)
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			setPixel(img, cx+dx, cy+dy, c)
		}
	}
}

// drawRectOutline draws a one pixel rectangle outline between two corners
func drawRectOutline(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for x := x0; x <= x1; x++ {
		setPixel(img, x, y0, c)
		setPixel(img, x, y1, c)
	}
	for y := y0; y <= y1; y++ {
		setPixel(img, x0, y, c)
		setPixel(img, x1, y, c)
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	b := img.Bounds()
	if x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
		img.Set(x, y, c)
	}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B" to color.RGBA
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}

	return color.RGBA{r, g, b, 255}
}
