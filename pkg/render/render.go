package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

var (
	// ErrAsset is returned when the cover image can't be loaded or decoded.
	ErrAsset = errors.New("render: couldn't load cover")
	// ErrRender is returned when a frame can't be rasterized.
	ErrRender = errors.New("render: couldn't rasterize frame")
)

var (
	baseColor     = color.RGBA{0x1a, 0x1a, 0x1a, 0xff}
	gradientColor = color.RGBA{0x2d, 0x2d, 0x2d, 0xff}
	borderColor   = color.RGBA{0xd4, 0xaf, 0x37, 0xff}
	grooveColor   = color.RGBA{0x33, 0x33, 0x33, 0xff}
)

// Job holds the parameters for one vinyl animation render.
type Job struct {
	Cover    string
	Dir      string
	Duration time.Duration
	Width    int
	Height   int
	FPS      int
}

const (
	DefaultWidth    = 1080
	DefaultHeight   = 1080
	DefaultFPS      = 30
	DefaultDuration = 30 * time.Second
)

// Frames reports the total number of frames for the job.
func (j *Job) Frames() int {
	return int(j.Duration.Seconds() * float64(j.FPS))
}

// Angle returns the disc rotation in degrees for a given frame, so the disc
// completes exactly one turn over the whole sequence.
func Angle(frame, total int) float64 {
	return 360.0 * float64(frame) / float64(total)
}

// FrameName returns the file name of the n-th frame. Frames are numbered from
// one and zero padded so a lexicographic iteration matches rotation order.
func FrameName(n int) string {
	return fmt.Sprintf("frame_%04d.png", n)
}

// Pattern is the frame sequence pattern consumed by the encoder.
const Pattern = "frame_%04d.png"

type Renderer struct {
	debug bool
}

type Config struct {
	Debug bool
}

func New(cfg *Config) *Renderer {
	return &Renderer{debug: cfg.Debug}
}

// Render rasterizes the rotating disc animation into the job's directory, one
// png per frame. The background and the unrotated disc are drawn once; each
// frame only rotates the disc layer over the background.
func (r *Renderer) Render(ctx context.Context, job *Job) error {
	if job.Width <= 0 || job.Height <= 0 || job.FPS <= 0 || job.Duration <= 0 {
		return fmt.Errorf("%w: invalid geometry %dx%d %dfps %s", ErrRender, job.Width, job.Height, job.FPS, job.Duration)
	}
	total := job.Frames()
	if total <= 0 {
		return fmt.Errorf("%w: no frames to render", ErrRender)
	}

	cover, err := LoadImage(job.Cover)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(job.Dir, 0755); err != nil {
		return fmt.Errorf("%w: couldn't create folder %s: %v", ErrRender, job.Dir, err)
	}

	background := drawBackground(job.Width, job.Height)
	disc := drawDisc(job.Width, job.Height, cover)

	cx := float64(job.Width) / 2
	cy := float64(job.Height) / 2
	frame := image.NewRGBA(image.Rect(0, 0, job.Width, job.Height))
	for i := 0; i < total; i++ {
		// Yield between frames so a slow render doesn't starve the caller.
		select {
		case <-ctx.Done():
			return fmt.Errorf("render: %w", ctx.Err())
		default:
		}

		draw.Draw(frame, frame.Bounds(), background, image.Point{}, draw.Src)

		// Rotate the disc about the canvas center.
		rad := Angle(i, total) * math.Pi / 180.0
		sin, cos := math.Sin(rad), math.Cos(rad)
		m := f64.Aff3{
			cos, -sin, cx - cos*cx + sin*cy,
			sin, cos, cy - sin*cx - cos*cy,
		}
		xdraw.BiLinear.Transform(frame, m, disc, disc.Bounds(), xdraw.Over, nil)

		path := filepath.Join(job.Dir, FrameName(i+1))
		if err := writePNG(path, frame); err != nil {
			return err
		}
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: couldn't create %s: %v", ErrRender, path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("%w: couldn't encode %s: %v", ErrRender, path, err)
	}
	return nil
}

// drawBackground fills the canvas with the base color and overlays a radial
// gradient that lightens the center and fades back to the base color at 1.2
// times the disc radius.
func drawBackground(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	cx := float64(width) / 2
	cy := float64(height) / 2
	vinylRadius := 0.45 * math.Min(float64(width), float64(height))
	maxDist := 1.2 * vinylRadius
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			t := math.Sqrt(dx*dx+dy*dy) / maxDist
			if t > 1 {
				t = 1
			}
			img.SetRGBA(x, y, lerp(gradientColor, baseColor, t))
		}
	}
	return img
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t)
	}
	return color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 0xff}
}

// drawDisc rasterizes the unrotated vinyl layer: disc with border, grooves,
// spindle hole and the cover clipped to the center circle. Everything outside
// the disc stays transparent.
func drawDisc(width, height int, cover image.Image) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	center := image.Pt(width/2, height/2)
	vinylRadius := 0.45 * math.Min(float64(width), float64(height))
	coverRadius := 0.3 * vinylRadius

	// Outer disc with a stroked border.
	fillCircle(img, center, vinylRadius, baseColor)
	strokeCircle(img, center, vinylRadius, 4, borderColor)

	// Five concentric groove circles.
	for i := 1; i <= 5; i++ {
		strokeCircle(img, center, vinylRadius*float64(i)/6, 1, grooveColor)
	}

	// Spindle hole.
	fillCircle(img, center, coverRadius*0.3, baseColor)

	// Cover image scaled to fill the center circle and clipped to it.
	size := int(2 * coverRadius)
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), cover, cover.Bounds(), xdraw.Src, nil)
	offset := image.Pt(center.X-size/2, center.Y-size/2)
	mask := &circle{p: image.Pt(size/2, size/2), r: coverRadius}
	draw.DrawMask(img, scaled.Bounds().Add(offset), scaled, image.Point{}, mask, image.Point{}, draw.Over)

	return img
}

func fillCircle(img *image.RGBA, p image.Point, r float64, c color.RGBA) {
	mask := &circle{p: image.Pt(int(r), int(r)), r: r}
	bounds := image.Rect(p.X-int(r), p.Y-int(r), p.X+int(r), p.Y+int(r))
	draw.DrawMask(img, bounds, &image.Uniform{c}, image.Point{}, mask, image.Point{}, draw.Over)
}

func strokeCircle(img *image.RGBA, p image.Point, r float64, width float64, c color.RGBA) {
	outer := r + width/2
	mask := &ring{p: image.Pt(int(outer), int(outer)), outer: outer, inner: r - width/2}
	bounds := image.Rect(p.X-int(outer), p.Y-int(outer), p.X+int(outer), p.Y+int(outer))
	draw.DrawMask(img, bounds, &image.Uniform{c}, image.Point{}, mask, image.Point{}, draw.Over)
}

// circle is an alpha mask covering a filled circle.
type circle struct {
	p image.Point
	r float64
}

func (c *circle) ColorModel() color.Model { return color.AlphaModel }

func (c *circle) Bounds() image.Rectangle {
	return image.Rect(c.p.X-int(c.r), c.p.Y-int(c.r), c.p.X+int(c.r), c.p.Y+int(c.r))
}

func (c *circle) At(x, y int) color.Color {
	dx := float64(x) - float64(c.p.X) + 0.5
	dy := float64(y) - float64(c.p.Y) + 0.5
	if dx*dx+dy*dy < c.r*c.r {
		return color.Alpha{0xff}
	}
	return color.Alpha{0x00}
}

// ring is an alpha mask covering the band between two radii.
type ring struct {
	p     image.Point
	outer float64
	inner float64
}

func (r *ring) ColorModel() color.Model { return color.AlphaModel }

func (r *ring) Bounds() image.Rectangle {
	return image.Rect(r.p.X-int(r.outer), r.p.Y-int(r.outer), r.p.X+int(r.outer), r.p.Y+int(r.outer))
}

func (r *ring) At(x, y int) color.Color {
	dx := float64(x) - float64(r.p.X) + 0.5
	dy := float64(y) - float64(r.p.Y) + 0.5
	d := dx*dx + dy*dy
	if d < r.outer*r.outer && d >= r.inner*r.inner {
		return color.Alpha{0xff}
	}
	return color.Alpha{0x00}
}
