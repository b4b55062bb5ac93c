package render

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func writeCover(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 8), 0x80, 0xff})
		}
	}
	path := filepath.Join(dir, "cover.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFrames(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		fps      int
		want     int
	}{
		{"default", 30 * time.Second, 30, 900},
		{"one second", 1 * time.Second, 30, 30},
		{"clamped audio", 12 * time.Second, 30, 360},
		{"low fps", 2 * time.Second, 5, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Duration: tt.duration, FPS: tt.fps}
			if got := j.Frames(); got != tt.want {
				t.Errorf("want %d frames, got %d", tt.want, got)
			}
		})
	}
}

func TestAngle(t *testing.T) {
	total := 900
	if got := Angle(0, total); got != 0 {
		t.Errorf("first frame should not be rotated, got %f", got)
	}
	if got := Angle(total, total); got != 360 {
		t.Errorf("full turn should be 360, got %f", got)
	}
	// The angle step is uniform across the sequence.
	step := Angle(1, total)
	for i := 1; i < total; i++ {
		diff := Angle(i, total) - Angle(i-1, total)
		if math.Abs(diff-step) > 1e-9 {
			t.Fatalf("uneven step at frame %d: %f != %f", i, diff, step)
		}
	}
}

func TestFrameName(t *testing.T) {
	names := []string{FrameName(1), FrameName(2), FrameName(10), FrameName(100), FrameName(1000)}
	if names[0] != "frame_0001.png" {
		t.Errorf("unexpected first frame name %s", names[0])
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("frame names are not sortable: %v", names)
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	cover := writeCover(t, dir)
	job := &Job{
		Cover:    cover,
		Dir:      filepath.Join(dir, "frames"),
		Duration: 1 * time.Second,
		Width:    64,
		Height:   64,
		FPS:      5,
	}
	r := New(&Config{})
	if err := r.Render(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(job.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != job.Frames() {
		t.Fatalf("want %d frames, got %d", job.Frames(), len(entries))
	}
	for i := 1; i <= job.Frames(); i++ {
		path := filepath.Join(job.Dir, FrameName(i))
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("missing frame: %v", err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if img.Bounds().Dx() != job.Width || img.Bounds().Dy() != job.Height {
			t.Fatalf("frame %d: unexpected size %v", i, img.Bounds())
		}
	}

	// The corner lies outside the gradient falloff, so it keeps the base color.
	f, err := os.Open(filepath.Join(job.Dir, FrameName(1)))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	r8, g8, b8, _ := img.At(0, 0).RGBA()
	if r8>>8 != 0x1a || g8>>8 != 0x1a || b8>>8 != 0x1a {
		t.Errorf("corner should be base color, got %02x%02x%02x", r8>>8, g8>>8, b8>>8)
	}
}

func TestRenderInvalidGeometry(t *testing.T) {
	tests := []struct {
		name string
		job  *Job
	}{
		{"zero width", &Job{Width: 0, Height: 64, FPS: 5, Duration: time.Second}},
		{"zero fps", &Job{Width: 64, Height: 64, FPS: 0, Duration: time.Second}},
		{"zero duration", &Job{Width: 64, Height: 64, FPS: 5}},
	}
	r := New(&Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Render(context.Background(), tt.job); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRenderMissingCover(t *testing.T) {
	job := &Job{
		Cover:    filepath.Join(t.TempDir(), "nope.png"),
		Dir:      t.TempDir(),
		Duration: 1 * time.Second,
		Width:    32,
		Height:   32,
		FPS:      1,
	}
	err := New(&Config{}).Render(context.Background(), job)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRenderCancel(t *testing.T) {
	dir := t.TempDir()
	cover := writeCover(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := &Job{
		Cover:    cover,
		Dir:      filepath.Join(dir, "frames"),
		Duration: 1 * time.Second,
		Width:    32,
		Height:   32,
		FPS:      5,
	}
	if err := New(&Config{}).Render(ctx, job); err == nil {
		t.Fatal("expected context error")
	}
}
