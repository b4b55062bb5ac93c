package render

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/vinylai/vinylai/pkg/audio"
	"github.com/vinylai/vinylai/pkg/ffmpeg"
	"github.com/vinylai/vinylai/pkg/render"
)

type Config struct {
	Debug     bool
	FFmpegBin string

	Audio    string
	Image    string
	Output   string
	Duration time.Duration
	Width    int
	Height   int
	FPS      int
}

// Run renders a vinyl video from a local audio file and cover image.
func Run(ctx context.Context, cfg *Config) error {
	if cfg.Audio == "" {
		return fmt.Errorf("render: audio is required")
	}
	if cfg.Image == "" {
		return fmt.Errorf("render: image is required")
	}
	output := cfg.Output
	if output == "" {
		output = "vinyl.mp4"
	}

	encoder := ffmpeg.New(cfg.FFmpegBin)
	if err := encoder.Check(ctx); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	duration := cfg.Duration
	if duration == 0 {
		duration = render.DefaultDuration
	}
	if d, err := audio.Duration(cfg.Audio); err == nil && d < duration {
		duration = d
	}
	fps := cfg.FPS
	if fps == 0 {
		fps = render.DefaultFPS
	}

	framesDir, err := os.MkdirTemp("", "vinylai_frames_*")
	if err != nil {
		return fmt.Errorf("render: couldn't create frames folder: %w", err)
	}
	defer os.RemoveAll(framesDir)

	renderer := render.New(&render.Config{Debug: cfg.Debug})
	job := &render.Job{
		Cover:    cfg.Image,
		Dir:      framesDir,
		Duration: duration,
		Width:    cfg.Width,
		Height:   cfg.Height,
		FPS:      fps,
	}
	if job.Width == 0 {
		job.Width = render.DefaultWidth
	}
	if job.Height == 0 {
		job.Height = render.DefaultHeight
	}
	start := time.Now()
	if err := renderer.Render(ctx, job); err != nil {
		return err
	}
	log.Printf("render: %d frames in %s\n", job.Frames(), time.Since(start))

	pattern := filepath.Join(framesDir, render.Pattern)
	if err := encoder.Mux(ctx, pattern, fps, cfg.Audio, output); err != nil {
		return err
	}
	log.Printf("render: wrote %s\n", output)
	return nil
}
