package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrNotAvailable is returned by Check when the ffmpeg binary can't be run.
var ErrNotAvailable = errors.New("ffmpeg: binary not available")

type ffmpeg struct {
	bin string
}

func New(bin string) *ffmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &ffmpeg{bin: bin}
}

// Check probes the ffmpeg binary. It must be called before any encoding work
// so a missing encoder is surfaced before frames are rendered.
func (f *ffmpeg) Check(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, f.bin, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotAvailable, f.bin, err)
	}
	return nil
}

// Mux encodes a numbered frame sequence together with an audio track into a
// single video. The output stops at whichever input ends first.
func (f *ffmpeg) Mux(ctx context.Context, pattern string, fps int, audio, output string) error {
	args := MuxArgs(pattern, fps, audio, output)
	cmd := exec.CommandContext(ctx, f.bin, args...)
	data, err := cmd.CombinedOutput()
	if err != nil {
		msg := string(data)
		return fmt.Errorf("ffmpeg: couldn't mux: %w: %s", err, msg)
	}
	return nil
}

// MuxArgs builds the argument list used by Mux.
func MuxArgs(pattern string, fps int, audio, output string) []string {
	return []string{
		"-y",
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", pattern,
		"-i", audio,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-pix_fmt", "yuv420p",
		output,
	}
}

// Cut copies the audio stream of input up to end.
func (f *ffmpeg) Cut(ctx context.Context, input, output string, end time.Duration) error {
	cmd := exec.CommandContext(ctx, f.bin, "-y", "-i", input, "-to", toText(end), "-acodec", "copy", output)
	data, err := cmd.CombinedOutput()
	if err != nil {
		msg := string(data)
		return fmt.Errorf("ffmpeg: couldn't cut: %w: %s", err, msg)
	}
	return nil
}

func toText(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
