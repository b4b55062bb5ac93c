package ffmpeg

import (
	"strings"
	"testing"
	"time"
)

func TestMuxArgs(t *testing.T) {
	args := MuxArgs("frames/frame_%04d.png", 30, "audio.mp3", "out.mp4")
	got := strings.Join(args, " ")
	want := "-y -framerate 30 -i frames/frame_%04d.png -i audio.mp3 -c:v libx264 -preset medium -crf 23 -c:a aac -b:a 192k -shortest -pix_fmt yuv420p out.mp4"
	if got != want {
		t.Errorf("unexpected args\nwant: %s\ngot:  %s", want, got)
	}
}

func TestMuxArgsShortest(t *testing.T) {
	// The output must stop at whichever input ends first.
	args := MuxArgs("f_%d.png", 24, "a.mp3", "o.mp4")
	var found bool
	for _, a := range args {
		if a == "-shortest" {
			found = true
		}
	}
	if !found {
		t.Error("missing -shortest")
	}
}

func TestNewDefaultsBin(t *testing.T) {
	f := New("")
	if f.bin != "ffmpeg" {
		t.Errorf("unexpected binary %q", f.bin)
	}
}

func TestToText(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"zero", 0, "00:00:00"},
		{"seconds", 12 * time.Second, "00:00:12"},
		{"minutes", 65 * time.Second, "00:01:05"},
		{"hours", 3601 * time.Second, "01:00:01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toText(tt.in); got != tt.want {
				t.Errorf("want %s, got %s", tt.want, got)
			}
		})
	}
}
