package audio

import (
	"fmt"
	"os"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// Duration returns the playback length of an mp3 file.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("audio: couldn't open file %s: %w", path, err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("audio: couldn't decode file %s: %w", path, err)
	}

	// Length is the total size of the decoded stream: 16-bit stereo samples,
	// so 4 bytes per sample at the decoder's sample rate.
	samples := decoder.Length() / 4
	d := time.Duration(float64(samples) / float64(decoder.SampleRate()) * float64(time.Second))
	return d, nil
}
