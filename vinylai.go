package vinylai

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinylai/vinylai/pkg/audio"
	"github.com/vinylai/vinylai/pkg/fetch"
	"github.com/vinylai/vinylai/pkg/ffmpeg"
	"github.com/vinylai/vinylai/pkg/kie"
	"github.com/vinylai/vinylai/pkg/poll"
	"github.com/vinylai/vinylai/pkg/render"
)

type Config struct {
	Proxy     string
	Wait      time.Duration
	Debug     bool
	KieHost   string
	KieToken  string
	FFmpegBin string
}

// GenerateVideo generates a vinyl record video given a music description. If
// image is empty a cover is synthesized from the description as well.
func GenerateVideo(ctx context.Context, cfg *Config, description, image, output string) error {
	httpClient := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}
	encoder := ffmpeg.New(cfg.FFmpegBin)
	if err := encoder.Check(ctx); err != nil {
		return err
	}
	client := kie.New(&kie.Config{
		Wait:   cfg.Wait,
		Debug:  cfg.Debug,
		Client: httpClient,
		Host:   cfg.KieHost,
		Token:  cfg.KieToken,
	})
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("couldn't start kie client: %w", err)
	}

	taskID, err := client.GenerateMusic(ctx, description, nil)
	if err != nil {
		return fmt.Errorf("couldn't generate music: %w", err)
	}
	log.Println("task:", taskID)
	track, err := poll.New(&poll.Config{Debug: cfg.Debug}).Wait(ctx, func(ctx context.Context) (*poll.Report, error) {
		return client.MusicTask(ctx, taskID)
	})
	if err != nil {
		return fmt.Errorf("couldn't obtain music: %w", err)
	}
	log.Println("audio:", track.Audio)

	if image == "" {
		image, err = client.GenerateImage(ctx, description, "")
		if err != nil {
			return fmt.Errorf("couldn't generate cover: %w", err)
		}
		log.Println("image:", image)
	}

	scratch, err := os.MkdirTemp("", "vinylai_*")
	if err != nil {
		return fmt.Errorf("couldn't create scratch folder: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	fetcher := fetch.New(&fetch.Config{Client: httpClient})
	audioPath := filepath.Join(scratch, "audio.mp3")
	if err := fetcher.Download(ctx, track.Audio, audioPath); err != nil {
		return fmt.Errorf("couldn't download audio: %w", err)
	}
	cover := image
	if strings.HasPrefix(image, "http") {
		cover = filepath.Join(scratch, "cover.png")
		if err := fetcher.Download(ctx, image, cover); err != nil {
			return fmt.Errorf("couldn't download cover: %w", err)
		}
	}

	job := &render.Job{
		Cover:    cover,
		Dir:      filepath.Join(scratch, "frames"),
		Duration: render.DefaultDuration,
		Width:    render.DefaultWidth,
		Height:   render.DefaultHeight,
		FPS:      render.DefaultFPS,
	}
	if d, err := audio.Duration(audioPath); err == nil && d < job.Duration {
		job.Duration = d
	}
	if err := render.New(&render.Config{Debug: cfg.Debug}).Render(ctx, job); err != nil {
		return err
	}

	if output == "" {
		output = "vinyl.mp4"
	}
	pattern := filepath.Join(job.Dir, render.Pattern)
	if err := encoder.Mux(ctx, pattern, job.FPS, audioPath, output); err != nil {
		return err
	}
	log.Println("video:", output)
	return nil
}
