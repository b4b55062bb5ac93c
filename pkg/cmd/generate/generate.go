package generate

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vinylai/vinylai/pkg/enhance"
	"github.com/vinylai/vinylai/pkg/fetch"
	"github.com/vinylai/vinylai/pkg/ffmpeg"
	"github.com/vinylai/vinylai/pkg/generation"
	"github.com/vinylai/vinylai/pkg/kie"
	"github.com/vinylai/vinylai/pkg/render"
	"github.com/vinylai/vinylai/pkg/storage"
)

type Config struct {
	Debug       bool
	DBType      string
	DBConn      string
	Timeout     time.Duration
	Concurrency int
	WaitMin     time.Duration
	WaitMax     time.Duration
	Limit       int
	Proxy       string

	KieHost     string
	KieToken    string
	OpenAIToken string
	FFmpegBin   string
	Scratch     string
	Output      string

	ChatID      int64
	Description string
	Image       string
	Input       string
}

// Run launches the video generation process without the HTTP surface.
func Run(ctx context.Context, cfg *Config) error {
	var iteration int
	log.Println("generate: process started")
	defer func() {
		log.Printf("generate: process ended (%d)\n", iteration)
	}()

	debug := func(format string, args ...interface{}) {
		if !cfg.Debug {
			return
		}
		format += "\n"
		log.Printf(format, args...)
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("generate: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("generate: couldn't start orm store: %w", err)
	}

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
	client := kie.New(&kie.Config{
		Wait:   1 * time.Second,
		Debug:  cfg.Debug,
		Client: httpClient,
		Host:   cfg.KieHost,
		Token:  cfg.KieToken,
	})
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("generate: couldn't start kie client: %w", err)
	}

	encoder := ffmpeg.New(cfg.FFmpegBin)
	if err := encoder.Check(ctx); err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	svc := generation.New(&generation.Config{
		Store:    store,
		Synth:    client,
		ImageGen: client,
		Enhancer: enhance.New(&enhance.Config{Token: cfg.OpenAIToken, Debug: cfg.Debug}),
		Fetcher:  fetch.New(&fetch.Config{Client: httpClient}),
		Renderer: render.New(&render.Config{Debug: cfg.Debug}),
		Encoder:  encoder,
		Scratch:  cfg.Scratch,
		Output:   cfg.Output,
		Debug:    cfg.Debug,
	})

	// Load templates
	var templates []template
	if cfg.Input != "" {
		candidate, err := loadTemplates(cfg.Input)
		if err != nil {
			return err
		}
		templates = candidate
	}

	// Print time stats
	start := time.Now()
	defer func() {
		if iteration == 0 {
			return
		}
		total := time.Since(start)
		log.Printf("generate: total time %s, average time %s\n", total, total/time.Duration(iteration))
	}()

	nErr := 0
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 24 * time.Hour
	}
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	// Concurrency settings
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}
	errC := make(chan error, concurrency)
	defer close(errC)
	for i := 0; i < concurrency; i++ {
		errC <- nil
	}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("generate: %w", ctx.Err())
		case <-ticker.C:
			return nil
		case err := <-errC:
			if err != nil {
				nErr += 1
			} else {
				nErr = 0
			}

			// Check exit conditions
			if nErr > 10 {
				return fmt.Errorf("generate: too many consecutive errors: %w", err)
			}
			if cfg.Limit > 0 && iteration >= cfg.Limit {
				return nil
			}
			iteration++

			// Wait for a random time.
			wait := 1 * time.Second
			if iteration > 1 && cfg.WaitMax > cfg.WaitMin {
				wait = time.Duration(rand.Int63n(int64(cfg.WaitMax-cfg.WaitMin))) + cfg.WaitMin
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("generate: %w", ctx.Err())
			case <-time.After(wait):
			}

			// Get a template
			tmpl := template{
				Description: cfg.Description,
				Image:       cfg.Image,
			}
			if tmpl.Description == "" {
				if len(templates) == 0 {
					return fmt.Errorf("generate: description or input is required")
				}
				tmpl = nextTemplate(templates)
			}

			// Launch generate in a goroutine
			wg.Add(1)
			go func() {
				defer wg.Done()
				debug("generate: start %s", tmpl)
				err := generate(ctx, svc, cfg.ChatID, tmpl)
				if err != nil {
					log.Println(err)
				}
				debug("generate: end %s", tmpl)
				errC <- err
			}()
		}
	}
}

func generate(ctx context.Context, svc *generation.Service, chatID int64, t template) error {
	gen, err := svc.Submit(ctx, &generation.Request{
		ChatID:      chatID,
		Description: t.Description,
		Image:       t.Image,
	})
	if err != nil {
		return fmt.Errorf("generate: couldn't submit %s: %w", t, err)
	}
	if err := svc.Run(ctx, gen.ID); err != nil {
		return fmt.Errorf("generate: couldn't run %s: %w", gen.ID, err)
	}
	return nil
}
