package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vinylai/vinylai/pkg/enhance"
	"github.com/vinylai/vinylai/pkg/fetch"
	"github.com/vinylai/vinylai/pkg/ffmpeg"
	"github.com/vinylai/vinylai/pkg/filestore"
	"github.com/vinylai/vinylai/pkg/generation"
	"github.com/vinylai/vinylai/pkg/kie"
	"github.com/vinylai/vinylai/pkg/render"
	"github.com/vinylai/vinylai/pkg/storage"
	"github.com/vinylai/vinylai/pkg/telegram"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	FSType string
	FSConn string
	Proxy  string

	Addr        string
	Credentials map[string]string

	KieHost       string
	KieToken      string
	OpenAIToken   string
	TelegramToken string

	FFmpegBin   string
	Scratch     string
	Output      string
	Concurrency int
}

// Serve starts the generation intake service and its worker pool.
func Serve(ctx context.Context, cfg *Config) error {
	log.Println("serve: server started")
	defer log.Println("serve: server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("serve: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("serve: couldn't start orm store: %w", err)
	}

	httpClient := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return fmt.Errorf("serve: invalid proxy URL: %w", err)
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
		return fmt.Errorf("serve: couldn't start kie client: %w", err)
	}

	var notifier generation.Notifier
	if cfg.TelegramToken != "" {
		candidate, err := telegram.New(&telegram.Config{
			Token: cfg.TelegramToken,
			Debug: cfg.Debug,
		})
		if err != nil {
			return fmt.Errorf("serve: couldn't create notifier: %w", err)
		}
		notifier = candidate
	}

	var publisher generation.Publisher
	if cfg.FSType != "" {
		fs, err := filestore.New(cfg.FSType, cfg.FSConn, cfg.Proxy, cfg.Debug)
		if err != nil {
			return fmt.Errorf("serve: couldn't create file storage: %w", err)
		}
		publisher = fs
	}

	encoder := ffmpeg.New(cfg.FFmpegBin)
	if err := encoder.Check(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	svc := generation.New(&generation.Config{
		Store:     store,
		Synth:     client,
		ImageGen:  client,
		Enhancer:  enhance.New(&enhance.Config{Token: cfg.OpenAIToken, Debug: cfg.Debug}),
		Fetcher:   fetch.New(&fetch.Config{Client: httpClient}),
		Renderer:  render.New(&render.Config{Debug: cfg.Debug}),
		Encoder:   encoder,
		Notifier:  notifier,
		Publisher: publisher,
		Scratch:   cfg.Scratch,
		Output:    cfg.Output,
		Debug:     cfg.Debug,
	})

	// Launch the worker pool consuming the intake queue.
	queue := generation.NewQueue(0)
	go svc.Work(ctx, queue, cfg.Concurrency)

	mux := newRouter(cfg, store, svc, queue)

	// Create server
	split := strings.Split(cfg.Addr, ":")
	if len(split) != 2 {
		return fmt.Errorf("serve: invalid address: %s", cfg.Addr)
	}
	host := split[0]
	port, err := strconv.Atoi(split[1])
	if err != nil {
		return fmt.Errorf("serve: invalid port: %s", split[1])
	}
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		note := fmt.Sprintf("http://%s:%d", host, port)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%d", port)
		}
		log.Printf("Starting server on %s", note)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v\n", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: couldn't shutdown server: %w", err)
	}
	return nil
}

func newRouter(cfg *Config, store *storage.Store, svc *generation.Service, queue *generation.Queue) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	if cfg.Debug {
		mux.Use(middleware.Logger)
	}
	if len(cfg.Credentials) > 0 {
		mux.Use(middleware.BasicAuth("private", cfg.Credentials))
	}

	mux.Post("/api/generations", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChatID      int64  `json:"chat_id"`
			Username    string `json:"username"`
			FirstName   string `json:"first_name"`
			LastName    string `json:"last_name"`
			Description string `json:"description"`
			Image       string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		gen, err := svc.Submit(r.Context(), &generation.Request{
			ChatID:      req.ChatID,
			Username:    req.Username,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Description: req.Description,
			Image:       req.Image,
		})
		if err != nil {
			if errors.Is(err, generation.ErrQuota) {
				httpError(w, http.StatusPaymentRequired, err.Error())
				return
			}
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := queue.Enqueue(r.Context(), gen.ID); err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpJSON(w, http.StatusAccepted, gen)
	})

	mux.Get("/api/generations/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		gen, err := store.GetGeneration(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not found")
				return
			}
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpJSON(w, http.StatusOK, gen)
	})

	mux.Get("/api/generations", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var filters []storage.Filter
		if user := r.URL.Query().Get("user"); user != "" {
			filters = append(filters, storage.Where("user_id = ?", user))
		}
		gens, err := store.ListGenerations(r.Context(), page, 20, "created_at desc", filters...)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpJSON(w, http.StatusOK, gens)
	})

	mux.Get("/api/users", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		users, err := store.ListUsers(r.Context(), page, 20)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpJSON(w, http.StatusOK, users)
	})

	mux.Get("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		user, err := store.GetUser(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not found")
				return
			}
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpJSON(w, http.StatusOK, user)
	})

	return mux
}

func httpJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	httpJSON(w, status, map[string]string{"error": msg})
}
