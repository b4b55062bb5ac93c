package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vinylai/vinylai/pkg/audio"
	"github.com/vinylai/vinylai/pkg/filestore"
	"github.com/vinylai/vinylai/pkg/kie"
	"github.com/vinylai/vinylai/pkg/poll"
	"github.com/vinylai/vinylai/pkg/render"
	"github.com/vinylai/vinylai/pkg/storage"
)

var (
	// ErrInProgress is returned when a second run is started for a generation
	// that is already being advanced.
	ErrInProgress = errors.New("generation: already in progress")
	// ErrQuota is returned when the user has no free generations left and no
	// way to pay for one.
	ErrQuota = errors.New("generation: no generations left")
)

// Synthesizer is the external music synthesis service: submit a job, then
// poll its task until the track is ready.
type Synthesizer interface {
	GenerateMusic(ctx context.Context, prompt string, opts *kie.MusicOptions) (string, error)
	MusicTask(ctx context.Context, taskID string) (*poll.Report, error)
}

// ImageSynthesizer produces a cover image for a description.
type ImageSynthesizer interface {
	GenerateImage(ctx context.Context, description, style string) (string, error)
}

// Enhancer rewrites the raw description, failing open.
type Enhancer interface {
	Enhance(ctx context.Context, raw string) string
}

// Downloader materializes a remote asset to a local path.
type Downloader interface {
	Download(ctx context.Context, url, path string) error
}

// Renderer rasterizes the rotating disc animation.
type Renderer interface {
	Render(ctx context.Context, job *render.Job) error
}

// Encoder muxes a frame sequence and an audio track into a video.
type Encoder interface {
	Check(ctx context.Context) error
	Cut(ctx context.Context, input, output string, end time.Duration) error
	Mux(ctx context.Context, pattern string, fps int, audio, output string) error
}

// Notifier pushes results to the requester, best effort.
type Notifier interface {
	SendVideo(ctx context.Context, chatID int64, video, caption string) error
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Publisher uploads finished artifacts and returns their public references.
type Publisher interface {
	SetMP4(ctx context.Context, path, id string) (string, error)
	SetPNG(ctx context.Context, path, id string) (string, error)
	SetMP3(ctx context.Context, path, id string) (string, error)
}

type Config struct {
	Store     *storage.Store
	Synth     Synthesizer
	ImageGen  ImageSynthesizer
	Enhancer  Enhancer
	Fetcher   Downloader
	Renderer  Renderer
	Encoder   Encoder
	Notifier  Notifier
	Publisher Publisher

	// Scratch is the process wide temp dir; every generation works in its own
	// id-keyed subfolder.
	Scratch string
	// Output is the append-only dir where finished videos are written.
	Output string

	Poll  *poll.Config
	Debug bool

	Width  int
	Height int
	FPS    int
}

// Service runs the generation state machine.
type Service struct {
	store     *storage.Store
	synth     Synthesizer
	imageGen  ImageSynthesizer
	enhancer  Enhancer
	fetcher   Downloader
	renderer  Renderer
	encoder   Encoder
	notifier  Notifier
	publisher Publisher

	scratch string
	output  string
	pollCfg *poll.Config
	debug   bool

	width  int
	height int
	fps    int

	lck     sync.Mutex
	running map[string]struct{}
}

func New(cfg *Config) *Service {
	scratch := cfg.Scratch
	if scratch == "" {
		scratch = "scratch"
	}
	output := cfg.Output
	if output == "" {
		output = "generated"
	}
	pollCfg := cfg.Poll
	if pollCfg == nil {
		pollCfg = &poll.Config{}
	}
	width := cfg.Width
	if width == 0 {
		width = render.DefaultWidth
	}
	height := cfg.Height
	if height == 0 {
		height = render.DefaultHeight
	}
	fps := cfg.FPS
	if fps == 0 {
		fps = render.DefaultFPS
	}
	return &Service{
		store:     cfg.Store,
		synth:     cfg.Synth,
		imageGen:  cfg.ImageGen,
		enhancer:  cfg.Enhancer,
		fetcher:   cfg.Fetcher,
		renderer:  cfg.Renderer,
		encoder:   cfg.Encoder,
		notifier:  cfg.Notifier,
		publisher: cfg.Publisher,
		scratch:   scratch,
		output:    output,
		pollCfg:   pollCfg,
		debug:     cfg.Debug,
		width:     width,
		height:    height,
		fps:       fps,
		running:   map[string]struct{}{},
	}
}

func (s *Service) log(format string, args ...interface{}) {
	if s.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

// Request is an intake submission.
type Request struct {
	ChatID      int64
	Username    string
	FirstName   string
	LastName    string
	Description string
	// Image is an optional user supplied cover, a url or a local path.
	Image string
}

// Submit registers a new generation in PENDING state. It upserts the user,
// charges the quota and enhances the prompt. Tunables (price, free quota) are
// read from the settings table at submission time.
func (s *Service) Submit(ctx context.Context, req *Request) (*storage.Generation, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, errors.New("generation: description is empty")
	}

	user, err := s.store.GetUserByChat(ctx, req.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		user = &storage.User{
			ID:              ulid.Make().String(),
			ChatID:          req.ChatID,
			Username:        req.Username,
			FirstName:       req.FirstName,
			LastName:        req.LastName,
			FreeGenerations: s.setting(ctx, "free-generations", 1),
		}
		if err := s.store.SetUser(ctx, user); err != nil {
			return nil, fmt.Errorf("generation: couldn't create user: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("generation: couldn't get user: %w", err)
	}

	switch {
	case user.FreeGenerations > 0:
		user.FreeGenerations--
		if err := s.store.SetUser(ctx, user); err != nil {
			return nil, fmt.Errorf("generation: couldn't update user: %w", err)
		}
	case user.Premium:
	default:
		return nil, fmt.Errorf("%w: price is %d", ErrQuota, s.setting(ctx, "price", 10))
	}

	prompt := req.Description
	if s.enhancer != nil {
		prompt = s.enhancer.Enhance(ctx, req.Description)
	}

	gen := &storage.Generation{
		ID:          ulid.Make().String(),
		UserID:      user.ID,
		Description: req.Description,
		Prompt:      prompt,
		Image:       req.Image,
		UserImage:   req.Image != "",
		Status:      storage.Pending,
	}
	if err := s.store.SetGeneration(ctx, gen); err != nil {
		return nil, fmt.Errorf("generation: couldn't save generation: %w", err)
	}
	return gen, nil
}

// setting reads an integer tunable, falling back to a default.
func (s *Service) setting(ctx context.Context, key string, def int) int {
	v, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(v.Value)
	if err != nil {
		return def
	}
	return n
}

// Run drives one generation from PENDING to a terminal state. A generation id
// is never advanced by two concurrent runs: a second Run for a non-terminal
// id fails with ErrInProgress. Scratch files are reclaimed on both paths.
func (s *Service) Run(ctx context.Context, id string) error {
	gen, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer s.release(id)
	defer s.Cleanup(id)

	if err := s.run(ctx, gen); err != nil {
		s.fail(ctx, gen, err)
		return err
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, id string) (*storage.Generation, error) {
	s.lck.Lock()
	defer s.lck.Unlock()
	if _, ok := s.running[id]; ok {
		return nil, ErrInProgress
	}
	gen, err := s.store.GetGeneration(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("generation: couldn't get generation %s: %w", id, err)
	}
	// Only PENDING records can start: a non-terminal record mid-pipeline is
	// owned by another run (or left over from a crash, which is not resumed).
	if gen.Status != storage.Pending {
		return nil, ErrInProgress
	}
	s.running[id] = struct{}{}
	return gen, nil
}

func (s *Service) release(id string) {
	s.lck.Lock()
	defer s.lck.Unlock()
	delete(s.running, id)
}

// transition persists the next stage so a crash reflects where the pipeline
// stopped.
func (s *Service) transition(ctx context.Context, gen *storage.Generation, next storage.Status) error {
	gen.Status = next
	if err := s.store.SetGeneration(ctx, gen); err != nil {
		return fmt.Errorf("generation: couldn't move %s to %s: %w", gen.ID, next, err)
	}
	s.log("generation %s: %s", gen.ID, next)
	return nil
}

func (s *Service) run(ctx context.Context, gen *storage.Generation) error {
	// Fail fast if the encoder is missing before any remote work is done.
	if err := s.encoder.Check(ctx); err != nil {
		return err
	}

	// Audio stage: submit the synthesis job and poll it to completion.
	if err := s.transition(ctx, gen, storage.GeneratingAudio); err != nil {
		return err
	}
	taskID, err := s.synth.GenerateMusic(ctx, gen.Prompt, nil)
	if err != nil {
		return fmt.Errorf("generation: couldn't submit synthesis job: %w", err)
	}
	gen.ExternalID = taskID
	if err := s.store.SetGeneration(ctx, gen); err != nil {
		return fmt.Errorf("generation: couldn't save task id: %w", err)
	}

	poller := poll.New(s.pollCfg)
	track, err := poller.Wait(ctx, func(ctx context.Context) (*poll.Report, error) {
		return s.synth.MusicTask(ctx, gen.ExternalID)
	})
	if err != nil {
		return fmt.Errorf("generation: synthesis task %s: %w", gen.ExternalID, err)
	}
	gen.Audio = track.Audio

	// Image stage: keep the user supplied cover or synthesize one.
	if err := s.transition(ctx, gen, storage.GeneratingImage); err != nil {
		return err
	}
	if !gen.UserImage {
		imageURL, err := s.imageGen.GenerateImage(ctx, gen.Description, "")
		if err != nil {
			return fmt.Errorf("generation: couldn't generate cover: %w", err)
		}
		gen.Image = imageURL
	}

	// Video stage: materialize assets, render frames and mux.
	if err := s.transition(ctx, gen, storage.GeneratingVideo); err != nil {
		return err
	}
	video, err := s.compose(ctx, gen)
	if err != nil {
		return err
	}
	gen.Video = video
	gen.Status = storage.Completed
	if err := s.store.SetGeneration(ctx, gen); err != nil {
		return fmt.Errorf("generation: couldn't save completed generation: %w", err)
	}

	// Notification is best effort: the artifact exists and stays retrievable
	// even if the push fails.
	if s.notifier != nil && gen.User != nil {
		caption := fmt.Sprintf("Your vinyl is ready! 🎵\n\n%s", gen.Description)
		if err := s.notifier.SendVideo(ctx, gen.User.ChatID, gen.Video, caption); err != nil {
			log.Printf("generation: couldn't notify user: %v\n", err)
		}
	}
	return nil
}

// compose downloads the audio and cover, renders the disc animation and muxes
// the result. It returns the video reference to persist.
func (s *Service) compose(ctx context.Context, gen *storage.Generation) (string, error) {
	dir := filepath.Join(s.scratch, gen.ID)

	audioPath := filepath.Join(dir, "audio.mp3")
	if err := s.fetcher.Download(ctx, gen.Audio, audioPath); err != nil {
		return "", fmt.Errorf("generation: couldn't download audio: %w", err)
	}

	imagePath := gen.Image
	if strings.HasPrefix(gen.Image, "http") {
		imagePath = filepath.Join(dir, "cover.png")
		if err := s.fetcher.Download(ctx, gen.Image, imagePath); err != nil {
			return "", fmt.Errorf("generation: couldn't download cover: %w", err)
		}
	}

	// Clamp the render to the shorter of the target duration and the track.
	duration := time.Duration(s.setting(ctx, "max-duration", 30)) * time.Second
	if d, err := audio.Duration(audioPath); err == nil && d < duration {
		duration = d
	}

	// Trim the track to the clamped duration so the mux inputs already agree;
	// cutting past the end of a shorter track is a plain copy.
	trimmed := filepath.Join(dir, "cut.mp3")
	if err := s.encoder.Cut(ctx, audioPath, trimmed, duration); err != nil {
		return "", fmt.Errorf("generation: couldn't trim audio: %w", err)
	}

	framesDir := filepath.Join(dir, "frames")
	job := &render.Job{
		Cover:    imagePath,
		Dir:      framesDir,
		Duration: duration,
		Width:    s.width,
		Height:   s.height,
		FPS:      s.fps,
	}
	if err := s.renderer.Render(ctx, job); err != nil {
		return "", err
	}
	// Frames are intermediate: reclaim them whether the mux works or not.
	defer os.RemoveAll(framesDir)

	if err := os.MkdirAll(s.output, 0755); err != nil {
		return "", fmt.Errorf("generation: couldn't create output folder: %w", err)
	}
	output := filepath.Join(s.output, filestore.MP4(gen.ID))
	pattern := filepath.Join(framesDir, render.Pattern)
	if err := s.encoder.Mux(ctx, pattern, s.fps, trimmed, output); err != nil {
		return "", err
	}

	// Publishing replaces the scratch and remote references with durable ones:
	// the synthesis service's URLs expire.
	if s.publisher != nil {
		audioRef, err := s.publisher.SetMP3(ctx, trimmed, gen.ID)
		if err != nil {
			return "", fmt.Errorf("generation: couldn't publish audio: %w", err)
		}
		gen.Audio = audioRef
		imageRef, err := s.publisher.SetPNG(ctx, imagePath, gen.ID)
		if err != nil {
			return "", fmt.Errorf("generation: couldn't publish cover: %w", err)
		}
		gen.Image = imageRef
		ref, err := s.publisher.SetMP4(ctx, output, gen.ID)
		if err != nil {
			return "", fmt.Errorf("generation: couldn't publish video: %w", err)
		}
		return ref, nil
	}
	return output, nil
}

// fail marks the generation FAILED, informs the user generically and logs the
// cause. Completed records are never reverted.
func (s *Service) fail(ctx context.Context, gen *storage.Generation, cause error) {
	if gen.Status.Terminal() {
		return
	}
	gen.Status = storage.Failed
	gen.Error = cause.Error()
	if err := s.store.SetGeneration(ctx, gen); err != nil {
		log.Printf("generation: couldn't save failed generation %s: %v\n", gen.ID, err)
	}
	if s.notifier != nil && gen.User != nil {
		if err := s.notifier.SendMessage(ctx, gen.User.ChatID, "Sorry, your generation failed. Please try again."); err != nil {
			log.Printf("generation: couldn't notify user: %v\n", err)
		}
	}
}

// Cleanup removes the generation's scratch folder. It is a no-op when the
// folder is already gone. A user supplied local image lives outside the
// scratch namespace and is never touched.
func (s *Service) Cleanup(id string) {
	dir := filepath.Join(s.scratch, id)
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("generation: couldn't clean up %s: %v\n", dir, err)
	}
}
