package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinylai/vinylai/pkg/kie"
	"github.com/vinylai/vinylai/pkg/poll"
	"github.com/vinylai/vinylai/pkg/render"
	"github.com/vinylai/vinylai/pkg/storage"
)

type stubSynth struct {
	generateErr error
	taskErr     error
	reports     []*poll.Report
	calls       int
}

func (s *stubSynth) GenerateMusic(ctx context.Context, prompt string, opts *kie.MusicOptions) (string, error) {
	if s.generateErr != nil {
		return "", s.generateErr
	}
	return "task-1", nil
}

func (s *stubSynth) MusicTask(ctx context.Context, taskID string) (*poll.Report, error) {
	if s.taskErr != nil {
		return nil, s.taskErr
	}
	r := s.reports[s.calls]
	if s.calls < len(s.reports)-1 {
		s.calls++
	}
	return r, nil
}

type stubImageGen struct {
	url   string
	err   error
	calls int
}

func (s *stubImageGen) GenerateImage(ctx context.Context, description, style string) (string, error) {
	s.calls++
	return s.url, s.err
}

type stubFetcher struct {
	downloads []string
}

func (s *stubFetcher) Download(ctx context.Context, url, path string) error {
	s.downloads = append(s.downloads, url)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("fake"), 0644)
}

type stubRenderer struct {
	jobs []*render.Job
}

func (s *stubRenderer) Render(ctx context.Context, job *render.Job) error {
	s.jobs = append(s.jobs, job)
	if err := os.MkdirAll(job.Dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(job.Dir, render.FrameName(1)), []byte("png"), 0644)
}

type stubEncoder struct {
	checkErr error
	muxErr   error
	cuts     []time.Duration
	muxed    []string
}

func (s *stubEncoder) Check(ctx context.Context) error {
	return s.checkErr
}

func (s *stubEncoder) Cut(ctx context.Context, input, output string, end time.Duration) error {
	s.cuts = append(s.cuts, end)
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	return os.WriteFile(output, data, 0644)
}

func (s *stubEncoder) Mux(ctx context.Context, pattern string, fps int, audio, output string) error {
	if s.muxErr != nil {
		return s.muxErr
	}
	s.muxed = append(s.muxed, output)
	return os.WriteFile(output, []byte("mp4"), 0644)
}

type stubPublisher struct {
	refs []string
}

func (s *stubPublisher) publish(path, id, ext string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	ref := fmt.Sprintf("https://store.test/%s%s", id, ext)
	s.refs = append(s.refs, ref)
	return ref, nil
}

func (s *stubPublisher) SetMP4(ctx context.Context, path, id string) (string, error) {
	return s.publish(path, id, ".mp4")
}

func (s *stubPublisher) SetPNG(ctx context.Context, path, id string) (string, error) {
	return s.publish(path, id, ".png")
}

func (s *stubPublisher) SetMP3(ctx context.Context, path, id string) (string, error) {
	return s.publish(path, id, ".mp3")
}

type stubNotifier struct {
	videos   []string
	messages []string
}

func (s *stubNotifier) SendVideo(ctx context.Context, chatID int64, video, caption string) error {
	s.videos = append(s.videos, video)
	return nil
}

func (s *stubNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	s.messages = append(s.messages, text)
	return nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New("sqlite", filepath.Join(t.TempDir(), "test.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return store
}

func successReports() []*poll.Report {
	return []*poll.Report{
		{State: poll.Pending},
		{State: poll.Success, Tracks: []poll.Track{{ID: "t1", Audio: "https://cdn.test/t1.mp3"}}},
	}
}

func newTestService(t *testing.T, store *storage.Store, synth *stubSynth, imageGen *stubImageGen, notifier *stubNotifier) (*Service, *stubEncoder) {
	t.Helper()
	dir := t.TempDir()
	encoder := &stubEncoder{}
	var n Notifier
	if notifier != nil {
		n = notifier
	}
	svc := New(&Config{
		Store:    store,
		Synth:    synth,
		ImageGen: imageGen,
		Fetcher:  &stubFetcher{},
		Renderer: &stubRenderer{},
		Encoder:  encoder,
		Notifier: n,
		Scratch:  filepath.Join(dir, "scratch"),
		Output:   filepath.Join(dir, "generated"),
		Poll:     &poll.Config{Interval: time.Millisecond, MaxAttempts: 10},
	})
	return svc, encoder
}

func TestSubmit(t *testing.T) {
	store := newTestStore(t)
	svc, _ := newTestService(t, store, &stubSynth{}, &stubImageGen{}, nil)
	ctx := context.Background()

	gen, err := svc.Submit(ctx, &Request{ChatID: 42, Username: "ana", Description: "lofi beats"})
	if err != nil {
		t.Fatal(err)
	}
	if gen.Status != storage.Pending {
		t.Errorf("want pending, got %s", gen.Status)
	}
	if gen.ID == "" {
		t.Error("missing id")
	}
	if gen.UserImage {
		t.Error("no user image was supplied")
	}

	user, err := store.GetUserByChat(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if user.FreeGenerations != 0 {
		t.Errorf("free generation should be consumed, got %d", user.FreeGenerations)
	}
}

func TestSubmitEmptyDescription(t *testing.T) {
	svc, _ := newTestService(t, newTestStore(t), &stubSynth{}, &stubImageGen{}, nil)
	if _, err := svc.Submit(context.Background(), &Request{ChatID: 42, Description: "  "}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubmitQuota(t *testing.T) {
	store := newTestStore(t)
	svc, _ := newTestService(t, store, &stubSynth{}, &stubImageGen{}, nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "first"}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "second"})
	if !errors.Is(err, ErrQuota) {
		t.Fatalf("want ErrQuota, got %v", err)
	}

	// Premium users are not limited.
	user, err := store.GetUserByChat(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	user.Premium = true
	if err := store.SetUser(ctx, user); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "third"}); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitFreeGenerationsSetting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.SetSetting(ctx, &storage.Setting{ID: "free-generations", Value: "3"}); err != nil {
		t.Fatal(err)
	}
	svc, _ := newTestService(t, store, &stubSynth{}, &stubImageGen{}, nil)
	for i := 0; i < 3; i++ {
		if _, err := svc.Submit(ctx, &Request{ChatID: 42, Description: fmt.Sprintf("gen %d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "over"}); !errors.Is(err, ErrQuota) {
		t.Fatalf("want ErrQuota, got %v", err)
	}
}

func TestRun(t *testing.T) {
	store := newTestStore(t)
	synth := &stubSynth{reports: successReports()}
	imageGen := &stubImageGen{url: "https://cdn.test/cover.png"}
	notifier := &stubNotifier{}
	svc, encoder := newTestService(t, store, synth, imageGen, notifier)
	ctx := context.Background()

	gen, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "lofi beats"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Run(ctx, gen.ID); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetGeneration(ctx, gen.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.Completed {
		t.Fatalf("want completed, got %s (%s)", got.Status, got.Error)
	}
	if got.ExternalID != "task-1" {
		t.Errorf("unexpected task id %q", got.ExternalID)
	}
	if got.Audio != "https://cdn.test/t1.mp3" {
		t.Errorf("unexpected audio %q", got.Audio)
	}
	if got.Image != "https://cdn.test/cover.png" {
		t.Errorf("unexpected image %q", got.Image)
	}
	if got.Video == "" {
		t.Error("missing video reference")
	}
	if _, err := os.Stat(got.Video); err != nil {
		t.Errorf("video file should exist: %v", err)
	}
	if len(encoder.muxed) != 1 {
		t.Errorf("want 1 mux, got %d", len(encoder.muxed))
	}
	// The track is trimmed to the default target duration before the mux.
	if len(encoder.cuts) != 1 || encoder.cuts[0] != 30*time.Second {
		t.Errorf("want one 30s trim, got %v", encoder.cuts)
	}
	if len(notifier.videos) != 1 {
		t.Errorf("want 1 notification, got %d", len(notifier.videos))
	}

	// Scratch files are reclaimed.
	if _, err := os.Stat(filepath.Join(svc.scratch, gen.ID)); !os.IsNotExist(err) {
		t.Error("scratch folder should be gone")
	}
}

func TestRunUserImage(t *testing.T) {
	store := newTestStore(t)
	synth := &stubSynth{reports: successReports()}
	imageGen := &stubImageGen{url: "https://cdn.test/cover.png"}
	svc, _ := newTestService(t, store, synth, imageGen, nil)
	ctx := context.Background()

	gen, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "jazz", Image: "https://user.test/own.png"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Run(ctx, gen.ID); err != nil {
		t.Fatal(err)
	}
	if imageGen.calls != 0 {
		t.Errorf("cover synthesis should be skipped, got %d calls", imageGen.calls)
	}
	got, err := store.GetGeneration(ctx, gen.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Image != "https://user.test/own.png" {
		t.Errorf("user image should be kept, got %q", got.Image)
	}
}

func TestRunSynthesisFailure(t *testing.T) {
	store := newTestStore(t)
	synth := &stubSynth{reports: []*poll.Report{{State: poll.Failed, Err: "no gpu"}}}
	imageGen := &stubImageGen{}
	notifier := &stubNotifier{}
	svc, _ := newTestService(t, store, synth, imageGen, notifier)
	ctx := context.Background()

	gen, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "metal"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Run(ctx, gen.ID); err == nil {
		t.Fatal("expected error")
	}

	got, err := store.GetGeneration(ctx, gen.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.Failed {
		t.Fatalf("want failed, got %s", got.Status)
	}
	if got.Error == "" {
		t.Error("missing error cause")
	}
	// Later stages never ran.
	if imageGen.calls != 0 {
		t.Errorf("image stage should not run, got %d calls", imageGen.calls)
	}
	if got.Video != "" {
		t.Errorf("no video should be set, got %q", got.Video)
	}
	if len(notifier.messages) != 1 {
		t.Errorf("want 1 failure message, got %d", len(notifier.messages))
	}
	// Scratch files are reclaimed on failure too.
	if _, err := os.Stat(filepath.Join(svc.scratch, gen.ID)); !os.IsNotExist(err) {
		t.Error("scratch folder should be gone")
	}
}

func TestRunMuxFailure(t *testing.T) {
	store := newTestStore(t)
	synth := &stubSynth{reports: successReports()}
	notifier := &stubNotifier{}
	svc, encoder := newTestService(t, store, synth, &stubImageGen{url: "https://cdn.test/cover.png"}, notifier)
	encoder.muxErr = errors.New("ffmpeg: exit status 1")
	ctx := context.Background()

	gen, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "ambient"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Run(ctx, gen.ID); err == nil {
		t.Fatal("expected error")
	}

	got, err := store.GetGeneration(ctx, gen.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.Failed {
		t.Fatalf("want failed, got %s", got.Status)
	}
	if got.Error == "" {
		t.Error("missing error cause")
	}
	if got.Video != "" {
		t.Errorf("no video should be set, got %q", got.Video)
	}
	if len(notifier.messages) != 1 {
		t.Errorf("want 1 failure message, got %d", len(notifier.messages))
	}
	// Frames and the rest of the scratch folder are reclaimed on failure too.
	if _, err := os.Stat(filepath.Join(svc.scratch, gen.ID)); !os.IsNotExist(err) {
		t.Error("scratch folder should be gone")
	}
}

func TestRunPublisher(t *testing.T) {
	store := newTestStore(t)
	synth := &stubSynth{reports: successReports()}
	svc, _ := newTestService(t, store, synth, &stubImageGen{url: "https://cdn.test/cover.png"}, nil)
	publisher := &stubPublisher{}
	svc.publisher = publisher
	ctx := context.Background()

	gen, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "funk"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Run(ctx, gen.ID); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetGeneration(ctx, gen.ID)
	if err != nil {
		t.Fatal(err)
	}
	// Every artifact is replaced with a durable reference.
	if got.Audio != "https://store.test/"+gen.ID+".mp3" {
		t.Errorf("unexpected audio %q", got.Audio)
	}
	if got.Image != "https://store.test/"+gen.ID+".png" {
		t.Errorf("unexpected image %q", got.Image)
	}
	if got.Video != "https://store.test/"+gen.ID+".mp4" {
		t.Errorf("unexpected video %q", got.Video)
	}
	if len(publisher.refs) != 3 {
		t.Errorf("want 3 uploads, got %d", len(publisher.refs))
	}
}

func TestRunEncoderUnavailable(t *testing.T) {
	store := newTestStore(t)
	synth := &stubSynth{reports: successReports()}
	svc, encoder := newTestService(t, store, synth, &stubImageGen{}, nil)
	encoder.checkErr = errors.New("ffmpeg: binary not available")
	ctx := context.Background()

	gen, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "pop"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Run(ctx, gen.ID); err == nil {
		t.Fatal("expected error")
	}
	got, err := store.GetGeneration(ctx, gen.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.Failed {
		t.Fatalf("want failed, got %s", got.Status)
	}
	// The availability check failed before any remote work.
	if got.ExternalID != "" {
		t.Errorf("no synthesis job should be submitted, got %q", got.ExternalID)
	}
}

func TestRunInProgress(t *testing.T) {
	store := newTestStore(t)
	svc, _ := newTestService(t, store, &stubSynth{reports: successReports()}, &stubImageGen{url: "u"}, nil)
	ctx := context.Background()

	gen, err := svc.Submit(ctx, &Request{ChatID: 42, Description: "rock"})
	if err != nil {
		t.Fatal(err)
	}
	// A record past PENDING is owned by another run.
	gen.Status = storage.GeneratingAudio
	if err := store.SetGeneration(ctx, gen); err != nil {
		t.Fatal(err)
	}
	if err := svc.Run(ctx, gen.ID); !errors.Is(err, ErrInProgress) {
		t.Fatalf("want ErrInProgress, got %v", err)
	}
}

func TestRunUnknownGeneration(t *testing.T) {
	svc, _ := newTestService(t, newTestStore(t), &stubSynth{}, &stubImageGen{}, nil)
	err := svc.Run(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCleanup(t *testing.T) {
	svc, _ := newTestService(t, newTestStore(t), &stubSynth{}, &stubImageGen{}, nil)
	dir := filepath.Join(svc.scratch, "gen-1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	svc.Cleanup("gen-1")
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("scratch folder should be gone")
	}
	// Removing an already reclaimed folder is a no-op.
	svc.Cleanup("gen-1")
}
