package poll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when the attempt budget runs out before the
	// remote task reaches a terminal state.
	ErrTimeout = errors.New("poll: attempt budget exhausted")
	// ErrTerminated is returned when Wait is called on a poller that already
	// delivered a terminal outcome.
	ErrTerminated = errors.New("poll: already terminated")
)

// RemoteError is a terminal failure reported by the remote task.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("poll: remote task failed: %s", e.Message)
}

// State is the remote task status as reported by a status check.
type State int

const (
	Pending State = iota
	Processing
	SuccessPartial
	Success
	Failed
)

// Track is one completed track of a synthesis task.
type Track struct {
	ID    string
	Audio string
	Image string
}

// Report is the tagged result of one status check.
type Report struct {
	State  State
	Tracks []Track
	Err    string
}

// Check queries the remote task once.
type Check func(ctx context.Context) (*Report, error)

type Poller struct {
	interval    time.Duration
	maxAttempts int
	debug       bool

	lck  sync.Mutex
	done bool
}

type Config struct {
	// Interval between status checks, 5 seconds by default.
	Interval time.Duration
	// MaxAttempts before giving up, 60 by default.
	MaxAttempts int
	Debug       bool
}

func New(cfg *Config) *Poller {
	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 60
	}
	return &Poller{
		interval:    interval,
		maxAttempts: maxAttempts,
		debug:       cfg.Debug,
	}
}

// Done reports whether the poller already reached a terminal outcome.
func (p *Poller) Done() bool {
	p.lck.Lock()
	defer p.lck.Unlock()
	return p.done
}

func (p *Poller) terminate() {
	p.lck.Lock()
	defer p.lck.Unlock()
	p.done = true
}

// Wait drives the status check on a fixed interval until the task terminates.
// A success report only terminates the wait when it carries at least one track
// with a non-empty audio reference: the remote flags success before the binary
// asset is ready, so the audio reference is what counts. Transient check
// errors are swallowed and retried on the next tick, against the same attempt
// budget. Once a terminal outcome is delivered no further checks run, and a
// second Wait fails with ErrTerminated.
func (p *Poller) Wait(ctx context.Context, check Check) (*Track, error) {
	p.lck.Lock()
	if p.done {
		p.lck.Unlock()
		return nil, ErrTerminated
	}
	p.lck.Unlock()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			p.terminate()
			return nil, fmt.Errorf("poll: %w", ctx.Err())
		case <-time.After(p.interval):
		}

		report, err := check(ctx)
		if err != nil {
			// Transient check errors don't abort the loop.
			p.log("poll: check attempt %d: %v", attempt, err)
			continue
		}
		switch report.State {
		case Failed:
			p.terminate()
			return nil, &RemoteError{Message: report.Err}
		case Success, SuccessPartial:
			for _, t := range report.Tracks {
				if t.Audio == "" {
					continue
				}
				p.terminate()
				track := t
				return &track, nil
			}
			// Success without audio means the track isn't ready yet.
		}
	}
	p.terminate()
	return nil, ErrTimeout
}

func (p *Poller) log(format string, args ...interface{}) {
	if p.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}
