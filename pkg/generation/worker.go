package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Queue hands generation ids from the intake to the worker pool.
type Queue struct {
	ids chan string
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{ids: make(chan string, size)}
}

// Enqueue schedules a generation for processing.
func (q *Queue) Enqueue(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("generation: %w", ctx.Err())
	case q.ids <- id:
		return nil
	}
}

// Work consumes the queue with a pool of workers until the context is
// cancelled. Each id runs as one independent pipeline; the per-id lock inside
// Run keeps duplicate ids from advancing the same record twice.
func (s *Service) Work(ctx context.Context, q *Queue, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	log.Printf("generation: worker pool started (%d)\n", concurrency)
	defer log.Println("generation: worker pool ended")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-q.ids:
					s.log("generation: start %s", id)
					if err := s.Run(ctx, id); err != nil {
						if errors.Is(err, ErrInProgress) {
							s.log("generation: skip %s: %v", id, err)
							continue
						}
						log.Printf("❌ generation %s: %v\n", id, err)
					}
					s.log("generation: end %s", id)
				}
			}
		}()
	}
	wg.Wait()
}
