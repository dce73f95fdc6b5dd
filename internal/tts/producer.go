package tts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/podenginelabs/podengine/internal/audio"
	"github.com/podenginelabs/podengine/internal/script"
)

// LineError reports a script line whose synthesis attempts were
// exhausted. The producer surfaces the first such failure.
type LineError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Producer synthesizes every line of a script with a bounded worker
// pool and per-line retries. All segments must succeed before any are
// returned.
type Producer struct {
	segments    *SegmentSynthesizer
	concurrency int
	maxAttempts int
	logger      *slog.Logger
}

func NewProducer(segments *SegmentSynthesizer, concurrency, maxAttempts int, logger *slog.Logger) *Producer {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Producer{
		segments:    segments,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "producer"),
	}
}

// Produce synthesizes all lines and returns segments ordered by line
// index. A single exhausted line fails the whole batch.
func (p *Producer) Produce(ctx context.Context, runID string, lines []script.Line) ([]audio.Segment, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("produce: script has no lines")
	}
	for i, line := range lines {
		if line.Index != i {
			return nil, fmt.Errorf("produce: line at position %d has index %d, want contiguous indices from 0", i, line.Index)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan script.Line)
	results := make([]audio.Segment, len(lines))
	errCh := make(chan error, len(lines))

	var wg sync.WaitGroup
	for w := 0; w < p.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for line := range jobs {
				seg, err := p.synthesizeWithRetry(ctx, runID, line)
				if err != nil {
					errCh <- err
					cancel()
					return
				}
				results[line.Index] = *seg
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, line := range lines {
			select {
			case jobs <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Producer) synthesizeWithRetry(ctx context.Context, runID string, line script.Line) (*audio.Segment, error) {
	attempts := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(newLineBackoff(), uint64(p.maxAttempts-1)), ctx)

	var seg *audio.Segment
	err := backoff.Retry(func() error {
		attempts++
		var synthErr error
		seg, synthErr = p.segments.Synthesize(ctx, runID, line)
		if synthErr != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(synthErr)
			}
			p.logger.Warn("line synthesis failed",
				"run_id", runID,
				"line", line.Index,
				"attempt", attempts,
				"error", synthErr)
			return synthErr
		}
		return nil
	}, policy)
	if err != nil {
		return nil, &LineError{Index: line.Index, Attempts: attempts, Err: err}
	}
	return seg, nil
}

func newLineBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}
