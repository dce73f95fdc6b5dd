package research

import (
	"context"
	"fmt"
	"log/slog"
)

// Aspect queries fanned out per topic, mirroring the sections a human
// researcher would cover.
var aspectSuffixes = []string{
	"",
	"latest developments",
	"key statistics facts",
	"expert opinions analysis",
	"controversy debate",
}

// Researcher is the first pipeline stage: it fans the topic out into aspect
// queries against the search collaborator and merges deduplicated sources
// into the notes artifact.
type Researcher struct {
	provider   Provider
	maxResults int
	logger     *slog.Logger
}

func NewResearcher(provider Provider, maxResults int, log *slog.Logger) *Researcher {
	return &Researcher{
		provider:   provider,
		maxResults: maxResults,
		logger:     log.With(slog.String("component", "researcher")),
	}
}

// Research gathers sources for the topic. Individual query failures are
// tolerated as long as at least one query succeeds with results; a run with
// zero sources is a stage failure.
func (r *Researcher) Research(ctx context.Context, topic string) (*Notes, error) {
	notes := &Notes{Topic: topic}
	seen := make(map[string]bool)
	var lastErr error

	for _, suffix := range aspectSuffixes {
		query := topic
		if suffix != "" {
			query = topic + " " + suffix
		}
		sources, err := r.provider.Search(ctx, query, r.maxResults)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("search query failed",
				slog.String("query", query),
				slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		for _, src := range sources {
			if src.URL != "" && seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			notes.Sources = append(notes.Sources, src)
		}
	}

	if len(notes.Sources) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("research found no sources: %w", lastErr)
		}
		return nil, fmt.Errorf("research found no sources for %q", topic)
	}

	r.logger.Info("research complete",
		slog.String("topic", topic),
		slog.Int("sources", len(notes.Sources)))
	return notes, nil
}
