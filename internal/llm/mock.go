package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

// NewMockGenerator returns a deterministic backend for development and
// tests. Scriptwriter-shaped prompts get a minimal valid JSON script so the
// whole pipeline can run offline.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}

	var content string
	if strings.Contains(req.Prompt, "JSON array") {
		content = `[
  {"speaker": "Host", "text": "Welcome to The Podcast Engine! Today we have a fascinating topic lined up."},
  {"speaker": "Expert", "text": "Thanks for having me. There is a lot to unpack here, so let's dive right in."},
  {"speaker": "Host", "text": "So, what should listeners take away from all of this?"},
  {"speaker": "Expert", "text": "That the details matter, and the full story is always more interesting than the headline."}
]`
	} else {
		content = "[mock completion for " + firstLine(req.Prompt) + "]"
	}

	return consumer(Chunk{
		RunID:   req.RunID,
		Content: content,
		Partial: false,
		Latency: 20 * time.Millisecond,
	})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i > 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
