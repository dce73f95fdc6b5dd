package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source is one retrieved search record.
type Source struct {
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	URL         string    `json:"url"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Notes is the research stage artifact: an ordered list of sources for a
// topic. An empty list is a stage failure, never an empty success.
type Notes struct {
	Topic   string   `json:"topic"`
	Sources []Source `json:"sources"`
}

func (n *Notes) Validate() error {
	if strings.TrimSpace(n.Topic) == "" {
		return errors.New("research notes have no topic")
	}
	if len(n.Sources) == 0 {
		return errors.New("research produced no sources")
	}
	for i, src := range n.Sources {
		if strings.TrimSpace(src.Title) == "" && strings.TrimSpace(src.Snippet) == "" {
			return fmt.Errorf("source %d has neither title nor snippet", i)
		}
	}
	return nil
}

// Format renders the notes as structured text for the summarizing stage.
func (n *Notes) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research Notes: %s\n\n", n.Topic)
	for i, src := range n.Sources {
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, src.Title, src.Snippet)
	}
	return b.String()
}

// Provider is the external search collaborator.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Source, error)
}
