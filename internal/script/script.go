package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Recognized speaker roles. Every script line must carry one of these and
// the voice registry must hold a profile for each.
const (
	SpeakerHost   = "Host"
	SpeakerExpert = "Expert"
)

// Summary is the thematic digest produced from research notes. The pipeline
// treats the text as opaque and only requires it to be non-empty.
type Summary struct {
	Topic string `json:"topic"`
	Text  string `json:"text"`
}

func (s *Summary) Validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return errors.New("summary is empty")
	}
	return nil
}

// Line is a single utterance in the dialogue script.
type Line struct {
	Index   int    `json:"index"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Script is the ordered dialogue. Line indices form a contiguous 0-based
// sequence matching position.
type Script struct {
	Topic string `json:"topic"`
	Lines []Line `json:"lines"`
}

// Validate checks the script contract: contiguous indices, non-empty text,
// and only speakers present in the given role set.
func (s *Script) Validate(speakers map[string]bool) error {
	if len(s.Lines) == 0 {
		return errors.New("script has no lines")
	}
	for i, line := range s.Lines {
		if line.Index != i {
			return fmt.Errorf("line at position %d has index %d", i, line.Index)
		}
		if strings.TrimSpace(line.Text) == "" {
			return fmt.Errorf("line %d has empty text", i)
		}
		if !speakers[line.Speaker] {
			return fmt.Errorf("line %d has unrecognized speaker %q", i, line.Speaker)
		}
	}
	return nil
}

// Parse extracts a script from raw model output. Models frequently wrap the
// JSON array in a markdown code fence or surround it with prose, so the
// fence is stripped first and a bracket slice is attempted as fallback.
// Indices are assigned from position; lines with blank text are dropped
// before indexing, matching how empty entries are skipped upstream.
func Parse(topic, content string) (*Script, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	content = strings.TrimSpace(content)

	var raw []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		start := strings.Index(content, "[")
		end := strings.LastIndex(content, "]")
		if start >= 0 && end > start {
			err = json.Unmarshal([]byte(content[start:end+1]), &raw)
		}
		if err != nil {
			return nil, fmt.Errorf("parse script output as JSON: %w", err)
		}
	}

	lines := make([]Line, 0, len(raw))
	for _, entry := range raw {
		if strings.TrimSpace(entry.Text) == "" {
			continue
		}
		lines = append(lines, Line{
			Index:   len(lines),
			Speaker: entry.Speaker,
			Text:    strings.TrimSpace(entry.Text),
		})
	}
	if len(lines) == 0 {
		return nil, errors.New("script output contained no usable lines")
	}
	return &Script{Topic: topic, Lines: lines}, nil
}
