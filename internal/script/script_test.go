package script

import (
	"strings"
	"testing"
)

var bothSpeakers = map[string]bool{SpeakerHost: true, SpeakerExpert: true}

func TestParsePlainJSON(t *testing.T) {
	content := `[{"speaker": "Host", "text": "Welcome to The Podcast Engine!"}, {"speaker": "Expert", "text": "Glad to be here."}]`
	s, err := Parse("renewables", content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(s.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(s.Lines))
	}
	if s.Lines[0].Index != 0 || s.Lines[1].Index != 1 {
		t.Fatalf("indices not assigned from position: %+v", s.Lines)
	}
	if s.Lines[0].Speaker != SpeakerHost || s.Lines[1].Speaker != SpeakerExpert {
		t.Fatalf("speakers mangled: %+v", s.Lines)
	}
	if err := s.Validate(bothSpeakers); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseFencedJSON(t *testing.T) {
	content := "```json\n[{\"speaker\": \"Host\", \"text\": \"Hi\"}]\n```"
	s, err := Parse("t", content)
	if err != nil {
		t.Fatalf("parse fenced: %v", err)
	}
	if len(s.Lines) != 1 || s.Lines[0].Text != "Hi" {
		t.Fatalf("unexpected lines %+v", s.Lines)
	}
}

func TestParseJSONEmbeddedInProse(t *testing.T) {
	content := `Here is your script:
[{"speaker": "Expert", "text": "Indeed."}]
Hope you like it!`
	s, err := Parse("t", content)
	if err != nil {
		t.Fatalf("parse embedded: %v", err)
	}
	if len(s.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(s.Lines))
	}
}

func TestParseDropsBlankLines(t *testing.T) {
	content := `[{"speaker": "Host", "text": "Hello"}, {"speaker": "Expert", "text": "   "}, {"speaker": "Expert", "text": "Hi"}]`
	s, err := Parse("t", content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(s.Lines) != 2 {
		t.Fatalf("expected blank line dropped, got %d lines", len(s.Lines))
	}
	if s.Lines[1].Index != 1 {
		t.Fatalf("indices not reassigned after drop: %+v", s.Lines)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("t", "not json at all"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Parse("t", "[]"); err == nil {
		t.Fatal("expected error for empty script")
	}
}

func TestValidateRejectsIndexGap(t *testing.T) {
	s := &Script{Lines: []Line{
		{Index: 0, Speaker: SpeakerHost, Text: "a"},
		{Index: 2, Speaker: SpeakerExpert, Text: "b"},
	}}
	if err := s.Validate(bothSpeakers); err == nil {
		t.Fatal("expected error for index gap")
	}
}

func TestValidateRejectsUnknownSpeaker(t *testing.T) {
	s := &Script{Lines: []Line{{Index: 0, Speaker: "Narrator", Text: "a"}}}
	if err := s.Validate(bothSpeakers); err == nil {
		t.Fatal("expected error for unknown speaker")
	}
}

func TestValidateRejectsEmptyText(t *testing.T) {
	s := &Script{Lines: []Line{{Index: 0, Speaker: SpeakerHost, Text: "  "}}}
	if err := s.Validate(bothSpeakers); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSummaryValidate(t *testing.T) {
	empty := &Summary{Topic: "t"}
	if err := empty.Validate(); err == nil {
		t.Fatal("expected error for empty summary")
	}
	ok := &Summary{Topic: "t", Text: "themes and facts"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPromptsMentionContract(t *testing.T) {
	p := ScriptwriterPrompt("some summary")
	if !strings.Contains(p, "JSON array") || !strings.Contains(p, "The Podcast Engine") {
		t.Fatal("scriptwriter prompt missing output contract")
	}
	sp := SummarizerPrompt("topic", "notes")
	if !strings.Contains(sp, "topic") || !strings.Contains(sp, "notes") {
		t.Fatal("summarizer prompt missing inputs")
	}
}
