package voice

import (
	"context"
	"fmt"
	"math"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/podenginelabs/podengine/internal/audio"
)

// ReferenceGenerator produces a reference clip for a speaker when none
// exists on disk. The real implementation is an external collaborator.
type ReferenceGenerator interface {
	GenerateReference(ctx context.Context, speaker, path string) error
}

type execRefGenerator struct {
	cmd []string
}

// NewExecRefGenerator shells out to a clip generator command, passing the
// speaker role and target path as flags.
func NewExecRefGenerator(command string) (ReferenceGenerator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse voice generator command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("voice generator command empty")
	}
	return &execRefGenerator{cmd: args}, nil
}

func (g *execRefGenerator) GenerateReference(ctx context.Context, speaker, path string) error {
	base := g.cmd[0]
	args := append([]string{}, g.cmd[1:]...)
	args = append(args, "--speaker", speaker, "--output", path)
	cmd := exec.CommandContext(ctx, base, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("voice generator failed: %w: %s", err, out)
	}
	return nil
}

type mockRefGenerator struct {
	sampleRate int
}

// NewMockRefGenerator writes a short synthetic tone clip, enough for
// offline development where no cloning model is available.
func NewMockRefGenerator(sampleRate int) ReferenceGenerator {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &mockRefGenerator{sampleRate: sampleRate}
}

func (g *mockRefGenerator) GenerateReference(ctx context.Context, speaker, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	// half a second of a quiet 220Hz tone
	n := g.sampleRate / 2
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(3000 * math.Sin(2*math.Pi*220*float64(i)/float64(g.sampleRate)))
	}
	return audio.WriteWAV(path, samples, g.sampleRate, 1)
}

// NewReferenceGenerator builds the collaborator selected by config: exec
// when a command is configured, the synthetic fallback otherwise.
func NewReferenceGenerator(command string, sampleRate int) (ReferenceGenerator, error) {
	if command != "" {
		return NewExecRefGenerator(command)
	}
	return NewMockRefGenerator(sampleRate), nil
}
