package voice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/podenginelabs/podengine/internal/config"
	"github.com/podenginelabs/podengine/internal/script"
)

// Profile binds a speaker role to the synthesis voice configuration: a
// reference clip for voice cloning plus generation parameters.
type Profile struct {
	Speaker         string  `json:"speaker"`
	ReferenceSample string  `json:"reference_sample"`
	Exaggeration    float64 `json:"exaggeration"`
	CFGWeight       float64 `json:"cfg_weight"`
	Temperature     float64 `json:"temperature"`
}

// Registry maps speaker roles to voice profiles. It is populated once at
// pipeline start and never mutated during a run.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry loads profiles from config, resolving reference sample paths
// under the reference directory. Missing reference clips are generated via
// the given collaborator before the registry is returned, so a run never
// starts with an unresolvable voice.
func NewRegistry(ctx context.Context, cfg config.VoicesConfig, gen ReferenceGenerator, log *slog.Logger) (*Registry, error) {
	logger := log.With(slog.String("component", "voice-registry"))

	if err := os.MkdirAll(cfg.ReferenceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create reference dir: %w", err)
	}

	profiles := make(map[string]Profile, len(cfg.Profiles))
	for _, pc := range cfg.Profiles {
		if _, dup := profiles[pc.Speaker]; dup {
			return nil, fmt.Errorf("duplicate voice profile for speaker %q", pc.Speaker)
		}
		path := pc.ReferenceSample
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.ReferenceDir, path)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Info("reference clip missing, generating",
				slog.String("speaker", pc.Speaker),
				slog.String("path", path))
			if err := gen.GenerateReference(ctx, pc.Speaker, path); err != nil {
				return nil, fmt.Errorf("generate reference clip for %s: %w", pc.Speaker, err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("stat reference clip for %s: %w", pc.Speaker, err)
		}
		profiles[pc.Speaker] = Profile{
			Speaker:         pc.Speaker,
			ReferenceSample: path,
			Exaggeration:    pc.Exaggeration,
			CFGWeight:       pc.CFGWeight,
			Temperature:     pc.Temperature,
		}
	}

	// Scripts address Host and Expert by role; a registry missing either
	// is a configuration bug, caught here rather than mid-run.
	for _, role := range []string{script.SpeakerHost, script.SpeakerExpert} {
		if _, ok := profiles[role]; !ok {
			return nil, fmt.Errorf("no voice profile configured for speaker %q", role)
		}
	}

	return &Registry{profiles: profiles}, nil
}

// Resolve returns the profile bound to a speaker role.
func (r *Registry) Resolve(speaker string) (Profile, error) {
	p, ok := r.profiles[speaker]
	if !ok {
		return Profile{}, fmt.Errorf("no voice profile for speaker %q", speaker)
	}
	return p, nil
}

// Speakers returns the recognized role set, keyed for script validation.
func (r *Registry) Speakers() map[string]bool {
	out := make(map[string]bool, len(r.profiles))
	for name := range r.profiles {
		out[name] = true
	}
	return out
}
