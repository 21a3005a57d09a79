// Package profile resolves named therapy profiles into session parameters.
// Profiles ship embedded in the firmware image; values are validated and
// clamped at load so a bad profile cannot produce an out-of-range session.
//
// Bus surface:
//
//	profile/start (consumed)  profile name to start a session from
//	profile/list  (published, retained) available profile names
//	session/meta  (published, retained) id + profile of the active session
//	therapy/control (published) resolved start command
package profile

import (
	"context"
	_ "embed"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"buzzcode-go/bus"
	"buzzcode-go/engine"
	"buzzcode-go/errcode"
	"buzzcode-go/pattern"
	"buzzcode-go/services/therapy"
	"buzzcode-go/x/mathx"
	"buzzcode-go/x/timex"
)

//go:embed profiles.yaml
var embedded []byte

// defaultProfile is the fallback when a start request names a profile the
// store does not carry.
const defaultProfile = "default"

// Profile is one named parameter set as declared in YAML.
type Profile struct {
	Pattern       string  `yaml:"pattern"`
	BurstMs       float64 `yaml:"burst_ms"`
	RestMs        float64 `yaml:"rest_ms"`
	JitterPercent float64 `yaml:"jitter_percent"`
	NumFingers    int     `yaml:"num_fingers"`
	Mirror        bool    `yaml:"mirror"`
	AmplitudeMin  int     `yaml:"amplitude_min"`
	AmplitudeMax  int     `yaml:"amplitude_max"`
	FreqMinHz     int     `yaml:"freq_min_hz"`
	FreqMaxHz     int     `yaml:"freq_max_hz"`
	DurationSec   int     `yaml:"duration_sec"`
}

type file struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Store holds the loaded profile set.
type Store struct {
	profiles map[string]Profile
}

// Load parses and sanitizes a YAML profile document.
func Load(raw []byte) (*Store, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, &errcode.E{C: errcode.InvalidPayload, Op: "profile.Load", Err: err}
	}
	if len(f.Profiles) == 0 {
		return nil, &errcode.E{C: errcode.InvalidPayload, Op: "profile.Load", Msg: "no profiles"}
	}
	s := &Store{profiles: make(map[string]Profile, len(f.Profiles))}
	for name, p := range f.Profiles {
		s.profiles[name] = sanitize(p)
	}
	return s, nil
}

// LoadEmbedded parses the compiled-in profile set.
func LoadEmbedded() (*Store, error) { return Load(embedded) }

// sanitize clamps every field into its legal range rather than rejecting,
// so a hand-edited profile degrades instead of bricking the session.
func sanitize(p Profile) Profile {
	if _, ok := pattern.ParseKind(p.Pattern); !ok {
		p.Pattern = "random"
	}
	p.NumFingers = mathx.Clamp(p.NumFingers, 1, pattern.MaxFingers)
	p.BurstMs = mathx.Clamp(p.BurstMs, 10, 2000)
	p.RestMs = mathx.Clamp(p.RestMs, 0, 2000)
	p.JitterPercent = mathx.Clamp(p.JitterPercent, 0, 100)
	p.AmplitudeMin = mathx.Clamp(p.AmplitudeMin, 0, 100)
	p.AmplitudeMax = mathx.Clamp(p.AmplitudeMax, p.AmplitudeMin, 100)
	if p.FreqMaxHz != 0 {
		p.FreqMinHz = mathx.Clamp(p.FreqMinHz, 50, 500)
		p.FreqMaxHz = mathx.Clamp(p.FreqMaxHz, p.FreqMinHz, 500)
	}
	if p.DurationSec < 0 {
		p.DurationSec = 0
	}
	return p
}

// Names returns the profile names, sorted.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.profiles))
	for n := range s.profiles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Get returns a profile by name.
func (s *Store) Get(name string) (Profile, bool) {
	p, ok := s.profiles[name]
	return p, ok
}

// Params converts a profile into engine session parameters.
func (p Profile) Params() engine.SessionParams {
	kind, _ := pattern.ParseKind(p.Pattern)
	return engine.SessionParams{
		DurationSec:   p.DurationSec,
		Kind:          kind,
		BurstMs:       p.BurstMs,
		RestMs:        p.RestMs,
		JitterPercent: p.JitterPercent,
		NumFingers:    p.NumFingers,
		Mirror:        p.Mirror,
		Amplitude:     engine.AmplitudeRange{Min: p.AmplitudeMin, Max: p.AmplitudeMax},
		FreqMinHz:     p.FreqMinHz,
		FreqMaxHz:     p.FreqMaxHz,
	}
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Meta is the retained session/meta payload.
type Meta struct {
	ID        string
	Profile   string
	StartedMs int64
}

// Start runs the profile service until ctx is cancelled.
func Start(ctx context.Context, conn *bus.Connection) {
	store, err := LoadEmbedded()
	if err != nil {
		println("[PROFILE] embedded profiles broken:", err.Error())
		return
	}
	conn.Publish(conn.NewMessage(bus.T("profile", "list"), store.Names(), true))

	sub := conn.Subscribe(bus.T("profile", "start"))
	defer conn.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			name, ok := msg.Payload.(string)
			if !ok {
				continue
			}
			p, ok := store.Get(name)
			if !ok {
				println("[PROFILE] unknown profile:", name, "- using default")
				name = defaultProfile
				if p, ok = store.Get(name); !ok {
					conn.Reply(msg, errcode.UnknownProfile, false)
					continue
				}
			}
			meta := Meta{
				ID:        uuid.NewString(),
				Profile:   name,
				StartedMs: timex.NowMs(),
			}
			conn.Publish(conn.NewMessage(bus.T("session", "meta"), meta, true))
			conn.Publish(conn.NewMessage(bus.T("therapy", "control"), therapy.Control{Cmd: "start", Params: p.Params()}, false))
			conn.Reply(msg, errcode.OK, false)
		}
	}
}
